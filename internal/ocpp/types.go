package ocpp

// RegistrationStatus BootNotification 应答状态
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// AuthorizationStatus idTag 授权结果
type AuthorizationStatus string

const (
	AuthorizationAccepted     AuthorizationStatus = "Accepted"
	AuthorizationBlocked      AuthorizationStatus = "Blocked"
	AuthorizationExpired      AuthorizationStatus = "Expired"
	AuthorizationInvalid      AuthorizationStatus = "Invalid"
	AuthorizationConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// IdTagInfo 授权信息
type IdTagInfo struct {
	Status      AuthorizationStatus `json:"status" validate:"required"`
	ExpiryDate  *DateTime           `json:"expiryDate,omitempty"`
	ParentIdTag *string             `json:"parentIdTag,omitempty" validate:"omitempty,max=20"`
}

// ChargePointStatus StatusNotification 上报的连接器状态
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
)

// ChargePointErrorCode StatusNotification 错误码
type ChargePointErrorCode string

const (
	ErrorCodeNoError              ChargePointErrorCode = "NoError"
	ErrorCodeConnectorLockFailure ChargePointErrorCode = "ConnectorLockFailure"
	ErrorCodeGroundFailure        ChargePointErrorCode = "GroundFailure"
	ErrorCodeInternalError        ChargePointErrorCode = "InternalError"
	ErrorCodeOtherError           ChargePointErrorCode = "OtherError"
	ErrorCodePowerMeterFailure    ChargePointErrorCode = "PowerMeterFailure"
)

// RemoteStartStopStatus 远程启停应答
type RemoteStartStopStatus string

const (
	RemoteStartStopAccepted RemoteStartStopStatus = "Accepted"
	RemoteStartStopRejected RemoteStartStopStatus = "Rejected"
)

// ReservationStatus ReserveNow 应答
type ReservationStatus string

const (
	ReservationAccepted    ReservationStatus = "Accepted"
	ReservationFaulted     ReservationStatus = "Faulted"
	ReservationOccupied    ReservationStatus = "Occupied"
	ReservationRejected    ReservationStatus = "Rejected"
	ReservationUnavailable ReservationStatus = "Unavailable"
)

// CancelReservationStatus CancelReservation 应答
type CancelReservationStatus string

const (
	CancelReservationAccepted CancelReservationStatus = "Accepted"
	CancelReservationRejected CancelReservationStatus = "Rejected"
)

// ChargingProfilePurpose 充电曲线用途
type ChargingProfilePurpose string

const (
	PurposeChargePointMaxProfile ChargingProfilePurpose = "ChargePointMaxProfile"
	PurposeTxDefaultProfile      ChargingProfilePurpose = "TxDefaultProfile"
	PurposeTxProfile             ChargingProfilePurpose = "TxProfile"
)

// ChargingProfileKind 曲线时间基准
type ChargingProfileKind string

const (
	KindAbsolute  ChargingProfileKind = "Absolute"
	KindRecurring ChargingProfileKind = "Recurring"
	KindRelative  ChargingProfileKind = "Relative"
)

// RecurrencyKind 循环周期，仅 Recurring 有效
type RecurrencyKind string

const (
	RecurrencyDaily  RecurrencyKind = "Daily"
	RecurrencyWeekly RecurrencyKind = "Weekly"
)

// ChargingRateUnit 限制值单位
type ChargingRateUnit string

const (
	RateUnitAmperes ChargingRateUnit = "A"
	RateUnitWatts   ChargingRateUnit = "W"
)

// ChargingSchedulePeriod 计划段：自计划起点的偏移秒数与限制值
type ChargingSchedulePeriod struct {
	StartPeriod  int      `json:"startPeriod" validate:"gte=0"`
	Limit        float64  `json:"limit" validate:"gte=0"`
	NumberPhases *int     `json:"numberPhases,omitempty" validate:"omitempty,gte=1,lte=3"`
}

// ChargingSchedule 充电计划
type ChargingSchedule struct {
	Duration               *int                     `json:"duration,omitempty" validate:"omitempty,gte=0"`
	StartSchedule          *DateTime                `json:"startSchedule,omitempty"`
	ChargingRateUnit       ChargingRateUnit         `json:"chargingRateUnit" validate:"required,oneof=A W"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod" validate:"required,min=1,dive"`
	MinChargingRate        *float64                 `json:"minChargingRate,omitempty"`
}

// ChargingProfile 充电曲线
type ChargingProfile struct {
	ChargingProfileID      int                    `json:"chargingProfileId"`
	TransactionID          *int                   `json:"transactionId,omitempty"`
	StackLevel             int                    `json:"stackLevel" validate:"gte=0"`
	ChargingProfilePurpose ChargingProfilePurpose `json:"chargingProfilePurpose" validate:"required,oneof=ChargePointMaxProfile TxDefaultProfile TxProfile"`
	ChargingProfileKind    ChargingProfileKind    `json:"chargingProfileKind" validate:"required,oneof=Absolute Recurring Relative"`
	RecurrencyKind         *RecurrencyKind        `json:"recurrencyKind,omitempty" validate:"omitempty,oneof=Daily Weekly"`
	ValidFrom              *DateTime              `json:"validFrom,omitempty"`
	ValidTo                *DateTime              `json:"validTo,omitempty"`
	ChargingSchedule       ChargingSchedule       `json:"chargingSchedule" validate:"required"`
}

// ChargingProfileStatus SetChargingProfile 应答
type ChargingProfileStatus string

const (
	ChargingProfileAccepted     ChargingProfileStatus = "Accepted"
	ChargingProfileRejected     ChargingProfileStatus = "Rejected"
	ChargingProfileNotSupported ChargingProfileStatus = "NotSupported"
)

// ClearChargingProfileStatus ClearChargingProfile 应答
type ClearChargingProfileStatus string

const (
	ClearChargingProfileAccepted ClearChargingProfileStatus = "Accepted"
	ClearChargingProfileUnknown  ClearChargingProfileStatus = "Unknown"
)

// GetCompositeScheduleStatus GetCompositeSchedule 应答
type GetCompositeScheduleStatus string

const (
	GetCompositeScheduleAccepted GetCompositeScheduleStatus = "Accepted"
	GetCompositeScheduleRejected GetCompositeScheduleStatus = "Rejected"
)

// AvailabilityType ChangeAvailability 请求类型
type AvailabilityType string

const (
	AvailabilityOperative   AvailabilityType = "Operative"
	AvailabilityInoperative AvailabilityType = "Inoperative"
)

// AvailabilityStatus ChangeAvailability 应答
type AvailabilityStatus string

const (
	AvailabilityAccepted  AvailabilityStatus = "Accepted"
	AvailabilityRejected  AvailabilityStatus = "Rejected"
	AvailabilityScheduled AvailabilityStatus = "Scheduled"
)

// ResetType Reset 请求类型
type ResetType string

const (
	ResetSoft ResetType = "Soft"
	ResetHard ResetType = "Hard"
)

// ResetStatus Reset 应答
type ResetStatus string

const (
	ResetAccepted ResetStatus = "Accepted"
	ResetRejected ResetStatus = "Rejected"
)

// TriggerMessageStatus TriggerMessage 应答
type TriggerMessageStatus string

const (
	TriggerMessageAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageNotImplemented TriggerMessageStatus = "NotImplemented"
)

// UnlockStatus UnlockConnector 应答
type UnlockStatus string

const (
	UnlockUnlocked     UnlockStatus = "Unlocked"
	UnlockFailed       UnlockStatus = "UnlockFailed"
	UnlockNotSupported UnlockStatus = "NotSupported"
)

// DataTransferStatus DataTransfer 应答
type DataTransferStatus string

const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageID DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorID  DataTransferStatus = "UnknownVendorId"
)

// ConfigurationStatus ChangeConfiguration 应答
type ConfigurationStatus string

const (
	ConfigurationAccepted       ConfigurationStatus = "Accepted"
	ConfigurationRejected       ConfigurationStatus = "Rejected"
	ConfigurationRebootRequired ConfigurationStatus = "RebootRequired"
	ConfigurationNotSupported   ConfigurationStatus = "NotSupported"
)

// Reason StopTransaction 结束原因
type Reason string

const (
	ReasonDeAuthorized   Reason = "DeAuthorized"
	ReasonEVDisconnected Reason = "EVDisconnected"
	ReasonHardReset      Reason = "HardReset"
	ReasonLocal          Reason = "Local"
	ReasonOther          Reason = "Other"
	ReasonPowerLoss      Reason = "PowerLoss"
	ReasonRemote         Reason = "Remote"
	ReasonSoftReset      Reason = "SoftReset"
	ReasonUnlockCommand  Reason = "UnlockCommand"
)

// Measurand 采样量
type Measurand string

const (
	MeasurandEnergyActiveImportRegister Measurand = "Energy.Active.Import.Register"
	MeasurandPowerActiveImport          Measurand = "Power.Active.Import"
	MeasurandCurrentImport              Measurand = "Current.Import"
	MeasurandCurrentOffered             Measurand = "Current.Offered"
	MeasurandVoltage                    Measurand = "Voltage"
	MeasurandSoC                        Measurand = "SoC"
)

// SampledValue 单个采样值
type SampledValue struct {
	Value     string    `json:"value" validate:"required"`
	Measurand Measurand `json:"measurand,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Location  string    `json:"location,omitempty"`
	Context   string    `json:"context,omitempty"`
}

// MeterValue 一次采样
type MeterValue struct {
	Timestamp    DateTime       `json:"timestamp" validate:"required"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

// KeyValue GetConfiguration 返回的配置项
type KeyValue struct {
	Key      string  `json:"key" validate:"required,max=50"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty" validate:"omitempty,max=500"`
}

package ocpp

// 中心系统下发的请求与充电桩侧应答。
// 字段与校验标签对照 OCPP 1.6 规范的必填/长度约束。

// RemoteStartTransactionRequest 远程启动充电
type RemoteStartTransactionRequest struct {
	ConnectorID     *int             `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
	IdTag           string           `json:"idTag" validate:"required,max=20"`
	ChargingProfile *ChargingProfile `json:"chargingProfile,omitempty"`
}

// RemoteStartTransactionResponse 远程启动应答
type RemoteStartTransactionResponse struct {
	Status RemoteStartStopStatus `json:"status"`
}

// RemoteStopTransactionRequest 远程停止充电
type RemoteStopTransactionRequest struct {
	TransactionID int `json:"transactionId" validate:"required"`
}

// RemoteStopTransactionResponse 远程停止应答
type RemoteStopTransactionResponse struct {
	Status RemoteStartStopStatus `json:"status"`
}

// ReserveNowRequest 预约连接器
type ReserveNowRequest struct {
	ConnectorID   int     `json:"connectorId" validate:"gte=0"`
	ExpiryDate    string  `json:"expiryDate" validate:"required"`
	IdTag         string  `json:"idTag" validate:"required,max=20"`
	ParentIdTag   *string `json:"parentIdTag,omitempty" validate:"omitempty,max=20"`
	ReservationID int     `json:"reservationId" validate:"required"`
}

// ReserveNowResponse 预约应答
type ReserveNowResponse struct {
	Status ReservationStatus `json:"status"`
}

// CancelReservationRequest 取消预约
type CancelReservationRequest struct {
	ReservationID int `json:"reservationId" validate:"required"`
}

// CancelReservationResponse 取消预约应答
type CancelReservationResponse struct {
	Status CancelReservationStatus `json:"status"`
}

// SetChargingProfileRequest 下发充电曲线
type SetChargingProfileRequest struct {
	ConnectorID        int             `json:"connectorId" validate:"gte=0"`
	CSChargingProfiles ChargingProfile `json:"csChargingProfiles" validate:"required"`
}

// SetChargingProfileResponse 下发充电曲线应答
type SetChargingProfileResponse struct {
	Status ChargingProfileStatus `json:"status"`
}

// ClearChargingProfileRequest 清除充电曲线，所有过滤条件可选，取 AND 语义
type ClearChargingProfileRequest struct {
	ID                     *int                    `json:"id,omitempty"`
	ConnectorID            *int                    `json:"connectorId,omitempty" validate:"omitempty,gte=0"`
	ChargingProfilePurpose *ChargingProfilePurpose `json:"chargingProfilePurpose,omitempty" validate:"omitempty,oneof=ChargePointMaxProfile TxDefaultProfile TxProfile"`
	StackLevel             *int                    `json:"stackLevel,omitempty" validate:"omitempty,gte=0"`
}

// ClearChargingProfileResponse 清除充电曲线应答
type ClearChargingProfileResponse struct {
	Status ClearChargingProfileStatus `json:"status"`
}

// GetCompositeScheduleRequest 查询合成计划
type GetCompositeScheduleRequest struct {
	ConnectorID      int               `json:"connectorId" validate:"gte=0"`
	Duration         int               `json:"duration" validate:"gt=0"`
	ChargingRateUnit *ChargingRateUnit `json:"chargingRateUnit,omitempty" validate:"omitempty,oneof=A W"`
}

// GetCompositeScheduleResponse 合成计划应答
type GetCompositeScheduleResponse struct {
	Status           GetCompositeScheduleStatus `json:"status"`
	ConnectorID      *int                       `json:"connectorId,omitempty"`
	ScheduleStart    *DateTime                  `json:"scheduleStart,omitempty"`
	ChargingSchedule *ChargingSchedule          `json:"chargingSchedule,omitempty"`
}

// GetConfigurationRequest 查询配置
type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty" validate:"omitempty,dive,max=50"`
}

// GetConfigurationResponse 查询配置应答
type GetConfigurationResponse struct {
	ConfigurationKey []KeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string   `json:"unknownKey,omitempty"`
}

// ChangeConfigurationRequest 修改配置
type ChangeConfigurationRequest struct {
	Key   string `json:"key" validate:"required,max=50"`
	Value string `json:"value" validate:"required,max=500"`
}

// ChangeConfigurationResponse 修改配置应答
type ChangeConfigurationResponse struct {
	Status ConfigurationStatus `json:"status"`
}

// ChangeAvailabilityRequest 修改可用性
type ChangeAvailabilityRequest struct {
	ConnectorID int              `json:"connectorId" validate:"gte=0"`
	Type        AvailabilityType `json:"type" validate:"required,oneof=Operative Inoperative"`
}

// ChangeAvailabilityResponse 修改可用性应答
type ChangeAvailabilityResponse struct {
	Status AvailabilityStatus `json:"status"`
}

// ResetRequest 复位
type ResetRequest struct {
	Type ResetType `json:"type" validate:"required,oneof=Soft Hard"`
}

// ResetResponse 复位应答
type ResetResponse struct {
	Status ResetStatus `json:"status"`
}

// TriggerMessageRequest 触发充电桩主动上报
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required,oneof=BootNotification Heartbeat MeterValues StatusNotification DiagnosticsStatusNotification"`
	ConnectorID      *int   `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
}

// TriggerMessageResponse 触发应答
type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

// GetDiagnosticsRequest 拉取诊断
type GetDiagnosticsRequest struct {
	Location      string    `json:"location" validate:"required"`
	Retries       *int      `json:"retries,omitempty"`
	RetryInterval *int      `json:"retryInterval,omitempty"`
	StartTime     *DateTime `json:"startTime,omitempty"`
	StopTime      *DateTime `json:"stopTime,omitempty"`
}

// GetDiagnosticsResponse 拉取诊断应答
type GetDiagnosticsResponse struct {
	FileName *string `json:"fileName,omitempty" validate:"omitempty,max=255"`
}

// UnlockConnectorRequest 解锁连接器
type UnlockConnectorRequest struct {
	ConnectorID int `json:"connectorId" validate:"gt=0"`
}

// UnlockConnectorResponse 解锁应答
type UnlockConnectorResponse struct {
	Status UnlockStatus `json:"status"`
}

// DataTransferRequest 厂商自定义数据
type DataTransferRequest struct {
	VendorID  string  `json:"vendorId" validate:"required,max=255"`
	MessageID *string `json:"messageId,omitempty" validate:"omitempty,max=50"`
	Data      *string `json:"data,omitempty"`
}

// DataTransferResponse 厂商自定义数据应答
type DataTransferResponse struct {
	Status DataTransferStatus `json:"status"`
	Data   *string            `json:"data,omitempty"`
}

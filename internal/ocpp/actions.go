package ocpp

// Action OCPP 1.6 动作名
type Action string

// 充电桩发起（CP → CSMS）
const (
	ActionBootNotification              Action = "BootNotification"
	ActionAuthorize                     Action = "Authorize"
	ActionStartTransaction              Action = "StartTransaction"
	ActionStopTransaction               Action = "StopTransaction"
	ActionStatusNotification            Action = "StatusNotification"
	ActionMeterValues                   Action = "MeterValues"
	ActionHeartbeat                     Action = "Heartbeat"
	ActionDiagnosticsStatusNotification Action = "DiagnosticsStatusNotification"
)

// 中心系统发起（CSMS → CP）
const (
	ActionRemoteStartTransaction Action = "RemoteStartTransaction"
	ActionRemoteStopTransaction  Action = "RemoteStopTransaction"
	ActionReserveNow             Action = "ReserveNow"
	ActionCancelReservation      Action = "CancelReservation"
	ActionSetChargingProfile     Action = "SetChargingProfile"
	ActionClearChargingProfile   Action = "ClearChargingProfile"
	ActionGetCompositeSchedule   Action = "GetCompositeSchedule"
	ActionGetConfiguration       Action = "GetConfiguration"
	ActionChangeConfiguration    Action = "ChangeConfiguration"
	ActionChangeAvailability     Action = "ChangeAvailability"
	ActionReset                  Action = "Reset"
	ActionTriggerMessage         Action = "TriggerMessage"
	ActionGetDiagnostics         Action = "GetDiagnostics"
	ActionUnlockConnector        Action = "UnlockConnector"
	ActionDataTransfer           Action = "DataTransfer"
)

package session

import "github.com/evsim-code/ocpp-simulator/internal/ocpp"

// State 会话状态（闭集）
type State string

const (
	StateAvailable    State = "Available"
	StateBootAccepted State = "BootAccepted"
	StateParked       State = "Parked"
	StatePlugged      State = "Plugged"
	StatePreparing    State = "Preparing"
	StateAuthorizing  State = "Authorizing"
	StateAuthorized   State = "Authorized"
	StateStarting     State = "Starting"
	StateCharging     State = "Charging"
	StateReserved     State = "Reserved"
	StateUnavailable  State = "Unavailable"
	StateFaulted      State = "Faulted"
)

// AllStates 全部状态，供状态机与测试枚举
var AllStates = []State{
	StateAvailable, StateBootAccepted, StateParked, StatePlugged,
	StatePreparing, StateAuthorizing, StateAuthorized, StateStarting,
	StateCharging, StateReserved, StateUnavailable, StateFaulted,
}

// 状态机事件
const (
	EventBootAccepted       = "boot_accepted"
	EventPlug               = "plug"
	EventUnplug             = "unplug"
	EventPrepare            = "prepare"
	EventAuthorize          = "authorize"
	EventAuthorized         = "authorized"
	EventStartTransaction   = "start_transaction"
	EventChargingStarted    = "charging_started"
	EventStopTransaction    = "stop_transaction"
	EventReserve            = "reserve"
	EventReleaseReservation = "release_reservation"
	EventFault              = "fault"
	EventRecover            = "recover"
	EventSetInoperative     = "set_inoperative"
	EventSetOperative       = "set_operative"
)

// OCPPStatus 会话状态到 StatusNotification 状态的映射
func (s State) OCPPStatus() ocpp.ChargePointStatus {
	switch s {
	case StateAvailable, StateBootAccepted:
		return ocpp.StatusAvailable
	case StateParked, StatePlugged, StatePreparing, StateAuthorizing, StateAuthorized, StateStarting:
		return ocpp.StatusPreparing
	case StateCharging:
		return ocpp.StatusCharging
	case StateReserved:
		return ocpp.StatusReserved
	case StateUnavailable:
		return ocpp.StatusUnavailable
	case StateFaulted:
		return ocpp.StatusFaulted
	default:
		return ocpp.StatusAvailable
	}
}

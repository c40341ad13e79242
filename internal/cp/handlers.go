package cp

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/reservation"
	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// DefaultStepDelay 多步序列的缺省步进间隔
const DefaultStepDelay = 500 * time.Millisecond

// Handlers 入站动作处理器集合。依赖以窄接口/小对象注入，
// 与会话一一对应；Force 迁移只在这里调用。
type Handlers struct {
	Sess         *session.Session
	Reservations *reservation.Manager
	Seq          *Sequencer
	Calls        *Calls
	Config       *ConfigStore
	Log          *zap.Logger

	// StepDelay 多步序列相邻步骤的间隔
	StepDelay time.Duration

	// OnReset 引擎钩子：Reset 接受后触发重启流程
	OnReset func(ocpp.ResetType)
}

func (h *Handlers) stepDelay() time.Duration {
	if h.StepDelay > 0 {
		return h.StepDelay
	}
	return DefaultStepDelay
}

func (h *Handlers) logger() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}

// RegisterAll 把全部动作登记到分发表。fallback 是该动作在内部错误时的
// 最保守拒绝应答。
func (h *Handlers) RegisterAll(r *Router) {
	r.Register(ocpp.ActionRemoteStartTransaction,
		func() interface{} { return &ocpp.RemoteStartTransactionRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.remoteStart(ctx, req.(*ocpp.RemoteStartTransactionRequest))
		},
		ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected})

	r.Register(ocpp.ActionRemoteStopTransaction,
		func() interface{} { return &ocpp.RemoteStopTransactionRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.remoteStop(ctx, req.(*ocpp.RemoteStopTransactionRequest))
		},
		ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopRejected})

	r.Register(ocpp.ActionReserveNow,
		func() interface{} { return &ocpp.ReserveNowRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.reserveNow(ctx, req.(*ocpp.ReserveNowRequest))
		},
		ocpp.ReserveNowResponse{Status: ocpp.ReservationRejected})

	r.Register(ocpp.ActionCancelReservation,
		func() interface{} { return &ocpp.CancelReservationRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.cancelReservation(ctx, req.(*ocpp.CancelReservationRequest))
		},
		ocpp.CancelReservationResponse{Status: ocpp.CancelReservationRejected})

	r.Register(ocpp.ActionSetChargingProfile,
		func() interface{} { return &ocpp.SetChargingProfileRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.setChargingProfile(ctx, req.(*ocpp.SetChargingProfileRequest))
		},
		ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileRejected})

	r.Register(ocpp.ActionClearChargingProfile,
		func() interface{} { return &ocpp.ClearChargingProfileRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.clearChargingProfile(ctx, req.(*ocpp.ClearChargingProfileRequest))
		},
		ocpp.ClearChargingProfileResponse{Status: ocpp.ClearChargingProfileUnknown})

	r.Register(ocpp.ActionGetCompositeSchedule,
		func() interface{} { return &ocpp.GetCompositeScheduleRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.getCompositeSchedule(ctx, req.(*ocpp.GetCompositeScheduleRequest))
		},
		ocpp.GetCompositeScheduleResponse{Status: ocpp.GetCompositeScheduleRejected})

	r.Register(ocpp.ActionGetConfiguration,
		func() interface{} { return &ocpp.GetConfigurationRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.getConfiguration(ctx, req.(*ocpp.GetConfigurationRequest))
		},
		nil)

	r.Register(ocpp.ActionChangeConfiguration,
		func() interface{} { return &ocpp.ChangeConfigurationRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.changeConfiguration(ctx, req.(*ocpp.ChangeConfigurationRequest))
		},
		ocpp.ChangeConfigurationResponse{Status: ocpp.ConfigurationRejected})

	r.Register(ocpp.ActionChangeAvailability,
		func() interface{} { return &ocpp.ChangeAvailabilityRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.changeAvailability(ctx, req.(*ocpp.ChangeAvailabilityRequest))
		},
		ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityRejected})

	r.Register(ocpp.ActionReset,
		func() interface{} { return &ocpp.ResetRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.reset(ctx, req.(*ocpp.ResetRequest))
		},
		ocpp.ResetResponse{Status: ocpp.ResetRejected})

	r.Register(ocpp.ActionTriggerMessage,
		func() interface{} { return &ocpp.TriggerMessageRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.triggerMessage(ctx, req.(*ocpp.TriggerMessageRequest))
		},
		ocpp.TriggerMessageResponse{Status: ocpp.TriggerMessageRejected})

	r.Register(ocpp.ActionGetDiagnostics,
		func() interface{} { return &ocpp.GetDiagnosticsRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.getDiagnostics(ctx, req.(*ocpp.GetDiagnosticsRequest))
		},
		ocpp.GetDiagnosticsResponse{})

	r.Register(ocpp.ActionUnlockConnector,
		func() interface{} { return &ocpp.UnlockConnectorRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.unlockConnector(ctx, req.(*ocpp.UnlockConnectorRequest))
		},
		ocpp.UnlockConnectorResponse{Status: ocpp.UnlockFailed})

	r.Register(ocpp.ActionDataTransfer,
		func() interface{} { return &ocpp.DataTransferRequest{} },
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.dataTransfer(ctx, req.(*ocpp.DataTransferRequest))
		},
		ocpp.DataTransferResponse{Status: ocpp.DataTransferRejected})
}

// startableState 可接受新预约/远程启动的状态集合（Reserved 另行核对 idTag）
func startableState(st session.State) bool {
	switch st {
	case session.StateAvailable, session.StateBootAccepted, session.StateParked,
		session.StatePlugged, session.StatePreparing:
		return true
	default:
		return false
	}
}

// refreshLimit 重新裁决当前生效限额并刷新会话展示字段
func (h *Handlers) refreshLimit() {
	r := h.Sess.Profiles.Resolve(h.Sess.ConnectorID, h.Sess.Transaction(), time.Now())
	l := session.Limit{Limited: r.Limited}
	if r.Limited {
		l.LimitW = r.LimitW
		l.LimitA = r.LimitA
		l.ProfileID = r.ProfileID
		l.Purpose = r.Purpose
		l.StackLevel = r.StackLevel
	} else {
		l.LimitW = math.Inf(1)
		l.LimitA = math.Inf(1)
	}
	h.Sess.SetLimit(l)
}

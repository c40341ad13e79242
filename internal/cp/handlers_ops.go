package cp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/session"
)

func (h *Handlers) getConfiguration(_ context.Context, req *ocpp.GetConfigurationRequest) (interface{}, error) {
	known, unknown := h.Config.Get(req.Key)
	return ocpp.GetConfigurationResponse{ConfigurationKey: known, UnknownKey: unknown}, nil
}

func (h *Handlers) changeConfiguration(_ context.Context, req *ocpp.ChangeConfigurationRequest) (interface{}, error) {
	status := h.Config.Set(req.Key, req.Value)
	h.logger().Info("change configuration",
		zap.String("cpId", h.Sess.CPID),
		zap.String("key", req.Key),
		zap.String("status", string(status)))
	return ocpp.ChangeConfigurationResponse{Status: status}, nil
}

// changeAvailability 交易进行中时 Inoperative 只能 Scheduled
func (h *Handlers) changeAvailability(_ context.Context, req *ocpp.ChangeAvailabilityRequest) (interface{}, error) {
	switch req.Type {
	case ocpp.AvailabilityInoperative:
		if _, active := h.Sess.TransactionID(); active {
			return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityScheduled}, nil
		}
		if h.Sess.State() == session.StateUnavailable {
			return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityAccepted}, nil
		}
		if err := h.Sess.Guarded(session.EventSetInoperative); err != nil {
			return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityRejected}, nil
		}
		h.Seq.After(0, func() {
			_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusUnavailable, ocpp.ErrorCodeNoError)
		})
		return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityAccepted}, nil

	case ocpp.AvailabilityOperative:
		if h.Sess.State() != session.StateUnavailable {
			return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityAccepted}, nil
		}
		if err := h.Sess.Guarded(session.EventSetOperative); err != nil {
			return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityRejected}, nil
		}
		h.Seq.After(0, func() {
			_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
		})
		return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityAccepted}, nil
	}
	return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityRejected}, nil
}

// reset 先应答 Accepted，再停交易并触发引擎重启钩子
func (h *Handlers) reset(_ context.Context, req *ocpp.ResetRequest) (interface{}, error) {
	resetType := req.Type
	h.Seq.After(h.stepDelay(), func() {
		ctx := context.Background()
		if _, active := h.Sess.TransactionID(); active {
			reason := ocpp.ReasonSoftReset
			if resetType == ocpp.ResetHard {
				reason = ocpp.ReasonHardReset
			}
			if _, err := h.Calls.StopTransaction(ctx, reason); err != nil {
				h.logger().Warn("stop transaction on reset failed",
					zap.String("cpId", h.Sess.CPID), zap.Error(err))
			}
		}
		if h.OnReset != nil {
			h.OnReset(resetType)
		}
	})
	return ocpp.ResetResponse{Status: ocpp.ResetAccepted}, nil
}

// triggerMessage 支持五种可触发上报，未知的交给 validator 拦截
func (h *Handlers) triggerMessage(_ context.Context, req *ocpp.TriggerMessageRequest) (interface{}, error) {
	var fn func(context.Context) error
	switch ocpp.Action(req.RequestedMessage) {
	case ocpp.ActionBootNotification:
		fn = func(ctx context.Context) error {
			_, err := h.Calls.BootNotification(ctx)
			return err
		}
	case ocpp.ActionHeartbeat:
		fn = func(ctx context.Context) error {
			_, err := h.Calls.Heartbeat(ctx)
			return err
		}
	case ocpp.ActionMeterValues:
		fn = h.Calls.MeterValues
	case ocpp.ActionStatusNotification:
		fn = func(ctx context.Context) error {
			return h.Calls.StatusNotification(ctx, h.Sess.State().OCPPStatus(), ocpp.ErrorCodeNoError)
		}
	case ocpp.ActionDiagnosticsStatusNotification:
		fn = func(ctx context.Context) error {
			return h.Calls.DiagnosticsStatusNotification(ctx, ocpp.DiagnosticsIdle)
		}
	default:
		return ocpp.TriggerMessageResponse{Status: ocpp.TriggerMessageNotImplemented}, nil
	}
	h.Seq.After(0, func() {
		if err := fn(context.Background()); err != nil {
			h.logger().Warn("triggered message failed",
				zap.String("cpId", h.Sess.CPID),
				zap.String("message", req.RequestedMessage),
				zap.Error(err))
		}
	})
	return ocpp.TriggerMessageResponse{Status: ocpp.TriggerMessageAccepted}, nil
}

// getDiagnostics 生成文件名并异步上报 Uploading → Uploaded
func (h *Handlers) getDiagnostics(_ context.Context, _ *ocpp.GetDiagnosticsRequest) (interface{}, error) {
	name := fmt.Sprintf("%s-diag-%s.tar.gz", h.Sess.CPID, time.Now().UTC().Format("20060102T150405Z"))
	d := h.stepDelay()
	h.Seq.After(d, func() {
		_ = h.Calls.DiagnosticsStatusNotification(context.Background(), ocpp.DiagnosticsUploading)
	})
	h.Seq.After(2*d, func() {
		_ = h.Calls.DiagnosticsStatusNotification(context.Background(), ocpp.DiagnosticsUploaded)
	})
	return ocpp.GetDiagnosticsResponse{FileName: &name}, nil
}

// unlockConnector 交易进行中则先停交易再解锁
func (h *Handlers) unlockConnector(_ context.Context, req *ocpp.UnlockConnectorRequest) (interface{}, error) {
	if req.ConnectorID != h.Sess.ConnectorID {
		return ocpp.UnlockConnectorResponse{Status: ocpp.UnlockNotSupported}, nil
	}
	if _, active := h.Sess.TransactionID(); active {
		h.Seq.After(0, func() {
			ctx := context.Background()
			if _, err := h.Calls.StopTransaction(ctx, ocpp.ReasonUnlockCommand); err != nil {
				h.logger().Warn("stop transaction on unlock failed",
					zap.String("cpId", h.Sess.CPID), zap.Error(err))
				return
			}
			h.Sess.Force(session.StateAvailable)
			h.refreshLimit()
			_ = h.Calls.StatusNotification(ctx, ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
		})
		return ocpp.UnlockConnectorResponse{Status: ocpp.UnlockUnlocked}, nil
	}
	switch h.Sess.State() {
	case session.StatePlugged, session.StateParked, session.StatePreparing:
		h.Sess.Force(session.StateAvailable)
		h.Seq.After(0, func() {
			_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
		})
	}
	return ocpp.UnlockConnectorResponse{Status: ocpp.UnlockUnlocked}, nil
}

// dataTransfer 只认本模拟器的 vendorId，其余一律 UnknownVendorId
func (h *Handlers) dataTransfer(_ context.Context, req *ocpp.DataTransferRequest) (interface{}, error) {
	if req.VendorID != h.Calls.Vendor {
		return ocpp.DataTransferResponse{Status: ocpp.DataTransferUnknownVendorID}, nil
	}
	return ocpp.DataTransferResponse{Status: ocpp.DataTransferAccepted, Data: req.Data}, nil
}

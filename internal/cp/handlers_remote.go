package cp

import (
	"context"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/reservation"
	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// remoteStart 远程启动。应答先于副作用：Accepted 立即返回，
// 授权与 StartTransaction 由 Sequencer 延迟推进。
func (h *Handlers) remoteStart(_ context.Context, req *ocpp.RemoteStartTransactionRequest) (interface{}, error) {
	if req.ConnectorID != nil && *req.ConnectorID != h.Sess.ConnectorID {
		return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}
	if _, active := h.Sess.TransactionID(); active {
		return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	st := h.Sess.State()
	if st != session.StateReserved && !startableState(st) {
		return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	// 先做纯校验：随请求附带的 profile 只允许 TxProfile
	if req.ChargingProfile != nil && req.ChargingProfile.ChargingProfilePurpose != ocpp.PurposeTxProfile {
		return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	var consumed *reservation.Reservation
	var reservationID *int
	if st == session.StateReserved {
		// 预约中的桩只认持有该预约的 idTag
		r, ok := h.Reservations.Consume(req.IdTag)
		if !ok {
			h.logger().Info("remote start rejected: reserved for another idTag",
				zap.String("cpId", h.Sess.CPID), zap.String("idTag", req.IdTag))
			return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
		}
		consumed = &r
		id := r.ID
		reservationID = &id
	}

	if req.ChargingProfile != nil {
		if err := h.Sess.Profiles.Set(h.Sess.ConnectorID, *req.ChargingProfile); err != nil {
			h.logger().Warn("remote start profile rejected",
				zap.String("cpId", h.Sess.CPID), zap.Error(err))
			// 拒绝请求不得吞掉预约：重新登记并重排到期定时器
			if consumed != nil {
				h.Reservations.Reserve(consumed.ID, consumed.IdTag, consumed.Expiry)
			}
			return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
		}
	}
	if consumed != nil {
		h.Sess.ClearReservation()
	}

	h.Sess.Force(session.StatePreparing)
	h.startSequence(req.IdTag, reservationID)
	return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopAccepted}, nil
}

// startSequence Preparing 上报 → 可选本地 Authorize → StartTransaction →
// Charging 上报。任何一步失败都回退到 Available 并上报。
func (h *Handlers) startSequence(idTag string, reservationID *int) {
	d := h.stepDelay()

	h.Seq.After(0, func() {
		_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusPreparing, ocpp.ErrorCodeNoError)
	})
	h.Seq.After(d, func() {
		ctx := context.Background()
		if h.Config.BoolValue(KeyAuthorizeRemoteTxRequests, false) {
			resp, err := h.Calls.Authorize(ctx, idTag)
			if err != nil || resp.IdTagInfo.Status != ocpp.AuthorizationAccepted {
				h.logger().Info("remote start authorize failed",
					zap.String("cpId", h.Sess.CPID), zap.String("idTag", idTag), zap.Error(err))
				h.abortStart()
				return
			}
		}
		h.Sess.SetIdTag(idTag)
		h.Seq.After(d, func() {
			h.finishStart(idTag, reservationID)
		})
	})
}

func (h *Handlers) finishStart(idTag string, reservationID *int) {
	ctx := context.Background()
	resp, err := h.Calls.StartTransaction(ctx, idTag, reservationID)
	if err != nil || resp.IdTagInfo.Status != ocpp.AuthorizationAccepted {
		h.logger().Info("start transaction not accepted",
			zap.String("cpId", h.Sess.CPID), zap.Error(err))
		h.abortStart()
		return
	}
	h.Sess.Force(session.StateCharging)
	h.refreshLimit()
	_ = h.Calls.StatusNotification(ctx, ocpp.StatusCharging, ocpp.ErrorCodeNoError)
}

func (h *Handlers) abortStart() {
	h.Sess.Force(session.StateAvailable)
	_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
}

// remoteStop 远程停止，交易号不匹配则拒绝
func (h *Handlers) remoteStop(_ context.Context, req *ocpp.RemoteStopTransactionRequest) (interface{}, error) {
	txID, ok := h.Sess.TransactionID()
	if !ok || txID != req.TransactionID {
		return ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	d := h.stepDelay()
	h.Seq.After(0, func() {
		_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusFinishing, ocpp.ErrorCodeNoError)
	})
	h.Seq.After(d, func() {
		ctx := context.Background()
		if _, err := h.Calls.StopTransaction(ctx, ocpp.ReasonRemote); err != nil {
			h.logger().Warn("stop transaction failed",
				zap.String("cpId", h.Sess.CPID), zap.Error(err))
		}
		// 车辆仍插枪，停在 Parked
		if err := h.Sess.Guarded(session.EventStopTransaction); err != nil {
			h.Sess.Force(session.StateParked)
		}
		h.refreshLimit()
		_ = h.Calls.StatusNotification(ctx, ocpp.StatusFinishing, ocpp.ErrorCodeNoError)
	})
	return ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopAccepted}, nil
}

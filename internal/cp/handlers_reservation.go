package cp

import (
	"context"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/reservation"
	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// reserveNow 预约。同号预约允许刷新到期时间，异号遇占用返回 Occupied。
func (h *Handlers) reserveNow(_ context.Context, req *ocpp.ReserveNowRequest) (interface{}, error) {
	st := h.Sess.State()
	switch st {
	case session.StateFaulted:
		return ocpp.ReserveNowResponse{Status: ocpp.ReservationFaulted}, nil
	case session.StateUnavailable:
		return ocpp.ReserveNowResponse{Status: ocpp.ReservationUnavailable}, nil
	}
	if _, active := h.Sess.TransactionID(); active {
		return ocpp.ReserveNowResponse{Status: ocpp.ReservationOccupied}, nil
	}
	if st == session.StateReserved {
		if cur := h.Reservations.Active(); cur != nil && cur.ID != req.ReservationID {
			return ocpp.ReserveNowResponse{Status: ocpp.ReservationOccupied}, nil
		}
	} else if !startableState(st) {
		return ocpp.ReserveNowResponse{Status: ocpp.ReservationOccupied}, nil
	}

	expiry := reservation.ParseExpiry(req.ExpiryDate)
	h.Reservations.Reserve(req.ReservationID, req.IdTag, expiry)
	h.Sess.SetReservation(session.Reservation{ID: req.ReservationID, IdTag: req.IdTag, Expiry: expiry})
	h.Sess.Force(session.StateReserved)
	h.logger().Info("reservation accepted",
		zap.String("cpId", h.Sess.CPID),
		zap.Int("reservationId", req.ReservationID),
		zap.Time("expiry", expiry))

	h.Seq.After(0, func() {
		_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusReserved, ocpp.ErrorCodeNoError)
	})
	return ocpp.ReserveNowResponse{Status: ocpp.ReservationAccepted}, nil
}

// cancelReservation 取消预约，号不匹配或无预约时 Rejected
func (h *Handlers) cancelReservation(_ context.Context, req *ocpp.CancelReservationRequest) (interface{}, error) {
	if !h.Reservations.Cancel(req.ReservationID) {
		return ocpp.CancelReservationResponse{Status: ocpp.CancelReservationRejected}, nil
	}
	h.Sess.ClearReservation()
	if h.Sess.State() == session.StateReserved {
		h.Sess.Force(session.StateAvailable)
		h.Seq.After(0, func() {
			_ = h.Calls.StatusNotification(context.Background(), ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
		})
	}
	return ocpp.CancelReservationResponse{Status: ocpp.CancelReservationAccepted}, nil
}

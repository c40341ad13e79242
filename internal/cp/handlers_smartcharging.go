package cp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/scp"
)

// setChargingProfile TxProfile 必须指向当前活动交易，其余校验交给 Store.Set
func (h *Handlers) setChargingProfile(_ context.Context, req *ocpp.SetChargingProfileRequest) (interface{}, error) {
	p := req.CSChargingProfiles
	if p.ChargingProfilePurpose == ocpp.PurposeTxProfile {
		txID, ok := h.Sess.TransactionID()
		if !ok {
			return ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileRejected}, nil
		}
		if p.TransactionID != nil && *p.TransactionID != txID {
			return ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileRejected}, nil
		}
		if p.TransactionID == nil {
			p.TransactionID = &txID
		}
	}
	if err := h.Sess.Profiles.Set(req.ConnectorID, p); err != nil {
		h.logger().Info("charging profile rejected",
			zap.String("cpId", h.Sess.CPID),
			zap.Int("profileId", p.ChargingProfileID),
			zap.Error(err))
		return ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileRejected}, nil
	}
	h.refreshLimit()
	return ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileAccepted}, nil
}

// clearChargingProfile 过滤条件 AND 匹配，移除至少一条才算 Accepted
func (h *Handlers) clearChargingProfile(_ context.Context, req *ocpp.ClearChargingProfileRequest) (interface{}, error) {
	removed := h.Sess.Profiles.Clear(scp.Filter{
		ID:          req.ID,
		ConnectorID: req.ConnectorID,
		Purpose:     req.ChargingProfilePurpose,
		StackLevel:  req.StackLevel,
	})
	if removed == 0 {
		return ocpp.ClearChargingProfileResponse{Status: ocpp.ClearChargingProfileUnknown}, nil
	}
	h.refreshLimit()
	return ocpp.ClearChargingProfileResponse{Status: ocpp.ClearChargingProfileAccepted}, nil
}

// getCompositeSchedule 无可用曲线时也 Accepted，返回空 period 列表
func (h *Handlers) getCompositeSchedule(_ context.Context, req *ocpp.GetCompositeScheduleRequest) (interface{}, error) {
	unit := ocpp.RateUnitWatts
	if req.ChargingRateUnit != nil {
		unit = *req.ChargingRateUnit
	}
	sched := h.Sess.Profiles.Composite(req.ConnectorID, h.Sess.Transaction(), time.Now(), req.Duration, unit)
	cid := req.ConnectorID
	return ocpp.GetCompositeScheduleResponse{
		Status:           ocpp.GetCompositeScheduleAccepted,
		ConnectorID:      &cid,
		ScheduleStart:    sched.StartSchedule,
		ChargingSchedule: &sched,
	}, nil
}

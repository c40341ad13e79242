package scp

import (
	"sort"
	"time"

	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// Composite 合成计划：把窗口 [at, at+duration) 内所有适用曲线的限额
// 折算成一条有序段列表，每段给出当时的绑定限额。无适用曲线时段列表为空。
func (s *Store) Composite(connectorID int, tx TxContext, at time.Time, duration int, unit ocpp.ChargingRateUnit) ocpp.ChargingSchedule {
	if unit == "" {
		unit = ocpp.RateUnitWatts
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offsets := s.changePoints(connectorID, tx, at, duration)

	var periods []ocpp.ChargingSchedulePeriod
	for _, off := range offsets {
		r := s.resolveLocked(connectorID, tx, at.Add(time.Duration(off)*time.Second))
		if !r.Limited {
			continue
		}
		limit := r.LimitW
		if unit == ocpp.RateUnitAmperes {
			limit = elec.CurrentFromPower(r.LimitW, s.elec.VoltageV, s.elec.Phases, s.elec.ChargerType)
		}
		// 相邻等值段合并
		if n := len(periods); n > 0 && periods[n-1].Limit == limit {
			continue
		}
		periods = append(periods, ocpp.ChargingSchedulePeriod{StartPeriod: off, Limit: limit})
	}

	d := duration
	return ocpp.ChargingSchedule{
		Duration:               &d,
		StartSchedule:          func() *ocpp.DateTime { dt := ocpp.NewDateTime(at); return &dt }(),
		ChargingRateUnit:       unit,
		ChargingSchedulePeriod: periods,
	}
}

// changePoints 窗口内限额可能变化的偏移秒集合：窗口起点、各曲线的段边界、
// 有效窗口边界与 duration 终点。
func (s *Store) changePoints(connectorID int, tx TxContext, at time.Time, duration int) []int {
	set := map[int]struct{}{0: {}}
	add := func(t time.Time) {
		off := int(t.Sub(at) / time.Second)
		if off > 0 && off < duration {
			set[off] = struct{}{}
		}
	}

	for _, st := range s.profiles {
		if !s.applicable(st, connectorID, tx) {
			continue
		}
		anchor := s.scheduleAnchor(st, tx, at)
		for _, p := range st.profile.ChargingSchedule.ChargingSchedulePeriod {
			add(anchor.Add(time.Duration(p.StartPeriod) * time.Second))
		}
		if d := st.profile.ChargingSchedule.Duration; d != nil {
			add(anchor.Add(time.Duration(*d) * time.Second))
		}
		if st.profile.ValidFrom != nil {
			add(st.profile.ValidFrom.Time)
		}
		if st.profile.ValidTo != nil {
			add(st.profile.ValidTo.Time)
		}
	}

	offsets := make([]int, 0, len(set))
	for off := range set {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	return offsets
}

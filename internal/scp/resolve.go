package scp

import (
	"math"
	"sort"
	"time"

	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// Resolved 某一时刻的生效限额。Limited 为 false 表示无任何曲线约束。
type Resolved struct {
	Limited    bool
	LimitW     float64
	LimitA     float64
	ProfileID  int
	StackLevel int
	Purpose    ocpp.ChargingProfilePurpose
}

// TxContext 裁决时的交易上下文。TransactionID 为 nil 表示无交易。
type TxContext struct {
	TransactionID *int
	TxStart       time.Time
}

var purposeOrder = []ocpp.ChargingProfilePurpose{
	ocpp.PurposeTxProfile,
	ocpp.PurposeTxDefaultProfile,
	ocpp.PurposeChargePointMaxProfile,
}

// Resolve 计算连接器在 at 时刻的生效限额：
// 每个用途内取堆叠级别最高且当时有效的曲线，跨用途取最小功率。
func (s *Store) Resolve(connectorID int, tx TxContext, at time.Time) Resolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(connectorID, tx, at)
}

func (s *Store) resolveLocked(connectorID int, tx TxContext, at time.Time) Resolved {
	out := Resolved{LimitW: math.Inf(1), LimitA: math.Inf(1)}

	for _, purpose := range purposeOrder {
		winner, limitW := s.purposeWinner(purpose, connectorID, tx, at)
		if winner == nil {
			continue
		}
		// 等值时保留更具体的用途（TxProfile 先遍历）
		if limitW < out.LimitW {
			out.Limited = true
			out.LimitW = limitW
			out.ProfileID = winner.profile.ChargingProfileID
			out.StackLevel = winner.profile.StackLevel
			out.Purpose = purpose
		}
	}

	if out.Limited {
		out.LimitA = elec.CurrentFromPower(out.LimitW, s.elec.VoltageV, s.elec.Phases, s.elec.ChargerType)
	}
	return out
}

// purposeWinner 用途内按堆叠级别降序找出第一条当时有效的曲线
func (s *Store) purposeWinner(purpose ocpp.ChargingProfilePurpose, connectorID int, tx TxContext, at time.Time) (*stored, float64) {
	candidates := make([]*stored, 0, 4)
	for _, st := range s.profiles {
		if st.profile.ChargingProfilePurpose != purpose {
			continue
		}
		if !s.applicable(st, connectorID, tx) {
			continue
		}
		candidates = append(candidates, st)
	}
	// 堆叠级别高者优先；同级后写优先
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].profile.StackLevel != candidates[j].profile.StackLevel {
			return candidates[i].profile.StackLevel > candidates[j].profile.StackLevel
		}
		return candidates[i].receivedAt.After(candidates[j].receivedAt)
	})
	for _, st := range candidates {
		if limitW, ok := s.activeLimitW(st, tx, at); ok {
			return st, limitW
		}
	}
	return nil, 0
}

// applicable 曲线是否作用于该连接器/交易
func (s *Store) applicable(st *stored, connectorID int, tx TxContext) bool {
	switch st.profile.ChargingProfilePurpose {
	case ocpp.PurposeChargePointMaxProfile:
		// 桩级上限作用于所有连接器
		return true
	case ocpp.PurposeTxDefaultProfile:
		return st.connectorID == 0 || st.connectorID == connectorID
	case ocpp.PurposeTxProfile:
		if st.connectorID != 0 && st.connectorID != connectorID {
			return false
		}
		if tx.TransactionID == nil {
			return false
		}
		// 未绑定交易号的 TxProfile 约束当前交易
		return st.profile.TransactionID == nil || *st.profile.TransactionID == *tx.TransactionID
	}
	return false
}

// activeLimitW 返回曲线在 at 时刻的限额（W）。曲线不在有效窗口、
// 计划尚未开始或已超出 duration 时返回 ok=false。
func (s *Store) activeLimitW(st *stored, tx TxContext, at time.Time) (float64, bool) {
	p := st.profile
	if p.ValidFrom != nil && at.Before(p.ValidFrom.Time) {
		return 0, false
	}
	if p.ValidTo != nil && at.After(p.ValidTo.Time) {
		return 0, false
	}

	anchor := s.scheduleAnchor(st, tx, at)
	elapsed := at.Sub(anchor)
	if elapsed < 0 {
		return 0, false
	}
	if d := p.ChargingSchedule.Duration; d != nil && elapsed > time.Duration(*d)*time.Second {
		return 0, false
	}

	// 生效段 = 最后一个 startPeriod <= elapsed 的段
	periods := p.ChargingSchedule.ChargingSchedulePeriod
	active := periods[0]
	for _, period := range periods[1:] {
		if time.Duration(period.StartPeriod)*time.Second <= elapsed {
			active = period
		} else {
			break
		}
	}

	phases := s.elec.Phases
	if active.NumberPhases != nil {
		phases = *active.NumberPhases
	}
	if p.ChargingSchedule.ChargingRateUnit == ocpp.RateUnitAmperes {
		return elec.PowerFromCurrent(active.Limit, s.elec.VoltageV, phases, s.elec.ChargerType), true
	}
	return active.Limit, true
}

// scheduleAnchor 计划起点：Absolute 取 startSchedule；Recurring 取最近一次
// 周期起点；Relative 锚定交易开始（无交易时锚定收到时刻）。
func (s *Store) scheduleAnchor(st *stored, tx TxContext, at time.Time) time.Time {
	p := st.profile
	switch p.ChargingProfileKind {
	case ocpp.KindRelative:
		if tx.TransactionID != nil && !tx.TxStart.IsZero() {
			return tx.TxStart
		}
		return st.receivedAt
	case ocpp.KindRecurring:
		start := st.receivedAt
		if p.ChargingSchedule.StartSchedule != nil {
			start = p.ChargingSchedule.StartSchedule.Time
		}
		period := 24 * time.Hour
		if p.RecurrencyKind != nil && *p.RecurrencyKind == ocpp.RecurrencyWeekly {
			period = 7 * 24 * time.Hour
		}
		if at.Before(start) {
			return start
		}
		n := at.Sub(start) / period
		return start.Add(n * period)
	default: // Absolute
		if p.ChargingSchedule.StartSchedule != nil {
			return p.ChargingSchedule.StartSchedule.Time
		}
		return st.receivedAt
	}
}

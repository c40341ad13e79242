// Package scp 实现 OCPP 1.6 智能充电曲线的存储与裁决：
// 按用途/堆叠级别选出每个用途的生效曲线，跨用途取最小限额。
package scp

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// ElectricalRef A↔W 换算所需的连接器电气参数
type ElectricalRef struct {
	VoltageV    float64
	Phases      int
	ChargerType elec.ChargerType
}

type stored struct {
	profile     ocpp.ChargingProfile
	connectorID int
	receivedAt  time.Time
}

// Store 单桩的充电曲线存储。同一连接器上的 set/clear/resolve 串行化，
// 不同桩之间互不竞争（每个会话持有自己的 Store）。
type Store struct {
	mu       sync.Mutex
	profiles []*stored
	elec     ElectricalRef
	now      func() time.Time
}

// NewStore 创建曲线存储
func NewStore(ref ElectricalRef) *Store {
	return &Store{elec: ref, now: time.Now}
}

// Set 接受一条曲线。解析/约束失败返回 error，存储不变。
// 同一 (用途, 堆叠级别, 连接器) 或同一曲线 ID 的旧曲线被替换（后写覆盖）。
func (s *Store) Set(connectorID int, p ocpp.ChargingProfile) error {
	if len(p.ChargingSchedule.ChargingSchedulePeriod) == 0 {
		return fmt.Errorf("scp: schedule has no periods")
	}
	if !sort.SliceIsSorted(p.ChargingSchedule.ChargingSchedulePeriod, func(i, j int) bool {
		return p.ChargingSchedule.ChargingSchedulePeriod[i].StartPeriod < p.ChargingSchedule.ChargingSchedulePeriod[j].StartPeriod
	}) {
		return fmt.Errorf("scp: schedule periods not ordered by startPeriod")
	}
	if p.ChargingSchedule.ChargingSchedulePeriod[0].StartPeriod != 0 {
		return fmt.Errorf("scp: first schedule period must start at 0")
	}
	if p.ChargingProfileKind == ocpp.KindRecurring && p.RecurrencyKind == nil {
		return fmt.Errorf("scp: recurring profile without recurrencyKind")
	}
	if p.ChargingProfilePurpose == ocpp.PurposeChargePointMaxProfile && connectorID != 0 {
		return fmt.Errorf("scp: ChargePointMaxProfile only valid on connector 0")
	}
	switch p.ChargingSchedule.ChargingRateUnit {
	case ocpp.RateUnitAmperes, ocpp.RateUnitWatts:
	default:
		return fmt.Errorf("scp: unknown rate unit %q", p.ChargingSchedule.ChargingRateUnit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.profiles[:0]
	for _, st := range s.profiles {
		dupID := st.profile.ChargingProfileID == p.ChargingProfileID
		dupSlot := st.connectorID == connectorID &&
			st.profile.ChargingProfilePurpose == p.ChargingProfilePurpose &&
			st.profile.StackLevel == p.StackLevel
		if dupID || dupSlot {
			continue
		}
		kept = append(kept, st)
	}
	s.profiles = append(kept, &stored{profile: p, connectorID: connectorID, receivedAt: s.now()})
	return nil
}

// Filter ClearChargingProfile 的过滤条件，全部可选，AND 语义
type Filter struct {
	ID          *int
	ConnectorID *int
	StackLevel  *int
	Purpose     *ocpp.ChargingProfilePurpose
}

// Clear 移除匹配的曲线，返回移除条数
func (s *Store) Clear(f Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.profiles[:0]
	removed := 0
	for _, st := range s.profiles {
		if f.matches(st) {
			removed++
			continue
		}
		kept = append(kept, st)
	}
	s.profiles = kept
	return removed
}

func (f Filter) matches(st *stored) bool {
	if f.ID != nil && st.profile.ChargingProfileID != *f.ID {
		return false
	}
	if f.ConnectorID != nil && st.connectorID != *f.ConnectorID {
		return false
	}
	if f.StackLevel != nil && st.profile.StackLevel != *f.StackLevel {
		return false
	}
	if f.Purpose != nil && st.profile.ChargingProfilePurpose != *f.Purpose {
		return false
	}
	return true
}

// ClearTransaction 交易结束时移除绑定该交易的 TxProfile
func (s *Store) ClearTransaction(txID int) int {
	purpose := ocpp.PurposeTxProfile
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.profiles[:0]
	removed := 0
	for _, st := range s.profiles {
		if st.profile.ChargingProfilePurpose == purpose &&
			st.profile.TransactionID != nil && *st.profile.TransactionID == txID {
			removed++
			continue
		}
		kept = append(kept, st)
	}
	s.profiles = kept
	return removed
}

// Count 当前存储的曲线条数
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

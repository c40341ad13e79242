package scp

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

var triRef = ElectricalRef{VoltageV: 230, Phases: 3, ChargerType: elec.ACTri}

func wattProfile(id, stackLevel int, purpose ocpp.ChargingProfilePurpose, periods ...ocpp.ChargingSchedulePeriod) ocpp.ChargingProfile {
	return ocpp.ChargingProfile{
		ChargingProfileID:      id,
		StackLevel:             stackLevel,
		ChargingProfilePurpose: purpose,
		ChargingProfileKind:    ocpp.KindRelative,
		ChargingSchedule: ocpp.ChargingSchedule{
			ChargingRateUnit:       ocpp.RateUnitWatts,
			ChargingSchedulePeriod: periods,
		},
	}
}

func period(start int, limit float64) ocpp.ChargingSchedulePeriod {
	return ocpp.ChargingSchedulePeriod{StartPeriod: start, Limit: limit}
}

func TestResolve_TxDefault11kW(t *testing.T) {
	s := NewStore(triRef)
	require.NoError(t, s.Set(1, wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))))

	r := s.Resolve(1, TxContext{}, time.Now())
	require.True(t, r.Limited)
	assert.Equal(t, 11000.0, r.LimitW)
	assert.InDelta(t, 11000.0/(3*230), r.LimitA, 1e-9)
	assert.Equal(t, ocpp.PurposeTxDefaultProfile, r.Purpose)
	assert.Equal(t, 1, r.ProfileID)
}

func TestResolve_Unlimited(t *testing.T) {
	s := NewStore(triRef)
	r := s.Resolve(1, TxContext{}, time.Now())
	assert.False(t, r.Limited)
	assert.True(t, math.IsInf(r.LimitW, 1))
}

func TestResolve_MonotonicStrictness(t *testing.T) {
	s := NewStore(triRef)
	now := time.Now()

	require.NoError(t, s.Set(1, wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))))
	first := s.Resolve(1, TxContext{}, now).LimitW

	// 追加更松的桩级上限不放宽限额
	require.NoError(t, s.Set(0, wattProfile(2, 0, ocpp.PurposeChargePointMaxProfile, period(0, 22000))))
	second := s.Resolve(1, TxContext{}, now).LimitW
	assert.LessOrEqual(t, second, first)

	// 追加更紧的上限必须收紧
	require.NoError(t, s.Set(0, wattProfile(3, 1, ocpp.PurposeChargePointMaxProfile, period(0, 7000))))
	third := s.Resolve(1, TxContext{}, now)
	assert.Equal(t, 7000.0, third.LimitW)
	assert.Equal(t, ocpp.PurposeChargePointMaxProfile, third.Purpose)
}

func TestResolve_StackLevelWins(t *testing.T) {
	s := NewStore(triRef)
	require.NoError(t, s.Set(1, wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))))
	require.NoError(t, s.Set(1, wattProfile(2, 5, ocpp.PurposeTxDefaultProfile, period(0, 16000))))

	// 同用途内高堆叠级别获胜，即使其限额更松
	r := s.Resolve(1, TxContext{}, time.Now())
	assert.Equal(t, 16000.0, r.LimitW)
	assert.Equal(t, 5, r.StackLevel)
}

func TestResolve_PurposeMinCombination(t *testing.T) {
	s := NewStore(triRef)
	txID := 42
	tx := TxContext{TransactionID: &txID, TxStart: time.Now().Add(-time.Minute)}

	require.NoError(t, s.Set(0, wattProfile(1, 0, ocpp.PurposeChargePointMaxProfile, period(0, 9000))))
	require.NoError(t, s.Set(1, wattProfile(2, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))))
	txp := wattProfile(3, 0, ocpp.PurposeTxProfile, period(0, 20000))
	txp.TransactionID = &txID
	require.NoError(t, s.Set(1, txp))

	// 三个用途同时生效时取最小功率，这里桩级 9kW 绑定
	r := s.Resolve(1, tx, time.Now())
	assert.Equal(t, 9000.0, r.LimitW)
	assert.Equal(t, ocpp.PurposeChargePointMaxProfile, r.Purpose)
}

func TestResolve_TxProfileRequiresTransaction(t *testing.T) {
	s := NewStore(triRef)
	txID := 7
	p := wattProfile(1, 0, ocpp.PurposeTxProfile, period(0, 5000))
	p.TransactionID = &txID
	require.NoError(t, s.Set(1, p))

	// 无交易时 TxProfile 不生效
	assert.False(t, s.Resolve(1, TxContext{}, time.Now()).Limited)

	// 交易号不匹配时不生效
	other := 8
	assert.False(t, s.Resolve(1, TxContext{TransactionID: &other, TxStart: time.Now()}, time.Now()).Limited)

	r := s.Resolve(1, TxContext{TransactionID: &txID, TxStart: time.Now()}, time.Now())
	require.True(t, r.Limited)
	assert.Equal(t, 5000.0, r.LimitW)
}

func TestResolve_AmpereConversion(t *testing.T) {
	s := NewStore(triRef)
	p := wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, ocpp.ChargingSchedulePeriod{StartPeriod: 0, Limit: 16})
	p.ChargingSchedule.ChargingRateUnit = ocpp.RateUnitAmperes
	require.NoError(t, s.Set(1, p))

	r := s.Resolve(1, TxContext{}, time.Now())
	assert.InDelta(t, 3*230*16, r.LimitW, 1e-9)
	assert.InDelta(t, 16, r.LimitA, 1e-9)
}

func TestResolve_PeriodSelection(t *testing.T) {
	s := NewStore(triRef)
	s.now = func() time.Time { return time.Unix(1000, 0) }
	require.NoError(t, s.Set(1, wattProfile(1, 0, ocpp.PurposeTxDefaultProfile,
		period(0, 11000), period(600, 7000), period(1200, 3000))))

	at := func(sec int64) time.Time { return time.Unix(1000+sec, 0) }
	assert.Equal(t, 11000.0, s.Resolve(1, TxContext{}, at(0)).LimitW)
	assert.Equal(t, 11000.0, s.Resolve(1, TxContext{}, at(599)).LimitW)
	assert.Equal(t, 7000.0, s.Resolve(1, TxContext{}, at(600)).LimitW)
	assert.Equal(t, 3000.0, s.Resolve(1, TxContext{}, at(5000)).LimitW)
}

func TestResolve_ValidityWindow(t *testing.T) {
	s := NewStore(triRef)
	now := time.Now()
	p := wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))
	from := ocpp.NewDateTime(now.Add(time.Hour))
	p.ValidFrom = &from
	require.NoError(t, s.Set(1, p))

	assert.False(t, s.Resolve(1, TxContext{}, now).Limited, "profile outside validFrom must not apply")
	assert.True(t, s.Resolve(1, TxContext{}, now.Add(2*time.Hour)).Limited)
}

func TestClear_RoundTrip(t *testing.T) {
	s := NewStore(triRef)
	require.NoError(t, s.Set(1, wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))))
	require.NoError(t, s.Set(0, wattProfile(2, 0, ocpp.PurposeChargePointMaxProfile, period(0, 9000))))

	id := 1
	assert.Equal(t, 1, s.Clear(Filter{ID: &id}))
	assert.Equal(t, 0, s.Clear(Filter{ID: &id}), "second clear removes nothing")

	purpose := ocpp.PurposeChargePointMaxProfile
	assert.Equal(t, 1, s.Clear(Filter{Purpose: &purpose}))

	// 全部清除后回到无限额
	r := s.Resolve(1, TxContext{}, time.Now())
	assert.False(t, r.Limited)
	assert.True(t, math.IsInf(r.LimitW, 1))
}

func TestClearTransaction(t *testing.T) {
	s := NewStore(triRef)
	txID := 42
	p := wattProfile(1, 0, ocpp.PurposeTxProfile, period(0, 5000))
	p.TransactionID = &txID
	require.NoError(t, s.Set(1, p))
	require.NoError(t, s.Set(1, wattProfile(2, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))))

	assert.Equal(t, 1, s.ClearTransaction(42))
	assert.Equal(t, 1, s.Count(), "TxDefaultProfile must survive transaction end")
}

func TestSet_Rejections(t *testing.T) {
	s := NewStore(triRef)

	empty := wattProfile(1, 0, ocpp.PurposeTxDefaultProfile)
	assert.Error(t, s.Set(1, empty), "no periods")

	unsorted := wattProfile(2, 0, ocpp.PurposeTxDefaultProfile, period(600, 1), period(0, 2))
	assert.Error(t, s.Set(1, unsorted), "unsorted periods")

	recurring := wattProfile(3, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000))
	recurring.ChargingProfileKind = ocpp.KindRecurring
	assert.Error(t, s.Set(1, recurring), "recurring without recurrencyKind")

	cpMax := wattProfile(4, 0, ocpp.PurposeChargePointMaxProfile, period(0, 11000))
	assert.Error(t, s.Set(2, cpMax), "ChargePointMaxProfile on connector 2")

	assert.Equal(t, 0, s.Count(), "rejected sets must not mutate the store")
}

func TestSet_LastWriteWinsSameSlot(t *testing.T) {
	s := NewStore(triRef)
	base := time.Unix(5000, 0)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	require.NoError(t, s.Set(1, wattProfile(10, 3, ocpp.PurposeTxDefaultProfile, period(0, 11000))))
	require.NoError(t, s.Set(1, wattProfile(11, 3, ocpp.PurposeTxDefaultProfile, period(0, 7000))))

	assert.Equal(t, 1, s.Count(), "same slot replaces")
	r := s.Resolve(1, TxContext{}, base.Add(time.Hour))
	assert.Equal(t, 7000.0, r.LimitW)
	assert.Equal(t, 11, r.ProfileID)
}

func TestComposite_MergesLayers(t *testing.T) {
	s := NewStore(triRef)
	s.now = func() time.Time { return time.Unix(0, 0) }
	at := time.Unix(0, 0)

	require.NoError(t, s.Set(1, wattProfile(1, 0, ocpp.PurposeTxDefaultProfile,
		period(0, 11000), period(300, 5000))))
	require.NoError(t, s.Set(0, wattProfile(2, 0, ocpp.PurposeChargePointMaxProfile, period(0, 9000))))

	sched := s.Composite(1, TxContext{}, at, 600, ocpp.RateUnitWatts)
	require.Len(t, sched.ChargingSchedulePeriod, 2)
	assert.Equal(t, 0, sched.ChargingSchedulePeriod[0].StartPeriod)
	assert.Equal(t, 9000.0, sched.ChargingSchedulePeriod[0].Limit, "cp max clamps the first span")
	assert.Equal(t, 300, sched.ChargingSchedulePeriod[1].StartPeriod)
	assert.Equal(t, 5000.0, sched.ChargingSchedulePeriod[1].Limit)
}

func TestComposite_EmptyWhenNoProfiles(t *testing.T) {
	s := NewStore(triRef)
	sched := s.Composite(1, TxContext{}, time.Now(), 600, ocpp.RateUnitWatts)
	assert.Empty(t, sched.ChargingSchedulePeriod)
	require.NotNil(t, sched.Duration)
	assert.Equal(t, 600, *sched.Duration)
}

func TestResolve_ScheduleAnchors(t *testing.T) {
	now := time.Now()
	daily := ocpp.RecurrencyDaily
	weekly := ocpp.RecurrencyWeekly
	halfHour := 1800

	cases := []struct {
		name        string
		kind        ocpp.ChargingProfileKind
		recurrency  *ocpp.RecurrencyKind
		start       time.Time
		duration    *int
		wantLimited bool
		wantW       float64
	}{
		{
			// startSchedule 在未来：计划尚未开始，不施加限额
			name: "absolute future start inactive",
			kind: ocpp.KindAbsolute, start: now.Add(time.Hour),
			wantLimited: false,
		},
		{
			// startSchedule 在过去：elapsed 从 startSchedule 起算，2h 落进第二段
			name: "absolute past start selects later period",
			kind: ocpp.KindAbsolute, start: now.Add(-2 * time.Hour),
			wantLimited: true, wantW: 5000,
		},
		{
			// 日重复：锚点滚动到最近一次周期起点（now-1h），落进第二段
			name: "recurring daily anchors at latest recurrence",
			kind: ocpp.KindRecurring, recurrency: &daily, start: now.Add(-25 * time.Hour),
			wantLimited: true, wantW: 5000,
		},
		{
			// 日重复刚跨过周期边界：elapsed 只有 10 分钟，仍在首段
			name: "recurring daily just past boundary",
			kind: ocpp.KindRecurring, recurrency: &daily, start: now.Add(-24*time.Hour - 10*time.Minute),
			wantLimited: true, wantW: 11000,
		},
		{
			// 周重复：start 在 8 天前，本周期起点是 now-1d
			name: "recurring weekly anchors at latest week",
			kind: ocpp.KindRecurring, recurrency: &weekly, start: now.Add(-8 * 24 * time.Hour),
			wantLimited: true, wantW: 5000,
		},
		{
			// 日重复且 duration=30m：距本次周期起点已 1h，窗口已过
			name: "recurring duration expired until next recurrence",
			kind: ocpp.KindRecurring, recurrency: &daily, start: now.Add(-25 * time.Hour),
			duration:    &halfHour,
			wantLimited: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(triRef)
			p := wattProfile(1, 0, ocpp.PurposeTxDefaultProfile, period(0, 11000), period(3600, 5000))
			p.ChargingProfileKind = tc.kind
			p.RecurrencyKind = tc.recurrency
			start := ocpp.NewDateTime(tc.start)
			p.ChargingSchedule.StartSchedule = &start
			p.ChargingSchedule.Duration = tc.duration
			require.NoError(t, s.Set(1, p))

			r := s.Resolve(1, TxContext{}, now)
			assert.Equal(t, tc.wantLimited, r.Limited)
			if tc.wantLimited {
				assert.Equal(t, tc.wantW, r.LimitW)
			}
		})
	}
}

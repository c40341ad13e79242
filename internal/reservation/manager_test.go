package reservation

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryFiresOnce(t *testing.T) {
	var fired atomic.Int32
	var expired atomic.Int32
	m := NewManager(func(r Reservation) {
		fired.Add(1)
		expired.Store(int32(r.ID))
	})

	m.Reserve(5, "TAG1", time.Now().Add(20*time.Millisecond))
	require.NotNil(t, m.Active())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(5), expired.Load())
	assert.Nil(t, m.Active(), "expired reservation must be cleared")
}

func TestReplacedReservation_StaleTimerIsSilent(t *testing.T) {
	var fired atomic.Int32
	var lastID atomic.Int32
	m := NewManager(func(r Reservation) {
		fired.Add(1)
		lastID.Store(int32(r.ID))
	})

	m.Reserve(1, "TAG1", time.Now().Add(15*time.Millisecond))
	// 旧定时器触发前换成新预约
	m.Reserve(2, "TAG2", time.Now().Add(60*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "stale timer for replaced reservation must not fire")

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), lastID.Load())
}

func TestCancelIdempotent(t *testing.T) {
	m := NewManager(nil)
	m.Reserve(9, "TAG1", time.Now().Add(time.Hour))

	assert.True(t, m.Cancel(9))
	assert.False(t, m.Cancel(9), "second cancel is a no-op")
	assert.False(t, m.Cancel(1234), "unknown id is a no-op")
	assert.Nil(t, m.Active())
}

func TestCancelStopsTimer(t *testing.T) {
	var fired atomic.Int32
	m := NewManager(func(Reservation) { fired.Add(1) })
	m.Reserve(3, "TAG1", time.Now().Add(20*time.Millisecond))
	require.True(t, m.Cancel(3))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestConsume(t *testing.T) {
	var fired atomic.Int32
	m := NewManager(func(Reservation) { fired.Add(1) })
	m.Reserve(7, "TAG1", time.Now().Add(30*time.Millisecond))

	_, ok := m.Consume("OTHER")
	assert.False(t, ok, "mismatched idTag must not consume")

	r, ok := m.Consume("TAG1")
	require.True(t, ok)
	assert.Equal(t, 7, r.ID)
	assert.Nil(t, m.Active())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "consumed reservation's timer must not fire")
}

func TestParseExpiry_Fallback(t *testing.T) {
	got := ParseExpiry("garbage")
	d := time.Until(got)
	assert.Greater(t, d, 14*time.Minute)
	assert.LessOrEqual(t, d, DefaultExpiryFallback)

	exact := ParseExpiry("2030-06-01T10:00:00Z")
	want, _ := time.Parse(time.RFC3339, "2030-06-01T10:00:00Z")
	assert.True(t, exact.Equal(want))
}

func TestSameIDRefresh_StaleTimerIsSilent(t *testing.T) {
	var fired atomic.Int32
	m := NewManager(func(Reservation) { fired.Add(1) })

	// 同号续约后，用首次登记的代数模拟一只已越过 Stop 的旧定时器
	m.Reserve(5, "TAG1", time.Now().Add(time.Hour))
	m.mu.Lock()
	stale := m.gen
	m.mu.Unlock()
	m.Reserve(5, "TAG1", time.Now().Add(2*time.Hour))

	m.expire(stale)

	assert.Equal(t, int32(0), fired.Load(), "refreshed reservation must not expire from the old timer")
	require.NotNil(t, m.Active())
	assert.Equal(t, 5, m.Active().ID)

	// 当前代数的到期照常生效
	m.mu.Lock()
	cur := m.gen
	m.mu.Unlock()
	m.expire(cur)
	assert.Equal(t, int32(1), fired.Load())
	assert.Nil(t, m.Active())
}

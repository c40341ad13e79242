package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramQuantiles(t *testing.T) {
	h := NewHistogram(1024)
	for i := 1; i <= 100; i++ {
		h.Observe(time.Duration(i) * time.Millisecond)
	}
	snap := h.Snapshot()
	assert.Equal(t, uint64(100), snap.Count)
	assert.Equal(t, time.Millisecond, snap.Min)
	assert.Equal(t, 100*time.Millisecond, snap.Max)
	assert.InDelta(t, 50, float64(snap.P50/time.Millisecond), 1)
	assert.InDelta(t, 95, float64(snap.P95/time.Millisecond), 1)
	assert.InDelta(t, 99, float64(snap.P99/time.Millisecond), 1)
}

func TestHistogramSnapshotCached(t *testing.T) {
	h := NewHistogram(16)
	h.Observe(10 * time.Millisecond)
	first := h.Snapshot()
	second := h.Snapshot()
	assert.Equal(t, first, second)

	h.Observe(20 * time.Millisecond)
	third := h.Snapshot()
	assert.Equal(t, 20*time.Millisecond, third.Max)
}

func TestHistogramWindowWraps(t *testing.T) {
	h := NewHistogram(4)
	for i := 0; i < 10; i++ {
		h.Observe(time.Duration(i) * time.Second)
	}
	snap := h.Snapshot()
	// 窗口只剩最后 4 个样本，但总数照实计
	assert.Equal(t, uint64(10), snap.Count)
	assert.Equal(t, 6*time.Second, snap.Min)
	assert.Equal(t, 9*time.Second, snap.Max)
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(4, 16)
	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	p.Close()
	assert.Equal(t, int64(100), n.Load())
}

func TestPoolCallerRunsOnOverflow(t *testing.T) {
	p := NewPool(1, 0)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	// 直接塞进队列占住唯一的工作协程
	p.tasks <- func() {
		close(started)
		<-block
	}
	<-started

	// 唯一的工作协程被占住、队列为零，这次提交必须在当前协程同步执行
	ran := false
	p.Submit(func() { ran = true })
	assert.True(t, ran)
	close(block)
}

func TestLaunchCountsFailuresWithoutRetry(t *testing.T) {
	o := New(Config{ConnectRate: 10000, ConnectBurst: 100, Workers: 8}, nil, nil)
	defer o.Close()

	var attempts atomic.Int64
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("CP-%03d", i)
	}
	released := o.Launch(context.Background(), ids, func(_ context.Context, id string) error {
		attempts.Add(1)
		if id == "CP-007" || id == "CP-013" {
			return errors.New("dial refused")
		}
		return nil
	})

	assert.Equal(t, 50, released)
	// 不自动重试：尝试数等于放行数
	assert.Equal(t, int64(50), attempts.Load())
	assert.Equal(t, int64(2), o.Failures())
	assert.Equal(t, int64(50), o.Launched())
	assert.Equal(t, uint64(50), o.ConnectLatency().Count)
}

func TestLaunchStopsOnContextCancel(t *testing.T) {
	// 限速 1/s：第一条立刻放行，之后取消应当提前结束
	o := New(Config{ConnectRate: 1, ConnectBurst: 1, Workers: 2}, nil, nil)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	released := o.Launch(ctx, []string{"a", "b", "c", "d"}, func(context.Context, string) error {
		return nil
	})
	require.Less(t, released, 4)
	require.GreaterOrEqual(t, released, 1)
}

func TestBroadcastParallelCountsFailures(t *testing.T) {
	o := New(Config{ConnectRate: 1000, Workers: 8, QueueDepth: 8}, nil, nil)
	defer o.Close()

	ids := []string{"a", "b", "c", "d", "e"}
	failed := o.Broadcast(context.Background(), ids, func(_ context.Context, id string) error {
		if id == "c" {
			return errors.New("boom")
		}
		return nil
	})
	assert.Equal(t, 1, failed)
	assert.Equal(t, uint64(4), o.MessageLatency().Count)
}

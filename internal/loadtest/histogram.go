package loadtest

import (
	"sort"
	"sync"
	"time"
)

// DefaultHistogramCapacity 环形样本窗缺省大小
const DefaultHistogramCapacity = 65536

// QuantileSnapshot 某一时刻的分位数视图
type QuantileSnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// Histogram 高精度延迟直方图。样本存环形窗，分位数在查询时才排序
// 计算并缓存，写路径只有一次追加，扛得住高频观测。
type Histogram struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
	count   uint64

	dirty bool
	snap  QuantileSnapshot
}

// NewHistogram 创建直方图，capacity<=0 用缺省窗口
func NewHistogram(capacity int) *Histogram {
	if capacity <= 0 {
		capacity = DefaultHistogramCapacity
	}
	return &Histogram{samples: make([]time.Duration, capacity)}
}

// Observe 记录一次时延
func (h *Histogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = d
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.filled = true
	}
	h.count++
	h.dirty = true
}

// Snapshot 当前分位数。自上次查询以来没有新样本时直接复用缓存。
func (h *Histogram) Snapshot() QuantileSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return h.snap
	}

	n := h.next
	if h.filled {
		n = len(h.samples)
	}
	if n == 0 {
		h.dirty = false
		h.snap = QuantileSnapshot{}
		return h.snap
	}

	sorted := make([]time.Duration, n)
	copy(sorted, h.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h.snap = QuantileSnapshot{
		Count: h.count,
		Min:   sorted[0],
		P50:   sorted[quantileIndex(n, 0.50)],
		P95:   sorted[quantileIndex(n, 0.95)],
		P99:   sorted[quantileIndex(n, 0.99)],
		Max:   sorted[n-1],
	}
	h.dirty = false
	return h.snap
}

func quantileIndex(n int, q float64) int {
	idx := int(float64(n)*q + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

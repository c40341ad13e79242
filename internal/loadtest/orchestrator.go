// Package loadtest 大规模连接编排：全局限速的 ramp-up、有界工作池、
// 失败计数与按查询刷新的延迟分位数。
package loadtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/evsim-code/ocpp-simulator/internal/metrics"
)

// Config 编排器参数
type Config struct {
	// ConnectRate 每秒放行的连接数
	ConnectRate float64
	// ConnectBurst 突发额度
	ConnectBurst int
	// Workers 工作池大小
	Workers int
	// QueueDepth 工作池队列深度，满了 caller-runs
	QueueDepth int
	// HistogramWindow 延迟样本窗大小
	HistogramWindow int
}

// Orchestrator 驱动 N 条模拟连接的建立与批量操作。
// 连接失败只计数不重试，重试与否由调用方决定。
type Orchestrator struct {
	limiter *rate.Limiter
	pool    *Pool
	log     *zap.Logger
	appm    *metrics.AppMetrics

	connectHist *Histogram
	messageHist *Histogram

	failures atomic.Int64
	launched atomic.Int64
}

// New 创建编排器
func New(cfg Config, appm *metrics.AppMetrics, log *zap.Logger) *Orchestrator {
	if cfg.ConnectRate <= 0 {
		cfg.ConnectRate = 100
	}
	if cfg.ConnectBurst <= 0 {
		cfg.ConnectBurst = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		limiter:     rate.NewLimiter(rate.Limit(cfg.ConnectRate), cfg.ConnectBurst),
		pool:        NewPool(cfg.Workers, cfg.QueueDepth),
		log:         log,
		appm:        appm,
		connectHist: NewHistogram(cfg.HistogramWindow),
		messageHist: NewHistogram(cfg.HistogramWindow),
	}
}

// Launch 按限速逐个放行 ids 的连接建立，connect 在工作池里执行。
// 返回实际放行的数量；ctx 取消会提前结束 ramp-up。
func (o *Orchestrator) Launch(ctx context.Context, ids []string, connect func(ctx context.Context, id string) error) int {
	var wg sync.WaitGroup
	released := 0
	for _, id := range ids {
		if err := o.limiter.Wait(ctx); err != nil {
			o.log.Info("ramp-up interrupted",
				zap.Int("released", released), zap.Int("total", len(ids)))
			break
		}
		released++
		id := id
		wg.Add(1)
		o.pool.Submit(func() {
			defer wg.Done()
			o.runConnect(ctx, id, connect)
		})
	}
	wg.Wait()
	return released
}

func (o *Orchestrator) runConnect(ctx context.Context, id string, connect func(ctx context.Context, id string) error) {
	start := time.Now()
	err := connect(ctx, id)
	elapsed := time.Since(start)
	o.connectHist.Observe(elapsed)
	o.launched.Add(1)
	if o.appm != nil {
		o.appm.ConnectLatency.Observe(elapsed.Seconds())
	}
	if err != nil {
		o.failures.Add(1)
		if o.appm != nil {
			o.appm.WSConnectFailTotal.Inc()
		}
		o.log.Warn("connect failed", zap.String("cpId", id), zap.Error(err))
		return
	}
	if o.appm != nil {
		o.appm.WSConnectTotal.Inc()
	}
}

// Broadcast 对存活集合并行执行 fn，返回失败条数。
// 单条失败只计数，不打断其余连接。
func (o *Orchestrator) Broadcast(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) int {
	var wg sync.WaitGroup
	var failed atomic.Int64
	for _, id := range ids {
		id := id
		wg.Add(1)
		o.pool.Submit(func() {
			defer wg.Done()
			start := time.Now()
			if err := fn(ctx, id); err != nil {
				failed.Add(1)
				o.log.Debug("broadcast op failed", zap.String("cpId", id), zap.Error(err))
				return
			}
			o.messageHist.Observe(time.Since(start))
		})
	}
	wg.Wait()
	return int(failed.Load())
}

// ObserveMessage 记录一次消息往返时延（供引擎在普通调用路径上打点）
func (o *Orchestrator) ObserveMessage(d time.Duration) {
	o.messageHist.Observe(d)
}

// Failures 累计连接失败数
func (o *Orchestrator) Failures() int64 {
	return o.failures.Load()
}

// Launched 已完成的连接尝试数（含失败）
func (o *Orchestrator) Launched() int64 {
	return o.launched.Load()
}

// ConnectLatency 连接延迟分位数快照
func (o *Orchestrator) ConnectLatency() QuantileSnapshot {
	return o.connectHist.Snapshot()
}

// MessageLatency 消息延迟分位数快照
func (o *Orchestrator) MessageLatency() QuantileSnapshot {
	return o.messageHist.Snapshot()
}

// Close 关闭工作池
func (o *Orchestrator) Close() {
	o.pool.Close()
}

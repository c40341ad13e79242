// Package engine 车队引擎：持有全部模拟会话的驱动器，负责建连编排、
// 周期任务与对外查询。
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/cp"
	"github.com/evsim-code/ocpp-simulator/internal/loadtest"
	"github.com/evsim-code/ocpp-simulator/internal/metrics"
	"github.com/evsim-code/ocpp-simulator/internal/session"
	"github.com/evsim-code/ocpp-simulator/internal/store"
)

// DialFunc 建连种子，测试时注入桩连接
type DialFunc func(ctx context.Context, id string) (*cp.Client, error)

// Config 引擎参数
type Config struct {
	CSMSURL  string
	Vendor   string
	Model    string
	Firmware string

	HeartbeatInterval time.Duration
	MeterInterval     time.Duration
	CallTimeout       time.Duration
	BootRetryInterval time.Duration
	StepDelay         time.Duration

	Electrical session.Electrical
	DefaultSoC float64
	TargetSoC  float64
}

func (c *Config) applyDefaults() {
	if c.Vendor == "" {
		c.Vendor = "evsim"
	}
	if c.Model == "" {
		c.Model = "sim-cp"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 300 * time.Second
	}
	if c.MeterInterval <= 0 {
		c.MeterInterval = 60 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = cp.DefaultCallTimeout
	}
	if c.BootRetryInterval <= 0 {
		c.BootRetryInterval = 10 * time.Second
	}
	if c.Electrical.VoltageV == 0 {
		c.Electrical = session.Electrical{
			VoltageV:           230,
			Phases:             3,
			ChargerType:        "ac-tri",
			MaxCurrentA:        32,
			VehicleMaxCurrentA: 32,
			BatteryCapacityKWh: 60,
		}
	}
	if c.TargetSoC <= 0 {
		c.TargetSoC = 100
	}
}

// Engine 车队引擎
type Engine struct {
	cfg   Config
	log   *zap.Logger
	appm  *metrics.AppMetrics
	store store.Store
	orch  *loadtest.Orchestrator
	dial  DialFunc

	mu      sync.RWMutex
	drivers map[string]*Driver
}

// New 创建引擎。dial 为 nil 时用 cp.Dial 连 cfg.CSMSURL。
func New(cfg Config, st store.Store, orch *loadtest.Orchestrator, appm *metrics.AppMetrics, log *zap.Logger) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = store.NewMemory()
	}
	e := &Engine{
		cfg:     cfg,
		log:     log,
		appm:    appm,
		store:   st,
		orch:    orch,
		drivers: make(map[string]*Driver),
	}
	e.dial = func(ctx context.Context, id string) (*cp.Client, error) {
		return cp.Dial(ctx, cfg.CSMSURL, cp.ClientOptions{
			ID:          id,
			CallTimeout: cfg.CallTimeout,
			Metrics:     appm,
			Logger:      log.Named("cp"),
		})
	}
	return e
}

// SetDial 替换建连函数（测试注入）
func (e *Engine) SetDial(dial DialFunc) {
	e.dial = dial
}

// Add 创建并启动一个模拟充电桩
func (e *Engine) Add(ctx context.Context, id string) error {
	d := newDriver(e, id)

	// 注册先于建连：并发的同号 Add 只有一个能占到键
	e.mu.Lock()
	if _, exists := e.drivers[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: session %s already exists", id)
	}
	e.drivers[id] = d
	e.mu.Unlock()

	if err := d.start(ctx); err != nil {
		e.mu.Lock()
		delete(e.drivers, id)
		e.mu.Unlock()
		return err
	}
	return nil
}

// AddFleet 按编排器限速批量建桩，返回放行数与失败数
func (e *Engine) AddFleet(ctx context.Context, ids []string) (released int, failed int64) {
	if e.orch == nil {
		for _, id := range ids {
			if err := e.Add(ctx, id); err != nil {
				failed++
				continue
			}
			released++
		}
		return released, failed
	}
	before := e.orch.Failures()
	released = e.orch.Launch(ctx, ids, e.Add)
	return released, e.orch.Failures() - before
}

// Remove 停掉并删除一个会话，连同其持久化快照
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	d, ok := e.drivers[id]
	if ok {
		delete(e.drivers, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: session %s not found", id)
	}
	d.stop()
	return e.store.Delete(ctx, id)
}

// Driver 按 cpId 取驱动器
func (e *Engine) Driver(id string) (*Driver, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.drivers[id]
	return d, ok
}

// List 全量状态快照，按 cpId 排序
func (e *Engine) List() []Status {
	e.mu.RLock()
	out := make([]Status, 0, len(e.drivers))
	for _, d := range e.drivers {
		out = append(out, d.Status())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count 当前会话数
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.drivers)
}

// Stop 停掉所有会话（各自保存快照）并关闭仓储
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	drivers := make([]*Driver, 0, len(e.drivers))
	for _, d := range e.drivers {
		drivers = append(drivers, d)
	}
	e.drivers = make(map[string]*Driver)
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range drivers {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.stop()
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("engine stop timed out", zap.Int("sessions", len(drivers)))
	}
	if err := e.store.Close(); err != nil {
		e.log.Warn("store close failed", zap.Error(err))
	}
}

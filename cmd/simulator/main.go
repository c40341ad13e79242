package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfgpkg "github.com/evsim-code/ocpp-simulator/internal/config"
	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/engine"
	"github.com/evsim-code/ocpp-simulator/internal/httpserver"
	"github.com/evsim-code/ocpp-simulator/internal/loadtest"
	"github.com/evsim-code/ocpp-simulator/internal/logging"
	"github.com/evsim-code/ocpp-simulator/internal/metrics"
	"github.com/evsim-code/ocpp-simulator/internal/session"
	"github.com/evsim-code/ocpp-simulator/internal/store"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，缺省时读 EVSIM_CONFIG 或 configs/example.yaml")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	var appm *metrics.AppMetrics
	metricsHandler := metrics.Handler(reg)
	if cfg.Metrics.Enable {
		appm = metrics.NewAppMetrics(reg)
	}

	// 4) 快照后端
	st, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatal("store init error", zap.String("type", cfg.Store.Type), zap.Error(err))
	}

	// 5) 连接编排器
	orch := loadtest.New(loadtest.Config{
		ConnectRate:     cfg.Loadtest.ConnectRate,
		ConnectBurst:    cfg.Loadtest.ConnectBurst,
		Workers:         cfg.Loadtest.Workers,
		QueueDepth:      cfg.Loadtest.QueueDepth,
		HistogramWindow: cfg.Loadtest.HistogramWindow,
	}, appm, logger.Named("loadtest"))

	// 6) 车队引擎
	fleet := engine.New(engine.Config{
		CSMSURL:           cfg.CSMS.URL,
		Vendor:            cfg.Fleet.Vendor,
		Model:             cfg.Fleet.Model,
		Firmware:          cfg.Fleet.Firmware,
		HeartbeatInterval: cfg.Fleet.HeartbeatInterval,
		MeterInterval:     cfg.Fleet.MeterInterval,
		CallTimeout:       cfg.CSMS.CallTimeout,
		BootRetryInterval: cfg.CSMS.BootRetryInterval,
		StepDelay:         cfg.Fleet.StepDelay,
		Electrical: session.Electrical{
			VoltageV:           cfg.Electrical.VoltageV,
			Phases:             cfg.Electrical.Phases,
			ChargerType:        elec.ChargerType(cfg.Electrical.ChargerType),
			MaxCurrentA:        cfg.Electrical.MaxCurrentA,
			VehicleMaxCurrentA: cfg.Electrical.VehicleMaxCurrentA,
			BatteryCapacityKWh: cfg.Electrical.BatteryCapacityKWh,
		},
		DefaultSoC: cfg.Fleet.DefaultSoC,
		TargetSoC:  cfg.Fleet.TargetSoC,
	}, st, orch, appm, logger.Named("engine"))

	// 7) HTTP 服务
	httpSrv := httpserver.New(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, fleet, orch, metricsHandler, func() bool { return true }, logger.Named("http"))

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()

	// 8) 按配置启动初始车队
	if cfg.Fleet.Count > 0 {
		ids := make([]string, 0, cfg.Fleet.Count)
		for i := 1; i <= cfg.Fleet.Count; i++ {
			ids = append(ids, fmt.Sprintf("%s%04d", cfg.Fleet.IDPrefix, i))
		}
		go func() {
			released, failed := fleet.AddFleet(context.Background(), ids)
			log.Info("fleet launched",
				zap.Int("released", released),
				zap.Int64("failed", failed),
				zap.Int("online", fleet.Count()))
		}()
	}

	// 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fleet.Stop(ctx)
	orch.Close()
	_ = httpSrv.Shutdown(ctx)
}

// buildStore 按配置选择快照后端
func buildStore(cfg cfgpkg.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(store.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
	case "postgres":
		return store.NewGorm(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

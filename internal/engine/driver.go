package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/cp"
	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/reservation"
	"github.com/evsim-code/ocpp-simulator/internal/session"
	"github.com/evsim-code/ocpp-simulator/internal/store"
)

// Status 单会话对外视图
type Status struct {
	ID            string               `json:"id"`
	State         session.State        `json:"state"`
	TransactionID *int                 `json:"transactionId,omitempty"`
	IdTag         string               `json:"idTag,omitempty"`
	SoC           float64              `json:"soc"`
	CurrentA      float64              `json:"currentA"`
	PowerW        float64              `json:"powerW"`
	EnergyWh      float64              `json:"energyWh"`
	Limit         session.Limit        `json:"limit"`
	Reservation   *session.Reservation `json:"reservation,omitempty"`
}

// Driver 单个模拟充电桩的驱动器：拥有会话全部可变状态与定时器，
// 其余层只通过方法调用进来。
type Driver struct {
	id    string
	cfg   Config
	log   *zap.Logger
	store store.Store
	dial  DialFunc

	sess     *session.Session
	client   *cp.Client
	calls    *cp.Calls
	handlers *cp.Handlers
	seq      *cp.Sequencer
	reserves *reservation.Manager
	keys     *cp.ConfigStore

	hbCh chan time.Duration
	mvCh chan time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	engine *Engine
}

func newDriver(e *Engine, id string) *Driver {
	d := &Driver{
		id:     id,
		cfg:    e.cfg,
		log:    e.log.Named("driver").With(zap.String("cpId", id)),
		store:  e.store,
		dial:   e.dial,
		seq:    cp.NewSequencer(),
		hbCh:   make(chan time.Duration, 1),
		mvCh:   make(chan time.Duration, 1),
		done:   make(chan struct{}),
		engine: e,
	}
	d.sess = session.New(session.Config{
		CPID:        id,
		ConnectorID: 1,
		Electrical:  e.cfg.Electrical,
		SoC:         e.cfg.DefaultSoC,
		TargetSoC:   e.cfg.TargetSoC,
		Logger:      d.log,
	})
	d.reserves = reservation.NewManager(d.onReservationExpired)
	d.keys = d.buildConfigStore()
	return d
}

func (d *Driver) buildConfigStore() *cp.ConfigStore {
	keys := cp.NewConfigStore()
	keys.Register(cp.KeyHeartbeatInterval,
		strconv.Itoa(int(d.cfg.HeartbeatInterval.Seconds())), false,
		d.intervalChange(d.hbCh))
	keys.Register(cp.KeyMeterValueSampleInterval,
		strconv.Itoa(int(d.cfg.MeterInterval.Seconds())), false,
		d.intervalChange(d.mvCh))
	keys.Register(cp.KeyNumberOfConnectors, "1", true, nil)
	keys.Register(cp.KeyAuthorizeRemoteTxRequests, "false", false, nil)
	keys.Register(cp.KeyConnectionTimeOut, "60", false, nil)
	keys.Register(cp.KeyChargeProfileMaxStackLevel, "10", true, nil)
	return keys
}

// intervalChange 配置键写入时把新周期推给运行协程重排 ticker
func (d *Driver) intervalChange(ch chan time.Duration) func(string) bool {
	return func(raw string) bool {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return false
		}
		select {
		case ch <- time.Duration(secs) * time.Second:
		default:
			// 旧值还没被消费，腾掉再放新的
			select {
			case <-ch:
			default:
			}
			ch <- time.Duration(secs) * time.Second
		}
		return true
	}
}

// onReservationExpired 到期回调：清字段、回 Available 并上报。
// 身份核对已由 reservation.Manager 做过。
func (d *Driver) onReservationExpired(r reservation.Reservation) {
	d.log.Info("reservation expired", zap.Int("reservationId", r.ID))
	d.sess.ClearReservation()
	if d.sess.State() == session.StateReserved {
		d.sess.Force(session.StateAvailable)
		if d.calls != nil {
			_ = d.calls.StatusNotification(context.Background(), ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
		}
	}
}

// start 建连、装配处理链、恢复快照并启动运行协程
func (d *Driver) start(ctx context.Context) error {
	client, err := d.dial(ctx, d.id)
	if err != nil {
		return fmt.Errorf("engine: dial %s: %w", d.id, err)
	}
	d.client = client
	d.calls = &cp.Calls{
		Client:   client,
		Sess:     d.sess,
		Log:      d.log,
		Vendor:   d.cfg.Vendor,
		Model:    d.cfg.Model,
		Firmware: d.cfg.Firmware,
	}
	d.handlers = &cp.Handlers{
		Sess:         d.sess,
		Reservations: d.reserves,
		Seq:          d.seq,
		Calls:        d.calls,
		Config:       d.keys,
		Log:          d.log,
		StepDelay:    d.cfg.StepDelay,
		OnReset:      d.onReset,
	}
	d.handlers.RegisterAll(client.Router())

	d.restoreSnapshot(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(runCtx)
	return nil
}

// restoreSnapshot 有历史快照则恢复会话字段并重建预约定时器
func (d *Driver) restoreSnapshot(ctx context.Context) {
	snap, err := d.store.Load(ctx, d.id)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		d.log.Warn("snapshot load failed", zap.Error(err))
		return
	}
	d.sess.Restore(snap)
	if snap.ReservationID != nil && snap.ReservationExpiry != nil {
		if snap.ReservationExpiry.After(time.Now()) {
			d.reserves.Reserve(*snap.ReservationID, snap.IdTag, *snap.ReservationExpiry)
		} else {
			d.sess.ClearReservation()
			if d.sess.State() == session.StateReserved {
				d.sess.Force(session.StateAvailable)
			}
		}
	}
	d.log.Info("session restored", zap.String("state", string(d.sess.State())))
}

// onReset Reset 接受后的重启：停掉运行协程，Hard 复位额外清快照
func (d *Driver) onReset(t ocpp.ResetType) {
	d.log.Info("resetting", zap.String("type", string(t)))
	if t == ocpp.ResetHard {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.store.Delete(ctx, d.id); err != nil {
			d.log.Warn("snapshot delete on hard reset failed", zap.Error(err))
		}
	}
	d.sess.Force(session.StateAvailable)
	d.client.Close()
}

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)

	readDone := make(chan struct{})
	go func() {
		_ = d.client.Run(ctx)
		close(readDone)
	}()

	if !d.boot(ctx) {
		d.shutdown()
		return
	}
	if d.engine.appm != nil {
		d.engine.appm.OnlineGauge.Inc()
		defer d.engine.appm.OnlineGauge.Dec()
	}
	_ = d.calls.StatusNotification(ctx, d.sess.State().OCPPStatus(), ocpp.ErrorCodeNoError)

	hbInterval := time.Duration(d.keys.IntValue(cp.KeyHeartbeatInterval, int(d.cfg.HeartbeatInterval.Seconds()))) * time.Second
	mvInterval := time.Duration(d.keys.IntValue(cp.KeyMeterValueSampleInterval, int(d.cfg.MeterInterval.Seconds()))) * time.Second
	hb := time.NewTicker(hbInterval)
	mv := time.NewTicker(mvInterval)
	defer hb.Stop()
	defer mv.Stop()

	txWasActive := false
	for {
		select {
		case <-hb.C:
			if _, err := d.calls.Heartbeat(ctx); err != nil {
				d.log.Warn("heartbeat failed", zap.Error(err))
			} else if d.engine.appm != nil {
				d.engine.appm.HeartbeatTotal.Inc()
			}

		case <-mv.C:
			d.stepMeter(mvInterval)
			_, active := d.sess.TransactionID()
			if active != txWasActive && d.engine.appm != nil {
				if active {
					d.engine.appm.TransactionsActive.Inc()
				} else {
					d.engine.appm.TransactionsActive.Dec()
				}
			}
			txWasActive = active
			if active {
				if err := d.calls.MeterValues(ctx); err != nil {
					d.log.Warn("meter values failed", zap.Error(err))
				}
			}

		case next := <-d.hbCh:
			hb.Reset(next)

		case next := <-d.mvCh:
			mvInterval = next
			mv.Reset(next)

		case <-ctx.Done():
			d.shutdown()
			return

		case <-readDone:
			d.log.Info("connection closed")
			d.shutdown()
			return
		}
	}
}

// boot 注册重试环：被拒或失败按固定间隔重试，Accepted 才继续
func (d *Driver) boot(ctx context.Context) bool {
	for {
		resp, err := d.calls.BootNotification(ctx)
		if err == nil && resp.Status == ocpp.RegistrationAccepted {
			if resp.Interval > 0 {
				d.keys.Register(cp.KeyHeartbeatInterval, strconv.Itoa(resp.Interval), false, d.intervalChange(d.hbCh))
			}
			// 恢复出来的非初始状态不用再走 BootAccepted 迁移
			_ = d.sess.Guarded(session.EventBootAccepted)
			return true
		}
		if err != nil {
			d.log.Warn("boot notification failed", zap.Error(err))
		} else {
			d.log.Info("boot not accepted", zap.String("status", string(resp.Status)))
		}
		select {
		case <-time.After(d.cfg.BootRetryInterval):
		case <-ctx.Done():
			return false
		}
	}
}

// stepMeter 推进一拍电气量：SCP 限额压顶真实电流，能量与 SoC 积分
func (d *Driver) stepMeter(dt time.Duration) {
	soc, _, _, energyWh := d.sess.Meter()
	ecfg := d.sess.ElectricalConfig()
	_, active := d.sess.TransactionID()

	currentA := elec.RealisticCurrent(elec.ChargeState{
		TransactionActive:  active,
		SoC:                soc,
		TargetSoC:          d.sess.TargetSoC(),
		ConfiguredCurrentA: ecfg.MaxCurrentA,
		VehicleMaxCurrentA: ecfg.VehicleMaxCurrentA,
	})

	r := d.sess.Profiles.Resolve(d.sess.ConnectorID, d.sess.Transaction(), time.Now())
	limit := session.Limit{Limited: r.Limited, LimitW: r.LimitW, LimitA: r.LimitA,
		ProfileID: r.ProfileID, Purpose: r.Purpose, StackLevel: r.StackLevel}
	if r.Limited && r.LimitA < currentA {
		currentA = r.LimitA
	}
	d.sess.SetLimit(limit)

	powerW := elec.PowerFromCurrent(currentA, ecfg.VoltageV, ecfg.Phases, ecfg.ChargerType)
	if active {
		deltaWh := powerW * dt.Hours()
		energyWh += deltaWh
		if ecfg.BatteryCapacityKWh > 0 {
			soc += deltaWh / (ecfg.BatteryCapacityKWh * 1000) * 100
			if soc > 100 {
				soc = 100
			}
		}
	}
	d.sess.UpdateMeter(soc, currentA, powerW, energyWh)
}

func (d *Driver) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Save(ctx, d.sess.Snapshot()); err != nil {
		d.log.Warn("snapshot save failed", zap.Error(err))
	}
	d.seq.Stop()
	d.reserves.Stop()
	d.client.Close()
}

// stop 取消运行协程并等它收尾
func (d *Driver) stop() {
	// 从未启动成功的驱动器没有 run 协程，也就没有人关 done
	if d.cancel == nil {
		return
	}
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
		d.log.Warn("driver stop timed out")
	}
}

// Status 当前状态视图
func (d *Driver) Status() Status {
	soc, currentA, powerW, energyWh := d.sess.Meter()
	st := Status{
		ID:          d.id,
		State:       d.sess.State(),
		IdTag:       d.sess.IdTag(),
		SoC:         soc,
		CurrentA:    currentA,
		PowerW:      powerW,
		EnergyWh:    energyWh,
		Limit:       d.sess.EffectiveLimit(),
		Reservation: d.sess.ReservationInfo(),
	}
	if id, ok := d.sess.TransactionID(); ok {
		st.TransactionID = &id
	}
	return st
}

// Events 会话事件日志
func (d *Driver) Events() []session.Event {
	return d.sess.Events()
}

// Plug 模拟插枪
func (d *Driver) Plug(ctx context.Context) error {
	if err := d.sess.Guarded(session.EventPlug); err != nil {
		return err
	}
	return d.calls.StatusNotification(ctx, d.sess.State().OCPPStatus(), ocpp.ErrorCodeNoError)
}

// Unplug 模拟拔枪，交易在进行时先按 EVDisconnected 停掉
func (d *Driver) Unplug(ctx context.Context) error {
	if _, active := d.sess.TransactionID(); active {
		if _, err := d.calls.StopTransaction(ctx, ocpp.ReasonEVDisconnected); err != nil {
			return err
		}
		if err := d.sess.Guarded(session.EventStopTransaction); err != nil {
			d.sess.Force(session.StateParked)
		}
	}
	if err := d.sess.Guarded(session.EventUnplug); err != nil {
		return err
	}
	return d.calls.StatusNotification(ctx, ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
}

// Fault 注入故障
func (d *Driver) Fault(ctx context.Context, code ocpp.ChargePointErrorCode) error {
	if err := d.sess.Guarded(session.EventFault); err != nil {
		return err
	}
	if code == "" {
		code = ocpp.ErrorCodeOtherError
	}
	return d.calls.StatusNotification(ctx, ocpp.StatusFaulted, code)
}

// Recover 故障恢复
func (d *Driver) Recover(ctx context.Context) error {
	if err := d.sess.Guarded(session.EventRecover); err != nil {
		return err
	}
	return d.calls.StatusNotification(ctx, ocpp.StatusAvailable, ocpp.ErrorCodeNoError)
}

// StartCharging 本地启动充电：授权、开交易、进入 Charging
func (d *Driver) StartCharging(ctx context.Context, idTag string) error {
	if err := d.sess.Guarded(session.EventPrepare); err != nil {
		return err
	}
	_ = d.calls.StatusNotification(ctx, ocpp.StatusPreparing, ocpp.ErrorCodeNoError)

	auth, err := d.calls.Authorize(ctx, idTag)
	if err != nil {
		return err
	}
	if auth.IdTagInfo.Status != ocpp.AuthorizationAccepted {
		return fmt.Errorf("engine: idTag %s not authorized: %s", idTag, auth.IdTagInfo.Status)
	}
	d.sess.SetIdTag(idTag)

	start, err := d.calls.StartTransaction(ctx, idTag, nil)
	if err != nil {
		return err
	}
	if start.IdTagInfo.Status != ocpp.AuthorizationAccepted {
		return fmt.Errorf("engine: start transaction rejected: %s", start.IdTagInfo.Status)
	}
	if err := d.sess.Guarded(session.EventStartTransaction); err != nil {
		d.sess.Force(session.StateStarting)
	}
	if err := d.sess.Guarded(session.EventChargingStarted); err != nil {
		d.sess.Force(session.StateCharging)
	}
	return d.calls.StatusNotification(ctx, ocpp.StatusCharging, ocpp.ErrorCodeNoError)
}

// StopCharging 本地停止充电
func (d *Driver) StopCharging(ctx context.Context) error {
	if _, active := d.sess.TransactionID(); !active {
		return errors.New("engine: no active transaction")
	}
	if _, err := d.calls.StopTransaction(ctx, ocpp.ReasonLocal); err != nil {
		return err
	}
	if err := d.sess.Guarded(session.EventStopTransaction); err != nil {
		d.sess.Force(session.StateParked)
	}
	return d.calls.StatusNotification(ctx, ocpp.StatusFinishing, ocpp.ErrorCodeNoError)
}

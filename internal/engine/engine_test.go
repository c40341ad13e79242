package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsim-code/ocpp-simulator/internal/cp"
	"github.com/evsim-code/ocpp-simulator/internal/loadtest"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/session"
	"github.com/evsim-code/ocpp-simulator/internal/store"
)

// stubConn 最小化的 CSMS 桩：所有出站 CALL 都按动作回固定应答
type stubConn struct {
	reads chan []byte

	mu      sync.Mutex
	actions []ocpp.Action

	closeOnce sync.Once
	closed    chan struct{}
}

func newStubConn() *stubConn {
	return &stubConn{reads: make(chan []byte, 64), closed: make(chan struct{})}
}

func (s *stubConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-s.reads:
		return websocket.TextMessage, b, nil
	case <-s.closed:
		return 0, nil, errors.New("stub closed")
	}
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	frame, err := ocpp.Parse(data)
	if err != nil {
		return err
	}
	call, ok := frame.(*ocpp.Call)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.actions = append(s.actions, call.Action)
	s.mu.Unlock()

	var payload interface{}
	switch call.Action {
	case ocpp.ActionBootNotification:
		payload = ocpp.BootNotificationResponse{Status: ocpp.RegistrationAccepted, CurrentTime: ocpp.Now(), Interval: 300}
	case ocpp.ActionHeartbeat:
		payload = ocpp.HeartbeatResponse{CurrentTime: ocpp.Now()}
	case ocpp.ActionAuthorize:
		payload = ocpp.AuthorizeResponse{IdTagInfo: ocpp.IdTagInfo{Status: ocpp.AuthorizationAccepted}}
	case ocpp.ActionStartTransaction:
		payload = ocpp.StartTransactionResponse{IdTagInfo: ocpp.IdTagInfo{Status: ocpp.AuthorizationAccepted}, TransactionID: 77}
	default:
		payload = struct{}{}
	}
	raw, _ := json.Marshal(payload)
	out, _ := json.Marshal(ocpp.CallResult{MessageID: call.MessageID, Payload: raw})
	s.reads <- out
	return nil
}

func (s *stubConn) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stubConn) seen(action ocpp.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a == action {
			return true
		}
	}
	return false
}

func stubDial(conns map[string]*stubConn, mu *sync.Mutex) DialFunc {
	return func(_ context.Context, id string) (*cp.Client, error) {
		conn := newStubConn()
		mu.Lock()
		conns[id] = conn
		mu.Unlock()
		return cp.NewClient(conn, cp.ClientOptions{ID: id, CallTimeout: 2 * time.Second}), nil
	}
}

func testConfig() Config {
	return Config{
		Vendor:            "evsim",
		Model:             "sim-test",
		HeartbeatInterval: time.Hour,
		MeterInterval:     time.Hour,
		CallTimeout:       2 * time.Second,
		BootRetryInterval: 20 * time.Millisecond,
		StepDelay:         time.Millisecond,
		DefaultSoC:        40,
	}
}

func TestEngineAddBootsSession(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	e := New(testConfig(), store.NewMemory(), nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Add(ctx, "CP-001"))
	defer e.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d, ok := e.Driver("CP-001")
		if ok && d.sess.State() == session.StateBootAccepted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	d, ok := e.Driver("CP-001")
	require.True(t, ok)
	assert.Equal(t, session.StateBootAccepted, d.sess.State())
	mu.Lock()
	conn := conns["CP-001"]
	mu.Unlock()
	assert.True(t, conn.seen(ocpp.ActionBootNotification))
	assert.True(t, conn.seen(ocpp.ActionStatusNotification))
}

func TestEngineAddDuplicate(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	e := New(testConfig(), store.NewMemory(), nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))
	defer e.Stop(context.Background())

	require.NoError(t, e.Add(context.Background(), "CP-001"))
	assert.Error(t, e.Add(context.Background(), "CP-001"))
}

func TestEngineAddConcurrentSameID(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	e := New(testConfig(), store.NewMemory(), nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))
	defer e.Stop(context.Background())

	// 同号并发 Add 恰好一个胜出，败者不得覆盖胜者的驱动器
	const racers = 8
	var wg sync.WaitGroup
	var errs atomic.Int32
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Add(context.Background(), "CP-001"); err != nil {
				errs.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(racers-1), errs.Load())
	assert.Equal(t, 1, e.Count())
	mu.Lock()
	assert.Len(t, conns, 1)
	mu.Unlock()
}

func TestEngineAddFleetCountsFailures(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	orch := loadtest.New(loadtest.Config{ConnectRate: 10000, ConnectBurst: 100, Workers: 8}, nil, nil)
	defer orch.Close()

	e := New(testConfig(), store.NewMemory(), orch, nil, nil)
	base := stubDial(conns, &mu)
	e.SetDial(func(ctx context.Context, id string) (*cp.Client, error) {
		if id == "CP-BAD" {
			return nil, errors.New("dial refused")
		}
		return base(ctx, id)
	})
	defer e.Stop(context.Background())

	ids := []string{"CP-A", "CP-BAD", "CP-B"}
	released, failed := e.AddFleet(context.Background(), ids)
	assert.Equal(t, 3, released)
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, 2, e.Count())
}

func TestEngineRemoveDeletesSnapshot(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	st := store.NewMemory()
	e := New(testConfig(), st, nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))

	require.NoError(t, e.Add(context.Background(), "CP-001"))
	require.NoError(t, e.Remove(context.Background(), "CP-001"))
	assert.Equal(t, 0, e.Count())
	_, err := st.Load(context.Background(), "CP-001")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, e.Remove(context.Background(), "CP-001"))
}

func TestStepMeterIntegratesEnergyAndSoC(t *testing.T) {
	cfg := testConfig()
	cfg.Electrical = session.Electrical{
		VoltageV:           400,
		Phases:             1,
		ChargerType:        "dc",
		MaxCurrentA:        125,
		VehicleMaxCurrentA: 125,
		BatteryCapacityKWh: 100,
	}
	e := New(cfg, store.NewMemory(), nil, nil, nil)
	d := newDriver(e, "CP-001")
	d.sess.Force(session.StateCharging)
	d.sess.BeginTransaction(1, "TAG", time.Now())

	// DC 400V×125A = 50kW，一小时积 50kWh，SoC 涨 50 个点
	d.stepMeter(time.Hour)
	soc, currentA, powerW, energyWh := d.sess.Meter()
	assert.InDelta(t, 125, currentA, 0.001)
	assert.InDelta(t, 50000, powerW, 0.001)
	assert.InDelta(t, 50000, energyWh, 0.5)
	assert.InDelta(t, 90, soc, 0.01)
}

func TestStepMeterHonorsProfileLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Electrical = session.Electrical{
		VoltageV:           400,
		Phases:             1,
		ChargerType:        "dc",
		MaxCurrentA:        125,
		VehicleMaxCurrentA: 125,
		BatteryCapacityKWh: 100,
	}
	e := New(cfg, store.NewMemory(), nil, nil, nil)
	d := newDriver(e, "CP-001")
	d.sess.Force(session.StateCharging)
	d.sess.BeginTransaction(1, "TAG", time.Now())

	require.NoError(t, d.sess.Profiles.Set(1, ocpp.ChargingProfile{
		ChargingProfileID:      1,
		ChargingProfilePurpose: ocpp.PurposeTxDefaultProfile,
		ChargingProfileKind:    ocpp.KindRelative,
		ChargingSchedule: ocpp.ChargingSchedule{
			ChargingRateUnit:       ocpp.RateUnitWatts,
			ChargingSchedulePeriod: []ocpp.ChargingSchedulePeriod{{StartPeriod: 0, Limit: 20000}},
		},
	}))

	d.stepMeter(time.Minute)
	_, currentA, powerW, _ := d.sess.Meter()
	assert.InDelta(t, 50, currentA, 0.001) // 20000W / 400V
	assert.InDelta(t, 20000, powerW, 0.001)
	assert.True(t, d.sess.EffectiveLimit().Limited)
}

func TestStepMeterIdleWithoutTransaction(t *testing.T) {
	e := New(testConfig(), store.NewMemory(), nil, nil, nil)
	d := newDriver(e, "CP-001")

	d.stepMeter(time.Minute)
	soc, currentA, _, energyWh := d.sess.Meter()
	assert.InDelta(t, 0.025, currentA, 0.0001)
	assert.InDelta(t, 40, soc, 0.0001)
	assert.Zero(t, energyWh)
}

func TestDriverStopSavesSnapshot(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	st := store.NewMemory()
	e := New(testConfig(), st, nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))

	require.NoError(t, e.Add(context.Background(), "CP-001"))
	d, _ := e.Driver("CP-001")
	d.sess.Force(session.StateCharging)
	d.sess.BeginTransaction(9, "TAG", time.Now())
	d.stop()

	snap, err := st.Load(context.Background(), "CP-001")
	require.NoError(t, err)
	assert.Equal(t, session.StateCharging, snap.State)
	require.NotNil(t, snap.TransactionID)
	assert.Equal(t, 9, *snap.TransactionID)
}

func TestRestoreSnapshotRebuildsReservation(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	st := store.NewMemory()

	rid := 5
	expiry := time.Now().Add(time.Hour)
	require.NoError(t, st.Save(context.Background(), session.Snapshot{
		CPID:              "CP-001",
		ConnectorID:       1,
		State:             session.StateReserved,
		IdTag:             "OWNER",
		ReservationID:     &rid,
		ReservationExpiry: &expiry,
		TargetSoC:         100,
		SoC:               40,
	}))

	e := New(testConfig(), st, nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))
	require.NoError(t, e.Add(context.Background(), "CP-001"))
	defer e.Stop(context.Background())

	d, _ := e.Driver("CP-001")
	assert.Equal(t, session.StateReserved, d.sess.State())
	require.NotNil(t, d.reserves.Active())
	assert.Equal(t, 5, d.reserves.Active().ID)
}

func TestListSortedByID(t *testing.T) {
	conns := make(map[string]*stubConn)
	var mu sync.Mutex
	e := New(testConfig(), store.NewMemory(), nil, nil, nil)
	e.SetDial(stubDial(conns, &mu))
	defer e.Stop(context.Background())

	for _, id := range []string{"CP-3", "CP-1", "CP-2"} {
		require.NoError(t, e.Add(context.Background(), id))
	}
	list := e.List()
	require.Len(t, list, 3)
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"CP-1", "CP-2", "CP-3"}, ids)
}

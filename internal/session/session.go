// Package session 维护单个模拟充电桩的会话：状态机、交易、预约、
// 电气量与事件日志。每个会话的可变状态只被它自己的驱动协程触碰。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/scp"
)

// Electrical 会话的电气配置
type Electrical struct {
	VoltageV           float64
	Phases             int
	ChargerType        elec.ChargerType
	MaxCurrentA        float64
	VehicleMaxCurrentA float64
	BatteryCapacityKWh float64
}

// Reservation 会话上的预约快照
type Reservation struct {
	ID     int
	IdTag  string
	Expiry time.Time
}

// Limit 面向查询的 SCP 生效限额展示字段
type Limit struct {
	Limited    bool
	LimitW     float64
	LimitA     float64
	ProfileID  int
	Purpose    ocpp.ChargingProfilePurpose
	StackLevel int
}

// Session 一个模拟充电桩
type Session struct {
	CPID        string
	ConnectorID int

	mu       sync.Mutex
	machine  *fsm.FSM
	log      *zap.Logger

	transactionID *int
	txStart       time.Time
	idTag         string
	reservation   *Reservation

	elec      Electrical
	soc       float64
	targetSoC float64
	currentA  float64
	powerW    float64
	energyWh  float64

	limit Limit

	Profiles *scp.Store

	events    []Event
	maxEvents int
}

// Config 创建会话的参数
type Config struct {
	CPID        string
	ConnectorID int
	Initial     State
	Electrical  Electrical
	SoC         float64
	TargetSoC   float64
	MaxEvents   int
	Logger      *zap.Logger
}

// New 创建会话，初始状态缺省为 Available
func New(cfg Config) *Session {
	if cfg.Initial == "" {
		cfg.Initial = StateAvailable
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TargetSoC <= 0 {
		cfg.TargetSoC = 100
	}
	s := &Session{
		CPID:        cfg.CPID,
		ConnectorID: cfg.ConnectorID,
		log:         cfg.Logger,
		elec:        cfg.Electrical,
		soc:         cfg.SoC,
		targetSoC:   cfg.TargetSoC,
		maxEvents:   cfg.MaxEvents,
		Profiles: scp.NewStore(scp.ElectricalRef{
			VoltageV:    cfg.Electrical.VoltageV,
			Phases:      cfg.Electrical.Phases,
			ChargerType: cfg.Electrical.ChargerType,
		}),
	}
	s.machine = newMachine(cfg.Initial, func(from, to State) {
		s.log.Debug("state transition",
			zap.String("cpId", s.CPID), zap.String("from", string(from)), zap.String("to", string(to)))
	})
	return s
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.machine.Current())
}

// Guarded 受控迁移：事件不在当前状态的允许表中时拒绝且不改状态
func (s *Session) Guarded(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guardedLocked(event)
}

func (s *Session) guardedLocked(event string) error {
	from := State(s.machine.Current())
	if err := s.machine.Event(context.Background(), event); err != nil {
		return &ErrInvalidTransition{Event: event, From: from}
	}
	s.appendEventLocked("transition", string(from)+" -> "+s.machine.Current())
	return nil
}

// Force 强制迁移：绕过状态表，仅供 OCPP 入站处理链使用（ReserveNow、
// RemoteStart、预约到期等 CSMS 驱动的流程），不得暴露到外部控制面。
func (s *Session) Force(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.machine.Current()
	s.machine.SetState(string(to))
	s.appendEventLocked("forced-transition", from+" -> "+string(to))
}

// Can 事件在当前状态下是否允许
func (s *Session) Can(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Can(event)
}

// BeginTransaction 记录交易开始
func (s *Session) BeginTransaction(txID int, idTag string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionID = &txID
	s.txStart = at
	s.idTag = idTag
	s.appendEventLocked("transaction", "started")
}

// EndTransaction 清交易并移除其 TxProfile，返回结束的交易号
func (s *Session) EndTransaction() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transactionID == nil {
		return 0, false
	}
	txID := *s.transactionID
	s.transactionID = nil
	s.txStart = time.Time{}
	s.appendEventLocked("transaction", "stopped")
	// Profiles 自带锁且从不回调会话，持锁调用无环
	s.Profiles.ClearTransaction(txID)
	return txID, true
}

// Transaction 当前交易上下文
func (s *Session) Transaction() scp.TxContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transactionID == nil {
		return scp.TxContext{}
	}
	id := *s.transactionID
	return scp.TxContext{TransactionID: &id, TxStart: s.txStart}
}

// TransactionID 当前交易号
func (s *Session) TransactionID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transactionID == nil {
		return 0, false
	}
	return *s.transactionID, true
}

// IdTag 当前授权 idTag
func (s *Session) IdTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idTag
}

// SetIdTag 设置授权 idTag
func (s *Session) SetIdTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idTag = tag
}

// SetReservation 记录预约
func (s *Session) SetReservation(r Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservation = &r
	s.appendEventLocked("reservation", "set")
}

// Reservation 当前预约，无预约返回 nil
func (s *Session) ReservationInfo() *Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reservation == nil {
		return nil
	}
	r := *s.reservation
	return &r
}

// ClearReservation 清除预约字段
func (s *Session) ClearReservation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservation = nil
	s.appendEventLocked("reservation", "cleared")
}

// Electrical 电气配置
func (s *Session) ElectricalConfig() Electrical {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elec
}

// Meter 读取当前电气量：SoC、电流、功率、累计电量
func (s *Session) Meter() (soc, currentA, powerW, energyWh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.soc, s.currentA, s.powerW, s.energyWh
}

// TargetSoC 目标 SoC
func (s *Session) TargetSoC() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetSoC
}

// UpdateMeter 由驱动协程写入新一拍的电气量
func (s *Session) UpdateMeter(soc, currentA, powerW, energyWh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soc = soc
	s.currentA = currentA
	s.powerW = powerW
	s.energyWh = energyWh
}

// SetLimit 记录 SCP 裁决结果供查询展示
func (s *Session) SetLimit(l Limit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = l
}

// EffectiveLimit 当前展示的生效限额
func (s *Session) EffectiveLimit() Limit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

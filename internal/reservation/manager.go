// Package reservation 管理单个会话的预约生命周期：每个预约恰好一个
// 到期定时器，替换/取消/消费都要先停掉旧定时器；到期回调在动手前
// 重新核对预约身份，挡住已被替换或已被消费后才触发的陈旧定时器。
package reservation

import (
	"sync"
	"time"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// DefaultExpiryFallback 到期时间解析失败时的兜底时长
const DefaultExpiryFallback = 15 * time.Minute

// Reservation 一条活动预约
type Reservation struct {
	ID     int
	IdTag  string
	Expiry time.Time
}

// Manager 单会话预约管理器。同一连接器最多一条活动预约。
type Manager struct {
	mu      sync.Mutex
	current *Reservation
	timer   *time.Timer
	// gen 每次登记递增。同号续约时仅凭预约号挡不住已越过 Stop 的旧
	// 定时器，到期回调改核对排定时的代数。
	gen uint64

	// onExpire 合法到期时回调（身份核对通过后），入参为到期的预约
	onExpire func(Reservation)
}

// NewManager 创建管理器
func NewManager(onExpire func(Reservation)) *Manager {
	return &Manager{onExpire: onExpire}
}

// Reserve 登记预约并重排到期定时器。已有预约被替换（其定时器先停）。
func (m *Manager) Reserve(id int, idTag string, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.current = &Reservation{ID: id, IdTag: idTag, Expiry: expiry}
	m.gen++
	gen := m.gen

	d := time.Until(expiry)
	if d < 0 {
		d = 0
	}
	m.timer = time.AfterFunc(d, func() { m.expire(gen) })
}

// expire 到期处理：先核对当前预约的代数仍是定时器排定时的那个，
// 不一致说明预约已被替换或消费，静默放弃。
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if m.current == nil || m.gen != gen {
		m.mu.Unlock()
		return
	}
	r := *m.current
	m.current = nil
	m.timer = nil
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire(r)
	}
}

// Cancel 取消指定预约。重复取消或取消不存在的预约都是无害的 no-op；
// 返回是否真的移除了预约。
func (m *Manager) Cancel(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != id {
		return false
	}
	m.stopTimerLocked()
	m.current = nil
	return true
}

// Consume 尝试用 idTag 消费预约（RemoteStart/物理插枪）。匹配则移除
// 预约并返回其内容。
func (m *Manager) Consume(idTag string) (Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.IdTag != idTag {
		return Reservation{}, false
	}
	r := *m.current
	m.stopTimerLocked()
	m.current = nil
	return r, true
}

// Active 当前活动预约，没有则返回 nil
func (m *Manager) Active() *Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	r := *m.current
	return &r
}

// Stop 停止一切挂起的定时器（会话销毁时调用）
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.current = nil
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// ParseExpiry 解析 expiryDate 字符串。UTC"Z"、显式偏移、无时区三种形式
// 都换算到本地时钟；畸形时间戳回退 now+15m 而不是让请求失败。
func ParseExpiry(raw string) time.Time {
	t, err := ocpp.ParseTimestamp(raw)
	if err != nil {
		return time.Now().Add(DefaultExpiryFallback)
	}
	return t
}

package cp

import (
	"sync"
	"time"
)

// Sequencer 会话私有的延时续延队列。多步流程（如 RemoteStart 的
// Preparing → Authorize → StartTransaction 链）在应答之后以定时续延
// 推进，绝不在应答路径上睡眠；会话销毁时一次性取消全部挂起步骤。
type Sequencer struct {
	mu      sync.Mutex
	timers  map[int]*time.Timer
	nextID  int
	stopped bool
}

// NewSequencer 创建队列
func NewSequencer() *Sequencer {
	return &Sequencer{timers: make(map[int]*time.Timer)}
}

// After 在 d 之后执行 fn。队列已停止则丢弃。
func (q *Sequencer) After(d time.Duration, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	id := q.nextID
	q.nextID++
	q.timers[id] = time.AfterFunc(d, func() {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		delete(q.timers, id)
		q.mu.Unlock()
		fn()
	})
}

// Pending 当前挂起的步骤数
func (q *Sequencer) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Stop 取消所有挂起步骤并拒绝后续调度
func (q *Sequencer) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

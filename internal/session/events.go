package session

import "time"

// Event 会话事件日志条目（追加写，供 UI/诊断展示）
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// AppendEvent 追加一条事件
func (s *Session) AppendEvent(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEventLocked(kind, message)
}

func (s *Session) appendEventLocked(kind, message string) {
	s.events = append(s.events, Event{Time: time.Now(), Kind: kind, Message: message})
	// 超限丢最老的一半，避免逐条搬移
	if len(s.events) > s.maxEvents {
		half := s.maxEvents / 2
		s.events = append(s.events[:0], s.events[len(s.events)-half:]...)
	}
}

// Events 事件日志副本
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

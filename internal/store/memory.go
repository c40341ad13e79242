package store

import (
	"context"
	"sort"
	"sync"

	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// Memory 进程内快照仓储，缺省后端
type Memory struct {
	mu    sync.RWMutex
	snaps map[string]session.Snapshot
}

// NewMemory 创建内存仓储
func NewMemory() *Memory {
	return &Memory{snaps: make(map[string]session.Snapshot)}
}

func (m *Memory) Save(_ context.Context, snap session.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.CPID] = snap
	return nil
}

func (m *Memory) Load(_ context.Context, cpID string) (session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[cpID]
	if !ok {
		return session.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *Memory) LoadAll(_ context.Context) ([]session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CPID < out[j].CPID })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, cpID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, cpID)
	return nil
}

func (m *Memory) Close() error { return nil }

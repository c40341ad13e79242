// Package store 会话快照持久化，三种可替换后端：内存、Redis、Postgres。
package store

import (
	"context"
	"errors"

	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// ErrNotFound 请求的 cpId 没有已保存的快照
var ErrNotFound = errors.New("store: snapshot not found")

// Store 快照仓储。实现必须可被多个会话驱动协程并发调用。
type Store interface {
	Save(ctx context.Context, snap session.Snapshot) error
	Load(ctx context.Context, cpID string) (session.Snapshot, error)
	LoadAll(ctx context.Context) ([]session.Snapshot, error)
	Delete(ctx context.Context, cpID string) error
	Close() error
}

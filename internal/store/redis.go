package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// RedisConfig Redis 后端连接参数
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix 快照键前缀，缺省 evsim
	KeyPrefix string
}

// Redis 基于 Redis 的快照仓储。每个会话一个 JSON 键，
// 外加一个集合索引支撑 LoadAll。
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis 创建 Redis 仓储并探活
func NewRedis(cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis ping failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "evsim"
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) key(cpID string) string {
	return r.prefix + ":session:" + cpID
}

func (r *Redis) indexKey() string {
	return r.prefix + ":sessions"
}

func (r *Redis) Save(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key(snap.CPID), data, 0)
	pipe.SAdd(ctx, r.indexKey(), snap.CPID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Load(ctx context.Context, cpID string) (session.Snapshot, error) {
	data, err := r.rdb.Get(ctx, r.key(cpID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("store: unmarshal snapshot %s: %w", cpID, err)
	}
	return snap, nil
}

func (r *Redis) LoadAll(ctx context.Context) ([]session.Snapshot, error) {
	ids, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]session.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := r.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// 索引残留，顺手清掉
			_ = r.rdb.SRem(ctx, r.indexKey(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, cpID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.key(cpID))
	pipe.SRem(ctx, r.indexKey(), cpID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Ping 健康检查
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// sessionRecord 快照表模型。快照本体存 JSON 列，表结构不追着快照字段变。
type sessionRecord struct {
	CPID      string `gorm:"column:cp_id;primaryKey;size:64"`
	State     string `gorm:"column:state;size:32;index"`
	Snapshot  []byte `gorm:"column:snapshot;type:jsonb"`
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "cp_sessions" }

// Gorm 基于 Postgres 的快照仓储
type Gorm struct {
	db *gorm.DB
}

// NewGorm 打开连接、建表并返回仓储
func NewGorm(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Save(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	record := sessionRecord{
		CPID:     snap.CPID,
		State:    string(snap.State),
		Snapshot: data,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cp_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "snapshot", "updated_at"}),
		}).
		Create(&record).Error
}

func (g *Gorm) Load(ctx context.Context, cpID string) (session.Snapshot, error) {
	var record sessionRecord
	err := g.db.WithContext(ctx).First(&record, "cp_id = ?", cpID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	return decodeRecord(record)
}

func (g *Gorm) LoadAll(ctx context.Context) ([]session.Snapshot, error) {
	var records []sessionRecord
	if err := g.db.WithContext(ctx).Order("cp_id").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]session.Snapshot, 0, len(records))
	for _, rec := range records {
		snap, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (g *Gorm) Delete(ctx context.Context, cpID string) error {
	return g.db.WithContext(ctx).Delete(&sessionRecord{}, "cp_id = ?", cpID).Error
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeRecord(rec sessionRecord) (session.Snapshot, error) {
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("store: unmarshal snapshot %s: %w", rec.CPID, err)
	}
	return snap, nil
}

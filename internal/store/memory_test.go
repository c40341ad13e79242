package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsim-code/ocpp-simulator/internal/session"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	txID := 42
	snap := session.Snapshot{
		CPID:          "CP-001",
		ConnectorID:   1,
		State:         session.StateCharging,
		TransactionID: &txID,
		TxStart:       time.Now().Add(-time.Minute),
		IdTag:         "TAG-1",
		SoC:           55.5,
		TargetSoC:     100,
		EnergyWh:      1234,
		SavedAt:       time.Now(),
	}
	require.NoError(t, m.Save(ctx, snap))

	got, err := m.Load(ctx, "CP-001")
	require.NoError(t, err)
	assert.Equal(t, snap.CPID, got.CPID)
	assert.Equal(t, snap.State, got.State)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, 42, *got.TransactionID)
}

func TestMemoryLoadMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLoadAllSorted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"CP-003", "CP-001", "CP-002"} {
		require.NoError(t, m.Save(ctx, session.Snapshot{CPID: id, State: session.StateAvailable}))
	}
	all, err := m.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "CP-001", all[0].CPID)
	assert.Equal(t, "CP-003", all[2].CPID)
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, session.Snapshot{CPID: "CP-001"}))
	require.NoError(t, m.Delete(ctx, "CP-001"))
	require.NoError(t, m.Delete(ctx, "CP-001"))
	_, err := m.Load(ctx, "CP-001")
	assert.ErrorIs(t, err, ErrNotFound)
}

// 三个后端都要满足同一接口
var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
	_ Store = (*Gorm)(nil)
)

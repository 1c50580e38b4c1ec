package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/codemode/config"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := config.AuditConfig{
		Enabled: true,
		Driver:  "sqlite",
		DSN:     ":memory:",
	}
	store, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(outcome string) *Record {
	return &Record{
		ID:         uuid.NewString(),
		CodeHash:   "0beec7b5ea3f0fdbc95d0dd47f3c5bc275da8a33a0b2f2c8e1a2b3c4d5e6f708",
		Outcome:    outcome,
		DurationMS: 12,
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.AuditConfig{Driver: "oracle"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown audit driver")
}

func TestSQLStore_AppendAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord(OutcomeOK)
	require.NoError(t, store.Append(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero(), "Append fills CreatedAt")

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, rec.CodeHash, records[0].CodeHash)
	assert.Equal(t, OutcomeOK, records[0].Outcome)
	assert.EqualValues(t, 12, records[0].DurationMS)
}

func TestSQLStore_RecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := testRecord(OutcomeOK)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		rec.Error = ""
		require.NoError(t, store.Append(ctx, rec))
	}

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		assert.True(t, !records[i].CreatedAt.After(records[i-1].CreatedAt),
			"records must be ordered newest first")
	}
}

func TestSQLStore_RecentLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, testRecord(OutcomeTimeout)))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// A non-positive limit falls back to the default instead of returning
	// nothing.
	records, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestSQLStore_ErrorOutcomesPersisted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord(OutcomeSecurityViolation)
	rec.Error = `security validation failed: [forbidden_construct] call to eval is not allowed`
	require.NoError(t, store.Append(ctx, rec))

	records, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeSecurityViolation, records[0].Outcome)
	assert.Contains(t, records[0].Error, "eval")
}

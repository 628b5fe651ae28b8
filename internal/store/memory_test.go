package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertModels_LeavesExistingSignaturesUntouched(t *testing.T) {
	r := NewMemoryRepository()
	r.PutModel(&Model{ID: "existing-1", ChannelID: "c1", Name: "gpt-4o", LastStatus: true})

	err := r.UpsertModels(context.Background(), "c1", []*Model{
		{Name: "gpt-4o"},
		{Name: "gpt-4o-mini"},
	})
	require.NoError(t, err)

	models, err := r.ListModels(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, models, 2)

	var existing *Model
	for _, m := range models {
		if m.Name == "gpt-4o" {
			existing = m
		}
	}
	require.NotNil(t, existing)
	assert.Equal(t, "existing-1", existing.ID, "the pre-existing row's identity must survive reconciliation")
	assert.True(t, existing.LastStatus, "an untouched row must keep its prior state")
}

func TestDeleteModels_RemovesByID(t *testing.T) {
	r := NewMemoryRepository()
	r.PutModel(&Model{ID: "m1", ChannelID: "c1", Name: "gpt-4o"})
	require.NoError(t, r.DeleteModels(context.Background(), []string{"m1"}))

	_, err := r.GetModel(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetModelState_ClearsDetectionHistory(t *testing.T) {
	r := NewMemoryRepository()
	r.PutModel(&Model{
		ID: "m1", ChannelID: "c1", Name: "gpt-4o",
		LastStatus: true, LastLatencyMs: 99,
		DetectedEndpoints: map[EndpointType]bool{EndpointChat: true},
	})

	require.NoError(t, r.ResetModelState(context.Background(), []string{"m1"}))

	m, err := r.GetModel(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, m.LastStatus)
	assert.Equal(t, int64(0), m.LastLatencyMs)
	assert.Empty(t, m.DetectedEndpoints)
}

func TestDeleteCheckLogsOlderThan_FiltersByCutoff(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.AppendCheckLog(ctx, &CheckLog{ID: "old", ModelID: "m1", CreatedAt: now.AddDate(0, 0, -10)}))
	require.NoError(t, r.AppendCheckLog(ctx, &CheckLog{ID: "recent", ModelID: "m1", CreatedAt: now.AddDate(0, 0, -1)}))

	removed, err := r.DeleteCheckLogsOlderThan(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestListModelsByIDs_PreservesOnlyRequestedExisting(t *testing.T) {
	r := NewMemoryRepository()
	r.PutModel(&Model{ID: "m1", ChannelID: "c1", Name: "a"})
	r.PutModel(&Model{ID: "m2", ChannelID: "c1", Name: "b"})

	models, err := r.ListModelsByIDs(context.Background(), []string{"m1", "missing"})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "m1", models[0].ID)
}

func TestGetChannelKey_NotFound(t *testing.T) {
	r := NewMemoryRepository()
	_, err := r.GetChannelKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetSchedulerConfig_Normalizes(t *testing.T) {
	r := NewMemoryRepository()
	err := r.SaveSchedulerConfig(context.Background(), &SchedulerConfig{ChannelConcurrency: 0, MaxGlobalConcurrency: -1})
	require.NoError(t, err)

	cfg, err := r.GetSchedulerConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ChannelConcurrency)
	assert.Equal(t, 1, cfg.MaxGlobalConcurrency)
}

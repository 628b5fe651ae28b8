package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiyueqingqian/model-check-sub000/internal/probe"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

func TestRecord_UpdatesModelAndAppendsCheckLog(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.PutModel(&store.Model{ID: "m1", ChannelID: "c1", Name: "gpt-4o", DetectedEndpoints: map[store.EndpointType]bool{}})

	r := New(repo)
	checkedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	result := probe.Result{Status: store.StatusSuccess, LatencyMs: 42, Endpoint: strategy.Chat, ResponseContent: "ok"}

	require.NoError(t, r.Record(context.Background(), "m1", result, checkedAt))

	model, err := repo.GetModel(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, model.LastStatus)
	assert.Equal(t, int64(42), model.LastLatencyMs)
	assert.True(t, model.DetectedEndpoints[store.EndpointChat])
	assert.Equal(t, checkedAt, model.LastCheckedAt)
}

func TestRecord_FailureClearsLastStatus(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.PutModel(&store.Model{ID: "m1", ChannelID: "c1", Name: "gpt-4o", DetectedEndpoints: map[store.EndpointType]bool{}})

	r := New(repo)
	result := probe.Result{Status: store.StatusFail, Endpoint: strategy.Chat, ErrorMsg: "timeout"}
	require.NoError(t, r.Record(context.Background(), "m1", result, time.Now()))

	model, err := repo.GetModel(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, model.LastStatus)
}

func TestRecord_TruncatesOverlongFields(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.PutModel(&store.Model{ID: "m1", ChannelID: "c1", Name: "gpt-4o", DetectedEndpoints: map[store.EndpointType]bool{}})

	r := New(repo)
	long := make([]byte, store.MaxLogFieldLen+100)
	for i := range long {
		long[i] = 'x'
	}
	result := probe.Result{Status: store.StatusSuccess, Endpoint: strategy.Chat, ResponseContent: string(long)}
	require.NoError(t, r.Record(context.Background(), "m1", result, time.Now()))
}

func TestRecord_UnknownModelReturnsError(t *testing.T) {
	repo := store.NewMemoryRepository()
	r := New(repo)
	err := r.Record(context.Background(), "missing", probe.Result{Status: store.StatusSuccess, Endpoint: strategy.Chat}, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

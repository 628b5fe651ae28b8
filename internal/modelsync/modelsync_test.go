package modelsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiyueqingqian/model-check-sub000/internal/apierr"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
)

func TestSyncChannel_DiscoverModeSingleKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-3.5-turbo"}]}`))
	}))
	defer srv.Close()

	repo := store.NewMemoryRepository()
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: srv.URL, APIKey: "k1", KeyMode: store.KeyModeSingle})

	p := New(repo, srv.Client())
	result, err := p.SyncChannel(context.Background(), "c1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, 2, result.Total)

	models, err := repo.ListModels(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, models, 2)
}

func TestSyncChannel_ReconcileRemovesStaleAndKeepsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
	}))
	defer srv.Close()

	repo := store.NewMemoryRepository()
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: srv.URL, APIKey: "k1", KeyMode: store.KeyModeSingle})
	repo.PutModel(&store.Model{ID: "existing-1", ChannelID: "c1", Name: "gpt-4o"})
	repo.PutModel(&store.Model{ID: "stale-1", ChannelID: "c1", Name: "obsolete-model"})

	p := New(repo, srv.Client())
	result, err := p.SyncChannel(context.Background(), "c1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added, "an already-present signature must not be re-inserted")
	assert.Equal(t, 1, result.Removed)

	_, err = repo.GetModel(context.Background(), "existing-1")
	assert.NoError(t, err, "the surviving model row must be untouched, not replaced")
	_, err = repo.GetModel(context.Background(), "stale-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncChannel_KeywordFilterNarrowsDiscoveredModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"claude-3-5-sonnet"}]}`))
	}))
	defer srv.Close()

	repo := store.NewMemoryRepository()
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: srv.URL, APIKey: "k1", KeyMode: store.KeyModeSingle})
	repo.PutKeyword(&store.ModelKeyword{ID: "kw1", Keyword: "claude", Enabled: true})

	p := New(repo, srv.Client())
	result, err := p.SyncChannel(context.Background(), "c1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	models, err := repo.ListModels(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "claude-3-5-sonnet", models[0].Name)
}

func TestSyncChannel_UserSelectedModeSkipsDiscovery(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: "https://unreachable.invalid", APIKey: "k1", KeyMode: store.KeyModeSingle})

	p := New(repo, nil)
	result, err := p.SyncChannel(context.Background(), "c1", []string{"gpt-4o", "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
}

func TestSyncChannel_DiscoverAllKeysFailReturnsModelFetchFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	repo := store.NewMemoryRepository()
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: srv.URL, APIKey: "k1", KeyMode: store.KeyModeSingle})

	p := New(repo, srv.Client())
	_, err := p.SyncChannel(context.Background(), "c1", nil, nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeModelFetchFailed, apiErr.Code)
}

func TestValidateGuestUpload_NoModelsIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	repo := store.NewMemoryRepository()
	p := New(repo, srv.Client())
	_, err := p.ValidateGuestUpload(context.Background(), srv.URL, "k1")
	assert.Error(t, err)
}

func TestValidateGuestUpload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
	}))
	defer srv.Close()

	repo := store.NewMemoryRepository()
	p := New(repo, srv.Client())
	names, err := p.ValidateGuestUpload(context.Background(), srv.URL, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o"}, names)
}

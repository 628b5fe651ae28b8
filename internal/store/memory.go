package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used by tests and by the
// standalone (Redis-unavailable) bootstrap mode
// fallback. It implements the full Repository contract with the same
// per-row locking discipline as the Postgres adapter.
type MemoryRepository struct {
	mu         sync.RWMutex
	channels   map[string]*Channel
	keys       map[string]*ChannelKey
	keysByChan map[string][]string
	models     map[string]*Model
	logs       []*CheckLog
	schedCfg   *SchedulerConfig
	keywords   map[string]*ModelKeyword
}

// NewMemoryRepository seeds an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		channels:   make(map[string]*Channel),
		keys:       make(map[string]*ChannelKey),
		keysByChan: make(map[string][]string),
		models:     make(map[string]*Model),
		keywords:   make(map[string]*ModelKeyword),
	}
}

// PutChannel is a test helper to seed a channel.
func (r *MemoryRepository) PutChannel(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.channels[c.ID] = &cp
}

// PutChannelKey is a test helper to seed a channel key.
func (r *MemoryRepository) PutChannelKey(k *ChannelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *k
	r.keys[k.ID] = &cp
	r.keysByChan[k.ChannelID] = append(r.keysByChan[k.ChannelID], k.ID)
}

// PutModel is a test helper to seed a model.
func (r *MemoryRepository) PutModel(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	cp.DetectedEndpoints = cloneEndpointSet(m.DetectedEndpoints)
	r.models[m.ID] = &cp
}

func cloneEndpointSet(src map[EndpointType]bool) map[EndpointType]bool {
	dst := make(map[EndpointType]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (r *MemoryRepository) GetChannel(_ context.Context, channelID string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) ListEnabledChannels(_ context.Context) ([]*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		if c.Enabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (r *MemoryRepository) ListChannelKeys(_ context.Context, channelID string) ([]*ChannelKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.keysByChan[channelID]
	out := make([]*ChannelKey, 0, len(ids))
	for _, id := range ids {
		if k, ok := r.keys[id]; ok {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetChannelKey(_ context.Context, channelKeyID string) (*ChannelKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[channelKeyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *MemoryRepository) GetModel(_ context.Context, modelID string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[modelID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.DetectedEndpoints = cloneEndpointSet(m.DetectedEndpoints)
	return &cp, nil
}

func (r *MemoryRepository) ListModels(_ context.Context, channelID string) ([]*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0)
	for _, m := range r.models {
		if m.ChannelID == channelID {
			cp := *m
			cp.DetectedEndpoints = cloneEndpointSet(m.DetectedEndpoints)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListModelsByIDs(_ context.Context, modelIDs []string) ([]*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		if m, ok := r.models[id]; ok {
			cp := *m
			cp.DetectedEndpoints = cloneEndpointSet(m.DetectedEndpoints)
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpsertModels reconciles the channel's model set by Signature: models whose
// signature already exists are left untouched, new signatures are inserted.
func (r *MemoryRepository) UpsertModels(_ context.Context, channelID string, models []*Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existingBySig := make(map[string]string)
	for id, m := range r.models {
		if m.ChannelID == channelID {
			existingBySig[m.Signature()] = id
		}
	}

	for _, m := range models {
		sig := m.Signature()
		if _, ok := existingBySig[sig]; ok {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		cp := *m
		cp.ChannelID = channelID
		if cp.DetectedEndpoints == nil {
			cp.DetectedEndpoints = make(map[EndpointType]bool)
		}
		r.models[cp.ID] = &cp
	}
	return nil
}

func (r *MemoryRepository) DeleteModels(_ context.Context, modelIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range modelIDs {
		delete(r.models, id)
	}
	return nil
}

func (r *MemoryRepository) ResetModelState(_ context.Context, modelIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range modelIDs {
		if m, ok := r.models[id]; ok {
			m.DetectedEndpoints = make(map[EndpointType]bool)
			m.LastStatus = false
			m.LastLatencyMs = 0
			m.LastCheckedAt = time.Time{}
		}
	}
	return nil
}

// RecordCheckOutcome applies the set-insert/set-remove endpoint merge under
// the repository's single mutex, which plays the role of the per-row lock a
// real RDBMS transaction would take.
func (r *MemoryRepository) RecordCheckOutcome(_ context.Context, modelID string, endpoint EndpointType, success bool, latencyMs int64, _ *int, _, _ string, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[modelID]
	if !ok {
		return ErrNotFound
	}
	if m.DetectedEndpoints == nil {
		m.DetectedEndpoints = make(map[EndpointType]bool)
	}
	if success {
		m.DetectedEndpoints[endpoint] = true
	} else {
		delete(m.DetectedEndpoints, endpoint)
	}
	m.LastStatus = len(m.DetectedEndpoints) > 0
	m.LastLatencyMs = latencyMs
	m.LastCheckedAt = checkedAt
	return nil
}

func (r *MemoryRepository) AppendCheckLog(_ context.Context, log *CheckLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	cp := *log
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *MemoryRepository) DeleteCheckLogsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.logs[:0]
	var removed int64
	for _, l := range r.logs {
		if l.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	r.logs = kept
	return removed, nil
}

func (r *MemoryRepository) GetSchedulerConfig(_ context.Context) (*SchedulerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.schedCfg == nil {
		return nil, ErrNotFound
	}
	cp := *r.schedCfg
	return &cp, nil
}

func (r *MemoryRepository) SaveSchedulerConfig(_ context.Context, cfg *SchedulerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cfg
	cp.Normalize()
	r.schedCfg = &cp
	return nil
}

func (r *MemoryRepository) ListEnabledKeywords(_ context.Context) ([]*ModelKeyword, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ModelKeyword, 0, len(r.keywords))
	for _, k := range r.keywords {
		if k.Enabled {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PutKeyword is a test helper.
func (r *MemoryRepository) PutKeyword(k *ModelKeyword) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *k
	r.keywords[k.ID] = &cp
}

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Repository lookups that miss.
var ErrNotFound = errors.New("store: not found")

// Repository is the external-collaborator contract the detection core needs
// from the relational store. It is intentionally narrow:
// the core never reaches for SQL directly, only these operations.
type Repository interface {
	// Channels
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
	ListEnabledChannels(ctx context.Context) ([]*Channel, error)
	ListChannelKeys(ctx context.Context, channelID string) ([]*ChannelKey, error)
	GetChannelKey(ctx context.Context, channelKeyID string) (*ChannelKey, error)

	// Models
	GetModel(ctx context.Context, modelID string) (*Model, error)
	ListModels(ctx context.Context, channelID string) ([]*Model, error)
	ListModelsByIDs(ctx context.Context, modelIDs []string) ([]*Model, error)
	UpsertModels(ctx context.Context, channelID string, models []*Model) error
	DeleteModels(ctx context.Context, modelIDs []string) error
	ResetModelState(ctx context.Context, modelIDs []string) error

	// State recording (C5) — must be safe under concurrent endpoint probes
	// for the same model.
	RecordCheckOutcome(ctx context.Context, modelID string, endpoint EndpointType, success bool, latencyMs int64, statusCode *int, responseContent, errorMsg string, checkedAt time.Time) error

	// Logs
	AppendCheckLog(ctx context.Context, log *CheckLog) error
	DeleteCheckLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Scheduler config
	GetSchedulerConfig(ctx context.Context) (*SchedulerConfig, error)
	SaveSchedulerConfig(ctx context.Context, cfg *SchedulerConfig) error

	// Keywords
	ListEnabledKeywords(ctx context.Context) ([]*ModelKeyword, error)
}

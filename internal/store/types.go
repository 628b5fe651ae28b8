// Package store defines the persisted data model for the detection engine
// and the repository contract the core depends on. The
// persistence layer itself is an external collaborator: this package ships
// one concrete Postgres adapter and one in-memory adapter used by tests.
package store

import "time"

// KeyMode controls how a channel's models are keyed.
type KeyMode string

const (
	KeyModeSingle KeyMode = "single"
	KeyModeMulti  KeyMode = "multi"
)

// RouteStrategy controls how a multi-key channel picks a key for a given
// request. The probe dispatcher assigns a fixed key per model at enqueue
// time; true per-request rotation belongs to the downstream reverse-proxy
// data path, out of scope here.
type RouteStrategy string

const (
	RouteRoundRobin RouteStrategy = "round_robin"
	RouteRandom     RouteStrategy = "random"
)

// KeyValidity is the tri-state validation flag on a ChannelKey.
type KeyValidity string

const (
	KeyValidityUnknown KeyValidity = "unknown"
	KeyValidityValid   KeyValidity = "valid"
	KeyValidityInvalid KeyValidity = "invalid"
)

// EndpointType is the probe protocol family.
type EndpointType string

const (
	EndpointChat   EndpointType = "CHAT"
	EndpointClaude EndpointType = "CLAUDE"
	EndpointGemini EndpointType = "GEMINI"
	EndpointCodex  EndpointType = "CODEX"
	EndpointImage  EndpointType = "IMAGE"
)

// CheckStatus is the outcome of a single probe.
type CheckStatus string

const (
	StatusSuccess CheckStatus = "SUCCESS"
	StatusFail    CheckStatus = "FAIL"
)

// Channel is an upstream provider configuration.
type Channel struct {
	ID             string
	Name           string
	BaseURL        string
	APIKey         string
	ProxyURL       string
	Enabled        bool
	SortOrder      int
	KeyMode        KeyMode
	RouteStrategy  RouteStrategy
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChannelKey is an extra API key bound to a channel.
type ChannelKey struct {
	ID          string
	ChannelID   string
	APIKey      string
	DisplayName string
	Validity    KeyValidity
}

// Model is a named model exposed by a channel.
type Model struct {
	ID                string
	ChannelID         string
	Name              string
	ChannelKeyID      *string
	DetectedEndpoints map[EndpointType]bool
	LastStatus        bool
	LastLatencyMs     int64
	LastCheckedAt     time.Time
}

// Signature returns the identity used for reconciliation under multi-key
// channels: modelName NUL keyId-or-"__main__".
func (m *Model) Signature() string {
	return Signature(m.Name, m.ChannelKeyID)
}

// Signature computes the reconciliation identity for a (modelName, keyID) pair.
func Signature(modelName string, channelKeyID *string) string {
	key := "__main__"
	if channelKeyID != nil && *channelKeyID != "" {
		key = *channelKeyID
	}
	return modelName + "\x00" + key
}

// CheckLog is an append-only probe history row.
type CheckLog struct {
	ID              string
	ModelID         string
	EndpointType    EndpointType
	Status          CheckStatus
	LatencyMs       int64
	StatusCode      *int
	ResponseContent string
	ErrorMsg        string
	CreatedAt       time.Time
}

// MaxLogFieldLen is the truncation limit for ResponseContent/ErrorMsg.
const MaxLogFieldLen = 500

// SchedulerConfig is the singleton row (id="default") driving C4/C9.
type SchedulerConfig struct {
	Enabled              bool
	CronSchedule         string
	Timezone             string
	ChannelConcurrency   int
	MaxGlobalConcurrency int
	MinDelayMs           int
	MaxDelayMs           int
	DetectAllChannels    bool
	SelectedChannelIDs   []string            // nil means "not restricted"
	SelectedModelIDs     map[string][]string // channelID -> modelIDs, nil means "not restricted"
}

// DefaultSchedulerConfigID is the singleton row identifier.
const DefaultSchedulerConfigID = "default"

// ModelKeyword is a case-insensitive substring filter applied during sync.
type ModelKeyword struct {
	ID      string
	Keyword string
	Enabled bool
}

// Normalize clamps SchedulerConfig fields to their documented minimums.
func (c *SchedulerConfig) Normalize() {
	if c.ChannelConcurrency < 1 {
		c.ChannelConcurrency = 1
	}
	if c.MaxGlobalConcurrency < 1 {
		c.MaxGlobalConcurrency = 1
	}
	if c.MinDelayMs < 0 {
		c.MinDelayMs = 0
	}
	if c.MaxDelayMs < c.MinDelayMs {
		c.MaxDelayMs = c.MinDelayMs
	}
}

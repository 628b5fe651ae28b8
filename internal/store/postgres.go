package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository on top of a pgx connection pool.
// The schema is intentionally simple: one table per entity plus a side
// table for detected endpoints, chosen over a JSON column for safer
// concurrent read-modify-write updates on a set-valued field.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a pool against connString and verifies
// connectivity with a ping, matching control_plane/store/postgres.go's
// startup behavior.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PostgresRepository) Close() {
	p.pool.Close()
}

func (p *PostgresRepository) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	const q = `SELECT id, name, base_url, api_key, proxy_url, enabled, sort_order, key_mode, route_strategy, created_at, updated_at
	           FROM channels WHERE id = $1`
	var c Channel
	err := p.pool.QueryRow(ctx, q, channelID).Scan(
		&c.ID, &c.Name, &c.BaseURL, &c.APIKey, &c.ProxyURL, &c.Enabled, &c.SortOrder,
		&c.KeyMode, &c.RouteStrategy, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresRepository) ListEnabledChannels(ctx context.Context) ([]*Channel, error) {
	const q = `SELECT id, name, base_url, api_key, proxy_url, enabled, sort_order, key_mode, route_strategy, created_at, updated_at
	           FROM channels WHERE enabled = true ORDER BY sort_order ASC`
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.BaseURL, &c.APIKey, &c.ProxyURL, &c.Enabled, &c.SortOrder,
			&c.KeyMode, &c.RouteStrategy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) ListChannelKeys(ctx context.Context, channelID string) ([]*ChannelKey, error) {
	const q = `SELECT id, channel_id, api_key, display_name, validity FROM channel_keys WHERE channel_id = $1`
	rows, err := p.pool.Query(ctx, q, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ChannelKey
	for rows.Next() {
		var k ChannelKey
		if err := rows.Scan(&k.ID, &k.ChannelID, &k.APIKey, &k.DisplayName, &k.Validity); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) GetChannelKey(ctx context.Context, channelKeyID string) (*ChannelKey, error) {
	const q = `SELECT id, channel_id, api_key, display_name, validity FROM channel_keys WHERE id = $1`
	var k ChannelKey
	err := p.pool.QueryRow(ctx, q, channelKeyID).Scan(&k.ID, &k.ChannelID, &k.APIKey, &k.DisplayName, &k.Validity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (p *PostgresRepository) GetModel(ctx context.Context, modelID string) (*Model, error) {
	const q = `SELECT id, channel_id, name, channel_key_id, last_status, last_latency_ms, last_checked_at FROM models WHERE id = $1`
	m := Model{DetectedEndpoints: make(map[EndpointType]bool)}
	err := p.pool.QueryRow(ctx, q, modelID).Scan(&m.ID, &m.ChannelID, &m.Name, &m.ChannelKeyID, &m.LastStatus, &m.LastLatencyMs, &m.LastCheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadEndpoints(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresRepository) loadEndpoints(ctx context.Context, m *Model) error {
	rows, err := p.pool.Query(ctx, `SELECT endpoint_type FROM model_endpoints WHERE model_id = $1`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var et EndpointType
		if err := rows.Scan(&et); err != nil {
			return err
		}
		m.DetectedEndpoints[et] = true
	}
	return rows.Err()
}

func (p *PostgresRepository) ListModels(ctx context.Context, channelID string) ([]*Model, error) {
	const q = `SELECT id, channel_id, name, channel_key_id, last_status, last_latency_ms, last_checked_at FROM models WHERE channel_id = $1`
	rows, err := p.pool.Query(ctx, q, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Model
	for rows.Next() {
		m := Model{DetectedEndpoints: make(map[EndpointType]bool)}
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Name, &m.ChannelKeyID, &m.LastStatus, &m.LastLatencyMs, &m.LastCheckedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	rows.Close()
	for _, m := range out {
		if err := p.loadEndpoints(ctx, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *PostgresRepository) ListModelsByIDs(ctx context.Context, modelIDs []string) ([]*Model, error) {
	out := make([]*Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		m, err := p.GetModel(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// UpsertModels reconciles models by signature: new
// signatures are inserted, existing rows are left untouched. Both steps run
// in a single transaction to satisfy the "atomic from the caller's view"
// requirement on the surrounding sync pipeline.
func (p *PostgresRepository) UpsertModels(ctx context.Context, channelID string, models []*Model) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT name, channel_key_id FROM models WHERE channel_id = $1`, channelID)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		var keyID *string
		if err := rows.Scan(&name, &keyID); err != nil {
			rows.Close()
			return err
		}
		existing[Signature(name, keyID)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range models {
		if existing[m.Signature()] {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		_, err := tx.Exec(ctx, `INSERT INTO models (id, channel_id, name, channel_key_id, last_status, last_latency_ms, last_checked_at)
		                        VALUES ($1, $2, $3, $4, false, 0, NULL)`, m.ID, channelID, m.Name, m.ChannelKeyID)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresRepository) DeleteModels(ctx context.Context, modelIDs []string) error {
	if len(modelIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM models WHERE id = ANY($1)`, modelIDs)
	return err
}

func (p *PostgresRepository) ResetModelState(ctx context.Context, modelIDs []string) error {
	if len(modelIDs) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE models SET last_status = false, last_latency_ms = 0, last_checked_at = NULL WHERE id = ANY($1)`, modelIDs); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM model_endpoints WHERE model_id = ANY($1)`, modelIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordCheckOutcome takes a row-level lock on the model (SELECT ... FOR
// UPDATE) before mutating the endpoint side table, satisfying the
// concurrency-safety requirement: a naive read-modify-write
// without a lock would lose updates between two endpoint probes completing
// in parallel for the same model.
func (p *PostgresRepository) RecordCheckOutcome(ctx context.Context, modelID string, endpoint EndpointType, success bool, latencyMs int64, _ *int, _, _ string, checkedAt time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM models WHERE id = $1 FOR UPDATE`, modelID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if success {
		_, err = tx.Exec(ctx, `INSERT INTO model_endpoints (model_id, endpoint_type) VALUES ($1, $2)
		                        ON CONFLICT (model_id, endpoint_type) DO NOTHING`, modelID, endpoint)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM model_endpoints WHERE model_id = $1 AND endpoint_type = $2`, modelID, endpoint)
	}
	if err != nil {
		return err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM model_endpoints WHERE model_id = $1`, modelID).Scan(&count); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE models SET last_status = $1, last_latency_ms = $2, last_checked_at = $3 WHERE id = $4`,
		count > 0, latencyMs, checkedAt, modelID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresRepository) AppendCheckLog(ctx context.Context, log *CheckLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO check_logs (id, model_id, endpoint_type, status, latency_ms, status_code, response_content, error_msg, created_at)
	                            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.ModelID, log.EndpointType, log.Status, log.LatencyMs, log.StatusCode,
		truncate(log.ResponseContent, MaxLogFieldLen), truncate(log.ErrorMsg, MaxLogFieldLen), log.CreatedAt)
	return err
}

func (p *PostgresRepository) DeleteCheckLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM check_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresRepository) GetSchedulerConfig(ctx context.Context) (*SchedulerConfig, error) {
	const q = `SELECT enabled, cron_schedule, timezone, channel_concurrency, max_global_concurrency,
	                  min_delay_ms, max_delay_ms, detect_all_channels, selected_channel_ids, selected_model_ids
	           FROM scheduler_config WHERE id = $1`
	var c SchedulerConfig
	var selChannels, selModels []byte
	err := p.pool.QueryRow(ctx, q, DefaultSchedulerConfigID).Scan(
		&c.Enabled, &c.CronSchedule, &c.Timezone, &c.ChannelConcurrency, &c.MaxGlobalConcurrency,
		&c.MinDelayMs, &c.MaxDelayMs, &c.DetectAllChannels, &selChannels, &selModels,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if selChannels != nil {
		if err := json.Unmarshal(selChannels, &c.SelectedChannelIDs); err != nil {
			return nil, err
		}
	}
	if selModels != nil {
		if err := json.Unmarshal(selModels, &c.SelectedModelIDs); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (p *PostgresRepository) SaveSchedulerConfig(ctx context.Context, cfg *SchedulerConfig) error {
	cfg.Normalize()
	selChannels, err := json.Marshal(cfg.SelectedChannelIDs)
	if err != nil {
		return err
	}
	selModels, err := json.Marshal(cfg.SelectedModelIDs)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO scheduler_config
	        (id, enabled, cron_schedule, timezone, channel_concurrency, max_global_concurrency, min_delay_ms, max_delay_ms, detect_all_channels, selected_channel_ids, selected_model_ids)
	        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	        ON CONFLICT (id) DO UPDATE SET
	            enabled = EXCLUDED.enabled, cron_schedule = EXCLUDED.cron_schedule, timezone = EXCLUDED.timezone,
	            channel_concurrency = EXCLUDED.channel_concurrency, max_global_concurrency = EXCLUDED.max_global_concurrency,
	            min_delay_ms = EXCLUDED.min_delay_ms, max_delay_ms = EXCLUDED.max_delay_ms,
	            detect_all_channels = EXCLUDED.detect_all_channels,
	            selected_channel_ids = EXCLUDED.selected_channel_ids, selected_model_ids = EXCLUDED.selected_model_ids`,
		DefaultSchedulerConfigID, cfg.Enabled, cfg.CronSchedule, cfg.Timezone, cfg.ChannelConcurrency,
		cfg.MaxGlobalConcurrency, cfg.MinDelayMs, cfg.MaxDelayMs, cfg.DetectAllChannels, selChannels, selModels)
	return err
}

func (p *PostgresRepository) ListEnabledKeywords(ctx context.Context) ([]*ModelKeyword, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, keyword, enabled FROM model_keywords WHERE enabled = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ModelKeyword
	for rows.Next() {
		var k ModelKeyword
		if err := rows.Scan(&k.ID, &k.Keyword, &k.Enabled); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package recorder implements the State Recorder (C5): it takes one probe
// outcome and persists it by combining the model's live-status update with
// an append to its check-log history.
// Shaped like control_plane/state.go's writer, which pairs a status
// mutation with an audit row under one call.
package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/probe"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
)

var log = logrus.WithField("component", "recorder")

// Recorder persists probe outcomes.
type Recorder struct {
	repo store.Repository
}

// New builds a Recorder backed by repo.
func New(repo store.Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record stores result for modelID in two repository calls: first the
// model's detected endpoints / last-status fields, then an append-only
// check_logs row. The two calls do not share a transaction: if the append
// fails, the status update stays applied. checkedAt is passed in rather than taken
// from time.Now so tests can assert on deterministic timestamps.
func (r *Recorder) Record(ctx context.Context, modelID string, result probe.Result, checkedAt time.Time) error {
	success := result.Status == store.StatusSuccess

	if err := r.repo.RecordCheckOutcome(
		ctx,
		modelID,
		store.EndpointType(result.Endpoint),
		success,
		result.LatencyMs,
		result.StatusCode,
		truncate(result.ResponseContent),
		truncate(result.ErrorMsg),
		checkedAt,
	); err != nil {
		log.WithError(err).WithField("model_id", modelID).Error("record check outcome failed")
		return err
	}

	entry := &store.CheckLog{
		ID:              uuid.NewString(),
		ModelID:         modelID,
		EndpointType:    store.EndpointType(result.Endpoint),
		Status:          result.Status,
		LatencyMs:       result.LatencyMs,
		StatusCode:      result.StatusCode,
		ResponseContent: truncate(result.ResponseContent),
		ErrorMsg:        truncate(result.ErrorMsg),
		CreatedAt:       checkedAt,
	}
	if err := r.repo.AppendCheckLog(ctx, entry); err != nil {
		log.WithError(err).WithField("model_id", modelID).Error("append check log failed")
		return err
	}
	return nil
}

func truncate(s string) string {
	if len(s) > store.MaxLogFieldLen {
		return s[:store.MaxLogFieldLen]
	}
	return s
}

// Package detect implements the Detection Service (C8): the public facade
// composing the Model Sync Pipeline (C7) and the Detection Queue (C4) into
// full, per-channel, per-model, and scheduler-driven "selective" detection
// runs, following control_plane/jobs.go's Dispatcher.Trigger* entrypoint
// shape, adapted from node-heartbeat dispatch to channel/model/endpoint
// job construction.
package detect

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/modelsync"
	"github.com/suiyueqingqian/model-check-sub000/internal/queue"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

var log = logrus.WithField("component", "detect")

// Service is the Detection Service facade.
type Service struct {
	repo  store.Repository
	coord coordination.Store
	queue *queue.Queue
	sync  *modelsync.Pipeline
}

// New builds a Service.
func New(repo store.Repository, coord coordination.Store, q *queue.Queue, sync *modelsync.Pipeline) *Service {
	return &Service{repo: repo, coord: coord, queue: q, sync: sync}
}

func (s *Service) start(ctx context.Context) error {
	if err := s.coord.ClearFlag(ctx, coordination.KeyStopped); err != nil {
		return err
	}
	return nil
}

// Stop sets the stopped-flag and drains the queue.
func (s *Service) Stop(ctx context.Context) (int64, error) {
	if err := s.coord.SetFlag(ctx, coordination.KeyStopped, 0); err != nil {
		return 0, err
	}
	return s.queue.Drain(ctx)
}

// keyForModel resolves the effective API key for a model: its pinned
// ChannelKey if present, else the channel's primary key.
func (s *Service) keyForModel(ctx context.Context, channel *store.Channel, m *store.Model) (string, error) {
	if m.ChannelKeyID == nil || *m.ChannelKeyID == "" {
		return channel.APIKey, nil
	}
	key, err := s.repo.GetChannelKey(ctx, *m.ChannelKeyID)
	if err != nil {
		return "", err
	}
	return key.APIKey, nil
}

// jobsForModels builds one job per (model, endpoint) pair for every model
// in models. Keys are resolved one model at a time through keyForModel;
// a model pinned to a channel key costs one key lookup of its own, and
// lookups are not batched per channel.
func (s *Service) jobsForModels(ctx context.Context, channel *store.Channel, models []*store.Model) ([]queue.Job, error) {
	var jobs []queue.Job
	for _, m := range models {
		apiKey, err := s.keyForModel(ctx, channel, m)
		if err != nil {
			log.WithError(err).WithField("model_id", m.ID).Warn("key resolution failed, skipping model")
			continue
		}
		for _, endpoint := range strategy.Classify(m.Name) {
			jobs = append(jobs, queue.Job{
				ChannelID:    channel.ID,
				ModelID:      m.ID,
				ModelName:    m.Name,
				BaseURL:      channel.BaseURL,
				APIKey:       apiKey,
				Proxy:        channel.ProxyURL,
				EndpointType: endpoint,
			})
		}
	}
	return jobs, nil
}

func (s *Service) resetModels(ctx context.Context, models []*store.Model) error {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	if len(ids) == 0 {
		return nil
	}
	return s.repo.ResetModelState(ctx, ids)
}

// TriggerFullDetection enqueues every enabled channel's models. If
// syncFirst, discover mode runs per channel before enqueuing.
func (s *Service) TriggerFullDetection(ctx context.Context, syncFirst bool) (int, error) {
	if err := s.start(ctx); err != nil {
		return 0, err
	}

	channels, err := s.repo.ListEnabledChannels(ctx)
	if err != nil {
		return 0, err
	}

	var total int
	for _, channel := range channels {
		if syncFirst {
			if _, err := s.sync.SyncChannel(ctx, channel.ID, nil, nil); err != nil {
				log.WithError(err).WithField("channel_id", channel.ID).Warn("pre-detection sync failed")
			}
		}

		models, err := s.repo.ListModels(ctx, channel.ID)
		if err != nil {
			log.WithError(err).WithField("channel_id", channel.ID).Error("list models failed")
			continue
		}
		if err := s.resetModels(ctx, models); err != nil {
			log.WithError(err).WithField("channel_id", channel.ID).Warn("reset model state failed")
		}

		jobs, err := s.jobsForModels(ctx, channel, models)
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			continue
		}
		ids, err := s.queue.EnqueueBulk(ctx, jobs)
		if err != nil {
			return total, err
		}
		total += len(ids)
	}
	return total, nil
}

// TriggerChannelDetection enqueues one channel's models, optionally
// restricted to modelIDs.
func (s *Service) TriggerChannelDetection(ctx context.Context, channelID string, modelIDs []string) (int, error) {
	if err := s.start(ctx); err != nil {
		return 0, err
	}

	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return 0, err
	}

	var models []*store.Model
	if len(modelIDs) > 0 {
		models, err = s.repo.ListModelsByIDs(ctx, modelIDs)
	} else {
		models, err = s.repo.ListModels(ctx, channelID)
	}
	if err != nil {
		return 0, err
	}

	if err := s.resetModels(ctx, models); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Warn("reset model state failed")
	}

	jobs, err := s.jobsForModels(ctx, channel, models)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	ids, err := s.queue.EnqueueBulk(ctx, jobs)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// TriggerModelDetection enqueues all endpoints for one model.
func (s *Service) TriggerModelDetection(ctx context.Context, modelID string) (int, error) {
	if err := s.start(ctx); err != nil {
		return 0, err
	}

	model, err := s.repo.GetModel(ctx, modelID)
	if err != nil {
		return 0, err
	}
	channel, err := s.repo.GetChannel(ctx, model.ChannelID)
	if err != nil {
		return 0, err
	}

	if err := s.resetModels(ctx, []*store.Model{model}); err != nil {
		log.WithError(err).WithField("model_id", modelID).Warn("reset model state failed")
	}

	jobs, err := s.jobsForModels(ctx, channel, []*store.Model{model})
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	ids, err := s.queue.EnqueueBulk(ctx, jobs)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// TriggerSelectiveDetection is the scheduler-driven entrypoint: when
// channelIDs is nil it delegates to TriggerFullDetection; otherwise C7 runs
// for the targeted channels first, then jobs are enqueued for
// modelIDsByChannel (or the channel's full model list when a channel has no
// entry in the map).
func (s *Service) TriggerSelectiveDetection(ctx context.Context, channelIDs []string, modelIDsByChannel map[string][]string) (int, error) {
	if channelIDs == nil {
		return s.TriggerFullDetection(ctx, true)
	}

	if err := s.start(ctx); err != nil {
		return 0, err
	}

	var total int
	for _, channelID := range channelIDs {
		channel, err := s.repo.GetChannel(ctx, channelID)
		if err != nil {
			log.WithError(err).WithField("channel_id", channelID).Error("channel lookup failed")
			continue
		}

		if _, err := s.sync.SyncChannel(ctx, channelID, nil, nil); err != nil {
			log.WithError(err).WithField("channel_id", channelID).Warn("selective-detection sync failed")
		}

		var models []*store.Model
		if ids, ok := modelIDsByChannel[channelID]; ok && len(ids) > 0 {
			models, err = s.repo.ListModelsByIDs(ctx, ids)
		} else {
			models, err = s.repo.ListModels(ctx, channelID)
		}
		if err != nil {
			log.WithError(err).WithField("channel_id", channelID).Error("list models failed")
			continue
		}

		if err := s.resetModels(ctx, models); err != nil {
			log.WithError(err).WithField("channel_id", channelID).Warn("reset model state failed")
		}

		jobs, err := s.jobsForModels(ctx, channel, models)
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			continue
		}
		ids, err := s.queue.EnqueueBulk(ctx, jobs)
		if err != nil {
			return total, err
		}
		total += len(ids)
	}
	return total, nil
}


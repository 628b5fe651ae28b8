package queue

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/gate"
	"github.com/suiyueqingqian/model-check-sub000/internal/observability"
	"github.com/suiyueqingqian/model-check-sub000/internal/probe"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

var log = logrus.WithField("component", "queue")

// configTTL is the hot-reload cache lifetime.
const configTTL = 5 * time.Second

// Config is the hot-reloadable worker tuning (mirrors the relevant
// SchedulerConfig subset).
type Config struct {
	ChannelConcurrency   int
	MaxGlobalConcurrency int
	MinDelayMs           int
	MaxDelayMs           int
}

func normalizeConfig(c Config) Config {
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
	return c
}

// configCache reloads Config from the scheduler-config singleton at most
// every configTTL, coalescing concurrent reloads into one read.
type configCache struct {
	mu        sync.Mutex
	cfg       Config
	expiresAt time.Time
	loading   chan struct{}
	repo      store.Repository
	fallback  Config
}

func newConfigCache(repo store.Repository, fallback Config) *configCache {
	return &configCache{repo: repo, fallback: normalizeConfig(fallback), cfg: normalizeConfig(fallback)}
}

func (c *configCache) get(ctx context.Context) Config {
	c.mu.Lock()
	if time.Now().Before(c.expiresAt) {
		cfg := c.cfg
		c.mu.Unlock()
		return cfg
	}
	if c.loading != nil {
		ch := c.loading
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		cfg := c.cfg
		c.mu.Unlock()
		return cfg
	}
	ch := make(chan struct{})
	c.loading = ch
	c.mu.Unlock()

	cfg := c.reload(ctx)

	c.mu.Lock()
	c.cfg = cfg
	c.expiresAt = time.Now().Add(configTTL)
	c.loading = nil
	c.mu.Unlock()
	close(ch)

	return cfg
}

func (c *configCache) reload(ctx context.Context) Config {
	sc, err := c.repo.GetSchedulerConfig(ctx)
	if err != nil {
		log.WithError(err).Warn("scheduler config unavailable, using cached/env defaults")
		c.mu.Lock()
		cfg := c.cfg
		c.mu.Unlock()
		return cfg
	}
	return normalizeConfig(Config{
		ChannelConcurrency:   sc.ChannelConcurrency,
		MaxGlobalConcurrency: sc.MaxGlobalConcurrency,
		MinDelayMs:           sc.MinDelayMs,
		MaxDelayMs:           sc.MaxDelayMs,
	})
}

// channelLimiters paces outbound probes per channel so concurrent workers
// hitting the same upstream never exceed one probe per the channel's
// configured minimum delay, following
// control_plane/scheduler/limiter.go's per-key token-bucket shape.
type channelLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newChannelLimiters() *channelLimiters {
	return &channelLimiters{limiters: make(map[string]*rate.Limiter)}
}

// wait blocks until channelID's bucket admits one probe, pacing requests to
// at most one per minMs. Burst is fixed at 1, making this a strict
// minimum-spacing gate rather than a bursty allowance.
func (c *channelLimiters) wait(ctx context.Context, channelID string, minMs int) error {
	if minMs <= 0 {
		minMs = 1
	}
	limit := rate.Every(time.Duration(minMs) * time.Millisecond)

	c.mu.Lock()
	l, ok := c.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		c.limiters[channelID] = l
	} else if l.Limit() != limit {
		l.SetLimit(limit)
	}
	c.mu.Unlock()

	return l.Wait(ctx)
}

// Recorder is the subset of the State Recorder the worker pool needs.
type Recorder interface {
	Record(ctx context.Context, modelID string, result probe.Result, checkedAt time.Time) error
}

// Executor is the subset of the Probe Executor the worker pool needs.
type Executor interface {
	Probe(ctx context.Context, job probe.Job) probe.Result
}

// WorkerPool runs a fixed number of concurrent workers against a Queue.
type WorkerPool struct {
	queue       *Queue
	coord       coordination.Store
	gate        *gate.Gate
	executor    Executor
	recorder    Recorder
	cfgCache    *configCache
	limiters    *channelLimiters
	concurrency int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool builds a pool of concurrency workers over q.
func NewWorkerPool(q *Queue, coord coordination.Store, g *gate.Gate, executor Executor, rec Recorder, repo store.Repository, fallback Config, concurrency int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	observability.WorkerPoolSize.Set(float64(concurrency))
	return &WorkerPool{
		queue:       q,
		coord:       coord,
		gate:        g,
		executor:    executor,
		recorder:    rec,
		cfgCache:    newConfigCache(repo, fallback),
		limiters:    newChannelLimiters(),
		concurrency: concurrency,
	}
}

// Start launches the worker goroutines; it returns immediately.
func (p *WorkerPool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.loop(runCtx)
	}
}

// Stop cancels all workers and waits for them to exit.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		_, job, ack, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		success := p.process(ctx, job)
		p.queue.MarkDone(success)
		if ack != nil {
			ack()
		}
	}
}

// process runs steps 2-7 of the per-worker loop and returns
// whether the job's terminal status was SUCCESS.
func (p *WorkerPool) process(ctx context.Context, job Job) bool {
	if p.stopped(ctx) {
		return p.finishStopped(ctx, job)
	}

	cfg := p.cfgCache.get(ctx)
	limits := gate.Limits{MaxGlobalConcurrency: cfg.MaxGlobalConcurrency, ChannelConcurrency: cfg.ChannelConcurrency}
	if err := p.gate.Acquire(ctx, job.ChannelID, limits); err != nil {
		log.WithError(err).WithField("channel_id", job.ChannelID).Error("gate acquire failed")
		return false
	}

	var released bool
	release := func() {
		if released {
			return
		}
		released = true
		if err := p.gate.Release(ctx, job.ChannelID); err != nil {
			log.WithError(err).WithField("channel_id", job.ChannelID).Error("gate release failed")
		}
	}
	defer release()

	if p.stopped(ctx) {
		release()
		return p.finishStopped(ctx, job)
	}

	if err := p.limiters.wait(ctx, job.ChannelID, cfg.MinDelayMs); err != nil {
		release()
		return false
	}
	politenessJitter(ctx, cfg.MaxDelayMs-cfg.MinDelayMs)

	result := p.executor.Probe(ctx, probe.Job{
		ChannelID: job.ChannelID,
		ModelID:   job.ModelID,
		ModelName: job.ModelName,
		BaseURL:   job.BaseURL,
		APIKey:    job.APIKey,
		Proxy:     job.Proxy,
		Endpoint:  job.EndpointType,
	})

	if err := p.recorder.Record(ctx, job.ModelID, result, time.Now()); err != nil {
		log.WithError(err).WithField("model_id", job.ModelID).Error("record check outcome failed")
	}
	p.publish(ctx, job, result)
	recordProbeMetrics(job.EndpointType, result)

	return result.Status == store.StatusSuccess
}

func recordProbeMetrics(endpoint strategy.Endpoint, result probe.Result) {
	status := "fail"
	if result.Status == store.StatusSuccess {
		status = "success"
	}
	observability.ProbeTotal.WithLabelValues(string(endpoint), status).Inc()
	observability.ProbeLatencySeconds.WithLabelValues(string(endpoint), status).Observe(float64(result.LatencyMs) / 1000)
}

func (p *WorkerPool) stopped(ctx context.Context) bool {
	stopped, err := p.coord.IsFlagSet(ctx, coordination.KeyStopped)
	if err != nil {
		log.WithError(err).Warn("stopped-flag check failed, proceeding")
		return false
	}
	return stopped
}

func (p *WorkerPool) finishStopped(ctx context.Context, job Job) bool {
	result := probe.Result{
		Status:   store.StatusFail,
		Endpoint: job.EndpointType,
		ErrorMsg: "Detection stopped by user",
	}
	if err := p.recorder.Record(ctx, job.ModelID, result, time.Now()); err != nil {
		log.WithError(err).WithField("model_id", job.ModelID).Error("record check outcome failed")
	}
	p.publish(ctx, job, result)
	return false
}

// politenessJitter adds up to spreadMs of extra random delay on top of the
// rate-limiter's enforced floor, so probes against the same channel don't
// all land on the same tick.
func politenessJitter(ctx context.Context, spreadMs int) {
	if spreadMs <= 0 {
		return
	}
	d := rand.Intn(spreadMs + 1)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(d) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// progressEvent is the wire shape published to coordination.TopicProgress.
type progressEvent struct {
	ChannelID       string            `json:"channelId"`
	ModelID         string            `json:"modelId"`
	ModelName       string            `json:"modelName"`
	EndpointType    store.EndpointType `json:"endpointType"`
	Status          store.CheckStatus `json:"status"`
	Latency         int64             `json:"latency"`
	Timestamp       int64             `json:"timestamp"`
	IsModelComplete bool              `json:"isModelComplete"`
}

func (p *WorkerPool) publish(ctx context.Context, job Job, result probe.Result) {
	complete, err := p.queue.IsModelComplete(ctx, job.ModelID)
	if err != nil {
		log.WithError(err).Warn("isModelComplete check failed")
	}
	evt := progressEvent{
		ChannelID:       job.ChannelID,
		ModelID:         job.ModelID,
		ModelName:       job.ModelName,
		EndpointType:    store.EndpointType(job.EndpointType),
		Status:          result.Status,
		Latency:         result.LatencyMs,
		Timestamp:       time.Now().UnixMilli(),
		IsModelComplete: complete,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.WithError(err).Error("marshal progress event failed")
		return
	}
	// A publish failure is logged but must never fail the job.
	if err := p.coord.Publish(ctx, coordination.TopicProgress, payload); err != nil {
		log.WithError(err).Warn("publish progress failed")
		observability.PublishFailures.WithLabelValues("coordination_publish").Inc()
	}
}

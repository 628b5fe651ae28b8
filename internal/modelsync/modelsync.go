// Package modelsync implements the Model Sync Pipeline (C7): for a channel,
// fan out GET /v1/models calls over every distinct key, merge the results
// under keyword filters, and reconcile the stored model catalog by
// signature, following the concurrent fan-out idiom in
// control_plane/load_test.go's sync.WaitGroup batch pattern, and
// yszxh-CLIProxyAPI's OpenAI-shape models listing for the upstream response
// contract.
package modelsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/apierr"
	"github.com/suiyueqingqian/model-check-sub000/internal/observability"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

var log = logrus.WithField("component", "modelsync")

// listTimeout bounds one upstream /v1/models call.
const listTimeout = 30 * time.Second

// Result is the outcome of one sync run.
type Result struct {
	Added   int
	Removed int
	Total   int
}

// candidate is one (modelName, channelKeyId) pair discovered or selected for
// reconciliation.
type candidate struct {
	Name         string
	ChannelKeyID *string
}

func (c candidate) signature() string {
	return store.Signature(c.Name, c.ChannelKeyID)
}

// Pipeline runs model sync against a store.Repository.
type Pipeline struct {
	repo   store.Repository
	client *http.Client
}

// New builds a Pipeline. client is used for discover-mode upstream calls;
// a zero value selects http.DefaultClient's transport with listTimeout
// applied per request via context.
func New(repo store.Repository, client *http.Client) *Pipeline {
	if client == nil {
		client = &http.Client{}
	}
	return &Pipeline{repo: repo, client: client}
}

// keySource is one API key available to a channel, alongside the
// ChannelKey ID to pin on discovered models (nil for the channel's primary
// key).
type keySource struct {
	APIKey       string
	ChannelKeyID *string
}

func (p *Pipeline) keySources(ctx context.Context, channel *store.Channel) ([]keySource, error) {
	seen := map[string]bool{channel.APIKey: true}
	sources := []keySource{{APIKey: channel.APIKey, ChannelKeyID: nil}}

	keys, err := p.repo.ListChannelKeys(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if seen[k.APIKey] {
			continue
		}
		seen[k.APIKey] = true
		id := k.ID
		sources = append(sources, keySource{APIKey: k.APIKey, ChannelKeyID: &id})
	}
	return sources, nil
}

// SyncChannel runs the pipeline for one channel. selectedNames/
// selectedPairs non-nil selects user-selected mode; both nil runs discover
// mode.
func (p *Pipeline) SyncChannel(ctx context.Context, channelID string, selectedNames []string, selectedPairs []SelectedPair) (Result, error) {
	channel, err := p.repo.GetChannel(ctx, channelID)
	if err != nil {
		return Result{}, err
	}

	var candidates []candidate
	if selectedNames != nil || selectedPairs != nil {
		candidates = userSelectedCandidates(channel, selectedNames, selectedPairs)
	} else {
		discovered, err := p.discover(ctx, channel)
		if err != nil {
			return Result{}, err
		}
		candidates, err = p.applyKeywordFilters(ctx, discovered)
		if err != nil {
			return Result{}, err
		}
	}

	return p.reconcile(ctx, channel.ID, candidates)
}

// SelectedPair is a (modelName, channelKeyId) pair for multi-key
// user-selected mode.
type SelectedPair struct {
	Name         string
	ChannelKeyID string
}

func userSelectedCandidates(channel *store.Channel, names []string, pairs []SelectedPair) []candidate {
	if channel.KeyMode == store.KeyModeMulti && pairs != nil {
		out := make([]candidate, 0, len(pairs))
		for _, pr := range pairs {
			id := pr.ChannelKeyID
			out = append(out, candidate{Name: pr.Name, ChannelKeyID: &id})
		}
		return out
	}
	out := make([]candidate, 0, len(names))
	for _, n := range names {
		out = append(out, candidate{Name: n})
	}
	return out
}

// discover fans out GET /v1/models over every distinct key for channel.
func (p *Pipeline) discover(ctx context.Context, channel *store.Channel) ([]candidate, error) {
	sources, err := p.keySources(ctx, channel)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		source keySource
		names  []string
		err    error
	}
	outcomes := make([]outcome, len(sources))

	var wg sync.WaitGroup
	wg.Add(len(sources))
	for i, src := range sources {
		go func(i int, src keySource) {
			defer wg.Done()
			names, err := p.listModels(ctx, channel.BaseURL, src.APIKey)
			outcomes[i] = outcome{source: src, names: names, err: err}
		}(i, src)
	}
	wg.Wait()

	var firstErr error
	anySucceeded := false
	for _, o := range outcomes {
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		anySucceeded = true
	}
	if !anySucceeded {
		if firstErr == nil {
			firstErr = fmt.Errorf("no keys configured")
		}
		return nil, &apierr.Error{Code: apierr.CodeModelFetchFailed, Message: firstErr.Error()}
	}

	if channel.KeyMode == store.KeyModeMulti {
		var out []candidate
		for _, o := range outcomes {
			if o.err != nil {
				continue
			}
			for _, name := range o.names {
				id := ""
				if o.source.ChannelKeyID != nil {
					id = *o.source.ChannelKeyID
				}
				var keyID *string
				if id != "" {
					keyID = &id
				}
				out = append(out, candidate{Name: name, ChannelKeyID: keyID})
			}
		}
		return out, nil
	}

	// single mode: first key that reports a model wins, one entry per name.
	seen := make(map[string]bool)
	var out []candidate
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		for _, name := range o.names {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, candidate{Name: name})
		}
	}
	return out, nil
}

// listModels issues one GET /v1/models call and parses the OpenAI-shape
// {data:[{id}]} response.
func (p *Pipeline) listModels(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	url := strategy.NormalizeBaseURL(baseURL) + "/v1/models"

	reqCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.ID != "" {
			names = append(names, d.ID)
		}
	}
	return names, nil
}

// applyKeywordFilters keeps only candidates matching an enabled
// ModelKeyword substring (case-insensitive OR); with no enabled keywords,
// every candidate passes.
func (p *Pipeline) applyKeywordFilters(ctx context.Context, candidates []candidate) ([]candidate, error) {
	keywords, err := p.repo.ListEnabledKeywords(ctx)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return candidates, nil
	}

	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k.Keyword)
	}

	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		lowerName := strings.ToLower(c.Name)
		for _, kw := range lowered {
			if strings.Contains(lowerName, kw) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// reconcile deletes model rows whose signature fell out of target, inserts
// those whose signature is new, and leaves rows with an unchanged signature
// untouched.
func (p *Pipeline) reconcile(ctx context.Context, channelID string, candidates []candidate) (Result, error) {
	existing, err := p.repo.ListModels(ctx, channelID)
	if err != nil {
		return Result{}, err
	}

	target := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		target[c.signature()] = c
	}

	existingBySig := make(map[string]*store.Model, len(existing))
	for _, m := range existing {
		existingBySig[m.Signature()] = m
	}

	var toDelete []string
	for sig, m := range existingBySig {
		if _, ok := target[sig]; !ok {
			toDelete = append(toDelete, m.ID)
		}
	}
	if len(toDelete) > 0 {
		if err := p.repo.DeleteModels(ctx, toDelete); err != nil {
			return Result{}, err
		}
	}

	var toInsert []*store.Model
	sigs := make([]string, 0, len(target))
	for sig := range target {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		if _, ok := existingBySig[sig]; ok {
			continue
		}
		c := target[sig]
		toInsert = append(toInsert, &store.Model{
			ChannelID:         channelID,
			Name:              c.Name,
			ChannelKeyID:      c.ChannelKeyID,
			DetectedEndpoints: make(map[store.EndpointType]bool),
		})
	}
	if len(toInsert) > 0 {
		if err := p.repo.UpsertModels(ctx, channelID, toInsert); err != nil {
			return Result{}, err
		}
	}

	observability.ModelSyncResults.WithLabelValues("added").Add(float64(len(toInsert)))
	observability.ModelSyncResults.WithLabelValues("removed").Add(float64(len(toDelete)))
	return Result{Added: len(toInsert), Removed: len(toDelete), Total: len(target)}, nil
}

// ValidateGuestUpload runs discover mode for an unregistered (baseURL,
// apiKey) pair and returns the discovered model names, or a
// MODEL_FETCH_FAILED error when the listing fails or finds no models.
func (p *Pipeline) ValidateGuestUpload(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	names, err := p.listModels(ctx, baseURL, apiKey)
	if err != nil {
		return nil, &apierr.Error{Code: apierr.CodeModelFetchFailed, Message: err.Error()}
	}
	if len(names) == 0 {
		return nil, &apierr.Error{Code: apierr.CodeModelFetchFailed, Message: "no models discovered at this endpoint"}
	}
	return names, nil
}

// Package probe implements the Probe Executor (C1): it builds the
// endpoint-specific request via internal/strategy, executes it with a hard
// timeout and optional proxy, parses the streamed or JSON response, and
// classifies the outcome, following control_plane/jobs.go's Dispatcher
// shape: build payload, fire HTTP request with a bounded client, translate
// the response into a store update.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/store"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

var log = logrus.WithField("component", "probe")

// Timeout is the hard per-probe deadline.
const Timeout = 30 * time.Second

// maxBodyBytes bounds how much of a response body is read into memory; each
// probe body is expected to be a few KB.
const maxBodyBytes = 2 << 20

// Job is the input to one probe.
type Job struct {
	ChannelID string
	ModelID   string
	ModelName string
	BaseURL   string
	APIKey    string
	Proxy     string
	Endpoint  strategy.Endpoint
}

// Result is the outcome of one probe.
type Result struct {
	Status          store.CheckStatus
	LatencyMs       int64
	StatusCode      *int
	Endpoint        strategy.Endpoint
	ErrorMsg        string
	ResponseContent string
}

// Executor runs probes.
type Executor struct {
	clients      *clientCache
	defaultProxy string
	prompt       string
}

// New builds an Executor. defaultProxy is used when a job carries no
// channel-specific proxy; prompt is the configurable probe text, defaulting
// to strategy.DefaultPrompt.
func New(defaultProxy, prompt string) *Executor {
	return &Executor{clients: newClientCache(), defaultProxy: defaultProxy, prompt: prompt}
}

// Probe executes job and returns its classified outcome. It never returns
// an error: every failure mode is folded into Result, since the probe
// boundary always produces a result record rather than propagating.
func (e *Executor) Probe(ctx context.Context, job Job) Result {
	start := time.Now()

	res := e.probeOnce(ctx, job, job.Endpoint, false)

	if job.Endpoint == strategy.Claude && res.Status == store.StatusFail && isNon2xxOrTransport(res.StatusCode) {
		retry := e.probeOnce(ctx, job, job.Endpoint, true)
		if retry.Status == store.StatusSuccess {
			retry.LatencyMs = time.Since(start).Milliseconds()
			return retry
		}
	}

	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

// isNon2xxOrTransport reports whether code represents a transport failure
// (no status code reached) or a non-2xx HTTP response, as opposed to a
// hidden-error body on an otherwise successful 2xx response.
func isNon2xxOrTransport(code *int) bool {
	return code == nil || *code < 200 || *code >= 300
}

func (e *Executor) probeOnce(ctx context.Context, job Job, endpoint strategy.Endpoint, thinking bool) Result {
	result := Result{Endpoint: endpoint}

	proxyURL := job.Proxy
	if proxyURL == "" {
		proxyURL = e.defaultProxy
	}
	client, err := e.clients.get(proxyURL)
	if err != nil {
		result.Status = store.StatusFail
		result.ErrorMsg = "invalid proxy configuration: " + err.Error()
		return result
	}

	req := strategy.BuildRequest(endpoint, strategy.TemplateParams{
		BaseURL:   job.BaseURL,
		APIKey:    job.APIKey,
		ModelName: job.ModelName,
		Prompt:    e.prompt,
		Thinking:  thinking,
	})

	probeCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		result.Status = store.StatusFail
		result.ErrorMsg = err.Error()
		return result
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		result.Status = store.StatusFail
		if probeCtx.Err() != nil {
			result.ErrorMsg = fmt.Sprintf("Timeout after %dms", Timeout.Milliseconds())
		} else {
			result.ErrorMsg = err.Error()
		}
		return result
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	result.StatusCode = &code

	if code < 200 || code >= 300 {
		body, _ := readLimited(resp.Body, maxBodyBytes)
		result.Status = store.StatusFail
		result.ErrorMsg = fmt.Sprintf("HTTP %d %s", code, truncateContent(string(body)))
		return result
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return e.finishFromStream(resp.Body, endpoint, result)
	}
	return e.finishFromJSON(resp.Body, endpoint, result)
}

func (e *Executor) finishFromStream(body io.Reader, endpoint strategy.Endpoint, result Result) Result {
	stream := parseStream(endpoint, body)

	if stream.LastJSON != nil {
		if msg, ok := hiddenError(stream.LastJSON); ok {
			result.Status = store.StatusFail
			result.ErrorMsg = msg
			return result
		}
	}

	if !stream.SawAnyEvent {
		// ParsingError: the HTTP layer succeeded but nothing
		// parseable arrived; outcome stays SUCCESS without response content.
		result.Status = store.StatusSuccess
		log.WithField("endpoint", endpoint).Debug("stream produced no parseable events")
		return result
	}

	result.Status = store.StatusSuccess
	result.ResponseContent = truncateContent(stream.Text)
	return result
}

func (e *Executor) finishFromJSON(body io.Reader, endpoint strategy.Endpoint, result Result) Result {
	raw, err := readLimited(body, maxBodyBytes)
	if err != nil {
		result.Status = store.StatusSuccess
		return result
	}

	obj, err := decodeJSONObject(raw)
	if err != nil {
		// ParsingError: HTTP succeeded, body unparseable; keep SUCCESS
		// without responseContent.
		result.Status = store.StatusSuccess
		return result
	}

	if msg, ok := hiddenError(obj); ok {
		result.Status = store.StatusFail
		result.ErrorMsg = msg
		return result
	}

	result.Status = store.StatusSuccess
	result.ResponseContent = truncateContent(extractJSON(endpoint, obj))
	return result
}

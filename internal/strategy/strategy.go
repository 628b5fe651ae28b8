// Package strategy implements the Endpoint Strategy (C2): classifying a
// model name into the endpoint variants it should be probed on, and
// building the request template for each variant. The per-family request
// shapes are grounded on yszxh-CLIProxyAPI's internal/translator/* family
// split (chat-completions, Claude messages, Gemini generateContent,
// Responses-API) — reimplemented here against this module's own domain
// types rather than imported, since CLIProxyAPI builds *proxy* translations
// between client and upstream wire formats, while this package only needs
// to originate one synthetic probe request per family.
package strategy

import (
	"regexp"
	"strings"
)

// Endpoint is the probe protocol family.
type Endpoint string

const (
	Chat   Endpoint = "CHAT"
	Claude Endpoint = "CLAUDE"
	Gemini Endpoint = "GEMINI"
	Codex  Endpoint = "CODEX"
	Image  Endpoint = "IMAGE"
)

var imagePattern = regexp.MustCompile(`dall-e|dalle|image|midjourney|stable-diffusion|sd-|sdxl|flux|ideogram|playground`)
var codexModelPattern = regexp.MustCompile(`gpt-5\.[123]`)

// DefaultPrompt is the probe prompt text used when none is configured.
const DefaultPrompt = "1+1=2? yes or no"

// Classify maps a model name to the endpoint variants it should be probed
// on. The returned slice is never empty.
func Classify(modelName string) []Endpoint {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "codex") {
		return []Endpoint{Codex}
	}
	if imagePattern.MatchString(lower) {
		return []Endpoint{Image}
	}

	endpoints := []Endpoint{Chat}
	switch {
	case strings.Contains(lower, "claude"):
		endpoints = append(endpoints, Claude)
	case strings.Contains(lower, "gemini"):
		endpoints = append(endpoints, Gemini)
	case codexModelPattern.MatchString(lower):
		endpoints = append(endpoints, Codex)
	}
	return endpoints
}

// NormalizeBaseURL strips a trailing slash and, if present, a trailing
// "/v1" suffix.
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	return baseURL
}

// Request is the fully-built HTTP request template for one probe.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Stream  bool
}

// TemplateParams carries the inputs needed to build a Request.
type TemplateParams struct {
	BaseURL   string
	APIKey    string
	ModelName string
	Prompt    string
	// Thinking selects the Claude-with-thinking retry template.
	Thinking bool
}

// BuildRequest constructs the request template for one endpoint variant.
func BuildRequest(endpoint Endpoint, p TemplateParams) Request {
	base := NormalizeBaseURL(p.BaseURL)
	prompt := p.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	switch endpoint {
	case Chat:
		return Request{
			Method: "POST",
			URL:    base + "/v1/chat/completions",
			Headers: map[string]string{
				"Authorization": "Bearer " + p.APIKey,
				"Content-Type":  "application/json",
			},
			Body:   chatBody(p.ModelName, prompt, 50),
			Stream: true,
		}
	case Claude:
		maxTokens := 50
		if p.Thinking {
			maxTokens = 2048
		}
		return Request{
			Method: "POST",
			URL:    base + "/v1/messages",
			Headers: map[string]string{
				"x-api-key":         p.APIKey,
				"anthropic-version": "2023-06-01",
				"Content-Type":      "application/json",
			},
			Body:   claudeBody(p.ModelName, prompt, maxTokens, p.Thinking),
			Stream: true,
		}
	case Gemini:
		return Request{
			Method: "POST",
			URL:    base + "/v1beta/models/" + p.ModelName + ":generateContent?key=" + p.APIKey,
			Headers: map[string]string{
				"x-goog-api-key": p.APIKey,
				"Content-Type":   "application/json",
			},
			Body:   geminiBody(prompt),
			Stream: false,
		}
	case Codex:
		return Request{
			Method: "POST",
			URL:    base + "/v1/responses",
			Headers: map[string]string{
				"Authorization": "Bearer " + p.APIKey,
				"Content-Type":  "application/json",
			},
			Body:   codexBody(p.ModelName, prompt),
			Stream: true,
		}
	case Image:
		return Request{
			Method: "POST",
			URL:    base + "/v1/images/generations",
			Headers: map[string]string{
				"Authorization": "Bearer " + p.APIKey,
				"Content-Type":  "application/json",
			},
			Body:   imageBody(p.ModelName),
			Stream: false,
		}
	}
	return Request{}
}

package probe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

// maxResponseContent is the truncation limit applied to extracted response
// text.
const maxResponseContent = 500

// hiddenError inspects a 2xx JSON body for one of the error shapes checked
// below and returns the extracted message when present.
func hiddenError(body map[string]interface{}) (string, bool) {
	if errVal, ok := body["error"]; ok {
		switch e := errVal.(type) {
		case string:
			if e != "" {
				return e, true
			}
		case map[string]interface{}:
			if msg, ok := e["message"].(string); ok {
				return msg, true
			}
		}
	}

	if success, ok := body["success"].(bool); ok && !success {
		if msg, ok := body["message"].(string); ok {
			return msg, true
		}
	}

	if codeVal, ok := body["code"]; ok {
		if code, ok := toNonZeroNumber(codeVal); ok {
			if msg, ok := body["message"].(string); ok {
				return fmt.Sprintf("[%v] %s", code, msg), true
			}
		}
	}

	if status, ok := body["status"].(string); ok {
		switch status {
		case "error", "fail", "failed":
			return "status: " + status, true
		}
	}

	return "", false
}

func toNonZeroNumber(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	if !ok || f == 0 {
		return 0, false
	}
	return f, true
}

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
var thinkTrailingPattern = regexp.MustCompile(`(?s)<think>.*$`)

// stripThink removes <think>...</think> blocks, including an unclosed
// trailing <think>; if stripping leaves the empty string, the original text
// is kept.
func stripThink(text string) string {
	stripped := thinkBlockPattern.ReplaceAllString(text, "")
	stripped = thinkTrailingPattern.ReplaceAllString(stripped, "")
	if strings.TrimSpace(stripped) == "" {
		return text
	}
	return stripped
}

func truncateContent(s string) string {
	s = stripThink(s)
	if len(s) > maxResponseContent {
		return s[:maxResponseContent]
	}
	return s
}

// extractJSON pulls the family-specific response text out of a fully
// buffered JSON body.
func extractJSON(endpoint strategy.Endpoint, body map[string]interface{}) string {
	switch endpoint {
	case strategy.Chat:
		return extractChatJSON(body)
	case strategy.Claude:
		return extractClaudeJSON(body)
	case strategy.Gemini:
		return extractGeminiJSON(body)
	case strategy.Codex:
		return extractCodexJSON(body)
	case strategy.Image:
		return extractImageJSON(body)
	}
	return ""
}

func firstChoice(body map[string]interface{}) map[string]interface{} {
	choices, _ := body["choices"].([]interface{})
	if len(choices) == 0 {
		return nil
	}
	c, _ := choices[0].(map[string]interface{})
	return c
}

func extractChatJSON(body map[string]interface{}) string {
	choice := firstChoice(body)
	if choice == nil {
		return ""
	}
	if msg, ok := choice["message"].(map[string]interface{}); ok {
		if s, ok := msg["content"].(string); ok && s != "" {
			return s
		}
		if s, ok := msg["reasoning_content"].(string); ok && s != "" {
			return s
		}
		if s, ok := msg["refusal"].(string); ok && s != "" {
			return s
		}
	}
	if delta, ok := choice["delta"].(map[string]interface{}); ok {
		if s, ok := delta["content"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := choice["text"].(string); ok {
		return s
	}
	return ""
}

func extractClaudeJSON(body map[string]interface{}) string {
	blocks, _ := body["content"].([]interface{})
	for _, b := range blocks {
		block, _ := b.(map[string]interface{})
		if block == nil {
			continue
		}
		if t, _ := block["type"].(string); t == "text" {
			if s, ok := block["text"].(string); ok {
				return s
			}
		}
	}
	if len(blocks) > 0 {
		if block, ok := blocks[0].(map[string]interface{}); ok {
			if s, ok := block["text"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractGeminiJSON(body map[string]interface{}) string {
	candidates, _ := body["candidates"].([]interface{})
	if len(candidates) == 0 {
		return ""
	}
	cand, _ := candidates[0].(map[string]interface{})
	content, _ := cand["content"].(map[string]interface{})
	parts, _ := content["parts"].([]interface{})

	var fallback string
	for _, p := range parts {
		part, _ := p.(map[string]interface{})
		if part == nil {
			continue
		}
		text, _ := part["text"].(string)
		if thought, _ := part["thought"].(bool); !thought {
			if text != "" {
				return text
			}
		} else if fallback == "" {
			fallback = text
		}
	}
	return fallback
}

func extractCodexJSON(body map[string]interface{}) string {
	outputs, _ := body["output"].([]interface{})
	for _, o := range outputs {
		item, _ := o.(map[string]interface{})
		if item == nil {
			continue
		}
		contents, _ := item["content"].([]interface{})
		for _, c := range contents {
			block, _ := c.(map[string]interface{})
			if block == nil {
				continue
			}
			if t, _ := block["type"].(string); t == "output_text" {
				if s, ok := block["text"].(string); ok {
					return s
				}
			}
		}
	}
	for _, o := range outputs {
		item, _ := o.(map[string]interface{})
		if item == nil {
			continue
		}
		if s, ok := item["text"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func extractImageJSON(body map[string]interface{}) string {
	data, _ := body["data"].([]interface{})
	if len(data) == 0 {
		return "[Image generated with prompt: A simple red circle on white background]"
	}
	first, _ := data[0].(map[string]interface{})
	if url, ok := first["url"].(string); ok && url != "" {
		return "[Image URL: " + url + "]"
	}
	if b64, ok := first["b64_json"].(string); ok && b64 != "" {
		return fmt.Sprintf("[Image generated: base64 data, %d chars]", len(b64))
	}
	return "[Image generated with prompt: A simple red circle on white background]"
}

// streamResult is the reassembled output of parsing an SSE body.
type streamResult struct {
	Text        string
	LastJSON    map[string]interface{}
	SawAnyEvent bool
}

// parseStream re-assembles a server-sent-events body per family: CHAT
// concatenates choices[].delta.content, CLAUDE concatenates
// content_block_delta.delta.text, CODEX concatenates
// response.output_text.delta, overridden by response.output_text.done.text
// when seen. The last parseable event is kept for the hidden-error check.
func parseStream(endpoint strategy.Endpoint, r io.Reader) streamResult {
	var text strings.Builder
	var codexDone string
	var result streamResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		if data == "" {
			continue
		}

		var evt map[string]interface{}
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		result.SawAnyEvent = true
		result.LastJSON = evt

		switch endpoint {
		case strategy.Chat:
			choices, _ := evt["choices"].([]interface{})
			for _, c := range choices {
				choice, _ := c.(map[string]interface{})
				if choice == nil {
					continue
				}
				if delta, ok := choice["delta"].(map[string]interface{}); ok {
					if s, ok := delta["content"].(string); ok {
						text.WriteString(s)
					}
				}
			}
		case strategy.Claude:
			if t, _ := evt["type"].(string); t == "content_block_delta" {
				if delta, ok := evt["delta"].(map[string]interface{}); ok {
					if s, ok := delta["text"].(string); ok {
						text.WriteString(s)
					}
				}
			}
		case strategy.Codex:
			t, _ := evt["type"].(string)
			switch t {
			case "response.output_text.delta":
				if s, ok := evt["delta"].(string); ok {
					text.WriteString(s)
				}
			case "response.output_text.done":
				if s, ok := evt["text"].(string); ok {
					codexDone = s
				}
			}
		}
	}

	result.Text = text.String()
	if endpoint == strategy.Codex && codexDone != "" {
		result.Text = codexDone
	}
	return result
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func decodeJSONObject(data []byte) (map[string]interface{}, error) {
	var body map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

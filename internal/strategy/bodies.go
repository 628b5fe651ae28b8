package strategy

import "encoding/json"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
	Messages  []chatMessage `json:"messages"`
}

func chatBody(model, prompt string, maxTokens int) []byte {
	b, _ := json.Marshal(chatRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Stream:    true,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
	return b
}

type claudeThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream"`
	Messages  []chatMessage   `json:"messages"`
	Thinking  *claudeThinking `json:"thinking,omitempty"`
}

func claudeBody(model, prompt string, maxTokens int, thinking bool) []byte {
	req := claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Stream:    true,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	if thinking {
		req.Thinking = &claudeThinking{Type: "enabled", BudgetTokens: 1024}
	}
	b, _ := json.Marshal(req)
	return b
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

func geminiBody(prompt string) []byte {
	b, _ := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: 10},
	})
	return b
}

type codexInputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type codexInputItem struct {
	Role    string           `json:"role"`
	Content []codexInputText `json:"content"`
}

type codexRequest struct {
	Model  string           `json:"model"`
	Input  []codexInputItem `json:"input"`
	Stream bool             `json:"stream"`
}

func codexBody(model, prompt string) []byte {
	b, _ := json.Marshal(codexRequest{
		Model:  model,
		Stream: true,
		Input: []codexInputItem{{
			Role:    "user",
			Content: []codexInputText{{Type: "input_text", Text: prompt}},
		}},
	})
	return b
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

func imageBody(model string) []byte {
	b, _ := json.Marshal(imageRequest{
		Model:          model,
		Prompt:         "A simple red circle on white background",
		N:              1,
		Size:           "256x256",
		ResponseFormat: "url",
	})
	return b
}

package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// chatCompletions is the OpenAI chat completions API, also served by DeepSeek.
type chatCompletions struct {
	base string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

func (d chatCompletions) defaultURL() string { return d.base }

func (d chatCompletions) request(baseURL, apiKey, model string, p ports.Prompt) (string, http.Header, interface{}) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+apiKey)
	req := chatRequest{Model: model, MaxTokens: p.MaxTokens}
	if p.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: p.User})
	// Reasoning models reject sampling parameters.
	if !strings.Contains(model, "reasoner") {
		t := p.Temperature
		req.Temperature = &t
	}
	return baseURL + "/chat/completions", h, req
}

func (d chatCompletions) completion(data []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion: %v: %w", err, ports.ErrEmptyCompletion)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices: %w", ports.ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

// messages is the Anthropic messages API.
type messages struct{}

const anthropicVersion = "2023-06-01"

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

func (messages) defaultURL() string { return "https://api.anthropic.com" }

func (messages) request(baseURL, apiKey, model string, p ports.Prompt) (string, http.Header, interface{}) {
	h := http.Header{}
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return baseURL + "/v1/messages", h, messagesRequest{
		Model:       model,
		System:      p.System,
		Messages:    []chatMessage{{Role: "user", Content: p.User}},
		MaxTokens:   maxTokens,
		Temperature: p.Temperature,
	}
}

func (messages) completion(data []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode message: %v: %w", err, ports.ErrEmptyCompletion)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

// generateContent is the Gemini generateContent API.
type generateContent struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

func (generateContent) defaultURL() string { return "https://generativelanguage.googleapis.com" }

func (generateContent) request(baseURL, apiKey, model string, p ports.Prompt) (string, http.Header, interface{}) {
	h := http.Header{}
	h.Set("x-goog-api-key", apiKey)
	req := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: p.User}}}}}
	if p.System != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: p.System}}}
	}
	req.GenerationConfig.Temperature = p.Temperature
	req.GenerationConfig.MaxOutputTokens = p.MaxTokens
	return baseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent", h, req
}

func (generateContent) completion(data []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode generated content: %v: %w", err, ports.ErrEmptyCompletion)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates: %w", ports.ErrEmptyCompletion)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

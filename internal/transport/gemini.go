package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL is used when a Gemini target has no base URL.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini speaks the generateContent REST protocol.
type Gemini struct {
	client *http.Client
}

// NewGemini constructs a Gemini transport.
func NewGemini(opts ...Option) *Gemini {
	o := buildHTTPOptions(opts)
	return &Gemini{client: o.client}
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Complete sends one generateContent request.
func (g *Gemini) Complete(ctx context.Context, target Target, req Request) (string, error) {
	base := strings.TrimSpace(target.BaseURL)
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	endpoint, err := url.JoinPath(base, "v1beta", "models", target.Model+":generateContent")
	if err != nil {
		return "", Transient(target.Provider, 0, fmt.Errorf("build url: %w", err))
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	var headers map[string]string
	if target.Credential != "" {
		headers = map[string]string{"x-goog-api-key": target.Credential}
	}

	body, err := postJSON(ctx, g.client, target, endpoint, headers, payload)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Transient(target.Provider, http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Candidates) == 0 {
		reason := "no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + resp.PromptFeedback.BlockReason
		}
		return "", Transient(target.Provider, http.StatusOK, errors.New(reason))
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", Transient(target.Provider, http.StatusOK, &emptyContentError{
			FinishReason: resp.Candidates[0].FinishReason,
			Snippet:      summarizePayloadSnippet(string(body)),
		})
	}
	return text, nil
}

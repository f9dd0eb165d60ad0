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

// DefaultChatBaseURL is used when a chat-completion target has no base URL.
const DefaultChatBaseURL = "https://api.openai.com/v1"

// ChatCompletion speaks the OpenAI-style /chat/completions protocol.
type ChatCompletion struct {
	client  *http.Client
	baseURL string
}

// NewChatCompletion constructs a chat-completion transport.
func NewChatCompletion(opts ...Option) *ChatCompletion {
	o := buildHTTPOptions(opts)
	return &ChatCompletion{client: o.client, baseURL: DefaultChatBaseURL}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some servers return the streaming schema even when stream=false.
		Delta chatCompletionMessage `json:"delta"`
		// Legacy completion-style responses.
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

type emptyContentError struct {
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("empty content (finish_reason=%q, refusal=%q, response_snippet=%s)", e.FinishReason, e.Refusal, e.Snippet)
}

// Complete sends one chat completion. The bearer header is omitted when the
// target carries no credential.
func (c *ChatCompletion) Complete(ctx context.Context, target Target, req Request) (string, error) {
	endpoint, err := c.endpoint(target)
	if err != nil {
		return "", Transient(target.Provider, 0, err)
	}

	messages := make([]chatMessage, 0, 2)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatCompletionRequest{
		Model:       target.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var headers map[string]string
	if target.Credential != "" {
		headers = map[string]string{"Authorization": "Bearer " + target.Credential}
	}

	body, err := postJSON(ctx, c.client, target, endpoint, headers, payload)
	if err != nil {
		return "", err
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", Transient(target.Provider, http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	if completion.Error != nil {
		apiErr := fmt.Errorf("api error: %s", strings.TrimSpace(completion.Error.Message))
		if mentionsThrottling(completion.Error.Message) || fmt.Sprint(completion.Error.Code) == "429" {
			return "", RateLimited(target.Provider, http.StatusOK, 0, apiErr)
		}
		return "", Transient(target.Provider, http.StatusOK, apiErr)
	}

	content, finishReason := extractCompletionPayload(completion)
	if content == "" {
		if len(completion.Choices) == 0 {
			return "", Transient(target.Provider, http.StatusOK, errors.New("empty choices"))
		}
		return "", Transient(target.Provider, http.StatusOK, &emptyContentError{
			FinishReason: finishReason,
			Refusal:      extractCompletionRefusal(completion),
			Snippet:      summarizePayloadSnippet(string(body)),
		})
	}
	return content, nil
}

func (c *ChatCompletion) endpoint(target Target) (string, error) {
	base := strings.TrimSpace(target.BaseURL)
	if base == "" {
		base = c.baseURL
	}
	endpoint, err := url.JoinPath(base, "chat/completions")
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	return endpoint, nil
}

func extractCompletionPayload(completion chatCompletionResponse) (string, string) {
	var finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, finishReason
		}
	}
	return "", finishReason
}

func extractCompletionRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	completionsPath = "/chat/completions"

	// maxCompletionTokens caps every completion pass. Large enough for the
	// optimizer's structured prompt output.
	maxCompletionTokens = 32768

	defaultHTTPTimeout = 120 * time.Second

	// Streamed lines can carry large argument fragments.
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf     = 1024 * 1024
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client // nil = default client with sane timeout
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
// Clients are immutable; derive per-session variants with WithOverride.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a completion client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// WithOverride returns a derived client using the given provider config
// verbatim. Credentials are only swapped when both baseURL and apiKey are
// present; the model always follows the override.
func (c *Client) WithOverride(baseURL, apiKey, model string) *Client {
	derived := *c
	if baseURL != "" && apiKey != "" {
		derived.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		derived.apiKey = apiKey
	}
	if model != "" {
		derived.model = model
	}
	return &derived
}

// WithModel returns a derived client using model for subsequent completions.
func (c *Client) WithModel(model string) *Client {
	if model == "" || model == c.model {
		return c
	}
	derived := *c
	derived.model = model
	return &derived
}

// Model returns the model id the client completes with.
func (c *Client) Model() string {
	return c.model
}

// completionRequest is the wire payload for POST /chat/completions.
type completionRequest struct {
	Model               string           `json:"model"`
	Messages            []ChatMessage    `json:"messages"`
	Tools               []ToolDefinition `json:"tools,omitempty"`
	ToolChoice          string           `json:"tool_choice,omitempty"`
	MaxCompletionTokens int              `json:"max_completion_tokens,omitempty"`
	Stream              bool             `json:"stream,omitempty"`
}

// completionResponse is a non-streaming completion body.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// streamChunk is one SSE data payload of a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// errorResponse is the error body shape of OpenAI-compatible endpoints.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete performs a single-shot completion.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (*Result, error) {
	body, err := c.do(ctx, completionRequest{
		Model:               c.model,
		Messages:            messages,
		Tools:               tools,
		ToolChoice:          toolChoice(tools),
		MaxCompletionTokens: maxCompletionTokens,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp completionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Result{}, nil
	}

	msg := resp.Choices[0].Message
	return &Result{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

// CompleteStream performs a streaming completion, invoking onChunk for each
// delta in arrival order. The handler must not retain the chunk's slices.
func (c *Client) CompleteStream(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, onChunk ChunkHandler) error {
	body, err := c.do(ctx, completionRequest{
		Model:               c.model,
		Messages:            messages,
		Tools:               tools,
		ToolChoice:          toolChoice(tools),
		MaxCompletionTokens: maxCompletionTokens,
		Stream:              true,
	})
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuf), scannerMaxBuf)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Tolerate malformed keep-alive payloads from gateways.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		out := DeltaChunk{Content: delta.Content}
		for _, tc := range delta.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCallFragment{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if out.Content == "" && len(out.ToolCalls) == 0 {
			continue
		}
		if err := onChunk(out); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading completion stream: %w", err)
	}
	return nil
}

// do issues the HTTP request and returns the response body, classifying
// non-2xx responses into stable provider error codes.
func (c *Client) do(ctx context.Context, payload completionRequest) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling completions endpoint: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, Classify(resp.StatusCode, providerMessage(raw))
	}

	return resp.Body, nil
}

// providerMessage extracts the human-readable message from an error body,
// falling back to the raw body when it is not the expected JSON shape.
func providerMessage(raw []byte) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Message != "" {
		if er.Error.Code != "" {
			return er.Error.Code + ": " + er.Error.Message
		}
		return er.Error.Message
	}
	return string(raw)
}

func toolChoice(tools []ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	return "auto"
}

// Package testutil provides shared testing utilities: a scripted fake
// completions endpoint and a PostgreSQL container harness.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// ToolCallSpec scripts one tool call emitted by the fake provider.
type ToolCallSpec struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// CompletionTurn scripts one response from the fake provider. Turns are
// consumed in request order.
type CompletionTurn struct {
	Content   string
	ToolCalls []ToolCallSpec

	// Status, when non-zero, makes the turn an error response carrying
	// ErrorMessage in the OpenAI error body shape.
	Status       int
	ErrorMessage string

	// ChunkSize splits streamed content into fragments of this many bytes.
	// 0 streams the whole content as one fragment. Tool-call arguments are
	// always split across two fragments to exercise accumulation.
	ChunkSize int
}

// CapturedRequest records one request the fake provider served.
type CapturedRequest struct {
	Model      string            `json:"model"`
	Messages   []WireMessage     `json:"messages"`
	Tools      []json.RawMessage `json:"tools"`
	ToolChoice string            `json:"tool_choice"`
	Stream     bool              `json:"stream"`
	APIKey     string            `json:"-"`
}

// WireMessage is the decoded shape of one request message.
type WireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// FakeProvider is an http.Handler speaking the OpenAI-compatible
// /chat/completions wire shape, both streaming and not. Script it with
// Enqueue and point a provider client at httptest.NewServer(fake).
//
// Thread-safe for concurrent use.
type FakeProvider struct {
	mu       sync.Mutex
	turns    []CompletionTurn
	requests []CapturedRequest
}

// NewFakeProvider creates an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

// Enqueue appends scripted turns. Each incoming request consumes one.
func (f *FakeProvider) Enqueue(turns ...CompletionTurn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turns...)
}

// Requests returns a copy of all captured requests in arrival order.
func (f *FakeProvider) Requests() []CapturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]CapturedRequest, len(f.requests))
	copy(cp, f.requests)
	return cp
}

func (f *FakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var req CapturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.APIKey = r.Header.Get("Authorization")

	f.mu.Lock()
	f.requests = append(f.requests, req)
	if len(f.turns) == 0 {
		f.mu.Unlock()
		http.Error(w, "no scripted turns left", http.StatusInternalServerError)
		return
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	f.mu.Unlock()

	if turn.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(turn.Status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": turn.ErrorMessage},
		})
		return
	}

	if req.Stream {
		f.writeStream(w, turn)
		return
	}
	f.writeCompletion(w, turn)
}

func (f *FakeProvider) writeCompletion(w http.ResponseWriter, turn CompletionTurn) {
	toolCalls := make([]map[string]any, 0, len(turn.ToolCalls))
	for _, tc := range turn.ToolCalls {
		toolCalls = append(toolCalls, map[string]any{
			"id":   tc.ID,
			"type": "function",
			"function": map[string]any{
				"name":      tc.Name,
				"arguments": tc.Arguments,
			},
		})
	}

	message := map[string]any{"content": turn.Content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": message, "finish_reason": "stop"}},
	})
}

func (f *FakeProvider) writeStream(w http.ResponseWriter, turn CompletionTurn) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)

	emit := func(delta map[string]any) {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": delta}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, fragment := range splitContent(turn.Content, turn.ChunkSize) {
		emit(map[string]any{"content": fragment})
	}

	for i, tc := range turn.ToolCalls {
		half := len(tc.Arguments) / 2
		emit(map[string]any{"tool_calls": []map[string]any{{
			"index": i,
			"id":    tc.ID,
			"type":  "function",
			"function": map[string]any{
				"name":      tc.Name,
				"arguments": tc.Arguments[:half],
			},
		}}})
		emit(map[string]any{"tool_calls": []map[string]any{{
			"index": i,
			"function": map[string]any{
				"arguments": tc.Arguments[half:],
			},
		}}})
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func splitContent(content string, size int) []string {
	if content == "" {
		return nil
	}
	if size <= 0 || size >= len(content) {
		return []string{content}
	}
	var parts []string
	for len(content) > size {
		parts = append(parts, content[:size])
		content = content[size:]
	}
	return append(parts, content)
}

// Package chat orchestrates a single conversation turn: prompt assembly,
// completion, tool resolution, and the follow-up pass that folds tool
// results into a final reply.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/provider"
	"github.com/promptforge/promptforge/internal/session"
	"github.com/promptforge/promptforge/internal/tools"
)

const (
	// defaultHistoryWindow bounds how much history enters the prompt.
	defaultHistoryWindow = 10

	// followUpHistoryWindow bounds history in the tool follow-up pass, which
	// already carries the tool calls and their results.
	followUpHistoryWindow = 3

	// defaultToolConcurrency caps parallel tool executions per turn.
	defaultToolConcurrency = 4

	// toolFallbackMessage replaces an empty follow-up completion.
	toolFallbackMessage = "Tool results processed successfully."

	// emptyFallbackMessage replaces an empty non-streaming completion.
	emptyFallbackMessage = "I apologize, but I encountered an issue processing your request."
)

// Sentinel errors for turn processing.
var (
	// ErrNoClient indicates Process was called without a completion client.
	ErrNoClient = errors.New("completion client is required")
)

var tracer = otel.Tracer("github.com/promptforge/promptforge/internal/chat")

// Result is the outcome of one fully resolved turn.
type Result struct {
	Content   string
	ToolCalls []session.ToolCall
}

// StreamFunc receives assistant content fragments in arrival order.
// Returning an error aborts the turn.
type StreamFunc func(chunk string) error

// Config contains the required parameters for a Handler.
type Config struct {
	Registry *tools.Registry
	Logger   log.Logger

	HistoryWindow   int // prompt history bound (0 = default)
	ToolConcurrency int // parallel tool executions per turn (0 = default)
}

// Handler runs conversation turns. It is stateless across turns: history and
// the completion client arrive per call, so one Handler serves every session.
type Handler struct {
	registry        *tools.Registry
	logger          log.Logger
	defs            []provider.ToolDefinition
	historyWindow   int
	toolConcurrency int
}

// New creates a Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	concurrency := cfg.ToolConcurrency
	if concurrency <= 0 {
		concurrency = defaultToolConcurrency
	}

	// Tool definitions never change; convert to the wire shape once.
	defs := make([]provider.ToolDefinition, 0, cfg.Registry.Count())
	for _, d := range cfg.Registry.Definitions() {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	return &Handler{
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		defs:            defs,
		historyWindow:   historyWindow,
		toolConcurrency: concurrency,
	}, nil
}

// Process runs one conversation turn against the given client.
//
// If onChunk is non-nil the completion streams and onChunk receives each
// assistant content fragment; tool-call fragments are accumulated silently
// and resolved after the stream ends. If the model requested tools, their
// results feed a follow-up completion whose text becomes the final content.
func (h *Handler) Process(ctx context.Context, client *provider.Client, mode Mode, message string, history []session.Message, onChunk StreamFunc) (*Result, error) {
	if client == nil {
		return nil, ErrNoClient
	}

	resolved := resolveMode(mode, message)
	messages := h.buildMessages(resolved, message, history)

	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.mode", string(resolved)),
		attribute.String("chat.model", client.Model()),
		attribute.Bool("chat.streaming", onChunk != nil),
	))
	defer span.End()

	h.logger.Debug("processing turn",
		"mode", string(resolved),
		"model", client.Model(),
		"historyLen", len(history),
		"streaming", onChunk != nil)

	var res *Result
	var err error
	if onChunk != nil {
		res, err = h.processStream(ctx, client, message, history, messages, onChunk)
	} else {
		res, err = h.processOnce(ctx, client, message, history, messages)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("chat.tool_calls", len(res.ToolCalls)))
	return res, nil
}

// ProcessTurn adapts Process to the session actor's processor contract.
// Direct submissions skip marker sniffing; everything else resolves by mode
// inference.
func (h *Handler) ProcessTurn(ctx context.Context, client *provider.Client, message string, direct bool, history []session.Message, onChunk func(chunk string) error) (*session.TurnResult, error) {
	mode := ModeAuto
	if direct {
		mode = ModeDirect
	}
	res, err := h.Process(ctx, client, mode, message, history, onChunk)
	if err != nil {
		return nil, err
	}
	return &session.TurnResult{Content: res.Content, ToolCalls: res.ToolCalls}, nil
}

func (h *Handler) processOnce(ctx context.Context, client *provider.Client, message string, history []session.Message, messages []provider.ChatMessage) (*Result, error) {
	res, err := client.Complete(ctx, messages, h.defs)
	if err != nil {
		return nil, err
	}

	if len(res.ToolCalls) == 0 {
		content := res.Content
		if strings.TrimSpace(content) == "" {
			h.logger.Warn("model returned empty response with no tool calls")
			content = emptyFallbackMessage
		}
		return &Result{Content: content}, nil
	}

	return h.resolveTools(ctx, client, message, history, res.ToolCalls)
}

func (h *Handler) processStream(ctx context.Context, client *provider.Client, message string, history []session.Message, messages []provider.ChatMessage, onChunk StreamFunc) (*Result, error) {
	var content strings.Builder
	var acc provider.Accumulator

	err := client.CompleteStream(ctx, messages, h.defs, func(chunk provider.DeltaChunk) error {
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			if err := onChunk(chunk.Content); err != nil {
				return err
			}
		}
		for _, frag := range chunk.ToolCalls {
			acc.Add(frag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if acc.Len() == 0 {
		return &Result{Content: content.String()}, nil
	}
	return h.resolveTools(ctx, client, message, history, acc.Calls())
}

// resolveTools executes the requested tools and runs the follow-up pass.
// Individual tool failures become error-shaped results; they never abort
// the turn.
func (h *Handler) resolveTools(ctx context.Context, client *provider.Client, message string, history []session.Message, calls []provider.ToolCall) (*Result, error) {
	executed := h.executeCalls(ctx, calls)

	content, err := h.followUp(ctx, client, message, history, calls, executed)
	if err != nil {
		return nil, err
	}
	return &Result{Content: content, ToolCalls: executed}, nil
}

// executeCalls fans out the tool calls with bounded concurrency. Results are
// returned in call order regardless of completion order.
func (h *Handler) executeCalls(ctx context.Context, calls []provider.ToolCall) []session.ToolCall {
	executed := make([]session.ToolCall, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.toolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			executed[i] = h.executeCall(gctx, call)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors; failures are folded into results

	return executed
}

func (h *Handler) executeCall(ctx context.Context, call provider.ToolCall) session.ToolCall {
	name := call.Function.Name

	ctx, span := tracer.Start(ctx, "chat.tool",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			h.logger.Warn("tool arguments are not valid JSON", "tool", name, "error", err)
			span.RecordError(err)
			return session.ToolCall{
				ID:        call.ID,
				Name:      name,
				Arguments: map[string]any{},
				Result:    toolErrorResult(name, err),
			}
		}
	}

	result, err := h.registry.Execute(ctx, name, args)
	if err != nil {
		h.logger.Warn("tool execution failed", "tool", name, "error", err)
		span.RecordError(err)
		return session.ToolCall{
			ID:        call.ID,
			Name:      name,
			Arguments: args,
			Result:    toolErrorResult(name, err),
		}
	}

	return session.ToolCall{ID: call.ID, Name: name, Arguments: args, Result: result}
}

func toolErrorResult(name string, err error) map[string]any {
	return map[string]any{"error": fmt.Sprintf("Failed to execute %s: %v", name, err)}
}

// followUp runs the second completion pass: the assistant's tool calls plus
// their results, correlated by call id, framed by a short history window.
// Tools are withheld so the model must answer in text.
func (h *Handler) followUp(ctx context.Context, client *provider.Client, message string, history []session.Message, calls []provider.ToolCall, executed []session.ToolCall) (string, error) {
	window := tailMessages(history, followUpHistoryWindow)

	messages := make([]provider.ChatMessage, 0, len(window)+len(executed)+3)
	messages = append(messages, provider.ChatMessage{Role: provider.RoleSystem, Content: followUpSystemPrompt})
	for _, m := range window {
		messages = append(messages, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages,
		provider.ChatMessage{Role: provider.RoleUser, Content: message},
		provider.ChatMessage{Role: provider.RoleAssistant, ToolCalls: calls},
	)
	for i, result := range executed {
		raw, err := json.Marshal(result.Result)
		if err != nil {
			raw = []byte(fmt.Sprintf("%q", fmt.Sprint(result.Result)))
		}
		id := result.ID
		if i < len(calls) && calls[i].ID != "" {
			id = calls[i].ID
		}
		messages = append(messages, provider.ChatMessage{
			Role:       provider.RoleTool,
			Content:    string(raw),
			ToolCallID: id,
		})
	}

	res, err := client.Complete(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Content) == "" {
		return toolFallbackMessage, nil
	}
	return res.Content, nil
}

// buildMessages assembles the primary completion prompt: the mode's system
// prompt, the bounded history tail, and the current user message.
func (h *Handler) buildMessages(mode Mode, message string, history []session.Message) []provider.ChatMessage {
	window := tailMessages(history, h.historyWindow)

	messages := make([]provider.ChatMessage, 0, len(window)+2)
	messages = append(messages, provider.ChatMessage{Role: provider.RoleSystem, Content: systemPrompt(mode)})
	for _, m := range window {
		messages = append(messages, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(messages, provider.ChatMessage{Role: provider.RoleUser, Content: message})
}

func tailMessages(history []session.Message, n int) []session.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Package provider wraps an OpenAI-compatible chat-completions endpoint.
//
// The adapter supports single-shot completions and incrementally streamed
// completions with tool invocation. Provider-side failures are classified
// into stable error codes (see errors.go) that the HTTP layer surfaces
// verbatim to clients.
package provider

// Message roles on the completions wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is a single message in a completions request.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a fully assembled tool invocation requested by the model.
// Arguments is the raw JSON string exactly as emitted by the provider;
// it is parsed only after the stream for the call is complete.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and raw argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool in the request payload.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the schema half of a tool definition.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Result is the outcome of a completion pass.
type Result struct {
	Content   string
	ToolCalls []ToolCall
}

// DeltaChunk is one streamed increment: zero-or-one content fragment plus
// zero-or-more partial tool-call fragments.
type DeltaChunk struct {
	Content   string
	ToolCalls []ToolCallFragment
}

// ToolCallFragment is a partial tool call keyed by its index in the
// in-progress tool-call array. The provider may spread a call's name and
// arguments across many fragments; fragments sharing an index belong to
// the same call and their Arguments substrings concatenate in arrival order.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ChunkHandler receives streamed chunks in arrival order.
// Returning an error aborts the stream.
type ChunkHandler func(chunk DeltaChunk) error

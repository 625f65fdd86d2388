// Package session holds per-session conversation state and the actor that
// serializes access to it.
//
// Each session is a single logical actor: every mutation of its ChatState
// goes through the Agent, which holds the state behind a mutex. A Hub keys
// agents by session id, creating them lazily and persisting state through an
// injected Store.
package session

import (
	"time"
)

// Message roles. The wire values are part of the client contract.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single conversation entry. Messages are immutable once
// appended; append order is the conversation's canonical history.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ToolCall records one tool invocation requested by the model during a turn.
// ID preserves the provider's tool-call identifier so tool-role follow-up
// messages stay correlated.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
}

// ProviderConfig overrides the ambient provider credentials for a session.
// When set, every completion in the session uses it verbatim until cleared.
type ProviderConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

// ChatState is the full mutable state of one session.
// IsProcessing is true for the entire span between appending a user message
// and appending (or aborting) the corresponding assistant message.
// StreamingMessage holds partial assistant output while a stream is live and
// is cleared on completion.
type ChatState struct {
	SessionID        string          `json:"sessionId"`
	Messages         []Message       `json:"messages"`
	IsProcessing     bool            `json:"isProcessing"`
	StreamingMessage string          `json:"streamingMessage,omitempty"`
	Model            string          `json:"model"`
	ProviderConfig   *ProviderConfig `json:"providerConfig,omitempty"`
}

// Clone returns a deep-enough copy for handing to readers: the message slice
// and provider config are copied, message contents are immutable by contract.
func (s *ChatState) Clone() *ChatState {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	if s.ProviderConfig != nil {
		pc := *s.ProviderConfig
		cp.ProviderConfig = &pc
	}
	return &cp
}

// Info is the cross-session registry record for one session.
type Info struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	LastActive time.Time `json:"lastActive"`
}

// TitleMaxLength bounds registry titles; longer derivations are truncated.
const TitleMaxLength = 80

// DeriveTitle builds a registry title from a session's first message:
// the first line, truncated to TitleMaxLength runes.
func DeriveTitle(firstMessage string) string {
	title := firstMessage
	for i, r := range title {
		if r == '\n' {
			title = title[:i]
			break
		}
	}
	runes := []rune(title)
	if len(runes) > TitleMaxLength {
		title = string(runes[:TitleMaxLength-3]) + "..."
	}
	return title
}

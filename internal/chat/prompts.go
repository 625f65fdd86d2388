package chat

import "strings"

// Mode selects which system prompt frames a turn.
type Mode string

const (
	// ModeAuto infers the mode from the message content.
	ModeAuto Mode = "auto"

	// ModeAssistant frames the turn as a general development assistant.
	ModeAssistant Mode = "assistant"

	// ModeOptimizer frames the turn as executing an engineered prompt: the
	// user message already carries its own instructions and the system prompt
	// must defer to them.
	ModeOptimizer Mode = "optimizer"

	// ModeDirect executes the message verbatim with the assistant framing
	// and no marker sniffing, used when the client runs a finished prompt
	// rather than chatting.
	ModeDirect Mode = "direct"
)

// Markers that identify an engineered prompt produced by the prompt builder.
const (
	optimizerMarker = "You are a world-class Prompt Engineer"
	userInputMarker = "USER INPUT:"
)

const (
	assistantSystemPrompt = "You are a helpful AI assistant that helps users build and deploy web applications. " +
		"You provide clear, concise guidance on development, deployment, and troubleshooting. " +
		"Keep responses practical and actionable."

	engineeredSystemPrompt = "Follow the prompt engineering instructions provided in the user message precisely."

	followUpSystemPrompt = "You are a helpful AI assistant. Respond naturally to the tool results."
)

// resolveMode collapses ModeAuto into a concrete mode by sniffing for the
// prompt builder's markers in the user message.
func resolveMode(mode Mode, message string) Mode {
	if mode != ModeAuto && mode != "" {
		return mode
	}
	if strings.Contains(message, optimizerMarker) || strings.Contains(message, userInputMarker) {
		return ModeOptimizer
	}
	return ModeAssistant
}

// systemPrompt returns the system prompt for a resolved mode.
func systemPrompt(mode Mode) string {
	if mode == ModeOptimizer {
		return engineeredSystemPrompt
	}
	return assistantSystemPrompt
}

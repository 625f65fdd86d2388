package provider

import (
	"fmt"
	"time"
)

// Accumulator reassembles tool calls from streamed fragments.
//
// Fragments are keyed by their index into the in-progress tool-call array.
// The first fragment for an index establishes the call; later fragments fill
// in the id/name when the provider delays them and append their Arguments
// substrings in arrival order. Arguments stay a raw string until the stream
// ends — partial JSON is never parsed.
//
// Not safe for concurrent use; one Accumulator serves one stream.
type Accumulator struct {
	calls []ToolCall
}

// Add folds a fragment into the accumulator.
// Interleaved indices are fine; identity follows the index, not arrival rank.
func (a *Accumulator) Add(frag ToolCallFragment) {
	if frag.Index < 0 {
		return
	}
	for len(a.calls) <= frag.Index {
		a.calls = append(a.calls, ToolCall{Type: "function"})
	}

	call := &a.calls[frag.Index]
	if call.ID == "" && frag.ID != "" {
		call.ID = frag.ID
	}
	if call.Function.Name == "" && frag.Name != "" {
		call.Function.Name = frag.Name
	}
	call.Function.Arguments += frag.Arguments
}

// Len returns the number of tool calls started so far.
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Calls finalizes and returns the assembled tool calls. Calls that never
// received an id get a synthetic one so follow-up messages can still be
// correlated.
func (a *Accumulator) Calls() []ToolCall {
	for i := range a.calls {
		if a.calls[i].ID == "" {
			a.calls[i].ID = fmt.Sprintf("tool_%d_%d", time.Now().UnixMilli(), i)
		}
	}
	return a.calls
}

package session

import "errors"

// Sentinel errors for session operations. The API layer maps these to
// response payloads; none of them leave the session in an inconsistent state.
var (
	// ErrEmptyMessage indicates a chat submission with no content after
	// trimming whitespace. Nothing is appended and IsProcessing is untouched.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrSessionBusy indicates a chat submission while another turn is
	// mid-flight for the same session. Policy: reject, do not queue.
	ErrSessionBusy = errors.New("session is already processing a message")

	// ErrProcessingTimeout indicates a turn exceeded the configured deadline.
	// State is reset exactly as on any other failure.
	ErrProcessingTimeout = errors.New("processing timed out")

	// ErrNotFound indicates the session does not exist in the registry.
	ErrNotFound = errors.New("session not found")
)

package domain

import "errors"

// Backend and turn error taxonomy. Backend errors are wrapped with %w by the
// clients so callers can classify them with errors.Is.
var (
	// ErrBackendUnavailable marks an unreachable endpoint (connection
	// refused, DNS failure). Not retried by the core.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout marks a call that produced no response within the
	// configured bound.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBackendProtocol marks a response that does not conform to the
	// expected chat-completion schema.
	ErrBackendProtocol = errors.New("backend protocol error")

	// ErrTurnInProgress rejects a new turn while one is active on the same
	// session. No state change occurs.
	ErrTurnInProgress = errors.New("turn in progress")
)

// Error kind labels carried on error-bearing turn records.
const (
	ErrorKindUnavailable = "backend_unavailable"
	ErrorKindTimeout     = "backend_timeout"
	ErrorKindProtocol    = "backend_protocol_error"
)

// ErrorKind maps a backend error to its record label, or "" for nil and
// unclassified errors.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackendTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrBackendUnavailable):
		return ErrorKindUnavailable
	case errors.Is(err, ErrBackendProtocol):
		return ErrorKindProtocol
	default:
		return ""
	}
}

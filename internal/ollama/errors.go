package ollama

import "fmt"

// Kind classifies a failed daemon interaction. Only KindUnreachable is ever
// retried; the other kinds are deterministic rejections.
type Kind string

const (
	KindUnreachable      Kind = "unreachable"
	KindInvalidResponse  Kind = "invalid_response"
	KindUpstreamError    Kind = "upstream_error"
	KindModelUnavailable Kind = "model_unavailable"
	KindEmptyResponse    Kind = "empty_response"
)

// Error describes why the daemon could not fulfil a request.
type Error struct {
	Kind    Kind
	Reason  string
	Status  int
	Payload map[string]any
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ollama: %s (status %d): %s", e.Kind, e.Status, e.Reason)
	}
	return fmt.Sprintf("ollama: %s: %s", e.Kind, e.Reason)
}

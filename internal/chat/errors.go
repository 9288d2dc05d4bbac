package chat

import (
	"errors"
	"fmt"

	"github.com/lalmba/akinyi-chat/internal/ollama"
)

// ErrEmptyMessage rejects blank chat messages before any persistence or
// network I/O happens.
var ErrEmptyMessage = errors.New("message is required")

// DaemonError reports that the inference daemon could not produce a reply.
// The user's message has already been persisted by the time it is returned.
type DaemonError struct {
	Model      string
	Suggestion string
	Err        error
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("generation failed for model %s: %v", e.Model, e.Err)
}

func (e *DaemonError) Unwrap() error {
	return e.Err
}

// Reason returns the daemon's failure reason when one is known.
func (e *DaemonError) Reason() string {
	var oerr *ollama.Error
	if errors.As(e.Err, &oerr) {
		return oerr.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

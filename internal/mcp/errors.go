package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no response arrives within the request timeout.
	ErrTimeout = errors.New("mcp: timeout waiting for server response")

	// ErrWriteFailure is returned when the request line cannot be written,
	// including when the child has already exited.
	ErrWriteFailure = errors.New("mcp: write to server failed")

	// ErrProcessExited is returned when the child exits while a request is
	// waiting and no response is left in the queue.
	ErrProcessExited = errors.New("mcp: server process exited")
)

// RemoteError is a failed response reported by the server.
type RemoteError struct {
	Code  string
	Trace string
	Raw   string
}

func (e *RemoteError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("mcp: server error %s (raw %q)", e.Code, e.Raw)
	}
	return "mcp: server error " + e.Code
}

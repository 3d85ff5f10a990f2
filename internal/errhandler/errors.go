// Package errhandler classifies failures of the diagnosis loop and decides
// whether to retry, re-prompt, record or abort.
package errhandler

import (
	"errors"
	"fmt"
)

// Category is the failure class of an error.
type Category string

const (
	Transient     Category = "transient"
	ParseError    Category = "parse"
	ToolExecution Category = "tool"
	Fatal         Category = "fatal"
)

// Sentinel errors shared by the engine packages.
var (
	ErrContextLength = errors.New("model context length exceeded")
	ErrUnknownTool   = errors.New("unknown tool")
	ErrToolTimeout   = errors.New("tool call timed out")
	ErrNoToolCall    = errors.New("no tool call found in response")
)

// ModelError is a failed model call. StatusCode is zero for transport
// failures that never produced an HTTP response.
type ModelError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ModelError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("model call failed: status %d: %s: %v", e.StatusCode, e.Message, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("model call failed: status %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("model call failed: %v", e.Err)
	default:
		return "model call failed: " + e.Message
	}
}

func (e *ModelError) Unwrap() error { return e.Err }

// ParseFailure is a model response that contained neither a final answer
// nor a usable tool call.
type ParseFailure struct {
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unparseable model response: %s: %v", e.Reason, e.Err)
	}
	return "unparseable model response: " + e.Reason
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// ToolError is a failure raised by a tool handler.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// SinkError is a failure writing results. It is the only error that aborts
// a whole batch.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("output sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

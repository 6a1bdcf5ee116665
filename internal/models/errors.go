package models

import (
	"errors"
	"fmt"
)

// ErrCancelled marks a run that stopped because its context was cancelled.
// It is a terminal state, not a failure.
var ErrCancelled = errors.New("run cancelled")

// ValidationError reports a malformed run request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InferenceError reports a model failure on a single image or frame
type InferenceError struct {
	Item string
	Err  error
}

func (e *InferenceError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("inference failed: %v", e.Err)
	}
	return fmt.Sprintf("inference failed on %s: %v", e.Item, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// DecodeError reports a container-level decoding failure
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a container-level encoding failure
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ErrTruncated is returned by a frame source whose stream ended with a
// corrupt or partial frame after at least one good frame
var ErrTruncated = errors.New("video stream ended with a corrupt or partial frame")

package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrBrokerUnavailable    = errors.New("broker unavailable")
	ErrSpawnFailure         = errors.New("spawn failure")
	ErrSinkClosed           = errors.New("sink closed")
	ErrSinkNotConnected     = errors.New("sink not connected")
)

// InvalidConfigurationError is returned when a job descriptor was decoded,
// but does not satisfy the schema.
type InvalidConfigurationError struct {
	Details []ErrorDetail
	err     error
}

func (e *InvalidConfigurationError) Error() string {
	if len(e.Details) == 0 {
		return ErrInvalidConfiguration.Error() + ": " + e.err.Error()
	}
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		msgs = append(msgs, d.Message)
	}
	return ErrInvalidConfiguration.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *InvalidConfigurationError) Unwrap() []error {
	return []error{ErrInvalidConfiguration, e.err}
}

// SendError is a failure to deliver a single record to the broker.
type SendError struct {
	Topic  string
	Stream Stream
	Err    error
}

func (e SendError) Error() string {
	return fmt.Sprintf("sending %s record to %s: %v", e.Stream, e.Topic, e.Err)
}

func (e SendError) Unwrap() error {
	return e.Err
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAttached is returned when a build already carries a defect record.
	ErrAlreadyAttached = errors.New("defect record already attached to build")
	// ErrCancelled marks a run stopped between page requests or streams.
	ErrCancelled = errors.New("defect fetch cancelled")
)

// FetchError is a transport or service failure while paging a stream.
type FetchError struct {
	Instance string
	Project  string
	Stream   string
	Offset   int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch defects for stream %q (instance %s, project %s) at offset %d: %v",
		e.Stream, e.Instance, e.Project, e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ConfigurationError rejects a stream before any fetch begins for it.
type ConfigurationError struct {
	Stream string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration of stream %q: %s %s", e.Stream, e.Field, e.Reason)
}

// ServiceFault carries the error reported by the defect server itself.
type ServiceFault struct {
	Code    string
	Message string
}

func (e *ServiceFault) Error() string {
	if e.Code == "" {
		return "defect service fault: " + e.Message
	}
	return fmt.Sprintf("defect service fault %s: %s", e.Code, e.Message)
}

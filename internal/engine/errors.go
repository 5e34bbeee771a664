package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/stanstork/chartdata-api/internal/models"
)

// Error kinds recorded on execution results.
const (
	KindConfiguration    = "configuration"
	KindConnection       = "connection"
	KindQuery            = "query"
	KindUnsupportedQuery = "unsupported_query"
	KindFileNotFound     = "file_not_found"
	KindCanceled         = "canceled"
	KindUnknown          = "unknown"
)

// ConfigurationError means no connection profile is registered for a source.
type ConfigurationError struct {
	System models.SourceSystem
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("configuration error for %s: %s", e.System, e.Reason)
	}
	return fmt.Sprintf("no connection profile registered for %s", e.System)
}

// ConnectionError wraps a network or authentication failure.
type ConnectionError struct {
	System models.SourceSystem
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.System, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError carries the backend's message for rejected query text.
type QueryError struct {
	System  models.SourceSystem
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s rejected query: %s", e.System, e.Message)
}

func (e *QueryError) Unwrap() error { return e.Err }

// UnsupportedQueryError is returned by the file backend for query text
// outside its accepted grammar. It is a caller bug, not a transient failure.
type UnsupportedQueryError struct {
	Query  string
	Reason string
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("unsupported file query (%s): %s", e.Reason, e.Query)
}

type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("database file not found: %s", e.Path)
}

// ErrorKind maps an adapter error to the kind stored on an execution result.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		cfgErr   *ConfigurationError
		connErr  *ConnectionError
		queryErr *QueryError
		unsupErr *UnsupportedQueryError
		fileErr  *FileNotFoundError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &queryErr):
		return KindQuery
	case errors.As(err, &unsupErr):
		return KindUnsupportedQuery
	case errors.As(err, &fileErr):
		return KindFileNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Package reliability classifies storage failures and drives bounded retries.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode enumerates transient storage failure conditions. Retry decisions
// check code membership, never error text.
type ErrorCode string

const (
	CodeConnectionLost   ErrorCode = "connection_lost"
	CodeConnectionClosed ErrorCode = "connection_closed"
	CodeTimeout          ErrorCode = "timeout"
	CodeUnavailable      ErrorCode = "unavailable"
)

// StorageError wraps a low-level storage failure with its transient code.
type StorageError struct {
	Code ErrorCode
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Code, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Transient reports whether the error carries one of the enumerated
// transient codes and is therefore worth retrying.
func Transient(err error) bool {
	var se *StorageError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case CodeConnectionLost, CodeConnectionClosed, CodeTimeout, CodeUnavailable:
		return true
	default:
		return false
	}
}

// WrapStorage classifies a driver error into an enumerated transient code
// where one applies; anything else propagates as a permanent wrapped error.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return &StorageError{Code: CodeTimeout, Err: wrapped}
	case errors.Is(err, net.ErrClosed):
		return &StorageError{Code: CodeConnectionClosed, Err: wrapped}
	case errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08"):
		// SQLSTATE class 08 is connection exceptions.
		return &StorageError{Code: CodeConnectionLost, Err: wrapped}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &StorageError{Code: CodeUnavailable, Err: wrapped}
	}
	return wrapped
}

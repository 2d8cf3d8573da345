package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Error class constants for write failure classification.
const (
	WriteErrorClassConnection = "connection"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassUnknown    = "unknown"
)

// ClassifyWriteError maps a store write error to one of the defined error
// classes so operators can alert on failure categories rather than opaque
// Go type names.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}

	// Timeout checks come before connection checks because net.Error can
	// report both.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WriteErrorClassConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassConnection
	}

	// String-based classification for driver errors and wrapped errors
	// where type information is lost.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"):
		return WriteErrorClassConnection
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return WriteErrorClassTimeout
	case strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "database is locked"):
		return WriteErrorClassContention
	case strings.Contains(msg, "violates foreign key constraint"),
		strings.Contains(msg, "violates unique constraint"),
		strings.Contains(msg, "violates check constraint"),
		strings.Contains(msg, "duplicate key"):
		return WriteErrorClassConstraint
	default:
		return WriteErrorClassUnknown
	}
}

// Package fault defines the error taxonomy of the backend layer and the single
// table that maps an opaque error onto it.
package fault

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Class is the closed set of error classes the resilience layer acts on.
type Class int

const (
	// Fatal errors are surfaced on first occurrence and never retried.
	Fatal Class = iota
	// Transient errors are retried with linear backoff.
	Transient
	// Configuration errors are permanent for the lifetime of the process.
	Configuration
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	default:
		return "fatal"
	}
}

var (
	// ErrNotConfigured is returned by every guarded operation while the backend
	// credentials are missing or invalid.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrCannotConnect is returned when the backend is still unreachable before
	// the final attempt of a retried operation.
	ErrCannotConnect = errors.New("cannot connect to backend")

	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("record not found")
)

// APIError is a non-2xx response body returned by the REST backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, msg)
}

// SQLState extracts the SQLSTATE code from pgx and lib/pq errors.
func SQLState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

// IsConflict reports whether err is a unique or exclusion constraint violation.
func IsConflict(err error) bool {
	if code, ok := SQLState(err); ok {
		return code == "23505" || code == "23P01"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusConflict || apiErr.Code == "23505"
	}
	return false
}

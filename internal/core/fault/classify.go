package fault

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Rule is one row of the classification table. Rules are evaluated in order
// and the first match decides both the class and whether the error means the
// transport never completed.
type Rule struct {
	Name      string
	Class     Class
	Transport bool
	Match     func(err error) bool
}

// Options tune the backend-specific parts of the table.
type Options struct {
	// TransientCodes are backend error codes (PostgREST codes or SQLSTATEs)
	// that denote a server-side timeout.
	TransientCodes []string
	// TransientStatus are HTTP statuses that denote a transient gateway failure.
	TransientStatus []int
	// TransientMessages are lowercase substrings of transient network errors.
	TransientMessages []string
}

// DefaultOptions returns the table used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TransientCodes:  []string{"57014", "PGRST003"},
		TransientStatus: []int{http.StatusBadGateway, http.StatusServiceUnavailable},
		TransientMessages: []string{
			"failed to fetch",
			"fetch failed",
			"timeout",
			"timed out",
			"deadline exceeded",
			"network error",
			"network is unreachable",
			"connection refused",
			"connection reset",
			"broken pipe",
			"no such host",
			"unexpected eof",
			"abort",
		},
	}
}

// Classifier maps errors onto Class using an ordered rule table.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds the rule table.
//
// Order:
//  1. not-configured        -> Configuration
//  2. cannot-connect        -> Transient
//  3. deadline / canceled   -> Transient, transport
//  4. net.Error, EOF, bad conn, SQLSTATE class 08, gRPC unavailable -> Transient, transport
//  5. transient status / code -> Transient
//  6. any other structured server error -> Fatal
//  7. transient message substrings -> Transient, transport
//
// Anything unmatched is Fatal.
func NewClassifier(opts Options) *Classifier {
	def := DefaultOptions()
	if opts.TransientCodes == nil {
		opts.TransientCodes = def.TransientCodes
	}
	if opts.TransientStatus == nil {
		opts.TransientStatus = def.TransientStatus
	}
	if opts.TransientMessages == nil {
		opts.TransientMessages = def.TransientMessages
	}

	codeSet := make(map[string]struct{}, len(opts.TransientCodes))
	for _, c := range opts.TransientCodes {
		codeSet[c] = struct{}{}
	}
	statuses := make(map[int]struct{}, len(opts.TransientStatus))
	for _, s := range opts.TransientStatus {
		statuses[s] = struct{}{}
	}
	messages := make([]string, 0, len(opts.TransientMessages))
	for _, m := range opts.TransientMessages {
		messages = append(messages, strings.ToLower(m))
	}

	return &Classifier{rules: []Rule{
		{
			Name:  "not-configured",
			Class: Configuration,
			Match: func(err error) bool { return errors.Is(err, ErrNotConfigured) },
		},
		{
			Name:  "cannot-connect",
			Class: Transient,
			Match: func(err error) bool { return errors.Is(err, ErrCannotConnect) },
		},
		{
			Name:      "deadline",
			Class:     Transient,
			Transport: true,
			Match: func(err error) bool {
				return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
			},
		},
		{
			Name:      "network",
			Class:     Transient,
			Transport: true,
			Match: func(err error) bool {
				var netErr net.Error
				return errors.As(err, &netErr) ||
					errors.Is(err, io.ErrUnexpectedEOF) ||
					errors.Is(err, io.EOF) ||
					errors.Is(err, driver.ErrBadConn)
			},
		},
		{
			Name:      "sqlstate-connection",
			Class:     Transient,
			Transport: true,
			Match: func(err error) bool {
				code, ok := SQLState(err)
				return ok && strings.HasPrefix(code, "08")
			},
		},
		{
			Name:      "grpc-unavailable",
			Class:     Transient,
			Transport: true,
			Match: func(err error) bool {
				switch status.Code(err) {
				case codes.Unavailable, codes.DeadlineExceeded:
					return true
				}
				return false
			},
		},
		{
			Name:  "transient-status",
			Class: Transient,
			Match: func(err error) bool {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					return false
				}
				_, ok := statuses[apiErr.Status]
				return ok
			},
		},
		{
			Name:  "transient-code",
			Class: Transient,
			Match: func(err error) bool {
				if code, ok := SQLState(err); ok {
					_, hit := codeSet[code]
					return hit
				}
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					_, hit := codeSet[apiErr.Code]
					return hit
				}
				if status.Code(err) == codes.Aborted {
					return true
				}
				return false
			},
		},
		{
			// A server that answered with a structured error is reachable; its
			// message text is not matched against network substrings.
			Name:  "server-responded",
			Class: Fatal,
			Match: func(err error) bool {
				if _, ok := SQLState(err); ok {
					return true
				}
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return true
				}
				if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
					return true
				}
				return false
			},
		},
		{
			Name:      "transient-message",
			Class:     Transient,
			Transport: true,
			Match: func(err error) bool {
				msg := strings.ToLower(err.Error())
				for _, m := range messages {
					if strings.Contains(msg, m) {
						return true
					}
				}
				return false
			},
		},
	}}
}

// Rules returns a copy of the table, in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

func (c *Classifier) match(err error) (Rule, bool) {
	for _, r := range c.rules {
		if r.Match(err) {
			return r, true
		}
	}
	return Rule{}, false
}

// Classify returns the class of err. A nil error is Fatal so that callers
// never retry on a programming mistake.
func (c *Classifier) Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if r, ok := c.match(err); ok {
		return r.Class
	}
	return Fatal
}

// IsRetryable reports whether err is Transient.
func (c *Classifier) IsRetryable(err error) bool {
	return c.Classify(err) == Transient
}

// IsTransportFailure reports whether err means the request never completed
// at the transport level (timeout, abort, network error), as opposed to the
// backend answering with an error.
func (c *Classifier) IsTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	r, ok := c.match(err)
	return ok && r.Transport
}

var defaultClassifier = NewClassifier(DefaultOptions())

// Classify classifies err with the default table.
func Classify(err error) Class { return defaultClassifier.Classify(err) }

// IsRetryable reports whether err is Transient under the default table.
func IsRetryable(err error) bool { return defaultClassifier.IsRetryable(err) }

// IsTransportFailure reports a transport-level failure under the default table.
func IsTransportFailure(err error) bool { return defaultClassifier.IsTransportFailure(err) }

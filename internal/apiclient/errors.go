package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// NetworkError means no response was received: DNS failure, refused
// connection, timeout or cancellation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ServerError is a non-2xx response carrying the server's message.
type ServerError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *ServerError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("status=%d: %s", e.Status, e.Message)
}

// ValidationError is a ServerError scoped to payload fields.
type ValidationError struct {
	ServerError
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("status=%d: %s (%d invalid fields)", e.Status, e.Message, len(e.Fields))
}

// Unwrap lets errors.As match *ServerError on a validation failure.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return &e.ServerError
}

// SessionExpiredError is returned when a token renewal failed. Cause is the
// renewal failure, not the original request's 401.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("session expired: %v", e.Cause)
}

func (e *SessionExpiredError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

// IsSessionExpired reports whether err came from a failed renewal.
func IsSessionExpired(err error) bool {
	var se *SessionExpiredError
	return errors.As(err, &se)
}

// AsValidation returns the validation failure wrapped in err, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// FormatError renders err as one line for display. The error itself is left
// untouched so callers can still inspect fields.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var (
		se  *SessionExpiredError
		ve  *ValidationError
		srv *ServerError
		ne  *NetworkError
	)
	switch {
	case errors.As(err, &se):
		return "Your session has expired. Please sign in again."
	case errors.As(err, &ve):
		msg := ve.Message
		if msg == "" {
			msg = "Validation failed"
		}
		if len(ve.Fields) == 0 {
			return msg
		}
		names := make([]string, 0, len(ve.Fields))
		for k := range ve.Fields {
			names = append(names, k)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, k := range names {
			parts = append(parts, k+": "+ve.Fields[k])
		}
		return msg + " (" + strings.Join(parts, "; ") + ")"
	case errors.As(err, &srv):
		if srv.Message != "" {
			return srv.Message
		}
		if text := http.StatusText(srv.Status); text != "" {
			return text
		}
		return fmt.Sprintf("Request failed with status %d", srv.Status)
	case errors.As(err, &ne):
		if ne.Timeout() {
			return "The server took too long to respond."
		}
		return "Unable to reach the server. Check your connection."
	default:
		return err.Error()
	}
}

// Package errors defines the error types used throughout the MediaWiki API
// client. Each category is a distinct struct so callers can dispatch with
// errors.As; API error codes are carried as a string field rather than a
// type per code, since the server may introduce new codes at any time.
package errors

import (
	"fmt"
	"strings"
)

// APIError is an error reported by the wiki's API inside an otherwise
// successful HTTP response. Code is the short machine-readable identifier
// ("badtoken", "permissiondenied", "protectedpage", ...) and Info is the
// human-readable explanation.
type APIError struct {
	Code string
	Info string
}

func (e *APIError) Error() string {
	if e.Info == "" {
		return "api error: " + e.Code
	}
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

// Is reports whether target is an *APIError with the same code, allowing
// errors.Is(err, &APIError{Code: "badtoken"}).
func (e *APIError) Is(target error) bool {
	other, ok := target.(*APIError)
	return ok && other.Code == e.Code
}

// RequestError is an HTTP- or connection-level failure: the request never
// produced a decodable API envelope. Connection failures are retried once by
// the transport before one of these is returned.
type RequestError struct {
	// StatusCode is the HTTP status, or 0 for connection-level failures.
	StatusCode int
	// URL is the endpoint that was being accessed.
	URL string
	// Body holds the raw response body when one was received.
	Body string
	// Err is the underlying error, if any.
	Err error
}

func (e *RequestError) Error() string {
	parts := []string{"request error"}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	if e.URL != "" {
		parts = append(parts, "url "+e.URL)
	}
	if e.Body != "" {
		parts = append(parts, fmt.Sprintf("body %q", e.Body))
	}
	if e.Err != nil {
		parts = append(parts, "err: "+e.Err.Error())
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + ": " + strings.Join(parts[1:], ", ")
}

func (e *RequestError) Unwrap() error { return e.Err }

// EditConflictError is raised locally, before any write reaches the server,
// when the page's latest revision is newer than the content the caller last
// read. It deliberately does not wrap or resemble APIError: it never came
// from the API.
type EditConflictError struct {
	// Title is the page whose edit was rejected.
	Title string
	// ReadAt and LatestAt are the timestamps that were compared.
	ReadAt   string
	LatestAt string
}

func (e *EditConflictError) Error() string {
	return fmt.Sprintf("edit conflict on %q: last read %s is older than latest revision %s",
		e.Title, e.ReadAt, e.LatestAt)
}

// LimitTypeError is a programmer error: a limit parameter was neither the
// "max" sentinel nor an integer.
type LimitTypeError struct {
	Key   string
	Value string
}

func (e *LimitTypeError) Error() string {
	return fmt.Sprintf("limit %s must be %q or an integer, got %q", e.Key, "max", e.Value)
}

// ConfigError indicates a problem with the client configuration.
type ConfigError struct {
	// Field contains the name of the configuration field that caused the error
	Field string
	// Message contains the detailed error message
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Configuration errors
	ErrMissingConfig      = errors.New("configuration not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingCredentials = errors.New("missing credentials")

	// Session errors
	ErrAuthRequired   = errors.New("authentication required")
	ErrAuthFailure    = errors.New("authentication failed")
	ErrUnauthorized   = errors.New("access token rejected")
	ErrNoPendingLogin = errors.New("no login in progress")
	ErrStateMismatch  = errors.New("authorization state mismatch")

	// Catalog errors
	ErrRemoteRequestFailed = errors.New("remote request failed")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrToggleFailed        = errors.New("saved state toggle failed")

	// Playback errors
	ErrContentUnavailable = errors.New("content unavailable")

	// Input validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingArgument = errors.New("missing required argument")
	ErrUnknownCategory = errors.New("unknown category")
)

// RemoteError is a non-2xx answer from the Web API. Err, when set, is the
// underlying cause, such as [ErrUnauthorized] for a token rejected twice.
type RemoteError struct {
	Status int
	URL    string
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	var msg string
	if e.URL == "" && e.Err != nil {
		msg = fmt.Sprintf("%v: %d %s: %v", ErrRemoteRequestFailed, e.Status, http.StatusText(e.Status), e.Err)
	} else {
		msg = fmt.Sprintf("%v: %s returned %d %s", ErrRemoteRequestFailed, e.URL, e.Status, http.StatusText(e.Status))
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRemoteRequestFailed}
	}
	return []error{ErrRemoteRequestFailed, e.Err}
}

// NewRemoteError builds the error for a failed response, mapping 401 to [ErrUnauthorized].
func NewRemoteError(status int, url, body string) error {
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, url)
	}
	return &RemoteError{Status: status, URL: url, Body: body}
}

package bls

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"labordash/internal/providers"
)

// TransportError reports a request that did not complete with a 2xx
// status. StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Status     string
	Excerpt    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("bls: transport failure: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("bls: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bls: HTTP %d: %s", e.StatusCode, e.Excerpt)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrRequestFailed || target == providers.ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BusinessError reports a response envelope whose status is not
// REQUEST_SUCCEEDED.
type BusinessError struct {
	Status   string
	Messages []string
	Excerpt  string
}

func (e *BusinessError) Error() string {
	status := e.Status
	if status == "" {
		status = "missing status"
	}
	return fmt.Sprintf("bls: request rejected (%s): %s", status, e.Excerpt)
}

func (e *BusinessError) Is(target error) bool {
	return target == ErrRequestFailed || target == providers.ErrRejected
}

func excerpt(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimSpace(cut)
}

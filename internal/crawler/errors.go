package crawler

import (
	"errors"
	"fmt"
	"net"
)

// FetchErrorKind classifies fetch failures for retry decisions.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchTimeout         FetchErrorKind = "timeout"
	FetchHTTPStatus      FetchErrorKind = "http_status"
	FetchConnectionError FetchErrorKind = "connection_error"
)

// FetchError wraps a failed fetch attempt with its classification.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// retryableStatuses mirrors the retry policy for upstream failures.
var retryableStatuses = map[int]struct{}{
	500: {}, 502: {}, 503: {}, 504: {}, 408: {}, 429: {},
}

// Retryable reports whether the failure is transient.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchTimeout, FetchConnectionError:
		return true
	case FetchHTTPStatus:
		_, ok := retryableStatuses[e.StatusCode]
		return ok
	default:
		return false
	}
}

// ClassifyFetchError maps an arbitrary transport error to a FetchError.
// HTTP status failures are built explicitly by the fetcher; everything
// else lands here.
func ClassifyFetchError(url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: FetchConnectionError, URL: url, Err: err}
}

// DropReason tags items removed from the pipeline without error.
type DropReason string

// Drop reasons, surfaced in logs and metrics only.
const (
	DropEmptyContent     DropReason = "empty_content"
	DropMissingURL       DropReason = "missing_url"
	DropMissingTitle     DropReason = "missing_title"
	DropMissingContent   DropReason = "missing_content"
	DropContentTooShort  DropReason = "content_too_short"
	DropDuplicateURL     DropReason = "duplicate_url"
	DropDuplicateContent DropReason = "duplicate_content"
)

// DropError signals that a stage discarded the item. It is not a task
// failure: the job still reports success for scheduling purposes.
type DropError struct {
	Reason DropReason
	Detail string
}

func (e *DropError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("item dropped: %s", e.Reason)
	}
	return fmt.Sprintf("item dropped: %s: %s", e.Reason, e.Detail)
}

// Dropf builds a DropError with a formatted detail string.
func Dropf(reason DropReason, format string, args ...any) *DropError {
	return &DropError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsDrop extracts a DropError from an error chain.
func AsDrop(err error) (*DropError, bool) {
	var de *DropError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a remote call failed.
type ErrorKind string

const (
	// KindTransport covers connection failures, timeouts and cancellation.
	KindTransport ErrorKind = "transport"
	// KindStatus is a response outside the 2xx range.
	KindStatus ErrorKind = "status"
	// KindDecode is a 2xx response whose body is not the expected JSON.
	KindDecode ErrorKind = "decode"
)

// FetchError describes a failed remote call.
type FetchError struct {
	Endpoint Endpoint
	Method   string
	URL      string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call was abandoned because its deadline passed.
func (e *FetchError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// KindOf returns the kind of a *FetchError anywhere in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

package remote

import (
	"errors"
	"fmt"
)

// Code classifies a directory resolution failure.
type Code string

const (
	CodeSelf          Code = "SELF"
	CodeNotFound      Code = "NOT_FOUND"
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeResolveFailed Code = "RESOLVE_FAILED"
)

// ErrRequestFailed wraps transport errors and unexpected statuses from
// history, recency and sync calls.
var ErrRequestFailed = errors.New("request failed")

// ResolveError is returned by Client.Resolve for every classified failure.
type ResolveError struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s", e.Code, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// ResolveCode extracts the classification from err, if any.
func ResolveCode(err error) (Code, bool) {
	var target *ResolveError
	if errors.As(err, &target) {
		return target.Code, true
	}
	return "", false
}

package conversation

import (
	"errors"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/service/remote"
)

// Code is the stable classification shown to the user.
type Code string

const (
	CodeNotLoggedIn   Code = "NOT_LOGGED_IN"
	CodeNoPeer        Code = "NO_PEER"
	CodeSelfChat      Code = "SELF_CHAT"
	CodeEmptyDraft    Code = "EMPTY_DRAFT"
	CodeSelf          Code = "SELF"
	CodeNotFound      Code = "NOT_FOUND"
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeResolveFailed Code = "RESOLVE_FAILED"
	CodeLoadFailed    Code = "LOAD_FAILED"
	CodeNotOpen       Code = "NOT_OPEN"
	CodeConnectFailed Code = "CONNECT_FAILED"
)

// Error is a classified engine failure. Two errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotLoggedIn   = &Error{Code: CodeNotLoggedIn, Message: "Not logged in"}
	ErrNoPeer        = &Error{Code: CodeNoPeer, Message: "Choose a user (email or recent)"}
	ErrSelfChat      = &Error{Code: CodeSelfChat, Message: "You cannot chat with yourself"}
	ErrEmptyDraft    = &Error{Code: CodeEmptyDraft, Message: "Message is empty"}
	ErrSelf          = &Error{Code: CodeSelf, Message: "Cannot start conversation with yourself"}
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "User not found"}
	ErrBadRequest    = &Error{Code: CodeBadRequest, Message: "Invalid user lookup"}
	ErrResolveFailed = &Error{Code: CodeResolveFailed, Message: "Failed to resolve user"}
	ErrLoadFailed    = &Error{Code: CodeLoadFailed, Message: "Failed to load messages"}
	ErrNotOpen       = &Error{Code: CodeNotOpen, Message: "WebSocket not open"}
	ErrConnectFailed = &Error{Code: CodeConnectFailed, Message: "Failed to connect"}
)

// CodeOf returns the classification of err, or "" for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func wrap(base *Error, err error) *Error {
	return &Error{Code: base.Code, Message: base.Message, Err: err}
}

func classifyResolve(err error) *Error {
	if errors.Is(err, identity.ErrNotLoggedIn) {
		return wrap(ErrNotLoggedIn, err)
	}
	code, ok := remote.ResolveCode(err)
	if !ok {
		return wrap(ErrResolveFailed, err)
	}
	switch code {
	case remote.CodeSelf:
		return wrap(ErrSelf, err)
	case remote.CodeNotFound:
		return wrap(ErrNotFound, err)
	case remote.CodeBadRequest:
		return wrap(ErrBadRequest, err)
	default:
		return wrap(ErrResolveFailed, err)
	}
}

func classifyLoad(err error) *Error {
	if errors.Is(err, identity.ErrNotLoggedIn) {
		return wrap(ErrNotLoggedIn, err)
	}
	return wrap(ErrLoadFailed, err)
}

package p2p

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed remote call.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnreachable
	KindProtocol
	KindRejected
	KindAlreadyExists
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindProtocol:
		return "protocol"
	case KindRejected:
		return "rejected"
	case KindAlreadyExists:
		return "already exists"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var (
	ErrUnreachable   = errors.New("node unreachable")
	ErrProtocol      = errors.New("unexpected response")
	ErrRejected      = errors.New("request rejected")
	ErrAlreadyExists = errors.New("already exists")
	ErrTimeout       = errors.New("request timed out")
)

var kindSentinels = map[Kind]error{
	KindUnreachable:   ErrUnreachable,
	KindProtocol:      ErrProtocol,
	KindRejected:      ErrRejected,
	KindAlreadyExists: ErrAlreadyExists,
	KindTimeout:       ErrTimeout,
}

// Error is returned by every remote call that fails. Message is the
// server's message when one was sent.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind. AlreadyExists is a subcase
// of Rejected and matches both.
func (e *Error) Is(target error) bool {
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	return e.Kind == KindAlreadyExists && target == ErrRejected
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// alreadyExistsText is how the server words duplicate directives.
const alreadyExistsText = "already exists"

// Rejection builds the error for a server that answered with a message.
// Duplicate directives are recognised by their text.
func Rejection(op string, status int, msg string) *Error {
	kind := KindRejected
	if strings.Contains(strings.ToLower(msg), alreadyExistsText) {
		kind = KindAlreadyExists
	}
	return &Error{Op: op, Kind: kind, Status: status, Message: msg}
}

// Unexpected builds the error for a response whose body could not be
// understood.
func Unexpected(op string, status int, body []byte) *Error {
	return &Error{
		Op:      op,
		Kind:    KindProtocol,
		Status:  status,
		Message: fmt.Sprintf("unexpected status %d: %s", status, strings.TrimSpace(string(body))),
	}
}

// Malformed builds the error for a 2xx body that does not decode.
func Malformed(op string, status int, err error) *Error {
	return &Error{Op: op, Kind: KindProtocol, Status: status, Err: fmt.Errorf("decoding response: %w", err)}
}

// Transport classifies an error returned before any response arrived.
func Transport(op string, err error) *Error {
	kind := KindUnreachable
	var te interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &te) && te.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

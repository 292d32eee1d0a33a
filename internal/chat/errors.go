package chat

import "errors"

// Sentinels returned by store implementations
var (
	ErrNotFound      = errors.New("not found")
	ErrNotFriends    = errors.New("users are not friends")
	ErrReactionLimit = errors.New("reaction limit reached")
)

// Kind classifies an error for the client. Anything that is not a *Error
// is KindUnexpected and its detail never leaves the server.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	}
	return "unexpected"
}

// Error is a client-safe failure of a post-join event
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }
func NotFound(msg string) error   { return &Error{Kind: KindNotFound, Msg: msg} }
func Forbidden(msg string) error  { return &Error{Kind: KindForbidden, Msg: msg} }

// KindOf returns the kind of err, KindUnexpected when it is not a *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

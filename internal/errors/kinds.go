package errors

import "errors"

// Domain error kinds. Services return these (possibly wrapped); transports
// translate them with Map / HTTPStatus.
var (
	ErrSelfAction      = errors.New("cannot act on yourself")
	ErrNotVerified     = errors.New("profile is not verified")
	ErrBlocked         = errors.New("interaction blocked")
	ErrDuplicate       = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state for this operation")
	ErrForbidden       = errors.New("forbidden")
	ErrReadOnly        = errors.New("read-only member cannot write")
	ErrAlreadyMember   = errors.New("already a member")
	ErrNotAMember      = errors.New("not an active member")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind is the stable, client-facing name of an error kind.
type Kind string

const (
	KindSelfAction      Kind = "SELF_ACTION"
	KindNotVerified     Kind = "NOT_VERIFIED"
	KindBlocked         Kind = "BLOCKED"
	KindDuplicate       Kind = "DUPLICATE"
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidState    Kind = "INVALID_STATE"
	KindForbidden       Kind = "FORBIDDEN"
	KindReadOnly        Kind = "READ_ONLY"
	KindAlreadyMember   Kind = "ALREADY_MEMBER"
	KindNotAMember      Kind = "NOT_A_MEMBER"
	KindEmptyMessage    Kind = "EMPTY_MESSAGE"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindInternal        Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrSelfAction, KindSelfAction},
	{ErrNotVerified, KindNotVerified},
	{ErrBlocked, KindBlocked},
	{ErrDuplicate, KindDuplicate},
	{ErrNotFound, KindNotFound},
	{ErrInvalidState, KindInvalidState},
	{ErrReadOnly, KindReadOnly},
	{ErrForbidden, KindForbidden},
	{ErrAlreadyMember, KindAlreadyMember},
	{ErrNotAMember, KindNotAMember},
	{ErrEmptyMessage, KindEmptyMessage},
	{ErrInvalidArgument, KindInvalidArgument},
}

// KindOf returns the kind of err, or KindInternal for anything that is not
// part of the domain taxonomy.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsDomain reports whether err is a domain error rather than an infrastructure one.
func IsDomain(err error) bool {
	return err != nil && KindOf(err) != KindInternal
}

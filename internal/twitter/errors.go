package twitter

import (
	"errors"
	"fmt"
)

// Kind enumerates every failure the fetch/parse pipeline can produce.
// The set is closed; anything the upstream invents that we have not seen
// before lands in KindOther with the raw message preserved.
type Kind int

const (
	KindOther Kind = iota
	KindLoginFailed
	KindNotATweet
	KindRateLimited
	KindNotExists
	KindAccountSuspended
	KindAccountNotExisted
	KindAdultContent
	KindRestricted
	KindIllegalBan
	KindUnknownTweet
	KindSchemaInvalid
	KindUnimplemented
)

func (k Kind) String() string {
	switch k {
	case KindLoginFailed:
		return "login failed"
	case KindNotATweet:
		return "url is not a tweet link"
	case KindRateLimited:
		return "rate limit exceeded"
	case KindNotExists:
		return "tweet does not exist"
	case KindAccountSuspended:
		return "account is suspended"
	case KindAccountNotExisted:
		return "account does not exist"
	case KindAdultContent:
		return "adult content, needs login"
	case KindRestricted:
		return "tweet is restricted by author"
	case KindIllegalBan:
		return "tweet is banned for illegal content"
	case KindUnknownTweet:
		return "unknown tweet error"
	case KindSchemaInvalid:
		return "tweet json schema invalid"
	case KindUnimplemented:
		return "unimplemented payload shape"
	default:
		return "error"
	}
}

// Error is the single domain error type carried through the pipeline.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Msg)
}

// E creates a bare domain error of the given kind
func E(kind Kind) error {
	return &Error{Kind: kind}
}

// Errorf creates a domain error with a formatted message
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error chain.
// Non-domain errors report KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FailReason is the terminal outcome persisted to the fail table.
// Values match the store's CHECK constraint.
type FailReason string

const (
	FailRestricted        FailReason = "restricted"
	FailDeleted           FailReason = "deleted"
	FailAccountSuspended  FailReason = "account suspended"
	FailAccountNotExisted FailReason = "account not existed"
)

// TerminalReason maps an error onto a persistable terminal outcome.
// Errors with no mapping are retryable: they go back into the remaining
// set instead of being recorded. Illegal-content bans are persisted as
// deleted, matching the stored reason set.
func TerminalReason(err error) (FailReason, bool) {
	switch KindOf(err) {
	case KindRestricted:
		return FailRestricted, true
	case KindNotExists, KindIllegalBan:
		return FailDeleted, true
	case KindAccountSuspended:
		return FailAccountSuspended, true
	case KindAccountNotExisted:
		return FailAccountNotExisted, true
	default:
		return "", false
	}
}

package voting

import (
	"errors"
	"fmt"
)

// RejectionKind classifies why the ledger refused an operation.
type RejectionKind string

const (
	// KindNotFound means the referenced submission or challenge does not exist.
	KindNotFound RejectionKind = "not_found"
	// KindInvalidState means the submission or challenge is not in a votable state.
	KindInvalidState RejectionKind = "invalid_state"
	// KindDuplicate means a vote already exists (cast) or is missing (retract).
	KindDuplicate RejectionKind = "duplicate"
	// KindUnauthenticated means no verified voter identity was supplied.
	KindUnauthenticated RejectionKind = "unauthenticated"
)

// Rejection is the typed error surfaced for every precondition failure.
type Rejection struct {
	Kind    RejectionKind
	Message string
	cause   error
}

func (r *Rejection) Error() string {
	if r.cause == nil {
		return fmt.Sprintf("voting: %s: %s", r.Kind, r.Message)
	}
	return fmt.Sprintf("voting: %s: %s: %v", r.Kind, r.Message, r.cause)
}

func (r *Rejection) Unwrap() error {
	return r.cause
}

func reject(kind RejectionKind, message string) error {
	return &Rejection{Kind: kind, Message: message}
}

func rejectWithCause(kind RejectionKind, message string, cause error) error {
	return &Rejection{Kind: kind, Message: message, cause: cause}
}

// AsRejection extracts the typed rejection from an error chain, if present.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

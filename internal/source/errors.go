package source

import (
	"errors"
	"fmt"
)

var (
	ErrSourceExhausted     = errors.New("source exhausted")
	ErrAllSourcesExhausted = errors.New("all sources exhausted")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

type FailureKind int

const (
	// Transient covers timeouts, connection failures and 5xx responses.
	Transient FailureKind = iota
	// Blocked is an explicit block or rate-limit signal. It is retried like a
	// transient failure but also counts towards parking the source.
	Blocked
	// Permanent is a payload that could not be understood. Never retried.
	Permanent
	// Unavailable means the source cannot serve the request at all, e.g. a
	// missing token. Skipped without counting as a failed attempt.
	Unavailable
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Blocked:
		return "blocked"
	case Permanent:
		return "permanent"
	case Unavailable:
		return "unavailable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k FailureKind) Retryable() bool {
	return k == Transient || k == Blocked
}

type SourceError struct {
	Source string
	Kind   FailureKind
	Status int
	Err    error
}

func (e *SourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Source, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func NewTransient(source string, status int, err error) error {
	return &SourceError{Source: source, Kind: Transient, Status: status, Err: err}
}

func NewBlocked(source string, status int, err error) error {
	return &SourceError{Source: source, Kind: Blocked, Status: status, Err: err}
}

func NewPermanent(source string, err error) error {
	return &SourceError{Source: source, Kind: Permanent, Err: err}
}

func NewUnavailable(source string, err error) error {
	if err == nil {
		err = ErrProviderUnavailable
	}
	return &SourceError{Source: source, Kind: Unavailable, Err: err}
}

// Classify maps any fetch error onto a FailureKind. Errors that carry no
// classification are treated as transient.
func Classify(err error) FailureKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return Unavailable
	}
	return Transient
}

// Package verification holds the rail-independent outcome of checking a
// payment against its intent. Every rail adapter reports through these
// types so settlement never inspects rail-specific errors.
package verification

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrTransient      = errors.New("payment not yet confirmed")
	ErrReplayConflict = errors.New("external reference already bound to another intent")
)

// Rejection means the rail positively reported a payment that does not
// satisfy the intent. It is terminal for the intent.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "payment rejected: " + r.Reason
}

func Reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

func Transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

type Kind string

const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindRejected   Kind = "rejected"
	KindTransient  Kind = "transient"
	KindReplay     Kind = "replay_conflict"
	KindInternal   Kind = "internal"
)

// KindOf classifies err into the taxonomy; anything unrecognised is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case IsRejection(err):
		return KindRejected
	case errors.Is(err, ErrReplayConflict):
		return KindReplay
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	}
	return KindInternal
}

// Result is what a rail reports for an accepted payment.
type Result struct {
	Accepted          bool
	ExternalReference string
	Sender            string
	Receiver          string
	Asset             string
	AmountRaw         string
}

// AtLeast reports whether got >= want, both base-10 integer strings.
// Unparseable input never compares as sufficient.
func AtLeast(got, want string) (bool, error) {
	g, ok := new(big.Int).SetString(got, 10)
	if !ok {
		return false, fmt.Errorf("invalid amount %q", got)
	}
	w, ok := new(big.Int).SetString(want, 10)
	if !ok {
		return false, fmt.Errorf("invalid amount %q", want)
	}
	return g.Cmp(w) >= 0, nil
}

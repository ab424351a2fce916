package analyzer

import (
	"errors"
	"fmt"
)

// Kind classifies why an analysis failed.
type Kind int

const (
	KindUnexpected Kind = iota
	KindDecode
	KindReshape
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindReshape:
		return "reshape"
	default:
		return "unexpected"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind carried by err. Errors that did not come from the
// analyzer are KindUnexpected.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnexpected
}

func wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

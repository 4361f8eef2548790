package probes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ExpectedError is the sentinel failure the harness asserts on. Two values
// compare equal under errors.Is iff they carry the same arguments.
type ExpectedError struct {
	Args []string
}

func NewExpectedError(args ...string) *ExpectedError {
	return &ExpectedError{Args: args}
}

func (e *ExpectedError) Error() string {
	return strings.Join(e.Args, ", ")
}

func (e *ExpectedError) Is(target error) bool {
	var other *ExpectedError
	if !errors.As(target, &other) {
		return false
	}
	if len(e.Args) != len(other.Args) {
		return false
	}
	for i := range e.Args {
		if e.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}

// UnserializableError is constructed successfully but refuses to round-trip
// through JSON, so the framework can only propagate its message. The result
// backend must degrade to that message rather than crash.
type UnserializableError struct {
	Foo string
	Bar string
}

// NewUnserializableError fails loudly when bar is missing, succeeds
// otherwise.
func NewUnserializableError(foo, bar string) (*UnserializableError, error) {
	if bar == "" {
		return nil, errors.New("bar must be provided")
	}
	return &UnserializableError{Foo: foo, Bar: bar}, nil
}

func (e *UnserializableError) Error() string {
	return e.Foo
}

func (e *UnserializableError) MarshalJSON() ([]byte, error) {
	return nil, errors.New("unserializable error does not marshal")
}

func (e *UnserializableError) UnmarshalJSON([]byte) error {
	return errors.New("unserializable error does not unmarshal")
}

var _ json.Marshaler = (*UnserializableError)(nil)
var _ json.Unmarshaler = (*UnserializableError)(nil)

// RaiseError deliberately fails.
func RaiseError(args ...string) error {
	return errors.New("deliberate error")
}

// Fail raises the sentinel error, prefixing the descriptive message the
// harness matches on.
func Fail(args ...string) error {
	return NewExpectedError(append([]string{"Task expected to fail"}, args...)...)
}

// FailUnserializable raises an error that cannot be reconstructed on the
// client side.
func FailUnserializable(foo, bar string) error {
	uerr, err := NewUnserializableError(foo, bar)
	if err != nil {
		return err
	}
	return uerr
}

// ErrbackEcho is linked as an error callback; the framework prepends the
// failure message to the declared arguments, and every message received is
// appended to the echo list.
func (s *Suite) ErrbackEcho(messages ...string) error {
	ctx := context.Background()
	for _, m := range messages {
		if err := s.side.Echo(ctx, s.keys.EchoKey, m); err != nil {
			return err
		}
	}
	return nil
}

// ErrbackCount is linked as an error callback carrying a request id; it
// bumps the per-request counter and returns the id.
func (s *Suite) ErrbackCount(errMsg, requestID string) (string, error) {
	if _, err := s.side.Count(context.Background(), requestID); err != nil {
		return "", err
	}
	return requestID, nil
}

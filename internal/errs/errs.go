// Package errs classifies runtime errors into the four-category taxonomy
// the runner uses to decide whether a failure is surfaced to the LLM
// transcript, triggers a fallback chain, or terminates the process.
package errs

import "errors"

// User wraps an invalid-argument, missing-workspace, unknown-tool, or
// blocked-command/URL error. Always reported back into the transcript.
type User struct {
	Msg string
	Err error
}

func (e *User) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *User) Unwrap() error { return e.Err }

func NewUser(msg string) error             { return &User{Msg: msg} }
func WrapUser(msg string, err error) error { return &User{Msg: msg, Err: err} }

// External wraps network failures, provider non-2xx responses, and
// subprocess non-zero exits. Callers may retry via a fallback chain.
type External struct {
	Msg string
	Err error
}

func (e *External) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *External) Unwrap() error { return e.Err }

func NewExternal(msg string) error             { return &External{Msg: msg} }
func WrapExternal(msg string, err error) error { return &External{Msg: msg, Err: err} }

// Permission wraps a classifier "blocked" verdict, an approval timeout, or
// an explicit operator denial.
type Permission struct {
	Msg string
}

func (e *Permission) Error() string { return e.Msg }

func NewPermission(msg string) error { return &Permission{Msg: msg} }

// Internal wraps an unexpected exception in a handler. The session that
// produced it transitions to the error lifecycle state.
type Internal struct {
	Msg string
	Err error
}

func (e *Internal) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Internal) Unwrap() error { return e.Err }

func NewInternal(msg string) error             { return &Internal{Msg: msg} }
func WrapInternal(msg string, err error) error { return &Internal{Msg: msg, Err: err} }

func IsUser(err error) bool {
	var t *User
	return errors.As(err, &t)
}

func IsExternal(err error) bool {
	var t *External
	return errors.As(err, &t)
}

func IsPermission(err error) bool {
	var t *Permission
	return errors.As(err, &t)
}

func IsInternal(err error) bool {
	var t *Internal
	return errors.As(err, &t)
}

// Package apierr defines the error taxonomy shared by the Store, the
// background workers, and the HTTP façade: DataArgument, NotFound,
// Transient, and External.
package apierr

import (
	"errors"
	"fmt"
)

// kind identifies which taxonomy bucket an error belongs to.
type kind int

const (
	kindDataArgument kind = iota
	kindNotFound
	kindTransient
	kindExternal
)

// Error wraps a message with a taxonomy kind.
type Error struct {
	kind kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// DataArgument reports a caller-supplied argument that was rejected
// (e.g. a duplicate nickname, an unknown ad_query_id passed where the
// Store expects an existing row).
func DataArgument(msg string) error {
	return &Error{kind: kindDataArgument, msg: msg}
}

// DataArgumentf is DataArgument with formatting.
func DataArgumentf(format string, args ...any) error {
	return &Error{kind: kindDataArgument, msg: fmt.Sprintf(format, args...)}
}

// NotFound reports that a lookup found no matching row.
func NotFound(msg string) error {
	return &Error{kind: kindNotFound, msg: msg}
}

// Transient wraps an underlying database contention error. Transient
// errors are retried internally by the Store and must never escape it.
func Transient(err error) error {
	return &Error{kind: kindTransient, msg: "transient database contention", err: err}
}

// External wraps a failure from the HeadlessBrowser or WebPushSender
// collaborators.
func External(msg string, err error) error {
	return &Error{kind: kindExternal, msg: msg, err: err}
}

// IsDataArgument reports whether err (or any error it wraps) is a
// DataArgument error.
func IsDataArgument(err error) bool { return hasKind(err, kindDataArgument) }

// IsNotFound reports whether err (or any error it wraps) is a NotFound
// error.
func IsNotFound(err error) bool { return hasKind(err, kindNotFound) }

// IsTransient reports whether err (or any error it wraps) is a
// Transient error.
func IsTransient(err error) bool { return hasKind(err, kindTransient) }

// IsExternal reports whether err (or any error it wraps) is an
// External error.
func IsExternal(err error) bool { return hasKind(err, kindExternal) }

func hasKind(err error, k kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == k
	}
	return false
}

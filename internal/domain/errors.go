// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed or incomplete input.
var ErrValidation = errors.New("validation failed")

// ErrAdmissionRejected indicates the concurrent-run cap is reached.
// Callers should retry later; no state is created.
var ErrAdmissionRejected = errors.New("admission rejected: run capacity reached")

// ErrTerminalState indicates an operation is not valid for a session
// that already reached a terminal status.
var ErrTerminalState = errors.New("session is in a terminal state")

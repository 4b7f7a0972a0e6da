// Package dhterr is the protocol engine's wire-visible error taxonomy,
// modeled directly on the teacher's errs.Errors/errs.Error pattern
// (bzz/protocol.go: errs.Errors{Package, Errors: errorToString},
// self.errors.New(code, format, params...)). Only the protocol engine, the
// boundary that must classify errors by a wire-visible code the way bzz
// classifies its four message-level errors, uses this registry; the rest of
// the module returns plain wrapped errors per ordinary Go idiom.
package dhterr

import (
	"fmt"

	"github.com/lbryio/go-dht/internal/logging"
)

// Code identifies one of the kinds named in SPEC_FULL.md §7.
type Code int

const (
	Decode Code = iota
	Protocol
	Timeout
	Remote
	Token
	TransportNotConnected
	InvalidKeyLength
)

var names = map[Code]string{
	Decode:                "decode error",
	Protocol:               "protocol error",
	Timeout:                "timeout",
	Remote:                 "remote error",
	Token:                  "token error",
	TransportNotConnected:  "transport not connected",
	InvalidKeyLength:       "invalid key length",
}

// Errors is a package-scoped registry of the codes above, one per component
// that speaks the wire protocol (today: only the protocol engine).
type Errors struct {
	Package string
}

// Error is a single raised error: a code, a formatted message, and whether
// it is fatal to the RPC exchange that raised it (fatal errors are classified
// by the caller; see Fatal).
type Error struct {
	Package string
	Code    Code
	Message string
	fatal   bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Package, names[e.Code], e.Message)
}

// Fatal reports whether this error should end the RPC exchange rather than
// simply being surfaced to the caller as a failed attempt.
func (e *Error) Fatal() bool { return e.fatal }

// New constructs a raised Error for code, formatting message the way
// errs.Errors.New does in the teacher.
func (r *Errors) New(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Package: r.Package,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Fatal marks e as connection-ending and returns it, for chaining at the
// call site: return nil, errs.Fatal(errs.New(...)).
func Fatal(e *Error) *Error {
	e.fatal = true
	return e
}

// Log writes e through logger at Warn level, matching err.Log(glog.V(...))
// in the teacher.
func (e *Error) Log(logger *logging.Logger) {
	logger.Warnf("%s", e.Error())
}

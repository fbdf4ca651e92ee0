package table

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes override engine errors.
type ErrorCode string

const (
	// CodeSchemaMismatch: a contribution's schema tag or row shape disagrees
	// with the table's declared schema.
	CodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	// CodeUnknownTable: the table was never declared and lazy creation is off.
	CodeUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// CodeLoadFailure: the loader could not produce a descriptor.
	CodeLoadFailure ErrorCode = "LOAD_FAILURE"

	// CodeLedgerInconsistency: an internal bookkeeping invariant was violated,
	// for example unregistering a contribution that is not live.
	CodeLedgerInconsistency ErrorCode = "LEDGER_INCONSISTENCY"

	// CodeInvalidTransition: a command arrived in a state that does not accept it.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Sentinels for errors.Is. An *Error matches the sentinel with the same code.
var (
	ErrSchemaMismatch      = &Error{Code: CodeSchemaMismatch}
	ErrUnknownTable        = &Error{Code: CodeUnknownTable}
	ErrLoadFailure         = &Error{Code: CodeLoadFailure}
	ErrLedgerInconsistency = &Error{Code: CodeLedgerInconsistency}
	ErrInvalidTransition   = &Error{Code: CodeInvalidTransition}
)

// Error is the typed error returned by the registry, ledger and feature
// actions.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Table names the affected table, if any.
	Table string

	// Feature names the affected feature, if any.
	Feature string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch {
	case e.Table != "" && e.Feature != "":
		msg += fmt.Sprintf(" (table=%s, feature=%s)", e.Table, e.Feature)
	case e.Table != "":
		msg += fmt.Sprintf(" (table=%s)", e.Table)
	case e.Feature != "":
		msg += fmt.Sprintf(" (feature=%s)", e.Feature)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrUnknownTable)
// works regardless of the table or message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewSchemaMismatch creates a schema mismatch error for table.
func NewSchemaMismatch(table, format string, args ...any) *Error {
	return &Error{Code: CodeSchemaMismatch, Table: table, Message: fmt.Sprintf(format, args...)}
}

// NewUnknownTable creates an unknown table error.
func NewUnknownTable(table string) *Error {
	return &Error{Code: CodeUnknownTable, Table: table, Message: "table not declared and lazy creation disabled"}
}

// NewLoadFailure wraps a loader error for feature.
func NewLoadFailure(feature string, err error) *Error {
	return &Error{Code: CodeLoadFailure, Feature: feature, Message: "descriptor load failed", Err: err}
}

// NewLedgerInconsistency creates a ledger inconsistency error.
func NewLedgerInconsistency(feature, format string, args ...any) *Error {
	return &Error{Code: CodeLedgerInconsistency, Feature: feature, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransition creates an invalid transition error.
func NewInvalidTransition(feature, command, state string) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Feature: feature,
		Message: fmt.Sprintf("%s not allowed in state %s", command, state),
	}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsSchemaMismatch reports whether err is a schema mismatch.
func IsSchemaMismatch(err error) bool { return hasCode(err, CodeSchemaMismatch) }

// IsUnknownTable reports whether err is an unknown table error.
func IsUnknownTable(err error) bool { return hasCode(err, CodeUnknownTable) }

// IsLoadFailure reports whether err is a load failure.
func IsLoadFailure(err error) bool { return hasCode(err, CodeLoadFailure) }

// IsLedgerInconsistency reports whether err is a ledger inconsistency.
func IsLedgerInconsistency(err error) bool { return hasCode(err, CodeLedgerInconsistency) }

// IsInvalidTransition reports whether err is an invalid transition.
func IsInvalidTransition(err error) bool { return hasCode(err, CodeInvalidTransition) }

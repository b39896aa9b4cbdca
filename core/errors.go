// Package core holds the shared configuration and the closed error-code set
// for the Fort Knox editorial pipeline.
package core

import "fmt"

// ErrorCode is one of the closed set of machine-readable error codes that
// cross the HTTP surface. Codes are stable contract; the short Swedish
// message is for display only.
type ErrorCode string

// The closed error-code set.
const (
	CodeFortKnoxOffline  ErrorCode = "FORTKNOX_OFFLINE"
	CodeInputGateFailed  ErrorCode = "INPUT_GATE_FAILED"
	CodeOutputGateFailed ErrorCode = "OUTPUT_GATE_FAILED"
	CodeEmptyInputSet    ErrorCode = "EMPTY_INPUT_SET"
	CodeOriginalMissing  ErrorCode = "ORIGINAL_MISSING"
	CodeOrphansRemaining ErrorCode = "ORPHANS_REMAINING"
	CodeValidationError  ErrorCode = "VALIDATION_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeNetworkError     ErrorCode = "NETWORK_ERROR"
	CodeUnmaskable       ErrorCode = "UNMASKABLE"
)

// messages maps codes to the short Swedish text shown in the UI.
var messages = map[ErrorCode]string{
	CodeFortKnoxOffline:  "Fort Knox är inte tillgänglig",
	CodeInputGateFailed:  "Innehållet stoppades av ingångskontrollen",
	CodeOutputGateFailed: "Rapporten stoppades av utgångskontrollen",
	CodeEmptyInputSet:    "Inget underlag att sammanställa",
	CodeOriginalMissing:  "Originalfilen saknas",
	CodeOrphansRemaining: "Radering lämnade kvar filer",
	CodeValidationError:  "Ogiltig begäran",
	CodeTimeout:          "Tidsgränsen överskreds",
	CodeNetworkError:     "Nätverksfel",
	CodeUnmaskable:       "Texten kunde inte maskeras säkert",
}

// Message returns the display text for a code.
func (c ErrorCode) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return string(c)
}

// CodedError is a typed error carrying an ErrorCode, optional per-item
// reasons (gate failures), and an optional detail string. It is the only
// error shape that crosses component boundaries for expected failures.
// Count carries a machine-readable quantity for codes that have one
// (ORPHANS_REMAINING: blobs left behind).
type CodedError struct {
	Code    ErrorCode
	Reasons []string
	Detail  string
	Count   int
}

func (e *CodedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return string(e.Code)
}

// NewError builds a CodedError with a detail message.
func NewError(code ErrorCode, detail string) *CodedError {
	return &CodedError{Code: code, Detail: detail}
}

// NewGateError builds a CodedError carrying per-item gate reasons.
func NewGateError(code ErrorCode, reasons []string) *CodedError {
	return &CodedError{Code: code, Reasons: reasons}
}

package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures for the API layer.
type ErrorCode string

const (
	// Validation failures; client-fixable, never retried by the engine.
	CodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	CodeBidTooLow        ErrorCode = "BID_TOO_LOW"
	CodeAuctionNotActive ErrorCode = "AUCTION_NOT_ACTIVE"
	CodeAuctionEnded     ErrorCode = "AUCTION_ENDED"

	// CodeConflict is returned after CAS retries are exhausted; the
	// caller may retry with a fresh amount.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeAuctionNotEnded rejects a non-forced close before the end time.
	CodeAuctionNotEnded ErrorCode = "AUCTION_NOT_ENDED"

	// CodeCancelForbidden rejects cancelling a listing that already has
	// accepted bids.
	CodeCancelForbidden ErrorCode = "CANCEL_FORBIDDEN"

	CodeAuctionNotFound ErrorCode = "AUCTION_NOT_FOUND"

	// CodeAlreadyClosed is surfaced only to callers that required being
	// the first closer (ForceClose); plain closes converge silently.
	CodeAlreadyClosed ErrorCode = "ALREADY_CLOSED"
)

// Error is a typed engine error. MinAcceptable is populated only for
// CodeBidTooLow so the caller can tell the bidder the exact minimum.
type Error struct {
	Code          ErrorCode
	Message       string
	MinAcceptable int64
}

func (e *Error) Error() string {
	if e.Code == CodeBidTooLow {
		return fmt.Sprintf("%s: %s (minimum %s)", e.Code, e.Message, FormatAmount(e.MinAcceptable))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes errors.Is match two engine errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError builds a typed engine error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewBidTooLow builds a BID_TOO_LOW error carrying the computed minimum.
func NewBidTooLow(min int64) *Error {
	return &Error{
		Code:          CodeBidTooLow,
		Message:       "bid below minimum acceptable amount",
		MinAcceptable: min,
	}
}

// CodeOf extracts the engine error code from err, or "" if err is not an
// engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

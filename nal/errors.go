package nal

import "errors"

// Sentinel errors returned by [Reader]. A call that returns one of these
// leaves the reader exactly where it was before the call.
var (
	// ErrInsufficientData reports a read that would run past the end of the
	// buffer.
	ErrInsufficientData = errors.New("nal: insufficient data")

	// ErrCodeOverflow reports an Exp-Golomb code whose value does not fit in
	// 32 bits.
	ErrCodeOverflow = errors.New("nal: exp-golomb code overflow")

	// ErrInvalidWidth reports a bit count outside the range of the requested
	// destination type.
	ErrInvalidWidth = errors.New("nal: invalid bit width")
)

package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is wrapped by every DescriptorError.
	ErrMalformed = errors.New("malformed descriptor")
	// ErrNumberFormat is wrapped by every DecodeError.
	ErrNumberFormat = errors.New("invalid number format")
	// ErrOutOfRange is returned by Encode for values that do not fit.
	ErrOutOfRange = errors.New("value out of range")
)

// DescriptorError reports a descriptor string that could not be parsed.
type DescriptorError struct {
	Text   string
	Reason string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("malformed descriptor %q: %s", e.Text, e.Reason)
}

func (e *DescriptorError) Unwrap() error { return ErrMalformed }

// DecodeError reports raw sample text that is not a valid number for the
// channel's descriptor.
type DecodeError struct {
	Text string
	Scan string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q as %s: %v", e.Text, e.Scan, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrNumberFormat, e.Err} }

package bridge

import "errors"

// Fixed values reported to callers
const (
	// FailureCode is the code every rejected promise carries
	FailureCode = "-1"

	InitSuccessMessage  = "Init printer success"
	InitFailureMessage  = "Init printer Failure"
	PrintFailureMessage = "Print failure"

	// StatusUnknown is reported by GetPrinterStatus when no state could be read
	StatusUnknown = -1
)

var (
	// ErrNotBound means no printer service is bound
	ErrNotBound = errors.New("printer service not bound")

	// ErrDecode means an argument could not be decoded
	ErrDecode = errors.New("argument decode failed")

	// ErrColumnMismatch means the column texts, widths and alignments differ in length
	ErrColumnMismatch = errors.New("column arrays differ in length")

	// ErrServiceFault means the printer service panicked while handling a call
	ErrServiceFault = errors.New("printer service fault")
)

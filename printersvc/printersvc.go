// Package printersvc describes the printer service a bridge forwards to: the
// command surface of the service, the callbacks it reports results through and
// the bind/unbind lifecycle used to reach it.
//
// Implementations deliver callbacks asynchronously, usually from their own
// goroutine, and never while the caller's invocation is still on the stack.
package printersvc

import "image"

// Printer state codes reported by UpdatePrinterState
const (
	StateNormal            = 1
	StatePreparing         = 2
	StateCommError         = 3
	StateOutOfPaper        = 4
	StateOverheated        = 5
	StateCoverOpen         = 6
	StateCutterError       = 7
	StateCutterRecovered   = 8
	StateBlackMarkMissing  = 9
	StateNotDetected       = 505
	StateFirmwareUpgradeKO = 507
)

// ResultOK is the print result code for a successful transaction
const ResultOK = 0

// ResultCallback receives the outcome of a single service command.
type ResultCallback interface {
	// OnRunResult reports whether the command was executed
	OnRunResult(isSuccess bool)

	// OnReturnString carries informational output of a query command
	OnReturnString(msg string)

	// OnRaiseException reports a command the service refused or failed to run
	OnRaiseException(code int, msg string)

	// OnPrintResult reports the outcome of a buffered transaction
	OnPrintResult(code int, msg string)
}

// PrinterService is the command surface of a bound printer service.
// A returned error means the command could not be handed to the service; the
// callback is then never invoked.
type PrinterService interface {
	UpdatePrinterState() (int, error)
	PrintText(text string, cb ResultCallback) error
	PrintBitmap(img image.Image, cb ResultCallback) error
	PrintBarCode(data string, symbology, height, width, textPosition int, cb ResultCallback) error
	PrintQRCode(data string, moduleSize, errorLevel int, cb ResultCallback) error
	PrintColumnsString(texts []string, widths, aligns []int, cb ResultCallback) error
	LineWrap(lines int, cb ResultCallback) error
	PrinterInit(cb ResultCallback) error
	SendRAWData(data []byte, cb ResultCallback) error
	SetFontSize(size float64, cb ResultCallback) error
	SetAlignment(alignment int, cb ResultCallback) error
	EnterPrinterBuffer(clean bool) error
	ExitPrinterBuffer(commit bool) error
	ExitPrinterBufferWithCallback(commit bool, cb ResultCallback) error
}

// ConnectionCallback is notified when a bind completes or the service goes away.
type ConnectionCallback interface {
	OnConnected(svc PrinterService)
	OnDisconnected()
}

// Binder establishes the connection to a printer service.
type Binder interface {
	// Bind starts binding and returns without waiting; the outcome is reported
	// through cb. An error means the bind could not be started at all.
	Bind(cb ConnectionCallback) error

	// Unbind releases the service obtained by the last successful bind.
	Unbind() error
}

// ResultCallbackFuncs adapts plain functions to ResultCallback. Nil fields
// ignore the corresponding event.
type ResultCallbackFuncs struct {
	RunResult      func(isSuccess bool)
	ReturnString   func(msg string)
	RaiseException func(code int, msg string)
	PrintResult    func(code int, msg string)
}

func (f ResultCallbackFuncs) OnRunResult(isSuccess bool) {
	if f.RunResult != nil {
		f.RunResult(isSuccess)
	}
}

func (f ResultCallbackFuncs) OnReturnString(msg string) {
	if f.ReturnString != nil {
		f.ReturnString(msg)
	}
}

func (f ResultCallbackFuncs) OnRaiseException(code int, msg string) {
	if f.RaiseException != nil {
		f.RaiseException(code, msg)
	}
}

func (f ResultCallbackFuncs) OnPrintResult(code int, msg string) {
	if f.PrintResult != nil {
		f.PrintResult(code, msg)
	}
}

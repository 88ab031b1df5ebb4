// Package bridge exposes printer operations to a calling layer and relays the
// printer service's asynchronous results back to it.
//
// A Bridge owns the single handle to a bound printersvc.PrinterService. Calls
// made while no service is bound fail straight away: callbacks receive false,
// GetPrinterStatus reports StatusUnknown and promises are rejected with
// FailureCode. Each forwarded call gets its own result relay, so results of
// overlapping calls are never crossed.
package bridge

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/nixxel-company-limited/escpos-bridge/printersvc"
)

// Bridge forwards printer operations to a bound printer service
type Bridge struct {
	binder printersvc.Binder
	logger *log.Logger

	mu      sync.Mutex
	service printersvc.PrinterService
	binding bool
	waiters []Promise
	// generation identifies the current bind; Close and every new bind advance it
	generation uint64
}

// New creates a new bridge that binds through binder
func New(binder printersvc.Binder) *Bridge {
	logger := log.New(os.Stdout, "[BRIDGE] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(binder, logger)
}

// NewWithLogger creates a new bridge with a custom logger
func NewWithLogger(binder printersvc.Binder, logger *log.Logger) *Bridge {
	return &Bridge{
		binder: binder,
		logger: logger,
	}
}

// Bound reports whether a printer service is currently bound
func (b *Bridge) Bound() bool {
	return b.current() != nil
}

func (b *Bridge) current() printersvc.PrinterService {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.service
}

// takeWaiters detaches the pending init promises. Caller holds b.mu.
func (b *Bridge) takeWaiters() []Promise {
	waiters := b.waiters
	b.waiters = nil
	return waiters
}

// InitPrinter binds to the printer service. p is resolved once the service is
// connected, or rejected if the bind fails or the service disconnects first.
// Requests arriving while a bind is in flight wait for that same bind.
func (b *Bridge) InitPrinter(p Promise) {
	b.mu.Lock()
	if b.service != nil {
		b.mu.Unlock()
		b.logger.Println("initPrinter: service already bound")
		if p != nil {
			p.Resolve(InitSuccessMessage)
		}
		return
	}

	if p != nil {
		b.waiters = append(b.waiters, p)
	}
	if b.binding {
		b.mu.Unlock()
		b.logger.Println("initPrinter: bind already in progress")
		return
	}
	b.binding = true
	b.generation++
	conn := connection{b: b, generation: b.generation}
	b.mu.Unlock()

	b.logger.Println("initPrinter: binding printer service...")
	err := guard(func() error {
		return b.binder.Bind(conn)
	})
	if err != nil {
		b.logger.Printf("Error: Failed to bind printer service: %v", err)
		b.mu.Lock()
		if !conn.current() {
			b.mu.Unlock()
			return
		}
		b.binding = false
		waiters := b.takeWaiters()
		b.mu.Unlock()
		rejectAll(waiters, InitFailureMessage)
	}
}

// connection receives the binder's lifecycle notifications for one bind
type connection struct {
	b          *Bridge
	generation uint64
}

// current reports whether the bind is still the bridge's latest. Caller holds b.mu.
func (c connection) current() bool {
	return c.generation == c.b.generation
}

func (c connection) OnConnected(svc printersvc.PrinterService) {
	c.b.mu.Lock()
	if !c.current() {
		c.b.mu.Unlock()
		c.b.logger.Println("Printer service connected after close, releasing it")
		c.b.release(svc)
		return
	}
	c.b.logger.Println("Printer service connected")
	c.b.service = svc
	c.b.binding = false
	waiters := c.b.takeWaiters()
	c.b.mu.Unlock()

	for _, w := range waiters {
		w.Resolve(InitSuccessMessage)
	}
}

func (c connection) OnDisconnected() {
	c.b.mu.Lock()
	if !c.current() {
		c.b.mu.Unlock()
		c.b.logger.Println("Ignoring disconnect of a closed bind")
		return
	}
	c.b.logger.Println("Printer service disconnected")
	c.b.service = nil
	c.b.binding = false
	waiters := c.b.takeWaiters()
	c.b.mu.Unlock()

	rejectAll(waiters, InitFailureMessage)
}

func rejectAll(waiters []Promise, message string) {
	for _, w := range waiters {
		w.Reject(FailureCode, message)
	}
}

// release frees a service delivered by a bind that Close already abandoned
func (b *Bridge) release(svc printersvc.PrinterService) {
	var err error
	if closer, ok := svc.(io.Closer); ok {
		err = guard(closer.Close)
	} else {
		err = guard(b.binder.Unbind)
	}
	if err != nil {
		b.logger.Printf("Error releasing printer service: %v", err)
	}
}

// Close drops the bound service, rejects pending init requests and unbinds.
// A bind still in flight is abandoned; its service is released when it arrives.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.service = nil
	b.binding = false
	b.generation++
	waiters := b.takeWaiters()
	b.mu.Unlock()

	rejectAll(waiters, InitFailureMessage)

	b.logger.Println("Unbinding printer service...")
	if err := guard(b.binder.Unbind); err != nil {
		b.logger.Printf("Error unbinding printer service: %v", err)
		return err
	}
	return nil
}

// GetPrinterStatus reports the printer state code, or StatusUnknown when the
// service is not bound or cannot be queried. cb runs before the call returns.
func (b *Bridge) GetPrinterStatus(cb func(state int)) {
	state := StatusUnknown
	if svc := b.current(); svc != nil {
		err := guard(func() error {
			s, err := svc.UpdatePrinterState()
			if err != nil {
				return err
			}
			state = s
			return nil
		})
		if err != nil {
			b.logger.Printf("getPrinterStatus: %v", err)
			state = StatusUnknown
		}
	} else {
		b.logger.Printf("getPrinterStatus: %v", ErrNotBound)
	}

	if cb != nil {
		cb(state)
	}
}

// forward hands one command to the bound service with its own result relay
func (b *Bridge) forward(op string, cb func(bool), call func(printersvc.PrinterService, printersvc.ResultCallback) error) {
	relay := newCallbackRelay(op, cb, b.logger)

	svc := b.current()
	if svc == nil {
		b.logger.Printf("%s: %v", op, ErrNotBound)
		relay.settle(false)
		return
	}

	if err := guard(func() error { return call(svc, relay) }); err != nil {
		b.logger.Printf("%s: %v", op, err)
		relay.settle(false)
	}
}

// PrintText prints text as-is
func (b *Bridge) PrintText(text string, cb func(bool)) {
	b.forward("printText", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.PrintText(text, rc)
	})
}

// PrintImage decodes a base64 encoded image and prints it
func (b *Bridge) PrintImage(data string, cb func(bool)) {
	img, err := decodeImage(data)
	if err != nil {
		b.logger.Printf("printImage: %v", err)
		if cb != nil {
			cb(false)
		}
		return
	}

	b.forward("printImage", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.PrintBitmap(img, rc)
	})
}

// PrintBarcode prints a one-dimensional barcode
func (b *Bridge) PrintBarcode(data string, symbology, height, width, textPosition int, cb func(bool)) {
	b.forward("printBarcode", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.PrintBarCode(data, symbology, height, width, textPosition, rc)
	})
}

// PrintQRCode prints a QR code
func (b *Bridge) PrintQRCode(data string, moduleSize, errorLevel int, cb func(bool)) {
	b.forward("printQRCode", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.PrintQRCode(data, moduleSize, errorLevel, rc)
	})
}

// PrintTable prints one row of columns. The three slices must have the same,
// non-zero length.
func (b *Bridge) PrintTable(texts []string, widths, aligns []int, cb func(bool)) {
	if len(texts) == 0 || len(texts) != len(widths) || len(texts) != len(aligns) {
		b.logger.Printf("printTable: %v (texts=%d widths=%d aligns=%d)",
			ErrColumnMismatch, len(texts), len(widths), len(aligns))
		if cb != nil {
			cb(false)
		}
		return
	}

	b.forward("printTable", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.PrintColumnsString(texts, widths, aligns, rc)
	})
}

// PrintLine feeds the paper by lines
func (b *Bridge) PrintLine(lines int, cb func(bool)) {
	b.forward("printLine", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.LineWrap(lines, rc)
	})
}

// Reset restores the printer's default state
func (b *Bridge) Reset(cb func(bool)) {
	b.forward("reset", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.PrinterInit(rc)
	})
}

// BoldCommand returns ESC E n
func BoldCommand(bold bool) []byte {
	cmd := []byte{0x1B, 0x45, 0x00}
	if bold {
		cmd[2] = 0x01
	}
	return cmd
}

// LineSpacingCommand returns ESC 3 n; height is truncated to its low byte
func LineSpacingCommand(height int) []byte {
	return []byte{0x1B, 0x33, byte(height)}
}

// SetBold turns emphasized printing on or off
func (b *Bridge) SetBold(bold bool, cb func(bool)) {
	b.forward("setBold", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.SendRAWData(BoldCommand(bold), rc)
	})
}

// SetHeight sets the line spacing in dots
func (b *Bridge) SetHeight(height int, cb func(bool)) {
	b.forward("setHeight", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.SendRAWData(LineSpacingCommand(height), rc)
	})
}

// SetFontSize sets the font size in pixels
func (b *Bridge) SetFontSize(size int, cb func(bool)) {
	b.forward("setFontSize", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.SetFontSize(float64(size), rc)
	})
}

// SetAlignment sets the alignment: 0 left, 1 center, 2 right
func (b *Bridge) SetAlignment(alignment int, cb func(bool)) {
	b.forward("setAlignment", cb, func(svc printersvc.PrinterService, rc printersvc.ResultCallback) error {
		return svc.SetAlignment(alignment, rc)
	})
}

// EnterPrinterBuffer starts a buffered transaction, discarding any earlier
// buffered content. It has no result.
func (b *Bridge) EnterPrinterBuffer() {
	svc := b.current()
	if svc == nil {
		b.logger.Printf("enterPrinterBuffer: %v", ErrNotBound)
		return
	}

	if err := guard(func() error { return svc.EnterPrinterBuffer(true) }); err != nil {
		b.logger.Printf("enterPrinterBuffer: %v", err)
	}
}

// ExitPrinterBuffer commits the buffered transaction. With a nil promise the
// commit is fire-and-forget; otherwise p resolves with a PrintResult.
func (b *Bridge) ExitPrinterBuffer(p Promise) {
	svc := b.current()
	if svc == nil {
		b.logger.Printf("exitPrinterBuffer: %v", ErrNotBound)
		if p != nil {
			p.Reject(FailureCode, PrintFailureMessage)
		}
		return
	}

	if p == nil {
		if err := guard(func() error { return svc.ExitPrinterBuffer(true) }); err != nil {
			b.logger.Printf("exitPrinterBuffer: %v", err)
		}
		return
	}

	relay := newPromiseRelay("exitPrinterBuffer", p, b.logger)
	if err := guard(func() error { return svc.ExitPrinterBufferWithCallback(true, relay) }); err != nil {
		b.logger.Printf("exitPrinterBuffer: %v", err)
		relay.reject()
	}
}

// guard runs fn and turns a panic into an error
func guard(fn func() error) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("%w: %v", ErrServiceFault, r.AsError())
	}
	return err
}

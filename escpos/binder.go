package escpos

import (
	"errors"
	"log"
	"os"
	"sync"

	"github.com/nixxel-company-limited/escpos-bridge/adapter"
	"github.com/nixxel-company-limited/escpos-bridge/printersvc"
)

// Opener returns a fresh adapter for each bind
type Opener func() (adapter.Adapter, error)

// Binder binds an ESC/POS Service on top of adapters produced by an Opener.
// The adapter is opened on a separate goroutine; the outcome is reported to
// the ConnectionCallback. If the adapter publishes events, its close event
// reports a disconnect.
type Binder struct {
	open   Opener
	opts   Options
	logger *log.Logger

	mu      sync.Mutex
	service *Service
}

// NewBinder creates a binder
func NewBinder(open Opener, opts Options) *Binder {
	logger := log.New(os.Stdout, "[ESCPOS] ", log.LstdFlags|log.Lmsgprefix)
	return NewBinderWithLogger(open, opts, logger)
}

// NewBinderWithLogger creates a binder with a custom logger
func NewBinderWithLogger(open Opener, opts Options, logger *log.Logger) *Binder {
	return &Binder{
		open:   open,
		opts:   opts,
		logger: logger,
	}
}

// Bind opens a printer adapter in the background
func (b *Binder) Bind(cb printersvc.ConnectionCallback) error {
	if b.open == nil {
		return errors.New("no printer adapter configured")
	}
	if cb == nil {
		return errors.New("nil connection callback")
	}

	go b.connect(cb)
	return nil
}

func (b *Binder) connect(cb printersvc.ConnectionCallback) {
	b.logger.Println("Opening printer adapter...")
	device, err := b.open()
	if err != nil {
		b.logger.Printf("Error: Failed to find printer: %v", err)
		cb.OnDisconnected()
		return
	}

	if !device.IsOpen() {
		if err := device.Open(); err != nil {
			b.logger.Printf("Error: Failed to open adapter: %v", err)
			device.Close()
			cb.OnDisconnected()
			return
		}
	}

	svc, err := NewServiceWithLogger(device, b.opts, b.logger)
	if err != nil {
		b.logger.Printf("Error: Failed to start printer service: %v", err)
		device.Close()
		cb.OnDisconnected()
		return
	}

	b.mu.Lock()
	previous := b.service
	b.service = svc
	b.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	if n, ok := device.(adapter.Notifier); ok {
		n.On(adapter.EventClose, func(adapter.Event) {
			b.mu.Lock()
			current := b.service == svc
			if current {
				b.service = nil
			}
			b.mu.Unlock()

			// Unbind clears the service first, so only unexpected closes get here
			if current {
				b.logger.Println("Printer adapter closed")
				svc.Close()
				cb.OnDisconnected()
			}
		})
	}

	b.logger.Println("Printer adapter opened successfully")
	cb.OnConnected(svc)
}

// Unbind closes the bound service and its adapter
func (b *Binder) Unbind() error {
	b.mu.Lock()
	svc := b.service
	b.service = nil
	b.mu.Unlock()

	if svc == nil {
		return nil
	}
	return svc.Close()
}

var _ printersvc.Binder = (*Binder)(nil)

package adapter

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultNetworkTimeout bounds dialing and reading from a network printer
const DefaultNetworkTimeout = 3 * time.Second

// NetworkAdapter talks to a printer accepting raw ESC/POS over TCP, usually on port 9100
type NetworkAdapter struct {
	listeners

	address string
	timeout time.Duration
	conn    net.Conn
	mu      sync.Mutex
}

// NewNetworkAdapter creates an adapter for the printer at address
func NewNetworkAdapter(address string) *NetworkAdapter {
	return &NetworkAdapter{
		address: address,
		timeout: DefaultNetworkTimeout,
	}
}

// SetTimeout changes the dial and read timeout
func (a *NetworkAdapter) SetTimeout(timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeout = timeout
}

// Address returns the printer address
func (a *NetworkAdapter) Address() string {
	return a.address
}

// Open connects to the printer
func (a *NetworkAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		return errors.New("connection already open")
	}

	conn, err := net.DialTimeout("tcp", a.address, a.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to printer: %w", err)
	}

	a.conn = conn
	a.emit(Event{Type: EventConnect})
	return nil
}

// Write sends data to the printer
func (a *NetworkAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return 0, errors.New("connection not open")
	}

	a.emit(Event{Type: EventData, Data: data})

	n, err := a.conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read reads data from the printer, giving up after the timeout
func (a *NetworkAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return 0, errors.New("connection not open")
	}

	if err := a.conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return 0, fmt.Errorf("read failed: %w", err)
	}
	n, err := a.conn.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}

// Close closes the connection
func (a *NetworkAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return nil
	}

	err := a.conn.Close()
	a.conn = nil
	a.emit(Event{Type: EventClose})
	return err
}

// IsOpen returns whether the connection is open
func (a *NetworkAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

var (
	_ Adapter  = (*NetworkAdapter)(nil)
	_ Notifier = (*NetworkAdapter)(nil)
)

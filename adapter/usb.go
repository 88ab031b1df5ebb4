package adapter

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"

	"github.com/google/gousb"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassAudio   = 0x01
	IfaceClassHID     = 0x03
	IfaceClassPrinter = 0x07
	IfaceClassHub     = 0x09
)

var usbLogger = log.New(os.Stdout, "[USB] ", log.LstdFlags|log.Lmsgprefix)

// USBAdapter manages USB printer communication
type USBAdapter struct {
	listeners

	device      *gousb.Device
	ctx         *gousb.Context
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	iface       *gousb.Interface
	cfg         *gousb.Config
	isOpen      bool
	mu          sync.Mutex
}

// NewUSBAdapter creates a new USB adapter for the device with the given
// VID/PID, falling back to the first printer found
func NewUSBAdapter(vid, pid uint16) (*USBAdapter, error) {
	ctx := gousb.NewContext()
	adapter := &USBAdapter{ctx: ctx}

	// Find device by VID/PID
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil || device == nil {
		usbLogger.Printf("Device %04x:%04x not found, looking for any printer", vid, pid)
		devices := FindPrinters(ctx)
		if len(devices) == 0 {
			ctx.Close()
			return nil, errors.New("cannot find printer")
		}
		closeAllBut(devices, devices[0])
		adapter.device = devices[0]
	} else {
		adapter.device = device
	}

	return adapter, nil
}

// NewUSBAdapterAuto creates adapter with auto-detection
func NewUSBAdapterAuto() (*USBAdapter, error) {
	ctx := gousb.NewContext()
	adapter := &USBAdapter{ctx: ctx}

	devices := FindPrinters(ctx)
	if len(devices) == 0 {
		ctx.Close()
		return nil, errors.New("cannot find printer")
	}

	closeAllBut(devices, devices[0])
	adapter.device = devices[0]
	return adapter, nil
}

// NewUSBAdapterBySerial creates adapter for the device with the given serial number
func NewUSBAdapterBySerial(serial string) (*USBAdapter, error) {
	ctx := gousb.NewContext()

	device, err := GetDeviceBySerial(ctx, serial)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	return &USBAdapter{ctx: ctx, device: device}, nil
}

func closeAllBut(devices []*gousb.Device, keep *gousb.Device) {
	for _, d := range devices {
		if d != keep {
			d.Close()
		}
	}
}

// IsPrinter checks if a device is a printer
func IsPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}

	cfg, err := dev.ActiveConfigNum()
	if err != nil {
		return false
	}

	cfgDesc, err := dev.Config(cfg)
	if err != nil {
		return false
	}
	defer cfgDesc.Close()

	for _, iface := range cfgDesc.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				return true
			}
		}
	}

	return false
}

// FindPrinters returns all USB printer devices
func FindPrinters(ctx *gousb.Context) []*gousb.Device {
	var printers []*gousb.Device

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true // Check all devices
	})

	if err != nil {
		usbLogger.Printf("Error enumerating devices: %v", err)
	}

	for _, dev := range devices {
		if IsPrinter(dev) {
			usbLogger.Printf("Found printer: %s", dev.Desc)
			printers = append(printers, dev)
		} else {
			dev.Close()
		}
	}

	return printers
}

// GetDeviceByVIDPID opens a device by VID and PID
func GetDeviceByVIDPID(ctx *gousb.Context, vid, pid uint16) (*gousb.Device, error) {
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, errors.New("device not found")
	}
	return device, nil
}

// GetDeviceBySerial opens a device by serial number
func GetDeviceBySerial(ctx *gousb.Context, serial string) (*gousb.Device, error) {
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("device with serial number %q not found: %w", serial, err)
	}

	var found *gousb.Device
	for _, dev := range devices {
		if found == nil {
			if s, err := dev.SerialNumber(); err == nil && s == serial {
				found = dev
				continue
			}
		}
		dev.Close()
	}

	if found == nil {
		return nil, fmt.Errorf("device with serial number %q not found", serial)
	}
	return found, nil
}

// Open opens the USB device and claims the printer interface
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}

	if a.device == nil {
		return errors.New("device not found")
	}

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		a.device.SetAutoDetach(true)
	}

	cfgNum, err := a.device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}

	// The config stays claimed for as long as the interface is in use
	cfg, err := a.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	printerIfaceNum := -1
	for _, iface := range cfg.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				printerIfaceNum = iface.Number
				break
			}
		}
		if printerIfaceNum >= 0 {
			break
		}
	}

	if printerIfaceNum < 0 {
		cfg.Close()
		return errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(printerIfaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && out == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				out = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && in == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				in = ep
			}
		}
	}

	if out == nil {
		iface.Close()
		cfg.Close()
		return errors.New("cannot find output endpoint from printer")
	}

	a.cfg = cfg
	a.iface = iface
	a.outEndpoint = out
	a.inEndpoint = in
	a.isOpen = true
	usbLogger.Printf("Opened printer %s (interface %d)", a.device, printerIfaceNum)
	a.emit(Event{Type: EventConnect, Device: a.device})

	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	if a.outEndpoint == nil {
		return 0, errors.New("output endpoint not available")
	}

	a.emit(Event{Type: EventData, Data: data})

	n, err := a.outEndpoint.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read reads data from the printer
func (a *USBAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	if a.inEndpoint == nil {
		return 0, errors.New("input endpoint not available")
	}

	n, err := a.inEndpoint.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}

	return n, nil
}

// Close closes the USB device and releases the USB context
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen && a.ctx == nil {
		return nil
	}

	var errs []error

	if a.iface != nil {
		a.iface.Close()
		a.iface = nil
	}
	if a.cfg != nil {
		if err := a.cfg.Close(); err != nil {
			errs = append(errs, err)
		}
		a.cfg = nil
	}
	a.outEndpoint = nil
	a.inEndpoint = nil

	if a.device != nil {
		if err := a.device.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		a.ctx = nil
	}

	wasOpen := a.isOpen
	a.isOpen = false
	if wasOpen {
		a.emit(Event{Type: EventClose, Device: a.device})
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}

	return nil
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// GetDevice returns the underlying USB device
func (a *USBAdapter) GetDevice() *gousb.Device {
	return a.device
}

var (
	_ Adapter  = (*USBAdapter)(nil)
	_ Notifier = (*USBAdapter)(nil)
)

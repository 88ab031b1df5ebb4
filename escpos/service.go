// Package escpos implements a printer service that encodes commands as ESC/POS
// bytes and writes them to a printer adapter.
//
// Commands are executed in order on a single worker goroutine, and result
// callbacks are delivered from that goroutine.
package escpos

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"sync"

	"golang.org/x/text/encoding"

	"github.com/nixxel-company-limited/escpos-bridge/adapter"
	"github.com/nixxel-company-limited/escpos-bridge/printersvc"
)

// Exception codes passed to OnRaiseException
const (
	CodeInvalidArgument = 1
	CodeWriteFailed     = 2
)

// ResultWriteFailed is the print result code of a transaction that could not be written
const ResultWriteFailed = 1

// ErrClosed is returned for commands sent after Close
var ErrClosed = errors.New("printer service closed")

// Options configure the ESC/POS service
type Options struct {
	// Charset used to encode text: gb18030, gbk, cp437 or utf-8
	Charset string

	// DotsPerLine is the printable width in dots; wider images are scaled down
	DotsPerLine int

	// CharsPerLine is the number of normal-size characters per line, used for columns
	CharsPerLine int

	// QueryStatus enables DLE EOT status requests; needs a readable adapter
	QueryStatus bool
}

// DefaultOptions suit a 58mm printer
func DefaultOptions() Options {
	return Options{
		Charset:      CharsetGB18030,
		DotsPerLine:  384,
		CharsPerLine: 32,
	}
}

// Service is an ESC/POS printer service backed by an adapter
type Service struct {
	adapter adapter.Adapter
	opts    Options
	encoder *encoding.Encoder
	logger  *log.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan func()
	wg     sync.WaitGroup

	// owned by the worker goroutine
	buffering bool
	buffer    bytes.Buffer
}

// NewService creates a service writing to an open adapter
func NewService(device adapter.Adapter, opts Options) (*Service, error) {
	logger := log.New(os.Stdout, "[ESCPOS] ", log.LstdFlags|log.Lmsgprefix)
	return NewServiceWithLogger(device, opts, logger)
}

// NewServiceWithLogger creates a service with a custom logger
func NewServiceWithLogger(device adapter.Adapter, opts Options, logger *log.Logger) (*Service, error) {
	enc, err := newEncoder(opts.Charset)
	if err != nil {
		return nil, err
	}
	defaults := DefaultOptions()
	if opts.DotsPerLine <= 0 {
		opts.DotsPerLine = defaults.DotsPerLine
	}
	if opts.CharsPerLine <= 0 {
		opts.CharsPerLine = defaults.CharsPerLine
	}

	s := &Service{
		adapter: device,
		opts:    opts,
		encoder: enc,
		logger:  logger,
		jobs:    make(chan func(), 64),
	}

	s.wg.Add(1)
	go s.work()
	return s, nil
}

func (s *Service) work() {
	defer s.wg.Done()
	for job := range s.jobs {
		job()
	}
}

func (s *Service) submit(job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.jobs <- job
	return nil
}

// Close stops the worker after pending commands and closes the adapter
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()

	if s.adapter.IsOpen() {
		s.logger.Println("Closing printer adapter...")
		if err := s.adapter.Close(); err != nil {
			s.logger.Printf("Error closing adapter: %v", err)
			return err
		}
	}
	return nil
}

// emit sends data to the printer, or to the transaction buffer
func (s *Service) emit(data []byte) error {
	if s.buffering {
		s.buffer.Write(data)
		return nil
	}
	return s.write(data)
}

func (s *Service) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := s.adapter.Write(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	s.logger.Printf("Wrote %d bytes to printer", n)
	return nil
}

// run queues one command; build runs on the worker
func (s *Service) run(op string, build func() ([]byte, error), cb printersvc.ResultCallback) error {
	return s.submit(func() {
		data, err := build()
		if err != nil {
			s.logger.Printf("%s: %v", op, err)
			if cb != nil {
				cb.OnRaiseException(CodeInvalidArgument, err.Error())
			}
			return
		}
		if err := s.emit(data); err != nil {
			s.logger.Printf("Error writing %s to printer: %v", op, err)
			if cb != nil {
				cb.OnRaiseException(CodeWriteFailed, err.Error())
			}
			return
		}
		if cb != nil {
			cb.OnRunResult(true)
		}
	})
}

func (s *Service) encode(text string) ([]byte, error) {
	out, err := s.encoder.Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.opts.Charset, err)
	}
	return out, nil
}

// UpdatePrinterState reports the printer state code
func (s *Service) UpdatePrinterState() (int, error) {
	result := make(chan int, 1)
	err := s.submit(func() {
		result <- s.probeState()
	})
	if err != nil {
		return printersvc.StateNotDetected, err
	}
	return <-result, nil
}

func (s *Service) probeState() int {
	if !s.adapter.IsOpen() {
		return printersvc.StateNotDetected
	}
	if !s.opts.QueryStatus {
		return printersvc.StateNormal
	}

	// Offline cause: bit 2 cover open, bit 5 stopped by paper end
	if status, ok := s.query(2); ok {
		switch {
		case status&0x04 != 0:
			return printersvc.StateCoverOpen
		case status&0x20 != 0:
			return printersvc.StateOutOfPaper
		}
	} else {
		return printersvc.StateCommError
	}

	// Roll paper sensor: bits 5 and 6 paper end
	if status, ok := s.query(4); ok && status&0x60 != 0 {
		return printersvc.StateOutOfPaper
	}
	return printersvc.StateNormal
}

func (s *Service) query(n byte) (byte, bool) {
	if err := s.write(StatusQuery(n)); err != nil {
		s.logger.Printf("Status query %d failed: %v", n, err)
		return 0, false
	}
	buf := make([]byte, 1)
	read, err := s.adapter.Read(buf)
	if err != nil || read == 0 {
		s.logger.Printf("Status query %d got no answer: %v", n, err)
		return 0, false
	}
	return buf[0], true
}

// PrintText prints text encoded in the configured charset
func (s *Service) PrintText(text string, cb printersvc.ResultCallback) error {
	return s.run("printText", func() ([]byte, error) {
		return s.encode(text)
	}, cb)
}

// PrintBitmap prints img as a raster bitmap, scaled down to the paper width
func (s *Service) PrintBitmap(img image.Image, cb printersvc.ResultCallback) error {
	return s.run("printBitmap", func() ([]byte, error) {
		return Raster(img, s.opts.DotsPerLine)
	}, cb)
}

// PrintBarCode prints a one-dimensional barcode
func (s *Service) PrintBarCode(data string, symbology, height, width, textPosition int, cb printersvc.ResultCallback) error {
	return s.run("printBarCode", func() ([]byte, error) {
		return Barcode(data, symbology, height, width, textPosition)
	}, cb)
}

// PrintQRCode prints a QR code
func (s *Service) PrintQRCode(data string, moduleSize, errorLevel int, cb printersvc.ResultCallback) error {
	return s.run("printQRCode", func() ([]byte, error) {
		return QRCode(data, moduleSize, errorLevel)
	}, cb)
}

// PrintColumnsString prints one table row laid out over the line width
func (s *Service) PrintColumnsString(texts []string, widths, aligns []int, cb printersvc.ResultCallback) error {
	return s.run("printColumnsString", func() ([]byte, error) {
		row, err := Columns(texts, widths, aligns, s.opts.CharsPerLine)
		if err != nil {
			return nil, err
		}
		return s.encode(row)
	}, cb)
}

// LineWrap feeds the paper by lines
func (s *Service) LineWrap(lines int, cb printersvc.ResultCallback) error {
	return s.run("lineWrap", func() ([]byte, error) {
		return LineFeed(lines)
	}, cb)
}

// PrinterInit resets the printer to its power-on state
func (s *Service) PrinterInit(cb printersvc.ResultCallback) error {
	return s.run("printerInit", func() ([]byte, error) {
		return Init(), nil
	}, cb)
}

// SendRAWData sends data to the printer unchanged
func (s *Service) SendRAWData(data []byte, cb printersvc.ResultCallback) error {
	raw := bytes.Clone(data)
	return s.run("sendRAWData", func() ([]byte, error) {
		return raw, nil
	}, cb)
}

// SetFontSize sets the character size from a font size in pixels
func (s *Service) SetFontSize(size float64, cb printersvc.ResultCallback) error {
	return s.run("setFontSize", func() ([]byte, error) {
		return FontSize(size)
	}, cb)
}

// SetAlignment sets the alignment: 0 left, 1 center, 2 right
func (s *Service) SetAlignment(alignment int, cb printersvc.ResultCallback) error {
	return s.run("setAlignment", func() ([]byte, error) {
		return Align(alignment)
	}, cb)
}

// EnterPrinterBuffer starts collecting output; clean drops anything already collected
func (s *Service) EnterPrinterBuffer(clean bool) error {
	return s.submit(func() {
		if clean {
			s.buffer.Reset()
		}
		s.buffering = true
		s.logger.Println("Entered transaction buffer")
	})
}

// ExitPrinterBuffer leaves buffer mode, printing the collected output if commit is set
func (s *Service) ExitPrinterBuffer(commit bool) error {
	return s.submit(func() {
		if err := s.flush(commit); err != nil {
			s.logger.Printf("Error committing transaction buffer: %v", err)
		}
	})
}

// ExitPrinterBufferWithCallback is ExitPrinterBuffer reporting through OnPrintResult
func (s *Service) ExitPrinterBufferWithCallback(commit bool, cb printersvc.ResultCallback) error {
	return s.submit(func() {
		err := s.flush(commit)
		if cb == nil {
			return
		}
		if err != nil {
			s.logger.Printf("Error committing transaction buffer: %v", err)
			cb.OnPrintResult(ResultWriteFailed, err.Error())
			return
		}
		cb.OnPrintResult(printersvc.ResultOK, "Transaction print successful")
	})
}

func (s *Service) flush(commit bool) error {
	data := bytes.Clone(s.buffer.Bytes())
	s.buffer.Reset()
	s.buffering = false
	s.logger.Printf("Leaving transaction buffer (commit=%t, %d bytes)", commit, len(data))
	if !commit {
		return nil
	}
	return s.write(data)
}

var _ printersvc.PrinterService = (*Service)(nil)

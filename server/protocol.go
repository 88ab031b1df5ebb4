package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/nixxel-company-limited/escpos-bridge/bridge"
)

// Bridge is the set of printer operations the server exposes
type Bridge interface {
	InitPrinter(p bridge.Promise)
	GetPrinterStatus(cb func(state int))
	PrintText(text string, cb func(bool))
	PrintImage(data string, cb func(bool))
	PrintBarcode(data string, symbology, height, width, textPosition int, cb func(bool))
	PrintQRCode(data string, moduleSize, errorLevel int, cb func(bool))
	PrintTable(texts []string, widths, aligns []int, cb func(bool))
	PrintLine(lines int, cb func(bool))
	Reset(cb func(bool))
	SetBold(bold bool, cb func(bool))
	SetHeight(height int, cb func(bool))
	SetFontSize(size int, cb func(bool))
	SetAlignment(alignment int, cb func(bool))
	EnterPrinterBuffer()
	ExitPrinterBuffer(p bridge.Promise)
}

// Protocol error codes
const (
	CodeParseError     = "-32700"
	CodeMethodNotFound = "-32601"
	CodeInvalidParams  = "-32602"
)

// Request is one call from a client. A request without id is a notification
// and gets no response.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params []any           `json:"params,omitempty"`
}

// Response answers the request with the same id
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
	Error  *Error          `json:"error,omitempty"`
}

// Error carries a rejection code and message
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// session serialises responses written to one client. Responses are often
// written from the printer worker, so a client that stops reading is cut off
// after the write timeout instead of stalling the printer.
type session struct {
	conn    net.Conn
	logger  *log.Logger
	timeout time.Duration
	mu      sync.Mutex
	enc     *json.Encoder
	closed  bool
}

func newSession(conn net.Conn, logger *log.Logger) *session {
	return &session{
		conn:    conn,
		logger:  logger,
		timeout: WriteTimeout,
		enc:     json.NewEncoder(conn),
	}
}

func (s *session) send(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Printf("Dropping response %s: client gone", resp.ID)
		return
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Printf("Error setting write deadline for %s: %v", s.conn.RemoteAddr(), err)
	}
	if err := s.enc.Encode(resp); err != nil {
		s.logger.Printf("Error writing response to %s, dropping client: %v", s.conn.RemoteAddr(), err)
		s.closed = true
		s.conn.Close()
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// reply answers one request; every method is a no-op for notifications
type reply struct {
	sess *session
	id   json.RawMessage
	once sync.Once
}

func (r *reply) notification() bool {
	return len(r.id) == 0 || bytes.Equal(r.id, []byte("null"))
}

func (r *reply) send(resp Response) {
	if r.notification() {
		return
	}
	r.once.Do(func() {
		resp.ID = r.id
		r.sess.send(resp)
	})
}

func (r *reply) Resolve(value any) {
	r.send(Response{Result: value})
}

func (r *reply) Reject(code, message string) {
	r.send(Response{Error: &Error{Code: code, Message: message}})
}

// promise returns nil for notifications so the bridge can tell fire-and-forget calls apart
func (r *reply) promise() bridge.Promise {
	if r.notification() {
		return nil
	}
	return r
}

func (r *reply) boolCallback() func(bool) {
	if r.notification() {
		return nil
	}
	return func(ok bool) { r.Resolve(ok) }
}

func (r *reply) intCallback() func(int) {
	if r.notification() {
		return nil
	}
	return func(state int) { r.Resolve(state) }
}

// params reads positional arguments
type params []any

func (p params) at(i int) (any, error) {
	if i >= len(p) {
		return nil, fmt.Errorf("missing parameter %d", i)
	}
	return p[i], nil
}

func (p params) text(i int) (string, error) {
	v, err := p.at(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %d: expected string, got %T", i, v)
	}
	return s, nil
}

func (p params) integer(i int) (int, error) {
	v, err := p.at(i)
	if err != nil {
		return 0, err
	}
	n, err := whole(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %d: %w", i, err)
	}
	return n, nil
}

// whole converts v to an int, refusing numbers with a fractional part
func whole(v any) (int, error) {
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return cast.ToIntE(v)
}

func (p params) flag(i int) (bool, error) {
	v, err := p.at(i)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("parameter %d: %w", i, err)
	}
	return b, nil
}

func (p params) texts(i int) ([]string, error) {
	v, err := p.at(i)
	if err != nil {
		return nil, err
	}
	s, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %d: %w", i, err)
	}
	return s, nil
}

func (p params) integers(i int) ([]int, error) {
	v, err := p.at(i)
	if err != nil {
		return nil, err
	}
	items, err := cast.ToSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %d: %w", i, err)
	}
	n := make([]int, len(items))
	for j, item := range items {
		if n[j], err = whole(item); err != nil {
			return nil, fmt.Errorf("parameter %d[%d]: %w", i, j, err)
		}
	}
	return n, nil
}

// intsFrom reads count integer parameters starting at from
func (p params) intsFrom(from, count int) ([]int, error) {
	out := make([]int, count)
	for i := range out {
		n, err := p.integer(from + i)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

type method func(b Bridge, p params, r *reply) error

var methods = map[string]method{
	"initPrinter": func(b Bridge, p params, r *reply) error {
		b.InitPrinter(r.promise())
		return nil
	},
	"getPrinterStatus": func(b Bridge, p params, r *reply) error {
		b.GetPrinterStatus(r.intCallback())
		return nil
	},
	"printText": func(b Bridge, p params, r *reply) error {
		text, err := p.text(0)
		if err != nil {
			return err
		}
		b.PrintText(text, r.boolCallback())
		return nil
	},
	"printImage": func(b Bridge, p params, r *reply) error {
		data, err := p.text(0)
		if err != nil {
			return err
		}
		b.PrintImage(data, r.boolCallback())
		return nil
	},
	"printBarcode": func(b Bridge, p params, r *reply) error {
		data, err := p.text(0)
		if err != nil {
			return err
		}
		n, err := p.intsFrom(1, 4)
		if err != nil {
			return err
		}
		b.PrintBarcode(data, n[0], n[1], n[2], n[3], r.boolCallback())
		return nil
	},
	"printQRCode": func(b Bridge, p params, r *reply) error {
		data, err := p.text(0)
		if err != nil {
			return err
		}
		n, err := p.intsFrom(1, 2)
		if err != nil {
			return err
		}
		b.PrintQRCode(data, n[0], n[1], r.boolCallback())
		return nil
	},
	"printTable": func(b Bridge, p params, r *reply) error {
		texts, err := p.texts(0)
		if err != nil {
			return err
		}
		widths, err := p.integers(1)
		if err != nil {
			return err
		}
		aligns, err := p.integers(2)
		if err != nil {
			return err
		}
		b.PrintTable(texts, widths, aligns, r.boolCallback())
		return nil
	},
	"printLine": func(b Bridge, p params, r *reply) error {
		lines, err := p.integer(0)
		if err != nil {
			return err
		}
		b.PrintLine(lines, r.boolCallback())
		return nil
	},
	"reset": func(b Bridge, p params, r *reply) error {
		b.Reset(r.boolCallback())
		return nil
	},
	"setBold": func(b Bridge, p params, r *reply) error {
		bold, err := p.flag(0)
		if err != nil {
			return err
		}
		b.SetBold(bold, r.boolCallback())
		return nil
	},
	"setHeight": func(b Bridge, p params, r *reply) error {
		height, err := p.integer(0)
		if err != nil {
			return err
		}
		b.SetHeight(height, r.boolCallback())
		return nil
	},
	"setFontSize": func(b Bridge, p params, r *reply) error {
		size, err := p.integer(0)
		if err != nil {
			return err
		}
		b.SetFontSize(size, r.boolCallback())
		return nil
	},
	"setAlignment": func(b Bridge, p params, r *reply) error {
		alignment, err := p.integer(0)
		if err != nil {
			return err
		}
		b.SetAlignment(alignment, r.boolCallback())
		return nil
	},
	"enterPrinterBuffer": func(b Bridge, p params, r *reply) error {
		b.EnterPrinterBuffer()
		r.Resolve(nil)
		return nil
	},
	"exitPrinterBuffer": func(b Bridge, p params, r *reply) error {
		b.ExitPrinterBuffer(r.promise())
		return nil
	},
}

// dispatch decodes one request line and runs it against the bridge
func (s *Server) dispatch(sess *session, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Printf("Error decoding request: %v", err)
		sess.send(Response{ID: json.RawMessage("null"), Error: &Error{Code: CodeParseError, Message: err.Error()}})
		return
	}

	r := &reply{sess: sess, id: req.ID}
	m, ok := methods[req.Method]
	if !ok {
		s.logger.Printf("Unknown method %q", req.Method)
		r.Reject(CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		return
	}

	s.logger.Printf("Calling %s", req.Method)
	if err := m(s.bridge, params(req.Params), r); err != nil {
		s.logger.Printf("Invalid params for %s: %v", req.Method, err)
		r.Reject(CodeInvalidParams, err.Error())
	}
}

var _ Bridge = (*bridge.Bridge)(nil)

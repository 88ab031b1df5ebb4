package bridge

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-bridge/printersvc"
)

// MockService is a printer service that records calls and reports results
// from its own goroutine, like a remote service would
type MockService struct {
	mu       sync.Mutex
	calls    []string
	raw      [][]byte
	columns  [][]string
	state    int
	stateErr error
	result   bool
	callErr  error
	panicMsg string
	hold     bool
	held     []printersvc.ResultCallback
}

func (m *MockService) record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.callErr
}

func (m *MockService) finish(cb printersvc.ResultCallback) {
	m.mu.Lock()
	if m.hold {
		m.held = append(m.held, cb)
		m.mu.Unlock()
		return
	}
	ok := m.result
	m.mu.Unlock()
	go cb.OnRunResult(ok)
}

func (m *MockService) run(name string, cb printersvc.ResultCallback) error {
	if err := m.record(name); err != nil {
		return err
	}
	m.finish(cb)
	return nil
}

func (m *MockService) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockService) Held() []printersvc.ResultCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]printersvc.ResultCallback(nil), m.held...)
}

func (m *MockService) UpdatePrinterState() (int, error) {
	if err := m.record("updatePrinterState"); err != nil {
		return 0, err
	}
	return m.state, m.stateErr
}

func (m *MockService) PrintText(text string, cb printersvc.ResultCallback) error {
	return m.run("printText:"+text, cb)
}

func (m *MockService) PrintBitmap(img image.Image, cb printersvc.ResultCallback) error {
	return m.run("printBitmap", cb)
}

func (m *MockService) PrintBarCode(data string, symbology, height, width, textPosition int, cb printersvc.ResultCallback) error {
	return m.run("printBarCode:"+data, cb)
}

func (m *MockService) PrintQRCode(data string, moduleSize, errorLevel int, cb printersvc.ResultCallback) error {
	return m.run("printQRCode:"+data, cb)
}

func (m *MockService) PrintColumnsString(texts []string, widths, aligns []int, cb printersvc.ResultCallback) error {
	m.mu.Lock()
	m.columns = append(m.columns, texts)
	m.mu.Unlock()
	return m.run("printColumnsString", cb)
}

func (m *MockService) LineWrap(lines int, cb printersvc.ResultCallback) error {
	return m.run("lineWrap", cb)
}

func (m *MockService) PrinterInit(cb printersvc.ResultCallback) error {
	return m.run("printerInit", cb)
}

func (m *MockService) SendRAWData(data []byte, cb printersvc.ResultCallback) error {
	m.mu.Lock()
	m.raw = append(m.raw, data)
	m.mu.Unlock()
	return m.run("sendRAWData", cb)
}

func (m *MockService) SetFontSize(size float64, cb printersvc.ResultCallback) error {
	return m.run("setFontSize", cb)
}

func (m *MockService) SetAlignment(alignment int, cb printersvc.ResultCallback) error {
	return m.run("setAlignment", cb)
}

func (m *MockService) EnterPrinterBuffer(clean bool) error {
	return m.record("enterPrinterBuffer")
}

func (m *MockService) ExitPrinterBuffer(commit bool) error {
	return m.record("exitPrinterBuffer")
}

func (m *MockService) ExitPrinterBufferWithCallback(commit bool, cb printersvc.ResultCallback) error {
	if err := m.record("exitPrinterBufferWithCallback"); err != nil {
		return err
	}
	go cb.OnPrintResult(printersvc.ResultOK, "Transaction print successful")
	return nil
}

// MockBinder hands out its service when Connect is called
type MockBinder struct {
	mu       sync.Mutex
	cb       printersvc.ConnectionCallback
	binds    int
	unbinds  int
	bindErr  error
	service  printersvc.PrinterService
	autoBind bool
}

func (m *MockBinder) Bind(cb printersvc.ConnectionCallback) error {
	m.mu.Lock()
	m.binds++
	m.cb = cb
	err := m.bindErr
	auto := m.autoBind
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		go cb.OnConnected(m.service)
	}
	return nil
}

func (m *MockBinder) Unbind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unbinds++
	return nil
}

func (m *MockBinder) Connect() {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	cb.OnConnected(m.service)
}

func (m *MockBinder) Disconnect() {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	cb.OnDisconnected()
}

func (m *MockBinder) Binds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binds
}

// MockPromise records how it was settled
type MockPromise struct {
	mu       sync.Mutex
	settled  int
	value    any
	code     string
	message  string
	rejected bool
	done     chan struct{}
}

func newMockPromise() *MockPromise {
	return &MockPromise{done: make(chan struct{}, 8)}
}

func (p *MockPromise) Resolve(value any) {
	p.mu.Lock()
	p.settled++
	p.value = value
	p.mu.Unlock()
	p.done <- struct{}{}
}

func (p *MockPromise) Reject(code, message string) {
	p.mu.Lock()
	p.settled++
	p.rejected = true
	p.code = code
	p.message = message
	p.mu.Unlock()
	p.done <- struct{}{}
}

func (p *MockPromise) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("promise was not settled")
	}
}

func boolResult() (func(bool), chan bool) {
	ch := make(chan bool, 4)
	return func(ok bool) { ch <- ok }, ch
}

func waitBool(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case ok := <-ch:
		return ok
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
		return false
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newBoundBridge(t *testing.T, svc *MockService) (*Bridge, *MockBinder) {
	t.Helper()
	binder := &MockBinder{service: svc}
	b := NewWithLogger(binder, quietLogger())

	p := newMockPromise()
	b.InitPrinter(p)
	binder.Connect()
	p.wait(t)
	require.True(t, b.Bound())
	return b, binder
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestUnboundOperationsFail(t *testing.T) {
	b := NewWithLogger(&MockBinder{}, quietLogger())

	ops := map[string]func(func(bool)){
		"printText":    func(cb func(bool)) { b.PrintText("hello", cb) },
		"printImage":   func(cb func(bool)) { b.PrintImage(pngBase64(t), cb) },
		"printBarcode": func(cb func(bool)) { b.PrintBarcode("123456", 8, 162, 2, 2, cb) },
		"printQRCode":  func(cb func(bool)) { b.PrintQRCode("data", 4, 1, cb) },
		"printTable":   func(cb func(bool)) { b.PrintTable([]string{"a"}, []int{1}, []int{0}, cb) },
		"printLine":    func(cb func(bool)) { b.PrintLine(3, cb) },
		"reset":        func(cb func(bool)) { b.Reset(cb) },
		"setBold":      func(cb func(bool)) { b.SetBold(true, cb) },
		"setHeight":    func(cb func(bool)) { b.SetHeight(30, cb) },
		"setFontSize":  func(cb func(bool)) { b.SetFontSize(24, cb) },
		"setAlignment": func(cb func(bool)) { b.SetAlignment(1, cb) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			var got []bool
			assert.NotPanics(t, func() {
				op(func(ok bool) { got = append(got, ok) })
			})
			// Failure is reported before the call returns
			assert.Equal(t, []bool{false}, got)
		})
	}
}

func TestUnboundQRCodeScenario(t *testing.T) {
	b := NewWithLogger(&MockBinder{}, quietLogger())

	var got []bool
	b.PrintQRCode("data", 4, 1, func(ok bool) { got = append(got, ok) })
	assert.Equal(t, []bool{false}, got)
}

func TestUnboundNilCallback(t *testing.T) {
	b := NewWithLogger(&MockBinder{}, quietLogger())

	assert.NotPanics(t, func() {
		b.PrintText("hello", nil)
		b.EnterPrinterBuffer()
		b.ExitPrinterBuffer(nil)
		b.GetPrinterStatus(nil)
	})
}

func TestGetPrinterStatus(t *testing.T) {
	t.Run("Unbound", func(t *testing.T) {
		b := NewWithLogger(&MockBinder{}, quietLogger())
		state := 0
		b.GetPrinterStatus(func(s int) { state = s })
		assert.Equal(t, StatusUnknown, state)
	})

	t.Run("Bound", func(t *testing.T) {
		b, _ := newBoundBridge(t, &MockService{state: printersvc.StateOutOfPaper})
		state := 0
		b.GetPrinterStatus(func(s int) { state = s })
		assert.Equal(t, printersvc.StateOutOfPaper, state)
	})

	t.Run("QueryError", func(t *testing.T) {
		b, _ := newBoundBridge(t, &MockService{state: 1, stateErr: errors.New("io")})
		state := 0
		b.GetPrinterStatus(func(s int) { state = s })
		assert.Equal(t, StatusUnknown, state)
	})
}

func TestInitPrinter(t *testing.T) {
	t.Run("ConnectResolves", func(t *testing.T) {
		binder := &MockBinder{service: &MockService{}}
		b := NewWithLogger(binder, quietLogger())

		p := newMockPromise()
		b.InitPrinter(p)
		assert.False(t, b.Bound())

		binder.Connect()
		p.wait(t)

		assert.Equal(t, 1, p.settled)
		assert.False(t, p.rejected)
		assert.Equal(t, InitSuccessMessage, p.value)
		assert.True(t, b.Bound())

		// A later disconnect must not settle the promise again
		binder.Disconnect()
		assert.Equal(t, 1, p.settled)
		assert.False(t, b.Bound())
	})

	t.Run("DisconnectRejects", func(t *testing.T) {
		binder := &MockBinder{service: &MockService{}}
		b := NewWithLogger(binder, quietLogger())

		p := newMockPromise()
		b.InitPrinter(p)
		binder.Disconnect()
		p.wait(t)

		assert.True(t, p.rejected)
		assert.Equal(t, FailureCode, p.code)
		assert.Equal(t, InitFailureMessage, p.message)
		assert.False(t, b.Bound())
	})

	t.Run("BindErrorRejects", func(t *testing.T) {
		binder := &MockBinder{bindErr: errors.New("no device")}
		b := NewWithLogger(binder, quietLogger())

		p := newMockPromise()
		b.InitPrinter(p)
		p.wait(t)

		assert.True(t, p.rejected)
		assert.Equal(t, FailureCode, p.code)
		assert.Equal(t, InitFailureMessage, p.message)
	})

	t.Run("ConcurrentRequestsShareBind", func(t *testing.T) {
		binder := &MockBinder{service: &MockService{}}
		b := NewWithLogger(binder, quietLogger())

		first, second := newMockPromise(), newMockPromise()
		b.InitPrinter(first)
		b.InitPrinter(second)
		assert.Equal(t, 1, binder.Binds())

		binder.Connect()
		first.wait(t)
		second.wait(t)

		assert.Equal(t, 1, first.settled)
		assert.Equal(t, 1, second.settled)
		assert.Equal(t, InitSuccessMessage, first.value)
		assert.Equal(t, InitSuccessMessage, second.value)
	})

	t.Run("AlreadyBound", func(t *testing.T) {
		b, binder := newBoundBridge(t, &MockService{})

		p := newMockPromise()
		b.InitPrinter(p)
		p.wait(t)
		assert.Equal(t, InitSuccessMessage, p.value)
		assert.Equal(t, 1, binder.Binds())
	})

	t.Run("AsyncBinder", func(t *testing.T) {
		binder := &MockBinder{service: &MockService{}, autoBind: true}
		b := NewWithLogger(binder, quietLogger())

		p := newMockPromise()
		b.InitPrinter(p)
		p.wait(t)
		assert.Equal(t, InitSuccessMessage, p.value)
		assert.True(t, b.Bound())
	})
}

func TestPrintTextScenario(t *testing.T) {
	svc := &MockService{result: true}
	b, _ := newBoundBridge(t, svc)

	cb, ch := boolResult()
	b.PrintText("hello", cb)

	assert.True(t, waitBool(t, ch))
	assert.Equal(t, []string{"printText:hello"}, svc.Calls())
}

func TestVendorReportedFailure(t *testing.T) {
	svc := &MockService{result: false}
	b, _ := newBoundBridge(t, svc)

	cb, ch := boolResult()
	b.PrintLine(2, cb)
	assert.False(t, waitBool(t, ch))
}

func TestServiceErrorAndPanic(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		b, _ := newBoundBridge(t, &MockService{callErr: errors.New("remote")})
		var got []bool
		b.Reset(func(ok bool) { got = append(got, ok) })
		assert.Equal(t, []bool{false}, got)
	})

	t.Run("Panic", func(t *testing.T) {
		b, _ := newBoundBridge(t, &MockService{panicMsg: "dead object"})
		var got []bool
		assert.NotPanics(t, func() {
			b.PrintText("x", func(ok bool) { got = append(got, ok) })
		})
		assert.Equal(t, []bool{false}, got)

		state := 0
		assert.NotPanics(t, func() {
			b.GetPrinterStatus(func(s int) { state = s })
		})
		assert.Equal(t, StatusUnknown, state)
	})
}

func TestPrintImage(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		svc := &MockService{result: true}
		b, _ := newBoundBridge(t, svc)

		cb, ch := boolResult()
		b.PrintImage(pngBase64(t), cb)
		assert.True(t, waitBool(t, ch))
		assert.Equal(t, []string{"printBitmap"}, svc.Calls())
	})

	t.Run("DataURI", func(t *testing.T) {
		svc := &MockService{result: true}
		b, _ := newBoundBridge(t, svc)

		cb, ch := boolResult()
		b.PrintImage("data:image/png;base64,"+pngBase64(t), cb)
		assert.True(t, waitBool(t, ch))
	})

	for name, payload := range map[string]string{
		"NotBase64": "%%% not base64 %%%",
		"NotImage":  base64.StdEncoding.EncodeToString([]byte("plain text")),
		"Empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			svc := &MockService{result: true}
			b, _ := newBoundBridge(t, svc)

			var got []bool
			assert.NotPanics(t, func() {
				b.PrintImage(payload, func(ok bool) { got = append(got, ok) })
			})
			assert.Equal(t, []bool{false}, got)
			assert.Empty(t, svc.Calls())
		})
	}
}

func TestDecodeImageError(t *testing.T) {
	_, err := decodeImage("!!!")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestSetBoldBytes(t *testing.T) {
	svc := &MockService{result: true}
	b, _ := newBoundBridge(t, svc)

	cb, ch := boolResult()
	b.SetBold(true, cb)
	assert.True(t, waitBool(t, ch))
	b.SetBold(false, cb)
	assert.True(t, waitBool(t, ch))

	assert.Equal(t, [][]byte{{0x1B, 0x45, 0x01}, {0x1B, 0x45, 0x00}}, svc.raw)
}

func TestSetHeightBytes(t *testing.T) {
	testCases := []struct {
		height int
		want   byte
	}{
		{0, 0x00},
		{30, 30},
		{255, 0xFF},
		{256, 0x00},
		{300, 44},
		{-1, 0xFF},
	}

	for _, tc := range testCases {
		assert.Equal(t, []byte{0x1B, 0x33, tc.want}, LineSpacingCommand(tc.height))
	}

	svc := &MockService{result: true}
	b, _ := newBoundBridge(t, svc)
	cb, ch := boolResult()
	b.SetHeight(300, cb)
	assert.True(t, waitBool(t, ch))
	assert.Equal(t, [][]byte{{0x1B, 0x33, 44}}, svc.raw)
}

func TestPrintTable(t *testing.T) {
	t.Run("Forwarded", func(t *testing.T) {
		svc := &MockService{result: true}
		b, _ := newBoundBridge(t, svc)

		cb, ch := boolResult()
		b.PrintTable([]string{"Item", "Qty", "Price"}, []int{2, 1, 1}, []int{0, 1, 2}, cb)
		assert.True(t, waitBool(t, ch))
		assert.Equal(t, [][]string{{"Item", "Qty", "Price"}}, svc.columns)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		svc := &MockService{result: true}
		b, _ := newBoundBridge(t, svc)

		var got []bool
		b.PrintTable([]string{"a", "b"}, []int{1}, []int{0, 0}, func(ok bool) { got = append(got, ok) })
		assert.Equal(t, []bool{false}, got)
		assert.Empty(t, svc.Calls())
	})
}

func TestOverlappingCallsKeepTheirResults(t *testing.T) {
	svc := &MockService{hold: true}
	b, _ := newBoundBridge(t, svc)

	firstCb, first := boolResult()
	secondCb, second := boolResult()
	b.PrintText("one", firstCb)
	b.PrintText("two", secondCb)

	held := svc.Held()
	require.Len(t, held, 2)

	// Results arrive out of order
	held[1].OnRunResult(false)
	held[0].OnRunResult(true)

	assert.True(t, waitBool(t, first))
	assert.False(t, waitBool(t, second))
}

func TestCallbackRelaySettlesOnce(t *testing.T) {
	var got []bool
	r := newCallbackRelay("printText", func(ok bool) { got = append(got, ok) }, quietLogger())

	r.OnReturnString("info")
	r.OnPrintResult(0, "ignored")
	r.OnRaiseException(3, "paper jam")
	r.OnRunResult(true)

	assert.Equal(t, []bool{false}, got)
}

func TestPromiseRelay(t *testing.T) {
	t.Run("PrintResultResolves", func(t *testing.T) {
		p := newMockPromise()
		r := newPromiseRelay("exitPrinterBuffer", p, quietLogger())
		r.OnRunResult(true)
		r.OnPrintResult(0, "done")
		r.OnPrintResult(1, "again")

		assert.Equal(t, 1, p.settled)
		assert.Equal(t, PrintResult{Code: "0", Message: "done"}, p.value)
	})

	t.Run("ExceptionRejects", func(t *testing.T) {
		p := newMockPromise()
		r := newPromiseRelay("exitPrinterBuffer", p, quietLogger())
		r.OnRaiseException(2, "out of paper")

		assert.True(t, p.rejected)
		assert.Equal(t, FailureCode, p.code)
		assert.Equal(t, PrintFailureMessage, p.message)
	})
}

func TestPrinterBuffer(t *testing.T) {
	t.Run("Unbound", func(t *testing.T) {
		b := NewWithLogger(&MockBinder{}, quietLogger())
		p := newMockPromise()
		b.ExitPrinterBuffer(p)
		p.wait(t)

		assert.True(t, p.rejected)
		assert.Equal(t, FailureCode, p.code)
		assert.Equal(t, PrintFailureMessage, p.message)
	})

	t.Run("WithPromise", func(t *testing.T) {
		svc := &MockService{}
		b, _ := newBoundBridge(t, svc)

		b.EnterPrinterBuffer()
		p := newMockPromise()
		b.ExitPrinterBuffer(p)
		p.wait(t)

		assert.Equal(t, PrintResult{Code: "0", Message: "Transaction print successful"}, p.value)
		assert.Equal(t, []string{"enterPrinterBuffer", "exitPrinterBufferWithCallback"}, svc.Calls())
	})

	t.Run("FireAndForget", func(t *testing.T) {
		svc := &MockService{}
		b, _ := newBoundBridge(t, svc)

		b.EnterPrinterBuffer()
		b.ExitPrinterBuffer(nil)
		assert.Equal(t, []string{"enterPrinterBuffer", "exitPrinterBuffer"}, svc.Calls())
	})

	t.Run("ServiceError", func(t *testing.T) {
		b, _ := newBoundBridge(t, &MockService{callErr: errors.New("remote")})
		p := newMockPromise()
		b.ExitPrinterBuffer(p)
		p.wait(t)
		assert.True(t, p.rejected)
	})
}

func TestClose(t *testing.T) {
	binder := &MockBinder{service: &MockService{}}
	b := NewWithLogger(binder, quietLogger())

	p := newMockPromise()
	b.InitPrinter(p)
	require.NoError(t, b.Close())
	p.wait(t)

	assert.True(t, p.rejected)
	assert.False(t, b.Bound())
	assert.Equal(t, 1, binder.unbinds)
}

// closableService is a MockService that can be closed directly
type closableService struct {
	*MockService
	closed chan struct{}
}

func (c *closableService) Close() error {
	close(c.closed)
	return nil
}

func (m *MockBinder) Callback() printersvc.ConnectionCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}

func (m *MockBinder) Unbinds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unbinds
}

func TestCloseAbandonsBindInFlight(t *testing.T) {
	t.Run("LateConnectIsUnbound", func(t *testing.T) {
		binder := &MockBinder{service: &MockService{}}
		b := NewWithLogger(binder, quietLogger())

		b.InitPrinter(nil)
		require.NoError(t, b.Close())
		assert.Equal(t, 1, binder.Unbinds())

		binder.Connect()
		assert.False(t, b.Bound())
		assert.Equal(t, 2, binder.Unbinds())

		var got []bool
		b.PrintText("x", func(ok bool) { got = append(got, ok) })
		assert.Equal(t, []bool{false}, got)
	})

	t.Run("LateConnectIsClosed", func(t *testing.T) {
		svc := &closableService{MockService: &MockService{}, closed: make(chan struct{})}
		binder := &MockBinder{service: svc}
		b := NewWithLogger(binder, quietLogger())

		b.InitPrinter(nil)
		require.NoError(t, b.Close())

		binder.Connect()
		select {
		case <-svc.closed:
		case <-time.After(time.Second):
			t.Fatal("late service was not closed")
		}
		assert.False(t, b.Bound())
		assert.Equal(t, 1, binder.Unbinds())
	})

	t.Run("StaleCallbacksAfterRebind", func(t *testing.T) {
		binder := &MockBinder{service: &MockService{}}
		b := NewWithLogger(binder, quietLogger())

		b.InitPrinter(nil)
		stale := binder.Callback()
		require.NoError(t, b.Close())

		p := newMockPromise()
		b.InitPrinter(p)
		assert.Equal(t, 2, binder.Binds())

		// The abandoned bind reports after the new one started
		stale.OnDisconnected()
		stale.OnConnected(&MockService{})
		assert.Equal(t, 0, p.settled)
		assert.False(t, b.Bound())

		binder.Connect()
		p.wait(t)
		assert.Equal(t, InitSuccessMessage, p.value)
		assert.True(t, b.Bound())
	})
}

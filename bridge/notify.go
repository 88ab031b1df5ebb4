package bridge

import (
	"log"
	"strconv"
	"sync"

	"github.com/nixxel-company-limited/escpos-bridge/printersvc"
)

// Promise is a one-shot result notifier that can fail with a code and message.
type Promise interface {
	Resolve(value any)
	Reject(code, message string)
}

// PrintResult is what ExitPrinterBuffer resolves with
type PrintResult struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// callbackRelay routes the events of one service command to a boolean callback.
type callbackRelay struct {
	op     string
	cb     func(bool)
	logger *log.Logger
	once   sync.Once
}

func newCallbackRelay(op string, cb func(bool), logger *log.Logger) *callbackRelay {
	return &callbackRelay{op: op, cb: cb, logger: logger}
}

func (r *callbackRelay) settle(ok bool) {
	r.once.Do(func() {
		if r.cb != nil {
			r.cb(ok)
		}
	})
}

func (r *callbackRelay) OnRunResult(isSuccess bool) {
	r.logger.Printf("%s: run result %t", r.op, isSuccess)
	r.settle(isSuccess)
}

func (r *callbackRelay) OnReturnString(msg string) {
	r.logger.Printf("%s: return string %q", r.op, msg)
}

func (r *callbackRelay) OnRaiseException(code int, msg string) {
	r.logger.Printf("%s: exception code=%d msg=%s", r.op, code, msg)
	r.settle(false)
}

func (r *callbackRelay) OnPrintResult(code int, msg string) {
	r.logger.Printf("%s: print result code=%d msg=%s", r.op, code, msg)
}

// promiseRelay routes the events of a buffered transaction to a promise.
type promiseRelay struct {
	op      string
	promise Promise
	logger  *log.Logger
	once    sync.Once
}

func newPromiseRelay(op string, p Promise, logger *log.Logger) *promiseRelay {
	return &promiseRelay{op: op, promise: p, logger: logger}
}

func (r *promiseRelay) resolve(v any) {
	r.once.Do(func() { r.promise.Resolve(v) })
}

func (r *promiseRelay) reject() {
	r.once.Do(func() { r.promise.Reject(FailureCode, PrintFailureMessage) })
}

func (r *promiseRelay) OnRunResult(isSuccess bool) {
	r.logger.Printf("%s: run result %t", r.op, isSuccess)
}

func (r *promiseRelay) OnReturnString(msg string) {
	r.logger.Printf("%s: return string %q", r.op, msg)
}

func (r *promiseRelay) OnRaiseException(code int, msg string) {
	r.logger.Printf("%s: exception code=%d msg=%s", r.op, code, msg)
	r.reject()
}

func (r *promiseRelay) OnPrintResult(code int, msg string) {
	r.logger.Printf("%s: print result code=%d msg=%s", r.op, code, msg)
	r.resolve(PrintResult{Code: strconv.Itoa(code), Message: msg})
}

var (
	_ printersvc.ResultCallback = (*callbackRelay)(nil)
	_ printersvc.ResultCallback = (*promiseRelay)(nil)
)

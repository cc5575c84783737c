package server

import (
	"fmt"

	"github.com/chazu/pyjion/host"
)

// hostRequest represents a unit of work to be executed on the host goroutine.
type hostRequest struct {
	fn   func(*host.Host) any
	done chan hostResult
}

// hostResult holds the return value from a host operation.
type hostResult struct {
	value any
	err   error
}

// HostWorker serializes all host access through a single goroutine.
// The bytecode interpreter is single-threaded; every handler that touches
// the host must go through the worker.
type HostWorker struct {
	host     *host.Host
	requests chan hostRequest
	quit     chan struct{}
}

// NewHostWorker creates a HostWorker and starts the processing goroutine.
func NewHostWorker(h *host.Host) *HostWorker {
	w := &HostWorker{
		host:     h,
		requests: make(chan hostRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *HostWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the host, recovering from panics.
func (w *HostWorker) execute(fn func(*host.Host) any) hostResult {
	var result hostResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.host)
	}()
	return result
}

// Do submits fn for execution on the host goroutine and blocks until it
// completes.
func (w *HostWorker) Do(fn func(*host.Host) any) (any, error) {
	req := hostRequest{
		fn:   fn,
		done: make(chan hostResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.value, result.err
}

// Stop shuts down the worker goroutine.
func (w *HostWorker) Stop() {
	close(w.quit)
}

// Host returns the underlying host, for access that does not touch
// interpreter state.
func (w *HostWorker) Host() *host.Host {
	return w.host
}

// File: internal/mocks/conn.go
package mocks

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/errdefs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Call records one command issued against a FakeConn.
type Call struct {
	Method    string
	Params    []byte
	SessionID string
}

// Handler scripts the response for one method.
type Handler func(call Call) (jsoniter.RawMessage, error)

type streamEnd struct {
	feed func(cdp.Notification) bool
	term func(*errdefs.Error)
}

// FakeConn is a scripted stand-in for the CDP transport, satisfying the
// session.Conn contract. Unhandled methods succeed with an empty object.
type FakeConn struct {
	mu       sync.Mutex
	calls    []Call
	handlers map[string]Handler

	streams []streamEnd
	pending []cdp.Notification

	done      chan struct{}
	closeOnce sync.Once
	state     cdp.State
}

// NewFakeConn builds an open FakeConn with no scripted handlers.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
		state:    cdp.StateOpen,
	}
}

// NewBrowserConn builds a FakeConn preloaded with the handlers page
// creation needs: createTarget mints sequential target ids and
// attachToTarget mints matching session ids.
func NewBrowserConn() *FakeConn {
	f := NewFakeConn()
	var counter int
	f.Handle("Target.createTarget", func(call Call) (jsoniter.RawMessage, error) {
		f.mu.Lock()
		counter++
		n := counter
		f.mu.Unlock()
		return jsoniter.RawMessage(fmt.Sprintf(`{"targetId":"target-%d"}`, n)), nil
	})
	f.Handle("Target.attachToTarget", func(call Call) (jsoniter.RawMessage, error) {
		var params struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(call.Params, &params)
		return jsoniter.RawMessage(fmt.Sprintf(`{"sessionId":"session-%s"}`, params.TargetID)), nil
	})
	return f
}

// Handle scripts the response for a method.
func (f *FakeConn) Handle(method string, h Handler) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

// Send records the call and runs the scripted handler.
func (f *FakeConn) Send(ctx context.Context, method string, params any, sessionID string) (jsoniter.RawMessage, error) {
	select {
	case <-f.done:
		return nil, errdefs.TransportClosed("fake transport closed")
	default:
	}

	var raw []byte
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	call := Call{Method: method, Params: raw, SessionID: sessionID}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.handlers[method]
	f.mu.Unlock()

	if h != nil {
		return h(call)
	}
	return jsoniter.RawMessage(`{}`), nil
}

// Subscribe hands back a detached stream fed by Emit. Notifications
// emitted before the first subscriber are replayed to it, so tests never
// race the asynchronous registry pump.
func (f *FakeConn) Subscribe(filter cdp.Filter, bufferSize int) *cdp.EventStream {
	stream, feed, term := cdp.Pipe(filter, bufferSize)
	f.mu.Lock()
	first := len(f.streams) == 0
	f.streams = append(f.streams, streamEnd{feed: feed, term: term})
	var backlog []cdp.Notification
	if first {
		backlog = f.pending
		f.pending = nil
	}
	f.mu.Unlock()
	for _, n := range backlog {
		feed(n)
	}
	return stream
}

// Emit delivers one notification to every live stream, or queues it until
// the first subscriber arrives.
func (f *FakeConn) Emit(n cdp.Notification) {
	f.mu.Lock()
	if len(f.streams) == 0 {
		f.pending = append(f.pending, n)
		f.mu.Unlock()
		return
	}
	// Feed under the lock so Shutdown cannot terminate a stream between
	// the snapshot and the feed; feeds never block.
	for _, s := range f.streams {
		s.feed(n)
	}
	f.mu.Unlock()
}

// StreamCount reports live subscriptions.
func (f *FakeConn) StreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// Shutdown terminates streams and marks the transport closed.
func (f *FakeConn) Shutdown() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.state = cdp.StateClosed
		streams := f.streams
		f.streams = nil
		f.mu.Unlock()
		close(f.done)
		for _, s := range streams {
			s.term(errdefs.TransportClosed("fake transport closed"))
		}
	})
}

// Done closes on Shutdown.
func (f *FakeConn) Done() <-chan struct{} { return f.done }

// State reports the fake lifecycle state.
func (f *FakeConn) State() cdp.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Calls returns the recorded calls for a method, or all calls when the
// method is empty.
func (f *FakeConn) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if method == "" {
		return append([]Call(nil), f.calls...)
	}
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount reports how many times a method was issued.
func (f *FakeConn) CallCount(method string) int {
	return len(f.Calls(method))
}

// FakeProcess satisfies the registry's process contract.
type FakeProcess struct {
	mu     sync.Mutex
	killed bool
}

// Kill marks the process dead.
func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	return nil
}

// Pid returns a fixed fake pid.
func (p *FakeProcess) Pid() int { return 4242 }

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

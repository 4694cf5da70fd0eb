// File: internal/cdp/transport.go
package cdp

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// State tracks the one-way transport lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// DefaultCommandTimeout applies when neither the caller's context nor the
// transport configuration supplies a deadline.
const DefaultCommandTimeout = 30 * time.Second

// outboundQueueSize bounds frames waiting on the writer goroutine.
const outboundQueueSize = 64

// commandSlot is one pending command awaiting its response. At most one
// slot exists per command ID over the lifetime of a transport.
type commandSlot struct {
	id     int64
	method string
	done   chan slotResult // buffered, capacity 1
}

type slotResult struct {
	result jsoniter.RawMessage
	err    *errdefs.Error
}

// Filter selects which notifications an EventStream receives. Zero value
// matches everything. SessionID matching treats an empty filter value as
// "any session, including browser-wide"; a non-empty value matches that
// session plus browser-wide events.
type Filter struct {
	MethodPrefix string
	SessionID    string
}

func (f Filter) matches(n *Notification) bool {
	if f.MethodPrefix != "" && !strings.HasPrefix(n.Method, f.MethodPrefix) {
		return false
	}
	if f.SessionID != "" && n.SessionID != "" && n.SessionID != f.SessionID {
		return false
	}
	return true
}

// EventStream is a unicast, bounded notification subscription. Events()
// closes when the stream terminates; Err() then reports why (nil on a
// plain Close).
type EventStream struct {
	filter Filter
	ch     chan Notification

	closeOnce sync.Once
	err       atomic.Pointer[errdefs.Error]
	transport *Transport
}

// Events exposes the delivery channel. Delivery order equals wire order.
func (s *EventStream) Events() <-chan Notification { return s.ch }

// Err reports the terminal error after Events() closes.
func (s *EventStream) Err() *errdefs.Error { return s.err.Load() }

// Close detaches the stream from the transport.
func (s *EventStream) Close() {
	if s.transport != nil {
		s.transport.unsubscribe(s)
	}
	s.terminate(nil)
}

// Pipe returns an EventStream detached from any transport together with a
// feed function and a terminate function. Fakes standing in for a live
// transport use it to satisfy the same subscription contract. The feed
// reports false once the buffer is full; it must not be called after the
// terminate function.
func Pipe(filter Filter, bufferSize int) (*EventStream, func(Notification) bool, func(*errdefs.Error)) {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &EventStream{filter: filter, ch: make(chan Notification, bufferSize)}
	feed := func(n Notification) bool {
		if !s.filter.matches(&n) {
			return true
		}
		select {
		case s.ch <- n:
			return true
		default:
			return false
		}
	}
	return s, feed, s.terminate
}

func (s *EventStream) terminate(err *errdefs.Error) {
	s.closeOnce.Do(func() {
		if err != nil {
			s.err.Store(err)
		}
		close(s.ch)
	})
}

// Transport multiplexes request/response commands and event notifications
// over one DevTools WebSocket. It is internally an actor: a single writer
// goroutine serialises outbound frames and a single reader goroutine
// demultiplexes inbound frames. Callers of Send suspend on their slot.
type Transport struct {
	logger         *zap.Logger
	conn           *websocket.Conn
	defaultTimeout time.Duration

	nextID atomic.Int64
	state  atomic.Int32

	mu      sync.Mutex
	pending map[int64]*commandSlot
	subs    []*EventStream

	outbound chan []byte
	done     chan struct{}
	dieOnce  sync.Once
	wg       sync.WaitGroup

	// malformedLog throttles warnings for undecodable frames so a
	// misbehaving peer cannot flood the log.
	malformedLog *rate.Limiter
}

// Option customizes a Transport.
type Option func(*Transport)

// WithDefaultTimeout overrides the per-command timeout applied when the
// caller's context carries no deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.defaultTimeout = d
		}
	}
}

// Dial connects to a DevTools WebSocket URL and starts the transport.
func Dial(ctx context.Context, wsURL string, logger *zap.Logger, opts ...Option) (*Transport, error) {
	dialer := websocket.Dialer{
		// DevTools frames for screenshots and DOM snapshots run large.
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 1 << 20,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeTransportClosed, "websocket dial failed", err)
	}
	return NewTransport(conn, logger, opts...), nil
}

// NewTransport wraps an already-established WebSocket connection.
func NewTransport(conn *websocket.Conn, logger *zap.Logger, opts ...Option) *Transport {
	t := &Transport{
		logger:         logger.Named("cdp"),
		conn:           conn,
		defaultTimeout: DefaultCommandTimeout,
		pending:        make(map[int64]*commandSlot),
		outbound:       make(chan []byte, outboundQueueSize),
		done:           make(chan struct{}),
		malformedLog:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	t.state.Store(int32(StateConnecting))
	for _, opt := range opts {
		opt(t)
	}

	t.state.Store(int32(StateOpen))
	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()
	return t
}

// State returns the current lifecycle state.
func (t *Transport) State() State { return State(t.state.Load()) }

// Done closes when the transport has died, whatever the cause.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Send issues one CDP command and waits for the matching response. The
// sessionID tags the command to an attached target; empty means the
// browser-wide session. Delivery is at most once: on timeout the slot is
// dropped and a late response is discarded, though the browser may still
// have executed the command.
func (t *Transport) Send(ctx context.Context, method string, params any, sessionID string) (jsoniter.RawMessage, error) {
	if t.State() != StateOpen {
		return nil, errdefs.TransportClosed("transport is " + t.State().String())
	}

	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.defaultTimeout)
		defer cancel()
	}

	id := t.nextID.Add(1)
	f := frame{ID: id, Method: method, SessionID: sessionID}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.CodeInvalidArgument, "marshal params for "+method, err)
		}
		f.Params = raw
	}
	buf, err := json.Marshal(&f)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "marshal frame for "+method, err)
	}

	slot := &commandSlot{id: id, method: method, done: make(chan slotResult, 1)}
	t.mu.Lock()
	if t.State() != StateOpen {
		t.mu.Unlock()
		return nil, errdefs.TransportClosed("transport is " + t.State().String())
	}
	t.pending[id] = slot
	t.mu.Unlock()

	// Hand the frame to the writer. Never write the socket directly here;
	// the writer goroutine owns it.
	select {
	case t.outbound <- buf:
	case <-t.done:
		t.dropSlot(id)
		return nil, errdefs.TransportClosed("transport closed before send")
	case <-ctx.Done():
		t.dropSlot(id)
		return nil, errdefs.Wrap(errdefs.CodeTimeout, method, ctx.Err())
	}

	select {
	case res := <-slot.done:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		t.dropSlot(id)
		return nil, errdefs.Wrap(errdefs.CodeTimeout, method, ctx.Err())
	case <-t.done:
		// die delivers the terminal error to the slot as well; prefer that result when
		// racing, otherwise synthesize the terminal error.
		select {
		case res := <-slot.done:
			if res.err != nil {
				return nil, res.err
			}
			return res.result, nil
		default:
			return nil, errdefs.TransportClosed("transport closed awaiting " + method)
		}
	}
}

// Subscribe registers a unicast event stream. The stream owns a bounded
// queue of bufferSize notifications; if the consumer falls behind until
// the queue overflows, the stream is disconnected with a LAGGED error.
func (t *Transport) Subscribe(filter Filter, bufferSize int) *EventStream {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &EventStream{
		filter:    filter,
		ch:        make(chan Notification, bufferSize),
		transport: t,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if State(t.state.Load()) != StateOpen {
		// Already dead: hand back a terminated stream.
		s.terminate(errdefs.TransportClosed("transport is closed"))
		return s
	}
	t.subs = append(t.subs, s)
	return s
}

func (t *Transport) unsubscribe(target *EventStream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == target {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// Shutdown fails all outstanding slots with TRANSPORT_CLOSED, terminates
// all event streams, and closes the socket. Idempotent.
func (t *Transport) Shutdown() {
	t.die(errdefs.TransportClosed("transport shut down"))
	t.wg.Wait()
}

// die performs the one-way transition to Closed.
func (t *Transport) die(cause *errdefs.Error) {
	t.dieOnce.Do(func() {
		t.state.Store(int32(StateClosing))
		close(t.done)

		// Best-effort close handshake, then tear the socket down so the
		// reader unblocks.
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = t.conn.Close()

		t.mu.Lock()
		pending := t.pending
		t.pending = make(map[int64]*commandSlot)
		subs := t.subs
		t.subs = nil
		t.mu.Unlock()

		for _, slot := range pending {
			slot.done <- slotResult{err: cause}
		}
		for _, s := range subs {
			s.terminate(cause)
		}

		t.state.Store(int32(StateClosed))
		t.logger.Debug("transport closed",
			zap.Int("failed_slots", len(pending)),
			zap.Int("terminated_streams", len(subs)))
	})
}

func (t *Transport) dropSlot(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case buf := <-t.outbound:
			if err := t.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				t.logger.Debug("websocket write failed", zap.Error(err))
				go t.die(errdefs.Wrap(errdefs.CodeTransportClosed, "websocket write failed", err))
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Debug("websocket read failed", zap.Error(err))
			}
			go t.die(errdefs.Wrap(errdefs.CodeTransportClosed, "websocket read failed", err))
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		f, derr := decodeFrame(data)
		if derr != nil || (f.ID == 0 && f.Method == "") {
			if t.malformedLog.Allow() {
				t.logger.Warn("dropping malformed frame", zap.Error(derr), zap.Int("bytes", len(data)))
			}
			continue
		}

		if f.ID > 0 {
			t.deliverResponse(f)
			continue
		}
		t.deliverNotification(&Notification{
			Method:    f.Method,
			Params:    f.Params,
			SessionID: f.SessionID,
		})
	}
}

func (t *Transport) deliverResponse(f *frame) {
	t.mu.Lock()
	slot, ok := t.pending[f.ID]
	if ok {
		delete(t.pending, f.ID)
	}
	t.mu.Unlock()

	if !ok {
		// The caller timed out and dropped its slot; a late response is
		// silently discarded.
		t.logger.Debug("discarding late response", zap.Int64("id", f.ID))
		return
	}

	if f.Error != nil {
		slot.done <- slotResult{err: errdefs.Protocol(f.Error.Code, f.Error.Message)}
		return
	}
	slot.done <- slotResult{result: f.Result}
}

// deliverNotification fans one event out to every matching subscriber in
// wire-arrival order. A subscriber whose queue is full is disconnected
// with LAGGED rather than stalling the read loop.
func (t *Transport) deliverNotification(n *Notification) {
	t.mu.Lock()
	subs := make([]*EventStream, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	var lagged []*EventStream
	for _, s := range subs {
		if !s.filter.matches(n) {
			continue
		}
		select {
		case s.ch <- *n:
		default:
			lagged = append(lagged, s)
		}
	}

	for _, s := range lagged {
		t.unsubscribe(s)
		s.terminate(errdefs.New(errdefs.CodeLagged, "event stream overflow"))
		t.logger.Warn("disconnected lagged subscriber",
			zap.String("method_prefix", s.filter.MethodPrefix),
			zap.String("session", s.filter.SessionID))
	}
}

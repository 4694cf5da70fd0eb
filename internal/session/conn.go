// File: internal/session/conn.go
package session

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chaser/internal/cdp"
)

// Conn is the slice of the CDP transport the registry and the interaction
// layer depend on. *cdp.Transport satisfies it; tests substitute a
// scripted fake.
type Conn interface {
	Send(ctx context.Context, method string, params any, sessionID string) (jsoniter.RawMessage, error)
	Subscribe(filter cdp.Filter, bufferSize int) *cdp.EventStream
	Shutdown()
	Done() <-chan struct{}
	State() cdp.State
}

// Process is the handle to a launched Chromium child. The launch
// collaborator supervises the process; the registry only kills it as part
// of browser teardown.
type Process interface {
	Kill() error
	// Pid is informational, used for logging.
	Pid() int
}

// Launched is what the launch hook hands back to the registry.
type Launched struct {
	// WSURL is the browser-wide DevTools WebSocket endpoint.
	WSURL string
	// Proc may be nil when attaching to an externally supervised browser.
	Proc Process
}

// LaunchFunc starts (or otherwise procures) a Chromium instance and
// returns its DevTools endpoint. Supplied by the launch collaborator.
type LaunchFunc func(ctx context.Context, opts BrowserOptions) (*Launched, error)

// DialFunc turns a WebSocket URL into a live transport. The default uses
// cdp.Dial; tests substitute a fake.
type DialFunc func(ctx context.Context, wsURL string) (Conn, error)

// PageInitHook runs against a freshly attached page session before any
// client-observable navigation. The stealth injector is wired in here;
// returned script identifiers are tracked on the page so they can be
// removed on profile swap.
type PageInitHook func(ctx context.Context, conn Conn, sessionID, profileID string) (scriptIDs []string, err error)

// EventSink receives every notification the per-browser pump sees except
// Target.targetDestroyed, already resolved to handle identity. The event dispatcher implements
// it; a nil sink disables client-facing event delivery.
type EventSink interface {
	// Ingest forwards one wire notification. pageID is empty when the
	// notification could not be attributed to a known page.
	Ingest(browserID, pageID string, n cdp.Notification)
	// PageClosed announces registry-side page removal so page-scoped
	// subscriptions can be finalized with their sentinel event.
	PageClosed(browserID, pageID, url string)
}

// File: internal/events/dispatcher_test.go
package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/errdefs"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(16, zap.NewNop())
	t.Cleanup(d.Shutdown)
	return d
}

func notification(method, params string) cdp.Notification {
	return cdp.Notification{Method: method, Params: jsoniter.RawMessage(params)}
}

func mustNext(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestTranslateClosedKindSet(t *testing.T) {
	d := newTestDispatcher(t)

	testCases := []struct {
		name     string
		method   string
		params   string
		wantKind Kind
		wantSkip bool
	}{
		{name: "page_created", method: "Target.targetCreated",
			params:   `{"targetInfo":{"type":"page","url":"https://a.example/","title":"A"}}`,
			wantKind: PageCreated},
		{name: "worker_target_ignored", method: "Target.targetCreated",
			params: `{"targetInfo":{"type":"service_worker"}}`, wantSkip: true},
		{name: "page_loaded", method: "Page.loadEventFired", params: `{"timestamp":1}`, wantKind: PageLoaded},
		{name: "main_frame_navigated", method: "Page.frameNavigated",
			params: `{"frame":{"id":"F","url":"https://a.example/"}}`, wantKind: PageNavigated},
		{name: "subframe_ignored", method: "Page.frameNavigated",
			params: `{"frame":{"id":"F2","parentId":"F","url":"https://b.example/"}}`, wantSkip: true},
		{name: "console_log", method: "Runtime.consoleAPICalled",
			params: `{"type":"log","args":[{"type":"string","value":"hi"}]}`, wantKind: ConsoleLog},
		{name: "console_error", method: "Runtime.consoleAPICalled",
			params: `{"type":"error","args":[]}`, wantKind: ConsoleError},
		{name: "request", method: "Network.requestWillBeSent",
			params:   `{"request":{"url":"https://a.example/x.js","method":"GET"},"type":"Script"}`,
			wantKind: RequestSent},
		{name: "response", method: "Network.responseReceived",
			params:   `{"type":"Document","response":{"url":"https://a.example/","status":200,"mimeType":"text/html"}}`,
			wantKind: ResponseReceived},
		{name: "exception", method: "Runtime.exceptionThrown",
			params:   `{"exceptionDetails":{"text":"Uncaught","lineNumber":3,"exception":{"description":"TypeError: boom"}}}`,
			wantKind: JSException},
		{name: "dialog", method: "Page.javascriptDialogOpening",
			params: `{"url":"https://a.example/","message":"sure?","type":"confirm"}`, wantKind: DialogOpened},
		{name: "unmapped_method", method: "DOM.childNodeInserted", params: `{}`, wantSkip: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := d.translate("b1", "p1", notification(tc.method, tc.params))
			if tc.wantSkip {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.wantKind, ev.Kind)
			assert.Equal(t, "b1", ev.BrowserID)
			assert.Equal(t, "p1", ev.PageID)
			assert.NotZero(t, ev.TimestampMs)
		})
	}
}

func TestSubscriptionScopeAndKinds(t *testing.T) {
	d := newTestDispatcher(t)

	pageSub := d.Subscribe(Scope{PageID: "p1"}, []Kind{ConsoleLog}, Filter{}, 8)
	globalSub := d.Subscribe(Scope{}, nil, Filter{}, 8)

	d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled", `{"type":"log","args":[]}`))
	d.Ingest("b1", "p2", notification("Runtime.consoleAPICalled", `{"type":"log","args":[]}`))
	d.Ingest("b1", "p1", notification("Page.loadEventFired", `{}`))

	// Page-scoped + kind-filtered: only the one console event from p1.
	ev := mustNext(t, pageSub)
	assert.Equal(t, ConsoleLog, ev.Kind)
	assert.Equal(t, "p1", ev.PageID)

	// Global unfiltered subscriber sees all three in publish order.
	assert.Equal(t, "p1", mustNext(t, globalSub).PageID)
	assert.Equal(t, "p2", mustNext(t, globalSub).PageID)
	assert.Equal(t, PageLoaded, mustNext(t, globalSub).Kind)
}

func TestConsoleLevelFilter(t *testing.T) {
	d := newTestDispatcher(t)
	sub := d.Subscribe(Scope{}, nil, Filter{MinConsoleLevel: "warning"}, 8)

	d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled", `{"type":"log","args":[]}`))
	d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled", `{"type":"error","args":[]}`))

	ev := mustNext(t, sub)
	assert.Equal(t, ConsoleError, ev.Kind)
}

func TestURLGlobAndResourceTypeFilters(t *testing.T) {
	d := newTestDispatcher(t)
	sub := d.Subscribe(Scope{}, []Kind{RequestSent}, Filter{
		URLGlob:       "https://cdn.example/*",
		ResourceTypes: []string{"Script"},
	}, 8)

	d.Ingest("b1", "p1", notification("Network.requestWillBeSent",
		`{"request":{"url":"https://other.example/a.js","method":"GET"},"type":"Script"}`))
	d.Ingest("b1", "p1", notification("Network.requestWillBeSent",
		`{"request":{"url":"https://cdn.example/a.css","method":"GET"},"type":"Stylesheet"}`))
	d.Ingest("b1", "p1", notification("Network.requestWillBeSent",
		`{"request":{"url":"https://cdn.example/a.js","method":"GET"},"type":"Script"}`))

	ev := mustNext(t, sub)
	payload := ev.Payload.(NetworkPayload)
	assert.Equal(t, "https://cdn.example/a.js", payload.URL)
}

func TestOverflowDropsOldestAndAnnotatesLag(t *testing.T) {
	d := newTestDispatcher(t)
	sub := d.Subscribe(Scope{}, []Kind{ConsoleLog}, Filter{}, 4)

	for i := 0; i < 6; i++ {
		d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled",
			fmt.Sprintf(`{"type":"log","args":[{"type":"number","value":%d}]}`, i)))
	}

	// Two oldest dropped; the first delivery reports them.
	ev := mustNext(t, sub)
	assert.Equal(t, uint64(2), ev.LaggedCount)
	assert.Equal(t, []string{"2"}, ev.Payload.(ConsolePayload).Args)

	ev = mustNext(t, sub)
	assert.Equal(t, uint64(0), ev.LaggedCount)
	assert.Equal(t, []string{"3"}, ev.Payload.(ConsolePayload).Args)
}

func TestSustainedSaturationTerminatesWithLagged(t *testing.T) {
	d := newTestDispatcher(t)
	sub := d.Subscribe(Scope{}, []Kind{ConsoleLog}, Filter{}, 2)

	for i := 0; i < 4; i++ {
		d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled", `{"type":"log","args":[]}`))
	}

	// Backdate the saturation clock instead of sleeping out the window.
	sub.mu.Lock()
	require.False(t, sub.fullSince.IsZero())
	sub.fullSince = time.Now().Add(-saturationTimeout - time.Second)
	sub.mu.Unlock()

	d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled", `{"type":"log","args":[]}`))

	require.Eventually(t, func() bool {
		ended, err := sub.Terminated()
		return ended && err != nil && err.Code == errdefs.CodeLagged
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, d.SubscriptionCount())
}

func TestPageClosedSentinelBypassesKindFilter(t *testing.T) {
	d := newTestDispatcher(t)
	// Subscriber only asked for console events.
	sub := d.Subscribe(Scope{PageID: "p1"}, []Kind{ConsoleLog}, Filter{}, 8)
	other := d.Subscribe(Scope{PageID: "p2"}, []Kind{ConsoleLog}, Filter{}, 8)

	d.PageClosed("b1", "p1", "https://a.example/")

	ev := mustNext(t, sub)
	assert.Equal(t, PageClosed, ev.Kind)
	assert.Equal(t, "https://a.example/", ev.Payload.(PagePayload).URL)

	// After the sentinel the subscription ends with PAGE_CLOSED.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodePageClosed))

	// Unrelated page subscriptions are untouched.
	ended, _ := other.Terminated()
	assert.False(t, ended)
}

func TestUnsubscribe(t *testing.T) {
	d := newTestDispatcher(t)
	sub := d.Subscribe(Scope{}, nil, Filter{}, 8)

	require.NoError(t, d.Unsubscribe(sub.ID))
	assert.True(t, errdefs.IsCode(d.Unsubscribe(sub.ID), errdefs.CodeNotFound))

	require.Eventually(t, func() bool {
		return d.SubscriptionCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDeliveryAccounting(t *testing.T) {
	// Invariant: received + lagged never exceeds published per scope.
	d := newTestDispatcher(t)
	sub := d.Subscribe(Scope{}, []Kind{ConsoleLog}, Filter{}, 8)

	const published = 40
	for i := 0; i < published; i++ {
		d.Ingest("b1", "p1", notification("Runtime.consoleAPICalled", `{"type":"log","args":[]}`))
	}

	received := 0
	var laggedTotal uint64
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		ev, err := sub.Next(ctx)
		cancel()
		if err != nil {
			break
		}
		received++
		laggedTotal += ev.LaggedCount
	}
	assert.LessOrEqual(t, received+int(laggedTotal), published)
	assert.Positive(t, received)
}

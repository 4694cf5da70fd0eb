// File: internal/events/dispatcher.go
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/errdefs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBufferSize applies when a subscriber does not specify one.
const DefaultBufferSize = 256

// Dispatcher translates CDP notifications into typed events and delivers
// them to matching subscriptions. Per subscription, delivery order equals
// CDP arrival order; across subscriptions no order is guaranteed.
type Dispatcher struct {
	logger     *zap.Logger
	bufferSize int

	mu   sync.RWMutex
	subs map[string]*Subscription

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher and starts its saturation sweeper.
func NewDispatcher(bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d := &Dispatcher{
		logger:     logger.Named("events"),
		bufferSize: bufferSize,
		subs:       make(map[string]*Subscription),
		stop:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.sweepLoop()
	return d
}

// Subscribe registers a subscription and returns it. bufferSize <= 0
// falls back to the dispatcher default.
func (d *Dispatcher) Subscribe(scope Scope, kinds []Kind, filter Filter, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = d.bufferSize
	}
	sub := newSubscription(uuid.NewString(), scope, kinds, filter, bufferSize, d.remove)
	d.mu.Lock()
	d.subs[sub.ID] = sub
	d.mu.Unlock()
	d.logger.Debug("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("page_scope", scope.PageID),
		zap.String("browser_scope", scope.BrowserID))
	return sub
}

// Unsubscribe cancels a subscription; its consumer sees a terminal error.
func (d *Dispatcher) Unsubscribe(id string) error {
	d.mu.Lock()
	sub, ok := d.subs[id]
	delete(d.subs, id)
	d.mu.Unlock()
	if !ok {
		return errdefs.NotFound("subscription", id)
	}
	sub.terminate(nil)
	return nil
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// SubscriptionCount reports the live subscription population.
func (d *Dispatcher) SubscriptionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Ingest implements the registry's event sink: one wire notification in,
// zero or one typed events out, fanned to matching subscriptions.
func (d *Dispatcher) Ingest(browserID, pageID string, n cdp.Notification) {
	ev, ok := d.translate(browserID, pageID, n)
	if !ok {
		return
	}
	d.publish(&ev, false)
}

// PageClosed finalizes page-scoped subscriptions: they receive the
// PAGE_CLOSED sentinel regardless of their kind filters and then end.
func (d *Dispatcher) PageClosed(browserID, pageID, url string) {
	ev := Event{
		Kind:        PageClosed,
		PageID:      pageID,
		BrowserID:   browserID,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     PagePayload{URL: url},
	}
	d.publish(&ev, true)

	d.mu.RLock()
	var scoped []*Subscription
	for _, sub := range d.subs {
		if sub.scope.PageID == pageID {
			scoped = append(scoped, sub)
		}
	}
	d.mu.RUnlock()
	for _, sub := range scoped {
		sub.terminate(errdefs.PageClosed(pageID))
	}
}

// Shutdown terminates every subscription and stops the sweeper.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()

	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub)
	}
	d.subs = make(map[string]*Subscription)
	d.mu.Unlock()
	for _, sub := range subs {
		sub.terminate(errdefs.TransportClosed("dispatcher shut down"))
	}
}

// publish fans one event out. force bypasses kind filters (sentinel).
func (d *Dispatcher) publish(ev *Event, force bool) {
	d.mu.RLock()
	subs := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub)
	}
	d.mu.RUnlock()

	for _, sub := range subs {
		if !sub.wants(ev, force && sub.scope.PageID == ev.PageID) {
			continue
		}
		if !sub.push(*ev) {
			d.remove(sub.ID)
			d.logger.Warn("subscription dropped for lag",
				zap.String("subscription_id", sub.ID))
		}
	}
}

// sweepLoop enforces the saturation timeout even when no new events
// arrive for a stuck subscriber.
func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.mu.RLock()
			var expired []*Subscription
			for _, sub := range d.subs {
				sub.mu.Lock()
				saturated := !sub.fullSince.IsZero() && time.Since(sub.fullSince) > saturationTimeout && !sub.ended
				sub.mu.Unlock()
				if saturated {
					expired = append(expired, sub)
				}
			}
			d.mu.RUnlock()
			for _, sub := range expired {
				sub.terminate(errdefs.Lagged(sub.ID))
				d.remove(sub.ID)
				d.logger.Warn("subscription dropped for sustained saturation",
					zap.String("subscription_id", sub.ID))
			}
		case <-d.stop:
			return
		}
	}
}

// --- CDP notification translation ---

type targetCreatedParams struct {
	TargetInfo struct {
		Type  string `json:"type"`
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"targetInfo"`
}

type consoleAPIParams struct {
	Type string `json:"type"`
	Args []struct {
		Type        string              `json:"type"`
		Value       jsoniter.RawMessage `json:"value"`
		Description string              `json:"description"`
	} `json:"args"`
}

type requestWillBeSentParams struct {
	Request struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
	} `json:"request"`
	Type string `json:"type"`
}

type responseReceivedParams struct {
	Type     string `json:"type"`
	Response struct {
		URL               string            `json:"url"`
		Status            int64             `json:"status"`
		MimeType          string            `json:"mimeType"`
		Headers           map[string]string `json:"headers"`
		EncodedDataLength float64           `json:"encodedDataLength"`
	} `json:"response"`
}

type exceptionThrownParams struct {
	ExceptionDetails struct {
		Text         string `json:"text"`
		URL          string `json:"url"`
		LineNumber   int64  `json:"lineNumber"`
		ColumnNumber int64  `json:"columnNumber"`
		Exception    struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

type dialogOpeningParams struct {
	URL     string `json:"url"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type frameNavigatedParams struct {
	Frame struct {
		ParentID string `json:"parentId"`
		URL      string `json:"url"`
	} `json:"frame"`
}

func (d *Dispatcher) translate(browserID, pageID string, n cdp.Notification) (Event, bool) {
	ev := Event{
		BrowserID:   browserID,
		PageID:      pageID,
		TimestampMs: time.Now().UnixMilli(),
	}

	switch n.Method {
	case "Target.targetCreated":
		var p targetCreatedParams
		if json.Unmarshal(n.Params, &p) != nil || p.TargetInfo.Type != "page" {
			return Event{}, false
		}
		ev.Kind = PageCreated
		ev.Payload = PagePayload{URL: p.TargetInfo.URL, Title: p.TargetInfo.Title}

	case "Page.loadEventFired":
		ev.Kind = PageLoaded
		ev.Payload = PagePayload{}

	case "Page.frameNavigated":
		var p frameNavigatedParams
		if json.Unmarshal(n.Params, &p) != nil || p.Frame.ParentID != "" {
			return Event{}, false
		}
		ev.Kind = PageNavigated
		ev.Payload = PagePayload{URL: p.Frame.URL}

	case "Runtime.consoleAPICalled":
		var p consoleAPIParams
		if json.Unmarshal(n.Params, &p) != nil {
			return Event{}, false
		}
		if p.Type == "error" || p.Type == "assert" {
			ev.Kind = ConsoleError
		} else {
			ev.Kind = ConsoleLog
		}
		args := make([]string, 0, len(p.Args))
		for _, a := range p.Args {
			switch {
			case len(a.Value) > 0:
				args = append(args, string(a.Value))
			case a.Description != "":
				args = append(args, a.Description)
			default:
				args = append(args, a.Type)
			}
		}
		ev.Payload = ConsolePayload{Level: p.Type, Args: args}

	case "Network.requestWillBeSent":
		var p requestWillBeSentParams
		if json.Unmarshal(n.Params, &p) != nil {
			return Event{}, false
		}
		ev.Kind = RequestSent
		ev.Payload = NetworkPayload{
			URL:          p.Request.URL,
			Method:       p.Request.Method,
			Headers:      p.Request.Headers,
			ResourceType: p.Type,
		}

	case "Network.responseReceived":
		var p responseReceivedParams
		if json.Unmarshal(n.Params, &p) != nil {
			return Event{}, false
		}
		ev.Kind = ResponseReceived
		ev.Payload = NetworkPayload{
			URL:          p.Response.URL,
			StatusCode:   p.Response.Status,
			MimeType:     p.Response.MimeType,
			Headers:      p.Response.Headers,
			ResourceType: p.Type,
			Size:         p.Response.EncodedDataLength,
		}

	case "Runtime.exceptionThrown":
		var p exceptionThrownParams
		if json.Unmarshal(n.Params, &p) != nil {
			return Event{}, false
		}
		text := p.ExceptionDetails.Exception.Description
		if text == "" {
			text = p.ExceptionDetails.Text
		}
		ev.Kind = JSException
		ev.Payload = ExceptionPayload{
			Text:         text,
			URL:          p.ExceptionDetails.URL,
			LineNumber:   p.ExceptionDetails.LineNumber,
			ColumnNumber: p.ExceptionDetails.ColumnNumber,
		}

	case "Page.javascriptDialogOpening":
		var p dialogOpeningParams
		if json.Unmarshal(n.Params, &p) != nil {
			return Event{}, false
		}
		ev.Kind = DialogOpened
		ev.Payload = DialogPayload{Type: p.Type, Message: p.Message, URL: p.URL}

	default:
		return Event{}, false
	}

	return ev, true
}

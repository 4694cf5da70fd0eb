// File: internal/events/subscription.go
package events

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// saturationTimeout is how long a subscription may sit with a full queue
// before it is dropped with LAGGED.
const saturationTimeout = 5 * time.Second

// Subscription is one client-scoped delivery channel. Events are queued
// in CDP arrival order into a bounded buffer; when the buffer overflows
// the oldest event is dropped and the next delivered event carries the
// drop count. A consumer that leaves the queue saturated beyond the
// saturation timeout is terminated with LAGGED.
type Subscription struct {
	ID     string
	scope  Scope
	kinds  map[Kind]struct{}
	filter Filter

	mu        sync.Mutex
	queue     []Event
	capacity  int
	lagged    uint64
	fullSince time.Time
	termErr   *errdefs.Error
	ended     bool
	notify    chan struct{}

	onClose func(id string)
}

func newSubscription(id string, scope Scope, kinds []Kind, filter Filter, bufferSize int, onClose func(string)) *Subscription {
	ks := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		ks[k] = struct{}{}
	}
	return &Subscription{
		ID:       id,
		scope:    scope,
		kinds:    ks,
		filter:   filter,
		capacity: bufferSize,
		notify:   make(chan struct{}, 1),
		onClose:  onClose,
	}
}

// wants applies scope, kind, and filter checks. The force flag bypasses
// the kind filter for the PAGE_CLOSED sentinel.
func (s *Subscription) wants(ev *Event, force bool) bool {
	if !s.scope.matches(ev) {
		return false
	}
	if !force {
		if len(s.kinds) > 0 {
			if _, ok := s.kinds[ev.Kind]; !ok {
				return false
			}
		}
		if !s.filterAllows(ev) {
			return false
		}
	}
	return true
}

func (s *Subscription) filterAllows(ev *Event) bool {
	if s.filter.URLGlob != "" {
		if url := eventURL(ev); url != "" {
			if ok, err := path.Match(s.filter.URLGlob, url); err != nil || !ok {
				return false
			}
		}
	}
	if len(s.filter.ResourceTypes) > 0 {
		if np, ok := ev.Payload.(NetworkPayload); ok {
			found := false
			for _, rt := range s.filter.ResourceTypes {
				if rt == np.ResourceType {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if s.filter.MinConsoleLevel != "" {
		if cp, ok := ev.Payload.(ConsolePayload); ok {
			if consoleRank(cp.Level) < consoleRank(s.filter.MinConsoleLevel) {
				return false
			}
		}
	}
	return true
}

func eventURL(ev *Event) string {
	switch p := ev.Payload.(type) {
	case PagePayload:
		return p.URL
	case NetworkPayload:
		return p.URL
	case ExceptionPayload:
		return p.URL
	case DialogPayload:
		return p.URL
	}
	return ""
}

// push enqueues one event. It reports false when the subscription has
// been terminated by saturation and should be detached.
func (s *Subscription) push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}

	if len(s.queue) >= s.capacity {
		if s.fullSince.IsZero() {
			s.fullSince = time.Now()
		} else if time.Since(s.fullSince) > saturationTimeout {
			s.terminateLocked(errdefs.Lagged(s.ID))
			return false
		}
		// Drop the oldest; the next delivery reports the loss.
		s.queue = s.queue[1:]
		s.lagged++
	}
	s.queue = append(s.queue, ev)
	s.wake()
	return true
}

// Next blocks for the next event. It returns the terminal error once the
// queue is drained and the subscription has ended: LAGGED after
// saturation, PAGE_CLOSED after the owning page went away, or
// TRANSPORT_CLOSED on dispatcher shutdown.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			ev.LaggedCount = s.lagged
			s.lagged = 0
			if len(s.queue) < s.capacity {
				s.fullSince = time.Time{}
			}
			s.mu.Unlock()
			return ev, nil
		}
		if s.ended {
			err := s.termErr
			s.mu.Unlock()
			if err == nil {
				err = errdefs.New(errdefs.CodeInternal, "subscription closed")
			}
			return Event{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, errdefs.Wrap(errdefs.CodeTimeout, "event wait", ctx.Err())
		}
	}
}

// LaggedTotal reports the drops since the last delivered event. Next
// hands this count out as the event's LaggedCount and resets it to zero.
func (s *Subscription) LaggedTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

// Terminated reports whether the subscription has ended and why.
func (s *Subscription) Terminated() (bool, *errdefs.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.termErr
}

func (s *Subscription) terminate(err *errdefs.Error) {
	s.mu.Lock()
	s.terminateLocked(err)
	s.mu.Unlock()
}

func (s *Subscription) terminateLocked(err *errdefs.Error) {
	if s.ended {
		return
	}
	s.ended = true
	s.termErr = err
	s.wake()
	if s.onClose != nil {
		// Detach from the dispatcher off the hot path.
		go s.onClose(s.ID)
	}
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

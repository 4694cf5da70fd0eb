// File: internal/browser/service.go
package browser

import (
	"context"
	"math/rand"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/config"
	"github.com/xkilldash9x/chaser/internal/errdefs"
	"github.com/xkilldash9x/chaser/internal/events"
	"github.com/xkilldash9x/chaser/internal/humanoid"
	"github.com/xkilldash9x/chaser/internal/session"
	"github.com/xkilldash9x/chaser/internal/stealth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service is the interaction layer: it resolves targets through the
// session registry, translates each high-level call into CDP command
// sequences, and shapes results. The external RPC layer maps its methods
// one to one.
type Service struct {
	logger     *zap.Logger
	registry   *session.Registry
	dispatcher *events.Dispatcher
	injector   *stealth.Injector
	cfg        config.Config

	// rng drives humanized input synthesis; tests pin the seed.
	rngMu sync.Mutex
	rng   *rand.Rand

	// cursorMu guards the last emitted cursor position per page so
	// consecutive humanized gestures chain naturally.
	cursorMu sync.Mutex
	cursor   map[string]humanoid.Vector2D

	// sleep is context-aware and injectable so tests run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithRand pins the synthesizer's random source.
func WithRand(rng *rand.Rand) ServiceOption {
	return func(s *Service) { s.rng = rng }
}

// WithSleep substitutes the sleep function (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(s *Service) { s.sleep = fn }
}

// NewService wires the interaction layer together.
func NewService(cfg config.Config, registry *session.Registry, dispatcher *events.Dispatcher, injector *stealth.Injector, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		logger:     logger.Named("browser"),
		registry:   registry,
		dispatcher: dispatcher,
		injector:   injector,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cursor:     make(map[string]humanoid.Vector2D),
		sleep:      ctxSleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the session registry for lifecycle calls the RPC layer
// maps directly (create/close browser and page).
func (s *Service) Registry() *session.Registry { return s.registry }

// Dispatcher exposes the event dispatcher for subscription calls.
func (s *Service) Dispatcher() *events.Dispatcher { return s.dispatcher }

// Profiles exposes the stealth catalog.
func (s *Service) Profiles() *stealth.Catalog { return s.injector.Catalog() }

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errdefs.Wrap(errdefs.CodeTimeout, "sleep", ctx.Err())
	}
}

// withRNG runs fn with the service random source under its lock, so
// synthesis stays deterministic under a pinned seed even with concurrent
// callers.
func (s *Service) withRNG(fn func(rng *rand.Rand)) {
	s.rngMu.Lock()
	fn(s.rng)
	s.rngMu.Unlock()
}

// lastCursor returns the tracked cursor position for a page, or a
// plausible prior position near the viewport edge for the first gesture.
func (s *Service) lastCursor(pageID string) humanoid.Vector2D {
	s.cursorMu.Lock()
	pos, ok := s.cursor[pageID]
	s.cursorMu.Unlock()
	if ok {
		return pos
	}
	var start humanoid.Vector2D
	s.withRNG(func(rng *rand.Rand) {
		start = humanoid.Vector2D{X: 8 + rng.Float64()*120, Y: 8 + rng.Float64()*80}
	})
	return start
}

func (s *Service) setCursor(pageID string, pos humanoid.Vector2D) {
	s.cursorMu.Lock()
	s.cursor[pageID] = pos
	s.cursorMu.Unlock()
}

// touch stamps page (and transitively browser) activity after a
// successful command; idle reclamation keys off it.
func (s *Service) touch(pageID string) {
	s.registry.TouchPage(pageID)
}

// pageConn resolves a page's transport and session tag.
func (s *Service) pageConn(pageID string) (session.Conn, string, error) {
	return s.registry.PageConn(pageID)
}

// File: internal/session/registry.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/config"
	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// closeGrace bounds how long ClosePage waits for Target.targetDestroyed
// before removing the page anyway.
const closeGrace = 5 * time.Second

// pageDomains are enabled on every fresh page session before the init
// hook runs.
var pageDomains = []string{"Page.enable", "Runtime.enable", "Network.enable", "DOM.enable"}

// Registry owns every live browser, page, and element handle. It enforces
// the configured capacity caps, cascades teardown, and reclaims idle
// browsers. Lookups never hold a registry lock across a CDP round-trip.
type Registry struct {
	logger *zap.Logger
	cfg    config.SessionConfig

	launch LaunchFunc
	dial   DialFunc
	sink   EventSink
	init   PageInitHook

	mu       sync.RWMutex
	browsers map[string]*browserState
	// pages and elementOwner are flat indexes over all browsers so the
	// documented O(1) lookup contract holds; element records themselves
	// stay page-local.
	pages        map[string]*pageState
	elementOwner map[string]*pageState
	pagesTotal   int
	// reservedBrowsers / per-browser reservations keep capacity honest
	// while a create is in flight without holding the lock across it.
	reservedBrowsers int
	reservedPages    map[string]int
	closed           bool

	janitorStop chan struct{}
	janitorOnce sync.Once
	wg          sync.WaitGroup
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithDialer substitutes the transport constructor.
func WithDialer(d DialFunc) RegistryOption {
	return func(r *Registry) { r.dial = d }
}

// WithEventSink wires the event dispatcher.
func WithEventSink(s EventSink) RegistryOption {
	return func(r *Registry) { r.sink = s }
}

// WithPageInitHook wires the stealth injector (or any other pre-navigation
// setup) into page creation.
func WithPageInitHook(h PageInitHook) RegistryOption {
	return func(r *Registry) { r.init = h }
}

// NewRegistry constructs a Registry. The janitor is not started; call
// StartJanitor once the process is ready to reclaim idle browsers.
func NewRegistry(cfg config.SessionConfig, launch LaunchFunc, logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:        logger.Named("session"),
		cfg:           cfg,
		launch:        launch,
		browsers:      make(map[string]*browserState),
		pages:         make(map[string]*pageState),
		elementOwner:  make(map[string]*pageState),
		reservedPages: make(map[string]int),
		janitorStop:   make(chan struct{}),
	}
	r.dial = func(ctx context.Context, wsURL string) (Conn, error) {
		return cdp.Dial(ctx, wsURL, r.logger)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateBrowser launches a browser via the launch hook, connects its
// transport, enables target discovery, and registers the handle.
func (r *Registry) CreateBrowser(ctx context.Context, opts BrowserOptions) (BrowserInfo, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return BrowserInfo{}, errdefs.TransportClosed("registry shut down")
	}
	if len(r.browsers)+r.reservedBrowsers >= r.cfg.MaxBrowsers {
		r.mu.Unlock()
		return BrowserInfo{}, errdefs.Capacity("browsers", r.cfg.MaxBrowsers)
	}
	r.reservedBrowsers++
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		r.reservedBrowsers--
		r.mu.Unlock()
	}

	launched, err := r.launch(ctx, opts)
	if err != nil {
		release()
		return BrowserInfo{}, errdefs.Wrap(errdefs.CodeInternal, "browser launch failed", err)
	}

	conn, err := r.dial(ctx, launched.WSURL)
	if err != nil {
		release()
		if launched.Proc != nil {
			_ = launched.Proc.Kill()
		}
		return BrowserInfo{}, err
	}

	if _, err := conn.Send(ctx, "Target.setDiscoverTargets",
		&target.SetDiscoverTargetsParams{Discover: true}, ""); err != nil {
		release()
		conn.Shutdown()
		if launched.Proc != nil {
			_ = launched.Proc.Kill()
		}
		return BrowserInfo{}, err
	}

	b := &browserState{
		id:        uuid.NewString(),
		opts:      opts,
		conn:      conn,
		proc:      launched.Proc,
		createdAt: time.Now(),
		pages:     make(map[string]*pageState),
		bySession: make(map[target.SessionID]*pageState),
		byTarget:  make(map[target.ID]*pageState),
	}
	b.touch()

	r.mu.Lock()
	r.reservedBrowsers--
	r.browsers[b.id] = b
	r.mu.Unlock()

	r.wg.Add(2)
	go r.watchBrowser(b)
	go r.pump(b)

	r.logger.Info("browser registered", zap.String("browser_id", b.id))
	return b.snapshot(), nil
}

// CreatePage opens a new target in the browser, attaches a flat session,
// enables the standard domain set, runs the page-init hook, and finally
// navigates when an initial URL is given.
func (r *Registry) CreatePage(ctx context.Context, browserID, initialURL string) (PageInfo, error) {
	b, err := r.browser(browserID)
	if err != nil {
		return PageInfo{}, err
	}

	if err := r.reservePage(b); err != nil {
		return PageInfo{}, err
	}
	release := func() {
		r.mu.Lock()
		r.pagesTotal--
		r.reservedPages[b.id]--
		r.mu.Unlock()
	}

	created, err := b.conn.Send(ctx, "Target.createTarget",
		&target.CreateTargetParams{URL: "about:blank"}, "")
	if err != nil {
		release()
		return PageInfo{}, r.mapBrowserErr(b, err)
	}
	var createRet target.CreateTargetReturns
	if uerr := jsonUnmarshal(created, &createRet); uerr != nil {
		release()
		return PageInfo{}, errdefs.Wrap(errdefs.CodeInternal, "decode createTarget result", uerr)
	}

	attached, err := b.conn.Send(ctx, "Target.attachToTarget",
		&target.AttachToTargetParams{TargetID: createRet.TargetID, Flatten: true}, "")
	if err != nil {
		release()
		return PageInfo{}, r.mapBrowserErr(b, err)
	}
	var attachRet target.AttachToTargetReturns
	if uerr := jsonUnmarshal(attached, &attachRet); uerr != nil {
		release()
		return PageInfo{}, errdefs.Wrap(errdefs.CodeInternal, "decode attachToTarget result", uerr)
	}

	sessionID := attachRet.SessionID
	for _, method := range pageDomains {
		if _, err := b.conn.Send(ctx, method, nil, string(sessionID)); err != nil {
			release()
			return PageInfo{}, r.mapBrowserErr(b, err)
		}
	}

	p := &pageState{
		id:        uuid.NewString(),
		browserID: b.id,
		targetID:  createRet.TargetID,
		sessionID: sessionID,
		url:       "about:blank",
		elements:  make(map[string]*elementState),
		gone:      make(chan struct{}),
	}
	p.touch()

	// Stealth goes in before the page can run any script of its own.
	if r.init != nil && b.opts.ProfileID != "" {
		ids, herr := r.init(ctx, b.conn, string(sessionID), b.opts.ProfileID)
		if herr != nil {
			release()
			_, _ = b.conn.Send(ctx, "Target.closeTarget",
				&target.CloseTargetParams{TargetID: createRet.TargetID}, "")
			return PageInfo{}, herr
		}
		p.setScripts(b.opts.ProfileID, ids)
	}

	b.attachPage(p)
	r.mu.Lock()
	r.reservedPages[b.id]--
	r.pages[p.id] = p
	r.mu.Unlock()

	if initialURL != "" {
		if _, err := b.conn.Send(ctx, "Page.navigate",
			map[string]string{"url": initialURL}, string(sessionID)); err != nil {
			r.logger.Warn("initial navigation failed",
				zap.String("page_id", p.id), zap.Error(err))
		}
	}

	r.logger.Info("page registered",
		zap.String("browser_id", b.id), zap.String("page_id", p.id))
	return p.snapshot(), nil
}

func (r *Registry) reservePage(b *browserState) error {
	b.mu.Lock()
	livePages := len(b.pages)
	b.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errdefs.TransportClosed("registry shut down")
	}
	if livePages+r.reservedPages[b.id] >= r.cfg.MaxPagesPerBrowser {
		return errdefs.Capacity("pages per browser", r.cfg.MaxPagesPerBrowser)
	}
	if r.pagesTotal >= r.cfg.MaxPagesTotal {
		return errdefs.Capacity("total pages", r.cfg.MaxPagesTotal)
	}
	r.pagesTotal++
	r.reservedPages[b.id]++
	return nil
}

// GetBrowser returns the browser snapshot or NOT_FOUND.
func (r *Registry) GetBrowser(browserID string) (BrowserInfo, error) {
	b, err := r.browser(browserID)
	if err != nil {
		return BrowserInfo{}, err
	}
	return b.snapshot(), nil
}

// GetPage is an O(1) lookup of a live page.
func (r *Registry) GetPage(pageID string) (PageInfo, error) {
	p, err := r.page(pageID)
	if err != nil {
		return PageInfo{}, err
	}
	return p.snapshot(), nil
}

// GetElement resolves an element in O(1), failing with STALE when the
// owning page navigated since the element was issued.
func (r *Registry) GetElement(elementID string) (ElementInfo, error) {
	r.mu.RLock()
	owner := r.elementOwner[elementID]
	r.mu.RUnlock()
	if owner == nil {
		return ElementInfo{}, errdefs.NotFound("element", elementID)
	}
	e, ok := owner.element(elementID)
	if !ok {
		return ElementInfo{}, errdefs.NotFound("element", elementID)
	}
	if e.epoch != owner.epoch.Load() {
		return ElementInfo{}, errdefs.Stale(elementID)
	}
	return e.snapshot(), nil
}

// AddElement registers a freshly resolved DOM node under the page's
// current epoch and returns its handle.
func (r *Registry) AddElement(pageID string, backendNodeID int64, remoteObjectID string) (ElementInfo, error) {
	p, err := r.page(pageID)
	if err != nil {
		return ElementInfo{}, err
	}
	e := newElementState(p, backendNodeID, remoteObjectID)
	p.addElement(e)
	r.mu.Lock()
	r.elementOwner[e.id] = p
	r.mu.Unlock()
	return e.snapshot(), nil
}

// Conn exposes the transport for a browser so the interaction layer can
// issue commands. Fails with BROWSER_GONE once teardown has begun.
func (r *Registry) Conn(browserID string) (Conn, error) {
	b, err := r.browser(browserID)
	if err != nil {
		return nil, err
	}
	return b.conn, nil
}

// PageConn resolves a page to its transport and session tag in one step.
func (r *Registry) PageConn(pageID string) (Conn, string, error) {
	p, err := r.page(pageID)
	if err != nil {
		return nil, "", err
	}
	b, err := r.browser(p.browserID)
	if err != nil {
		return nil, "", err
	}
	return b.conn, string(p.sessionID), nil
}

// TouchPage stamps activity on a page and its owning browser. Called by
// the interaction layer after every successful command.
func (r *Registry) TouchPage(pageID string) {
	p, err := r.page(pageID)
	if err != nil {
		return
	}
	p.touch()
	if b, err := r.browser(p.browserID); err == nil {
		b.touch()
	}
}

// BumpEpoch advances the page epoch, invalidating all issued elements.
// The pump advances the epoch on the page state directly on every
// main-frame navigation; this is the same operation by page id.
func (r *Registry) BumpEpoch(pageID string) {
	if p, err := r.page(pageID); err == nil {
		p.bumpEpoch()
	}
}

// SetPageScripts records the init scripts installed for a profile,
// replacing whatever was tracked before. Used on profile swap.
func (r *Registry) SetPageScripts(pageID, profileID string, scriptIDs []string) error {
	p, err := r.page(pageID)
	if err != nil {
		return err
	}
	p.setScripts(profileID, scriptIDs)
	return nil
}

// TakePageScripts removes and returns the tracked init scripts so a swap
// can uninstall them.
func (r *Registry) TakePageScripts(pageID string) ([]string, error) {
	p, err := r.page(pageID)
	if err != nil {
		return nil, err
	}
	return p.takeScripts(), nil
}

// ClosePage closes the target and removes the page. Removal happens on
// the targetDestroyed notification or after a grace period, whichever
// comes first.
func (r *Registry) ClosePage(ctx context.Context, pageID string) error {
	p, err := r.page(pageID)
	if err != nil {
		return err
	}
	b, berr := r.browser(p.browserID)
	if berr != nil {
		return berr
	}

	if _, err := b.conn.Send(ctx, "Target.closeTarget",
		&target.CloseTargetParams{TargetID: p.targetID}, ""); err != nil {
		// A dead transport still tears the page down below.
		r.logger.Debug("closeTarget failed", zap.String("page_id", pageID), zap.Error(err))
	}

	select {
	case <-p.gone:
	case <-time.After(closeGrace):
	case <-ctx.Done():
	}

	r.removePage(b, p)
	return nil
}

// removePage is the single place a page leaves the registry. Idempotent.
func (r *Registry) removePage(b *browserState, p *pageState) {
	if !b.detachPage(p) {
		return
	}

	p.markGone()
	p.bumpEpoch()
	elementIDs := p.dropElements()

	r.mu.Lock()
	r.pagesTotal--
	delete(r.pages, p.id)
	for _, id := range elementIDs {
		delete(r.elementOwner, id)
	}
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.PageClosed(b.id, p.id, p.currentURL())
	}
	r.logger.Info("page removed", zap.String("page_id", p.id))
}

// CloseBrowser cascades: every owned page closes first (concurrently,
// over a snapshot), then the transport shuts down and the child process
// is killed, then the handle is removed.
func (r *Registry) CloseBrowser(ctx context.Context, browserID string) error {
	r.mu.RLock()
	b, ok := r.browsers[browserID]
	r.mu.RUnlock()
	if !ok {
		return errdefs.NotFound("browser", browserID)
	}
	if !b.closing.CompareAndSwap(false, true) {
		return nil // already being torn down
	}

	var eg errgroup.Group
	for _, p := range b.pageSnapshot() {
		p := p
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, closeGrace+time.Second)
			defer cancel()
			if _, err := b.conn.Send(pctx, "Target.closeTarget",
				&target.CloseTargetParams{TargetID: p.targetID}, ""); err != nil {
				r.logger.Debug("closeTarget during browser close", zap.Error(err))
			}
			r.removePage(b, p)
			return nil
		})
	}
	_ = eg.Wait()

	b.conn.Shutdown()
	if b.proc != nil {
		_ = b.proc.Kill()
	}

	r.mu.Lock()
	delete(r.browsers, browserID)
	delete(r.reservedPages, browserID)
	r.mu.Unlock()

	r.logger.Info("browser removed", zap.String("browser_id", browserID))
	return nil
}

// ReclaimIdle closes every browser idle beyond the configured session
// timeout. Returns the ids that were reclaimed.
func (r *Registry) ReclaimIdle(ctx context.Context) []string {
	cutoff := time.Now().Add(-r.cfg.Timeout)

	r.mu.RLock()
	var idle []string
	for id, b := range r.browsers {
		if b.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range idle {
		r.logger.Info("reclaiming idle browser", zap.String("browser_id", id))
		if err := r.CloseBrowser(ctx, id); err != nil {
			r.logger.Warn("idle reclamation failed", zap.String("browser_id", id), zap.Error(err))
		}
	}
	return idle
}

// StartJanitor begins the periodic idle sweep.
func (r *Registry) StartJanitor() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), closeGrace*2)
				r.ReclaimIdle(ctx)
				cancel()
			case <-r.janitorStop:
				return
			}
		}
	}()
}

// Shutdown closes every browser in parallel and stops background work.
// The context bounds the whole operation (the caller supplies the hard
// deadline).
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	snapshot := make([]string, 0, len(r.browsers))
	for id := range r.browsers {
		snapshot = append(snapshot, id)
	}
	r.mu.Unlock()

	r.janitorOnce.Do(func() { close(r.janitorStop) })

	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range snapshot {
		id := id
		eg.Go(func() error { return r.CloseBrowser(egCtx, id) })
	}
	err := eg.Wait()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errdefs.Wrap(errdefs.CodeTimeout, "registry shutdown", ctx.Err())
	}
	return err
}

// BrowserCount reports the live browser population.
func (r *Registry) BrowserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.browsers)
}

// PageCount reports the live page population across all browsers.
func (r *Registry) PageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pagesTotal
}

// browser resolves a live, non-closing browser state.
func (r *Registry) browser(browserID string) (*browserState, error) {
	r.mu.RLock()
	b, ok := r.browsers[browserID]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.NotFound("browser", browserID)
	}
	if b.closing.Load() {
		return nil, errdefs.BrowserGone(browserID)
	}
	return b, nil
}

// page resolves a live page state by id through the flat index.
func (r *Registry) page(pageID string) (*pageState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pages[pageID]; ok {
		return p, nil
	}
	return nil, errdefs.NotFound("page", pageID)
}

// mapBrowserErr translates transport death into BROWSER_GONE for callers
// racing a teardown.
func (r *Registry) mapBrowserErr(b *browserState, err error) error {
	if errdefs.IsCode(err, errdefs.CodeTransportClosed) && b.closing.Load() {
		return errdefs.BrowserGone(b.id)
	}
	return err
}

// watchBrowser reclaims a browser whose transport died underneath it.
func (r *Registry) watchBrowser(b *browserState) {
	defer r.wg.Done()
	<-b.conn.Done()
	if b.closing.Load() {
		return // ordinary teardown
	}
	r.logger.Warn("transport died, reclaiming browser", zap.String("browser_id", b.id))
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace*2)
	defer cancel()
	_ = r.CloseBrowser(ctx, b.id)
}

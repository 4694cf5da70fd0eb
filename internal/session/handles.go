// File: internal/session/handles.go
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/google/uuid"
)

// BrowserOptions is the launch-time snapshot kept on a browser handle.
type BrowserOptions struct {
	Headless bool
	// ProfileID optionally binds a stealth profile; every page created in
	// the browser gets the profile installed before first navigation.
	ProfileID string
	// ExtraArgs are appended to the launch command line.
	ExtraArgs []string
}

// BrowserInfo is the value record handed to callers. It never aliases
// registry-internal state.
type BrowserInfo struct {
	ID           string
	Options      BrowserOptions
	CreatedAt    time.Time
	LastActivity time.Time
	PageIDs      []string
}

// PageInfo is the caller-facing page record.
type PageInfo struct {
	ID        string
	BrowserID string
	TargetID  target.ID
	SessionID target.SessionID
	URL       string
	Epoch     uint64
	ProfileID string
	ScriptIDs []string
}

// ElementInfo is the caller-facing element record. Epoch is the page
// epoch the element was resolved under; a mismatch at use time means the
// element is stale.
type ElementInfo struct {
	ID             string
	PageID         string
	BackendNodeID  cdp.BackendNodeID
	RemoteObjectID runtime.RemoteObjectID
	Epoch          uint64
}

// browserState is the registry-internal mutable browser record.
type browserState struct {
	id        string
	opts      BrowserOptions
	conn      Conn
	proc      Process
	createdAt time.Time

	// lastActivity is unix nanoseconds, stamped by the interaction layer
	// on every successful command. Atomic so stamping never takes the
	// registry write lock.
	lastActivity atomic.Int64

	mu    sync.Mutex
	pages map[string]*pageState
	// bySession and byTarget index the same pages under the identifiers
	// the wire uses, so the pump resolves notifications in O(1).
	bySession map[target.SessionID]*pageState
	byTarget  map[target.ID]*pageState

	closing atomic.Bool
}

// attachPage inserts a page into the browser-local maps and all indexes.
func (b *browserState) attachPage(p *pageState) {
	b.mu.Lock()
	b.pages[p.id] = p
	b.bySession[p.sessionID] = p
	b.byTarget[p.targetID] = p
	b.mu.Unlock()
}

// detachPage removes a page from the browser-local maps. It reports
// whether the page was still attached, making removal idempotent.
func (b *browserState) detachPage(p *pageState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pages[p.id]; !ok {
		return false
	}
	delete(b.pages, p.id)
	delete(b.bySession, p.sessionID)
	delete(b.byTarget, p.targetID)
	return true
}

func (b *browserState) pageBySession(sessionID target.SessionID) *pageState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bySession[sessionID]
}

func (b *browserState) pageByTarget(targetID target.ID) *pageState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byTarget[targetID]
}

func (b *browserState) touch() { b.lastActivity.Store(time.Now().UnixNano()) }

func (b *browserState) idleSince() time.Time {
	return time.Unix(0, b.lastActivity.Load())
}

func (b *browserState) snapshot() BrowserInfo {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pages))
	for id := range b.pages {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	return BrowserInfo{
		ID:           b.id,
		Options:      b.opts,
		CreatedAt:    b.createdAt,
		LastActivity: b.idleSince(),
		PageIDs:      ids,
	}
}

// pageSnapshot returns the page states owned at this instant. Cascade
// close iterates the snapshot, never the live map.
func (b *browserState) pageSnapshot() []*pageState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*pageState, 0, len(b.pages))
	for _, p := range b.pages {
		out = append(out, p)
	}
	return out
}

// pageState is the registry-internal mutable page record.
type pageState struct {
	id        string
	browserID string
	targetID  target.ID
	sessionID target.SessionID

	// epoch advances on every main-frame navigation; elements resolved
	// under an older epoch are stale.
	epoch atomic.Uint64

	lastActivity atomic.Int64

	mu        sync.Mutex
	url       string
	profileID string
	scriptIDs []string
	elements  map[string]*elementState

	// gone is closed when Target.targetDestroyed for this page arrives,
	// releasing the close grace timer early.
	gone     chan struct{}
	goneOnce sync.Once
}

func (p *pageState) touch() { p.lastActivity.Store(time.Now().UnixNano()) }

func (p *pageState) markGone() { p.goneOnce.Do(func() { close(p.gone) }) }

func (p *pageState) setURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

func (p *pageState) currentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// bumpEpoch invalidates every element issued so far. Stale entries stay
// in the map until the page closes so later lookups report STALE rather
// than NOT_FOUND.
func (p *pageState) bumpEpoch() uint64 {
	return p.epoch.Add(1)
}

// addElement registers a freshly resolved element under the current epoch.
func (p *pageState) addElement(e *elementState) {
	p.mu.Lock()
	p.elements[e.id] = e
	p.mu.Unlock()
}

func (p *pageState) element(id string) (*elementState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elements[id]
	return e, ok
}

// dropElements empties the page-local element map on page removal and
// returns the ids so registry-level indexes can forget them too.
func (p *pageState) dropElements() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.elements))
	for id := range p.elements {
		ids = append(ids, id)
	}
	p.elements = make(map[string]*elementState)
	return ids
}

func (p *pageState) setScripts(profileID string, ids []string) {
	p.mu.Lock()
	p.profileID = profileID
	p.scriptIDs = append([]string(nil), ids...)
	p.mu.Unlock()
}

func (p *pageState) takeScripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.scriptIDs
	p.scriptIDs = nil
	return ids
}

func (p *pageState) snapshot() PageInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PageInfo{
		ID:        p.id,
		BrowserID: p.browserID,
		TargetID:  p.targetID,
		SessionID: p.sessionID,
		URL:       p.url,
		Epoch:     p.epoch.Load(),
		ProfileID: p.profileID,
		ScriptIDs: append([]string(nil), p.scriptIDs...),
	}
}

// newElementState mints an element record under the page's current epoch.
func newElementState(p *pageState, backendNodeID int64, remoteObjectID string) *elementState {
	return &elementState{
		id:             uuid.NewString(),
		pageID:         p.id,
		backendNodeID:  cdp.BackendNodeID(backendNodeID),
		remoteObjectID: runtime.RemoteObjectID(remoteObjectID),
		epoch:          p.epoch.Load(),
	}
}

// elementState is the registry-internal element record. Immutable after
// creation; staleness is decided by comparing epoch to the page's.
type elementState struct {
	id             string
	pageID         string
	backendNodeID  cdp.BackendNodeID
	remoteObjectID runtime.RemoteObjectID
	epoch          uint64
}

func (e *elementState) snapshot() ElementInfo {
	return ElementInfo{
		ID:             e.id,
		PageID:         e.pageID,
		BackendNodeID:  e.backendNodeID,
		RemoteObjectID: e.remoteObjectID,
		Epoch:          e.epoch,
	}
}

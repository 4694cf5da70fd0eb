// File: internal/stealth/profile.go
package stealth

import (
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// Flags selects which override families a profile installs.
type Flags struct {
	Navigator     bool
	Screen        bool
	WebGL         bool
	Canvas        bool
	Audio         bool
	WebdriverHide bool
	Plugins       bool
}

// AllFlags enables every override family.
func AllFlags() Flags {
	return Flags{
		Navigator:     true,
		Screen:        true,
		WebGL:         true,
		Canvas:        true,
		Audio:         true,
		WebdriverHide: true,
		Plugins:       true,
	}
}

// Profile is an immutable fingerprint bundle plus injection flags. The
// Seed derives from the profile identity, making canvas and audio noise a
// pure function of (profile, inputs).
type Profile struct {
	ID          string
	Name        string
	Platform    Platform
	Fingerprint Fingerprint
	Flags       Flags
	Seed        uint32
}

func newProfile(name string, platform Platform, fp Fingerprint, flags Flags) *Profile {
	id := uuid.NewString()
	h := fnv.New32a()
	h.Write([]byte(id))
	return &Profile{
		ID:          id,
		Name:        name,
		Platform:    platform,
		Fingerprint: fp,
		Flags:       flags,
		Seed:        h.Sum32(),
	}
}

// Catalog is the in-memory profile store. Profiles are immutable once
// created; the catalog only grows (a daemon restart resets it, matching
// the no-persistence contract).
type Catalog struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	presets  map[Platform]string
	rng      *rand.Rand
	rngMu    sync.Mutex
}

// NewCatalog seeds one preset profile per platform. The rng drives the
// randomize operation; tests pin it for determinism.
func NewCatalog(rng *rand.Rand) *Catalog {
	c := &Catalog{
		profiles: make(map[string]*Profile),
		presets:  make(map[Platform]string),
		rng:      rng,
	}
	for _, platform := range Platforms {
		p := newProfile(string(platform)+"-preset", platform, baseFingerprint(platform), AllFlags())
		c.profiles[p.ID] = p
		c.presets[platform] = p.ID
	}
	return c
}

// Get resolves a profile by id.
func (c *Catalog) Get(id string) (*Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return nil, errdefs.NotFound("profile", id)
	}
	return p, nil
}

// Preset resolves the startup preset for a platform.
func (c *Catalog) Preset(platform Platform) (*Profile, error) {
	c.mu.RLock()
	id, ok := c.presets[platform]
	c.mu.RUnlock()
	if !ok {
		return nil, errdefs.InvalidArgument("unknown platform preset: " + string(platform))
	}
	return c.Get(id)
}

// Create registers a custom profile built from an explicit fingerprint.
func (c *Catalog) Create(name string, platform Platform, fp Fingerprint, flags Flags) *Profile {
	p := newProfile(name, platform, fp, flags)
	c.mu.Lock()
	c.profiles[p.ID] = p
	c.mu.Unlock()
	return p
}

// Randomize mints a new immutable profile for a platform with user agent,
// screen, core count, memory, timezone and languages independently sampled
// from the built-in tables; WebGL is sampled for desktop platforms only.
func (c *Catalog) Randomize(platform Platform) (*Profile, error) {
	valid := false
	for _, known := range Platforms {
		if platform == known {
			valid = true
			break
		}
	}
	if !valid {
		return nil, errdefs.InvalidArgument("unknown platform: " + string(platform))
	}

	c.rngMu.Lock()
	fp := randomFingerprint(platform, c.rng)
	c.rngMu.Unlock()

	p := newProfile(string(platform)+"-random", platform, fp, AllFlags())
	c.mu.Lock()
	c.profiles[p.ID] = p
	c.mu.Unlock()
	return p, nil
}

// List returns the ids of every profile in the catalog.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.profiles))
	for id := range c.profiles {
		ids = append(ids, id)
	}
	return ids
}

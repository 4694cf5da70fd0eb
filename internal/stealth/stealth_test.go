// File: internal/stealth/stealth_test.go
package stealth

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCatalog() *Catalog {
	return NewCatalog(rand.New(rand.NewSource(42)))
}

func TestCatalogSeedsPresets(t *testing.T) {
	c := newTestCatalog()

	testCases := []struct {
		platform     Platform
		wantPlatform string
	}{
		{PlatformWindows, "Win32"},
		{PlatformMacOS, "MacIntel"},
		{PlatformLinux, "Linux x86_64"},
		{PlatformAndroid, "Linux armv8l"},
		{PlatformIOS, "iPhone"},
	}
	for _, tc := range testCases {
		t.Run(string(tc.platform), func(t *testing.T) {
			p, err := c.Preset(tc.platform)
			require.NoError(t, err)
			assert.Equal(t, tc.wantPlatform, p.Fingerprint.NavigatorPlatform)
			assert.NotEmpty(t, p.Fingerprint.UserAgent)
			assert.NotZero(t, p.Seed)
			assert.True(t, p.Flags.Canvas)
		})
	}
	assert.Len(t, c.List(), len(Platforms))
}

func TestRandomizeSamplesFromTables(t *testing.T) {
	c := newTestCatalog()

	p, err := c.Randomize(PlatformWindows)
	require.NoError(t, err)

	assert.Contains(t, concurrencyOptions, p.Fingerprint.HardwareConcurrency)
	assert.Contains(t, memoryOptions, p.Fingerprint.DeviceMemory)
	assert.Contains(t, timezones, p.Fingerprint.Timezone)
	assert.Contains(t, desktopScreens, p.Fingerprint.Screen)
	assert.Contains(t, windowsUserAgents, p.Fingerprint.UserAgent)

	_, err = c.Randomize(Platform("beos"))
	require.Error(t, err)
}

func TestRandomizeIsDeterministicUnderPinnedSeed(t *testing.T) {
	a := NewCatalog(rand.New(rand.NewSource(7)))
	b := NewCatalog(rand.New(rand.NewSource(7)))

	pa, err := a.Randomize(PlatformMacOS)
	require.NoError(t, err)
	pb, err := b.Randomize(PlatformMacOS)
	require.NoError(t, err)

	if diff := cmp.Diff(pa.Fingerprint, pb.Fingerprint); diff != "" {
		t.Fatalf("fingerprints diverged under identical seeds (-a +b):\n%s", diff)
	}
}

func TestBuildScriptIsPureAndProfileKeyed(t *testing.T) {
	c := newTestCatalog()
	win, err := c.Preset(PlatformWindows)
	require.NoError(t, err)
	mac, err := c.Preset(PlatformMacOS)
	require.NoError(t, err)

	// Same profile, same script: canvas noise is a function of the
	// profile, never of wall-clock randomness.
	assert.Equal(t, BuildScript(win), BuildScript(win))

	// Different profiles produce different scripts (seed and values).
	assert.NotEqual(t, BuildScript(win), BuildScript(mac))

	script := BuildScript(win)
	assert.Contains(t, script, `"Win32"`)
	assert.Contains(t, script, "hardwareConcurrency")
	assert.Contains(t, script, "mulberry32")
	assert.Contains(t, script, "getImageData")
	assert.Contains(t, script, "getChannelData")
	assert.Contains(t, script, "37445")
	// The idempotence guard carries the profile seed.
	assert.Contains(t, script, "__vx")
	// All overrides are installed non-enumerable, non-configurable.
	assert.Contains(t, script, "configurable: false")
	assert.NotContains(t, script, "Math.random()")
}

func TestBuildScriptHonorsFlags(t *testing.T) {
	c := newTestCatalog()
	fp := baseFingerprint(PlatformLinux)

	p := c.Create("navigator-only", PlatformLinux, fp, Flags{Navigator: true})
	script := BuildScript(p)
	assert.Contains(t, script, "hardwareConcurrency")
	assert.NotContains(t, script, "toDataURL")
	assert.NotContains(t, script, "getParameter")
	assert.NotContains(t, script, "AudioBuffer")
	assert.NotContains(t, script, "'webdriver'")

	p = c.Create("canvas-only", PlatformLinux, fp, Flags{Canvas: true})
	script = BuildScript(p)
	assert.Contains(t, script, "toDataURL")
	assert.Contains(t, script, "mulberry32")
	assert.NotContains(t, script, "hardwareConcurrency")
}

// fakeSender records injected CDP traffic.
type fakeSender struct {
	mu    sync.Mutex
	calls []struct {
		method  string
		params  []byte
		session string
	}
}

func (f *fakeSender) Send(ctx context.Context, method string, params any, sessionID string) (jsoniter.RawMessage, error) {
	raw, _ := json.Marshal(params)
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		method  string
		params  []byte
		session string
	}{method, raw, sessionID})
	f.mu.Unlock()
	if method == "Page.addScriptToEvaluateOnNewDocument" {
		return jsoniter.RawMessage(`{"identifier":"script-7"}`), nil
	}
	return jsoniter.RawMessage(`{}`), nil
}

func (f *fakeSender) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func TestInjectorInstallOrdering(t *testing.T) {
	c := newTestCatalog()
	win, err := c.Preset(PlatformWindows)
	require.NoError(t, err)

	inj := NewInjector(c, zap.NewNop())
	sender := &fakeSender{}

	ids, err := inj.Install(context.Background(), sender, "session-1", win.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"script-7"}, ids)

	// UA override precedes script registration so the very first request
	// already carries the profile identity.
	methods := sender.methods()
	require.NotEmpty(t, methods)
	assert.Equal(t, "Network.setUserAgentOverride", methods[0])
	assert.Equal(t, "Page.addScriptToEvaluateOnNewDocument", methods[len(methods)-1])

	for _, call := range sender.calls {
		assert.Equal(t, "session-1", call.session)
	}
	assert.Contains(t, string(sender.calls[0].params), "Win32")
}

func TestInjectorInstallUnknownProfile(t *testing.T) {
	inj := NewInjector(newTestCatalog(), zap.NewNop())
	_, err := inj.Install(context.Background(), &fakeSender{}, "s", "nope")
	require.Error(t, err)
}

func TestInjectorSwapRemovesOldScripts(t *testing.T) {
	c := newTestCatalog()
	mac, err := c.Preset(PlatformMacOS)
	require.NoError(t, err)

	inj := NewInjector(c, zap.NewNop())
	sender := &fakeSender{}

	ids, err := inj.Swap(context.Background(), sender, "session-1", []string{"old-1", "old-2"}, mac.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"script-7"}, ids)

	methods := sender.methods()
	assert.Equal(t, "Page.removeScriptToEvaluateOnNewDocument", methods[0])
	assert.Equal(t, "Page.removeScriptToEvaluateOnNewDocument", methods[1])
	assert.Contains(t, strings.Join(methods, ","), "Network.setUserAgentOverride")
}

func TestAcceptLanguageWeighting(t *testing.T) {
	assert.Equal(t, "en-US", acceptLanguage([]string{"en-US"}))
	assert.Equal(t, "en-US,en;q=0.9", acceptLanguage([]string{"en-US", "en"}))
	assert.Equal(t, "de-DE,de;q=0.9,en;q=0.8", acceptLanguage([]string{"de-DE", "de", "en"}))
}

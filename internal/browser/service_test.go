// File: internal/browser/service_test.go
package browser

import (
	"context"
	"encoding/base64"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/config"
	"github.com/xkilldash9x/chaser/internal/errdefs"
	"github.com/xkilldash9x/chaser/internal/events"
	"github.com/xkilldash9x/chaser/internal/mocks"
	"github.com/xkilldash9x/chaser/internal/session"
	"github.com/xkilldash9x/chaser/internal/stealth"
)

// harness wires a Service to a real registry, dispatcher, and stealth
// catalog over a single scripted transport.
type harness struct {
	svc        *Service
	registry   *session.Registry
	dispatcher *events.Dispatcher
	catalog    *stealth.Catalog
	conn       *mocks.FakeConn

	browserID string
	pageID    string
	sessionID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{conn: mocks.NewBrowserConn()}

	h.conn.Handle("Target.closeTarget", func(call mocks.Call) (jsoniter.RawMessage, error) {
		var params struct {
			TargetID string `json:"targetId"`
		}
		_ = jsoniter.Unmarshal(call.Params, &params)
		go h.conn.Emit(cdp.Notification{
			Method: "Target.targetDestroyed",
			Params: jsoniter.RawMessage(`{"targetId":"` + params.TargetID + `"}`),
		})
		return jsoniter.RawMessage(`{}`), nil
	})

	cfg := config.NewDefaultConfig()
	logger := zap.NewNop()

	h.catalog = stealth.NewCatalog(rand.New(rand.NewSource(42)))
	injector := stealth.NewInjector(h.catalog, logger)
	h.dispatcher = events.NewDispatcher(cfg.Events.BufferSize, logger)

	launch := func(ctx context.Context, o session.BrowserOptions) (*session.Launched, error) {
		return &session.Launched{WSURL: "ws://fake", Proc: &mocks.FakeProcess{}}, nil
	}
	dial := func(ctx context.Context, wsURL string) (session.Conn, error) {
		return h.conn, nil
	}
	h.registry = session.NewRegistry(cfg.Session, launch, logger,
		session.WithDialer(dial),
		session.WithEventSink(h.dispatcher),
		session.WithPageInitHook(func(ctx context.Context, conn session.Conn, sessionID, profileID string) ([]string, error) {
			return injector.Install(ctx, conn, sessionID, profileID)
		}),
	)

	h.svc = NewService(*cfg, h.registry, h.dispatcher, injector, logger,
		WithRand(rand.New(rand.NewSource(1))),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	ctx := context.Background()
	b, err := h.registry.CreateBrowser(ctx, session.BrowserOptions{})
	require.NoError(t, err)
	p, err := h.registry.CreatePage(ctx, b.ID, "")
	require.NoError(t, err)
	h.browserID, h.pageID, h.sessionID = b.ID, p.ID, string(p.SessionID)

	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.registry.Shutdown(sctx)
		h.dispatcher.Shutdown()
	})
	return h
}

// addElement registers an element and scripts its geometry.
func (h *harness) addElement(t *testing.T) session.ElementInfo {
	t.Helper()
	h.conn.Handle("DOM.getBoxModel", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"model":{"content":[10,10,110,10,110,60,10,60]}}`), nil
	})
	el, err := h.registry.AddElement(h.pageID, 7, "obj-7")
	require.NoError(t, err)
	return el
}

func (h *harness) emit(method, params string) {
	h.conn.Emit(cdp.Notification{
		Method:    method,
		SessionID: h.sessionID,
		Params:    jsoniter.RawMessage(params),
	})
}

func TestNavigateWaitsForLoad(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("Page.navigate", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"frameId":"F1","loaderId":"L1"}`), nil
	})

	type navOut struct {
		res NavigateResult
		err error
	}
	done := make(chan navOut, 1)
	go func() {
		res, err := h.svc.Navigate(context.Background(), h.pageID, "https://a.example/", WaitLoad, 5*time.Second)
		done <- navOut{res, err}
	}()

	// Wait until the navigation wait-loop has its own subscription
	// alongside the registry pump.
	require.Eventually(t, func() bool { return h.conn.StreamCount() >= 2 }, 2*time.Second, 5*time.Millisecond)

	h.emit("Page.frameNavigated", `{"frame":{"id":"F1","url":"https://a.example/landed"}}`)
	h.emit("Network.responseReceived", `{"frameId":"F1","type":"Document","response":{"url":"https://a.example/landed","status":200}}`)
	h.emit("Page.loadEventFired", `{"timestamp":1}`)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, "https://a.example/landed", out.res.FinalURL)
		require.NotNil(t, out.res.Status)
		assert.Equal(t, int64(200), *out.res.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("navigation never completed")
	}
}

func TestNavigateNetworkIdle(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("Page.navigate", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"frameId":"F1"}`), nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Navigate(context.Background(), h.pageID, "https://a.example/", WaitNetworkIdle, 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.conn.StreamCount() >= 2 }, 2*time.Second, 5*time.Millisecond)

	// One request in flight holds completion; finishing it opens the
	// quiescence window.
	h.emit("Network.requestWillBeSent", `{"request":{"url":"https://a.example/app.js","method":"GET"},"type":"Script"}`)
	time.Sleep(50 * time.Millisecond)
	h.emit("Network.loadingFinished", `{"requestId":"r1"}`)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("network-idle wait never completed")
	}
}

func TestNavigateDeadlineReturnsTimeout(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("Page.navigate", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"frameId":"F1"}`), nil
	})

	_, err := h.svc.Navigate(context.Background(), h.pageID, "https://a.example/", WaitLoad, 80*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeTimeout))

	// The page remains usable after the timeout.
	_, err = h.registry.GetPage(h.pageID)
	require.NoError(t, err)
}

func TestNavigateValidatesBeforeCDP(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Navigate(context.Background(), h.pageID, "", WaitLoad, 0)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))

	_, err = h.svc.Navigate(context.Background(), h.pageID, "https://a.example/", WaitUntil("SOON"), 0)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))

	assert.Zero(t, h.conn.CallCount("Page.navigate"), "validation must precede CDP traffic")
}

func TestNavigateErrorText(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("Page.navigate", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"frameId":"F1","errorText":"net::ERR_NAME_NOT_RESOLVED"}`), nil
	})

	_, err := h.svc.Navigate(context.Background(), h.pageID, "https://nope.invalid/", WaitLoad, time.Second)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeCDPProtocol))
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestPlainClickDispatchesExactlyPressAndRelease(t *testing.T) {
	h := newHarness(t)
	el := h.addElement(t)

	require.NoError(t, h.svc.Click(context.Background(), el.ID, false))

	mouse := h.conn.Calls("Input.dispatchMouseEvent")
	require.Len(t, mouse, 2, "plain click is exactly press+release")
	assert.Contains(t, string(mouse[0].Params), `"mousePressed"`)
	assert.Contains(t, string(mouse[1].Params), `"mouseReleased"`)
	// Center of the scripted 100x50 content quad.
	assert.Contains(t, string(mouse[0].Params), `"x":60`)
	assert.Contains(t, string(mouse[0].Params), `"y":35`)

	assert.Equal(t, 1, h.conn.CallCount("DOM.scrollIntoViewIfNeeded"))
}

func TestHumanLikeClickReplaysCursorPath(t *testing.T) {
	h := newHarness(t)
	el := h.addElement(t)

	require.NoError(t, h.svc.Click(context.Background(), el.ID, true))

	mouse := h.conn.Calls("Input.dispatchMouseEvent")
	require.Greater(t, len(mouse), 2, "humanized click must move the cursor first")

	moves := 0
	for _, c := range mouse[:len(mouse)-2] {
		assert.Contains(t, string(c.Params), `"mouseMoved"`)
		moves++
	}
	assert.Positive(t, moves)
	assert.Contains(t, string(mouse[len(mouse)-2].Params), `"mousePressed"`)
	assert.Contains(t, string(mouse[len(mouse)-1].Params), `"mouseReleased"`)
}

func TestClickStaleElement(t *testing.T) {
	h := newHarness(t)
	el := h.addElement(t)

	// A main-frame navigation invalidates the element.
	h.emit("Page.frameNavigated", `{"frame":{"id":"F1","url":"https://b.example/"}}`)
	require.Eventually(t, func() bool {
		_, err := h.registry.GetElement(el.ID)
		return errdefs.IsCode(err, errdefs.CodeStale)
	}, 2*time.Second, 5*time.Millisecond)

	err := h.svc.Click(context.Background(), el.ID, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeStale))
	assert.Zero(t, h.conn.CallCount("Input.dispatchMouseEvent"))
}

func TestTypeDispatchesKeyTriples(t *testing.T) {
	h := newHarness(t)
	el := h.addElement(t)

	require.NoError(t, h.svc.Type(context.Background(), el.ID, "hi", false))

	assert.Equal(t, 1, h.conn.CallCount("DOM.focus"))
	keys := h.conn.Calls("Input.dispatchKeyEvent")
	require.Len(t, keys, 6, "keyDown/char/keyUp per character")
	assert.Contains(t, string(keys[0].Params), `"keyDown"`)
	assert.Contains(t, string(keys[1].Params), `"char"`)
	assert.Contains(t, string(keys[2].Params), `"keyUp"`)
	assert.Contains(t, string(keys[0].Params), `"text":"h"`)
	assert.Contains(t, string(keys[3].Params), `"text":"i"`)
}

func TestTypeHumanLikeCoversText(t *testing.T) {
	h := newHarness(t)
	el := h.addElement(t)

	require.NoError(t, h.svc.Type(context.Background(), el.ID, "hello world", true))

	keys := h.conn.Calls("Input.dispatchKeyEvent")
	// At least the plain triples; typos only add events.
	assert.GreaterOrEqual(t, len(keys), 3*len("hello world"))
}

func TestFindElementCSS(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("DOM.getDocument", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"root":{"nodeId":1}}`), nil
	})
	h.conn.Handle("DOM.querySelector", func(call mocks.Call) (jsoniter.RawMessage, error) {
		assert.Contains(t, string(call.Params), `"selector":"h1"`)
		return jsoniter.RawMessage(`{"nodeId":42}`), nil
	})
	h.conn.Handle("DOM.describeNode", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"node":{"backendNodeId":4242}}`), nil
	})
	h.conn.Handle("DOM.resolveNode", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"object":{"objectId":"obj-42"}}`), nil
	})

	el, err := h.svc.FindElement(context.Background(), h.pageID, SelectorCSS, "h1")
	require.NoError(t, err)
	assert.Equal(t, h.pageID, el.PageID)
	assert.EqualValues(t, 4242, el.BackendNodeID)
	assert.EqualValues(t, "obj-42", el.RemoteObjectID)

	got, err := h.registry.GetElement(el.ID)
	require.NoError(t, err)
	assert.Equal(t, el.ID, got.ID)
}

func TestFindElementNotFound(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("DOM.getDocument", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"root":{"nodeId":1}}`), nil
	})
	h.conn.Handle("DOM.querySelector", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"nodeId":0}`), nil
	})

	_, err := h.svc.FindElement(context.Background(), h.pageID, SelectorCSS, ".missing")
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeNotFound))
}

func TestFindElementValidatesKind(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.FindElement(context.Background(), h.pageID, SelectorKind("regex"), "x")
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
	assert.Zero(t, h.conn.CallCount("DOM.getDocument"))
}

func TestWaitForElementPollsUntilFound(t *testing.T) {
	h := newHarness(t)
	var attempts atomic.Int64
	h.conn.Handle("DOM.getDocument", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"root":{"nodeId":1}}`), nil
	})
	h.conn.Handle("DOM.querySelector", func(call mocks.Call) (jsoniter.RawMessage, error) {
		if attempts.Add(1) < 3 {
			return jsoniter.RawMessage(`{"nodeId":0}`), nil
		}
		return jsoniter.RawMessage(`{"nodeId":9}`), nil
	})
	h.conn.Handle("DOM.describeNode", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"node":{"backendNodeId":99}}`), nil
	})

	el, err := h.svc.WaitForElement(context.Background(), h.pageID, SelectorCSS, "#late", 2*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 99, el.BackendNodeID)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestEvaluateMapsRemoteObjects(t *testing.T) {
	h := newHarness(t)

	testCases := []struct {
		name   string
		result string
		want   Value
	}{
		{name: "string", result: `{"result":{"type":"string","value":"hi"}}`,
			want: Value{Kind: ValueString, Str: "hi"}},
		{name: "number", result: `{"result":{"type":"number","value":3.5}}`,
			want: Value{Kind: ValueNumber, Num: 3.5}},
		{name: "bool", result: `{"result":{"type":"boolean","value":true}}`,
			want: Value{Kind: ValueBool, Bool: true}},
		{name: "null", result: `{"result":{"type":"object","subtype":"null"}}`,
			want: Value{Kind: ValueNull}},
		{name: "undefined", result: `{"result":{"type":"undefined"}}`,
			want: Value{Kind: ValueNull}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h.conn.Handle("Runtime.evaluate", func(call mocks.Call) (jsoniter.RawMessage, error) {
				return jsoniter.RawMessage(tc.result), nil
			})
			v, err := h.svc.Evaluate(context.Background(), h.pageID, "expr", false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}

	// Object values carry their JSON form.
	h.conn.Handle("Runtime.evaluate", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"result":{"type":"object","value":{"a":1}}}`), nil
	})
	v, err := h.svc.Evaluate(context.Background(), h.pageID, "expr", false)
	require.NoError(t, err)
	assert.Equal(t, ValueObject, v.Kind)
	assert.JSONEq(t, `{"a":1}`, string(v.Object))
}

func TestEvaluateSurfacesPageException(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("Runtime.evaluate", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"result":{"type":"undefined"},"exceptionDetails":{"text":"Uncaught","exception":{"description":"TypeError: boom"}}}`), nil
	})

	_, err := h.svc.Evaluate(context.Background(), h.pageID, "throw new TypeError('boom')", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TypeError: boom")
}

func TestEvaluateValidatesExpression(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Evaluate(context.Background(), h.pageID, "", false)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
	assert.Zero(t, h.conn.CallCount("Runtime.evaluate"))
}

func TestScreenshotFullPageOverridesAndRestoresMetrics(t *testing.T) {
	h := newHarness(t)
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	h.conn.Handle("Page.getLayoutMetrics", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"cssContentSize":{"width":800,"height":2400}}`), nil
	})
	h.conn.Handle("Page.captureScreenshot", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"data":"` + payload + `"}`), nil
	})

	data, err := h.svc.Screenshot(context.Background(), h.pageID, FormatPNG, 0, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png-bytes"), data)

	overrides := h.conn.Calls("Emulation.setDeviceMetricsOverride")
	require.Len(t, overrides, 1)
	assert.Contains(t, string(overrides[0].Params), `"height":2400`)
	assert.Equal(t, 1, h.conn.CallCount("Emulation.clearDeviceMetricsOverride"))
}

func TestScreenshotClipScaleDefaultsToOne(t *testing.T) {
	h := newHarness(t)
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	h.conn.Handle("Page.captureScreenshot", func(call mocks.Call) (jsoniter.RawMessage, error) {
		assert.Contains(t, string(call.Params), `"scale":1`)
		// Negative coordinates are coerced, not rejected.
		assert.Contains(t, string(call.Params), `"x":0`)
		return jsoniter.RawMessage(`{"data":"` + payload + `"}`), nil
	})

	_, err := h.svc.Screenshot(context.Background(), h.pageID, FormatJPEG, 250, false,
		&Clip{X: -5, Y: 10, Width: 100, Height: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, h.conn.CallCount("Page.captureScreenshot"))
}

func TestScreenshotValidatesFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Screenshot(context.Background(), h.pageID, ImageFormat("bmp"), 0, false, nil)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
	assert.Zero(t, h.conn.CallCount("Page.captureScreenshot"))
}

func TestApplyProfileFreshPageInstallsWithoutReload(t *testing.T) {
	h := newHarness(t)
	win, err := h.catalog.Preset(stealth.PlatformWindows)
	require.NoError(t, err)

	require.NoError(t, h.svc.ApplyProfile(context.Background(), h.pageID, win.ID))

	assert.Equal(t, 1, h.conn.CallCount("Page.addScriptToEvaluateOnNewDocument"))
	assert.Zero(t, h.conn.CallCount("Page.reload"), "fresh page needs no reload")

	info, err := h.registry.GetPage(h.pageID)
	require.NoError(t, err)
	assert.Equal(t, win.ID, info.ProfileID)
	assert.NotEmpty(t, info.ScriptIDs)
}

func TestApplyProfileAfterNavigationReloads(t *testing.T) {
	h := newHarness(t)
	win, err := h.catalog.Preset(stealth.PlatformWindows)
	require.NoError(t, err)

	h.emit("Page.frameNavigated", `{"frame":{"id":"F1","url":"https://a.example/"}}`)
	require.Eventually(t, func() bool {
		info, gerr := h.registry.GetPage(h.pageID)
		return gerr == nil && info.Epoch == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.ApplyProfile(context.Background(), h.pageID, win.ID))
	assert.Equal(t, 1, h.conn.CallCount("Page.reload"))
}

func TestContentReadsOuterHTML(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("DOM.getDocument", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"root":{"nodeId":1}}`), nil
	})
	h.conn.Handle("DOM.getOuterHTML", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"outerHTML":"<html><body>hi</body></html>"}`), nil
	})

	html, err := h.svc.Content(context.Background(), h.pageID)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>hi</body></html>", html)
}

func TestCookieRoundTripAndValidation(t *testing.T) {
	h := newHarness(t)
	h.conn.Handle("Network.getCookies", func(call mocks.Call) (jsoniter.RawMessage, error) {
		return jsoniter.RawMessage(`{"cookies":[{"name":"sid","value":"abc","domain":"a.example"}]}`), nil
	})

	cookies, err := h.svc.Cookies(context.Background(), h.pageID)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)

	err = h.svc.SetCookie(context.Background(), h.pageID, Cookie{Name: "x"})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))

	require.NoError(t, h.svc.SetCookie(context.Background(), h.pageID,
		Cookie{Name: "x", Value: "1", Domain: "a.example"}))
	assert.Equal(t, 1, h.conn.CallCount("Network.setCookie"))

	require.NoError(t, h.svc.ClearCookies(context.Background(), h.pageID))
	assert.Equal(t, 1, h.conn.CallCount("Network.clearBrowserCookies"))
}

func TestTextAndAttributeUseRemoteObject(t *testing.T) {
	h := newHarness(t)
	el := h.addElement(t)
	h.conn.Handle("Runtime.callFunctionOn", func(call mocks.Call) (jsoniter.RawMessage, error) {
		assert.Contains(t, string(call.Params), `"objectId":"obj-7"`)
		return jsoniter.RawMessage(`{"result":{"type":"string","value":"Hello"}}`), nil
	})

	text, err := h.svc.Text(context.Background(), el.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	attr, err := h.svc.Attribute(context.Background(), el.ID, "href")
	require.NoError(t, err)
	assert.Equal(t, "Hello", attr)

	_, err = h.svc.Attribute(context.Background(), el.ID, "")
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
}

func TestUnknownPageFailsFast(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Evaluate(context.Background(), "nope", "1+1", false)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeNotFound))
}

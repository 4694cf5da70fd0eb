// File: internal/browser/page.go
package browser

import (
	"context"
	"encoding/base64"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// ValueKind tags an Evaluate result.
type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
	ValueNull   ValueKind = "null"
	ValueObject ValueKind = "object"
)

// Value is the tagged union shape of a JavaScript evaluation result.
// Object values carry their JSON serialization.
type Value struct {
	Kind   ValueKind
	Str    string
	Num    float64
	Bool   bool
	Object jsoniter.RawMessage
}

type remoteObject struct {
	Type    string              `json:"type"`
	Subtype string              `json:"subtype"`
	Value   jsoniter.RawMessage `json:"value"`
}

type runtimeEvaluateReturns struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Evaluate runs an expression in the page and maps the RemoteObject to a
// tagged value. Uncaught page exceptions surface as errors carrying the
// exception description.
func (s *Service) Evaluate(ctx context.Context, pageID, expression string, awaitPromise bool) (Value, error) {
	if expression == "" {
		return Value{}, errdefs.InvalidArgument("expression must not be empty")
	}
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return Value{}, err
	}

	raw, err := conn.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"awaitPromise":  awaitPromise,
		"returnByValue": true,
	}, sessionID)
	if err != nil {
		return Value{}, err
	}

	var ret runtimeEvaluateReturns
	if uerr := json.Unmarshal(raw, &ret); uerr != nil {
		return Value{}, errdefs.Wrap(errdefs.CodeInternal, "decode evaluate result", uerr)
	}
	if ret.ExceptionDetails != nil {
		text := ret.ExceptionDetails.Exception.Description
		if text == "" {
			text = ret.ExceptionDetails.Text
		}
		return Value{}, errdefs.Newf(errdefs.CodeCDPProtocol, "uncaught exception: %s", text)
	}

	s.touch(pageID)
	return mapRemoteObject(ret.Result), nil
}

func mapRemoteObject(obj remoteObject) Value {
	switch obj.Type {
	case "string":
		var str string
		_ = json.Unmarshal(obj.Value, &str)
		return Value{Kind: ValueString, Str: str}
	case "number":
		var num float64
		_ = json.Unmarshal(obj.Value, &num)
		return Value{Kind: ValueNumber, Num: num}
	case "boolean":
		var b bool
		_ = json.Unmarshal(obj.Value, &b)
		return Value{Kind: ValueBool, Bool: b}
	case "undefined":
		return Value{Kind: ValueNull}
	case "object":
		if obj.Subtype == "null" || len(obj.Value) == 0 {
			return Value{Kind: ValueNull}
		}
		return Value{Kind: ValueObject, Object: obj.Value}
	default:
		return Value{Kind: ValueObject, Object: obj.Value}
	}
}

// Clip bounds a screenshot region. Scale defaults to 1.0.
type Clip struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	Scale  float64
}

type layoutMetricsReturns struct {
	CSSContentSize struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"cssContentSize"`
}

type captureScreenshotReturns struct {
	Data string `json:"data"`
}

// Screenshot captures the page as raw image bytes. With fullPage set, the
// device metrics are temporarily stretched to the content size and
// restored afterwards.
func (s *Service) Screenshot(ctx context.Context, pageID string, format ImageFormat, quality int, fullPage bool, clip *Clip) ([]byte, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	quality = clampQuality(quality)
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return nil, err
	}

	if fullPage {
		raw, merr := conn.Send(ctx, "Page.getLayoutMetrics", nil, sessionID)
		if merr != nil {
			return nil, merr
		}
		var metrics layoutMetricsReturns
		if uerr := json.Unmarshal(raw, &metrics); uerr != nil {
			return nil, errdefs.Wrap(errdefs.CodeInternal, "decode layout metrics", uerr)
		}
		width := int(clampNonNegative(metrics.CSSContentSize.Width))
		height := int(clampNonNegative(metrics.CSSContentSize.Height))
		if width > 0 && height > 0 {
			if _, oerr := conn.Send(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
				"width":             width,
				"height":            height,
				"deviceScaleFactor": 1,
				"mobile":            false,
			}, sessionID); oerr != nil {
				return nil, oerr
			}
			defer func() {
				_, _ = conn.Send(ctx, "Emulation.clearDeviceMetricsOverride", nil, sessionID)
			}()
		}
	}

	params := map[string]any{"format": string(format)}
	if format != FormatPNG {
		params["quality"] = quality
	}
	if clip != nil {
		scale := clip.Scale
		if scale <= 0 {
			scale = 1.0
		}
		params["clip"] = map[string]any{
			"x":      clampNonNegative(clip.X),
			"y":      clampNonNegative(clip.Y),
			"width":  clampNonNegative(clip.Width),
			"height": clampNonNegative(clip.Height),
			"scale":  scale,
		}
	}

	raw, err := conn.Send(ctx, "Page.captureScreenshot", params, sessionID)
	if err != nil {
		return nil, err
	}
	var shot captureScreenshotReturns
	if uerr := json.Unmarshal(raw, &shot); uerr != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "decode screenshot result", uerr)
	}
	data, derr := base64.StdEncoding.DecodeString(shot.Data)
	if derr != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "decode screenshot payload", derr)
	}

	s.touch(pageID)
	return data, nil
}

// Reload reloads the page, optionally bypassing the cache.
func (s *Service) Reload(ctx context.Context, pageID string, ignoreCache bool) error {
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return err
	}
	if _, err := conn.Send(ctx, "Page.reload",
		map[string]bool{"ignoreCache": ignoreCache}, sessionID); err != nil {
		return err
	}
	s.touch(pageID)
	return nil
}

type outerHTMLReturns struct {
	OuterHTML string `json:"outerHTML"`
}

// Content returns the serialized document markup.
func (s *Service) Content(ctx context.Context, pageID string) (string, error) {
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return "", err
	}

	raw, err := conn.Send(ctx, "DOM.getDocument", map[string]int{"depth": 0}, sessionID)
	if err != nil {
		return "", err
	}
	var doc getDocumentReturns
	if uerr := json.Unmarshal(raw, &doc); uerr != nil {
		return "", errdefs.Wrap(errdefs.CodeInternal, "decode getDocument result", uerr)
	}

	raw, err = conn.Send(ctx, "DOM.getOuterHTML",
		map[string]any{"nodeId": doc.Root.NodeID}, sessionID)
	if err != nil {
		return "", err
	}
	var html outerHTMLReturns
	if uerr := json.Unmarshal(raw, &html); uerr != nil {
		return "", errdefs.Wrap(errdefs.CodeInternal, "decode outerHTML result", uerr)
	}

	s.touch(pageID)
	return html.OuterHTML, nil
}

// Cookie is the client-facing cookie record.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
	URL      string  `json:"url,omitempty"`
}

type getCookiesReturns struct {
	Cookies []Cookie `json:"cookies"`
}

// Cookies lists the cookies visible to the page.
func (s *Service) Cookies(ctx context.Context, pageID string) ([]Cookie, error) {
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return nil, err
	}
	raw, err := conn.Send(ctx, "Network.getCookies", nil, sessionID)
	if err != nil {
		return nil, err
	}
	var ret getCookiesReturns
	if uerr := json.Unmarshal(raw, &ret); uerr != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "decode cookies result", uerr)
	}
	s.touch(pageID)
	return ret.Cookies, nil
}

// SetCookie installs one cookie.
func (s *Service) SetCookie(ctx context.Context, pageID string, cookie Cookie) error {
	if cookie.Name == "" {
		return errdefs.InvalidArgument("cookie name must not be empty")
	}
	if cookie.URL == "" && cookie.Domain == "" {
		return errdefs.InvalidArgument("cookie requires a url or a domain")
	}
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return err
	}
	if _, err := conn.Send(ctx, "Network.setCookie", cookie, sessionID); err != nil {
		return err
	}
	s.touch(pageID)
	return nil
}

// ClearCookies removes all browser cookies visible to the page's session.
func (s *Service) ClearCookies(ctx context.Context, pageID string) error {
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return err
	}
	if _, err := conn.Send(ctx, "Network.clearBrowserCookies", nil, sessionID); err != nil {
		return err
	}
	s.touch(pageID)
	return nil
}

// SetViewport overrides the page's device metrics.
func (s *Service) SetViewport(ctx context.Context, pageID string, width, height int, deviceScaleFactor float64, mobile bool) error {
	if width <= 0 || height <= 0 {
		return errdefs.InvalidArgument("viewport dimensions must be positive")
	}
	if deviceScaleFactor <= 0 {
		deviceScaleFactor = 1.0
	}
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return err
	}
	if _, err := conn.Send(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": deviceScaleFactor,
		"mobile":            mobile,
	}, sessionID); err != nil {
		return err
	}
	s.touch(pageID)
	return nil
}

// ApplyProfile installs a stealth profile on the page. On a fresh page
// the overrides take effect on the first navigation; a page that has
// already navigated is reloaded so the new document starts clean.
func (s *Service) ApplyProfile(ctx context.Context, pageID, profileID string) error {
	info, err := s.registry.GetPage(pageID)
	if err != nil {
		return err
	}
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return err
	}

	old, err := s.registry.TakePageScripts(pageID)
	if err != nil {
		return err
	}
	ids, err := s.injector.Swap(ctx, conn, sessionID, old, profileID)
	if err != nil {
		return err
	}
	if err := s.registry.SetPageScripts(pageID, profileID, ids); err != nil {
		return err
	}

	// Epoch zero means no navigation has happened yet; nothing to reload.
	if info.Epoch > 0 {
		if err := s.Reload(ctx, pageID, true); err != nil {
			return err
		}
	}

	s.touch(pageID)
	return nil
}

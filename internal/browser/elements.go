// File: internal/browser/elements.go
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chaser/internal/errdefs"
	"github.com/xkilldash9x/chaser/internal/humanoid"
	"github.com/xkilldash9x/chaser/internal/session"
)

// waitPollInterval paces WaitForElement retries.
const waitPollInterval = 100 * time.Millisecond

type getDocumentReturns struct {
	Root struct {
		NodeID int64 `json:"nodeId"`
	} `json:"root"`
}

type querySelectorReturns struct {
	NodeID int64 `json:"nodeId"`
}

type describeNodeReturns struct {
	Node struct {
		BackendNodeID int64 `json:"backendNodeId"`
	} `json:"node"`
}

type performSearchReturns struct {
	SearchID    string `json:"searchId"`
	ResultCount int64  `json:"resultCount"`
}

type getSearchResultsReturns struct {
	NodeIDs []int64 `json:"nodeIds"`
}

type resolveNodeReturns struct {
	Object struct {
		ObjectID string `json:"objectId"`
	} `json:"object"`
}

type evaluateReturns struct {
	Result struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		ObjectID string `json:"objectId"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// FindElement resolves a selector to an ElementHandle bound to the page's
// current epoch.
func (s *Service) FindElement(ctx context.Context, pageID string, kind SelectorKind, selector string) (session.ElementInfo, error) {
	if err := validateSelectorKind(kind); err != nil {
		return session.ElementInfo{}, err
	}
	if err := validateSelector(selector); err != nil {
		return session.ElementInfo{}, err
	}
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return session.ElementInfo{}, err
	}

	var backendNodeID int64
	switch kind {
	case SelectorCSS:
		backendNodeID, err = s.findByCSS(ctx, conn, sessionID, selector)
	case SelectorXPath:
		backendNodeID, err = s.findByXPath(ctx, conn, sessionID, selector)
	case SelectorText:
		backendNodeID, err = s.findByText(ctx, conn, sessionID, selector)
	}
	if err != nil {
		return session.ElementInfo{}, err
	}

	// Resolve a remote object alongside the backend node so script-based
	// operations (text extraction, attribute reads) work without another
	// round-trip.
	objectID := ""
	if raw, rerr := conn.Send(ctx, "DOM.resolveNode",
		map[string]any{"backendNodeId": backendNodeID}, sessionID); rerr == nil {
		var ret resolveNodeReturns
		if json.Unmarshal(raw, &ret) == nil {
			objectID = ret.Object.ObjectID
		}
	}

	info, err := s.registry.AddElement(pageID, backendNodeID, objectID)
	if err != nil {
		return session.ElementInfo{}, err
	}
	s.touch(pageID)
	return info, nil
}

func (s *Service) findByCSS(ctx context.Context, conn session.Conn, sessionID, selector string) (int64, error) {
	raw, err := conn.Send(ctx, "DOM.getDocument", map[string]int{"depth": 0}, sessionID)
	if err != nil {
		return 0, err
	}
	var doc getDocumentReturns
	if uerr := json.Unmarshal(raw, &doc); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode getDocument result", uerr)
	}

	raw, err = conn.Send(ctx, "DOM.querySelector",
		map[string]any{"nodeId": doc.Root.NodeID, "selector": selector}, sessionID)
	if err != nil {
		return 0, err
	}
	var q querySelectorReturns
	if uerr := json.Unmarshal(raw, &q); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode querySelector result", uerr)
	}
	if q.NodeID == 0 {
		return 0, errdefs.NotFound("element", selector)
	}
	return s.describeBackendNode(ctx, conn, sessionID, q.NodeID)
}

func (s *Service) findByXPath(ctx context.Context, conn session.Conn, sessionID, query string) (int64, error) {
	raw, err := conn.Send(ctx, "DOM.performSearch", map[string]string{"query": query}, sessionID)
	if err != nil {
		return 0, err
	}
	var search performSearchReturns
	if uerr := json.Unmarshal(raw, &search); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode performSearch result", uerr)
	}
	// Chromium keeps search results alive until discarded; always clean up.
	defer func() {
		_, _ = conn.Send(ctx, "DOM.discardSearchResults",
			map[string]string{"searchId": search.SearchID}, sessionID)
	}()

	if search.ResultCount == 0 {
		return 0, errdefs.NotFound("element", query)
	}

	raw, err = conn.Send(ctx, "DOM.getSearchResults",
		map[string]any{"searchId": search.SearchID, "fromIndex": 0, "toIndex": 1}, sessionID)
	if err != nil {
		return 0, err
	}
	var results getSearchResultsReturns
	if uerr := json.Unmarshal(raw, &results); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode getSearchResults result", uerr)
	}
	if len(results.NodeIDs) == 0 {
		return 0, errdefs.NotFound("element", query)
	}
	return s.describeBackendNode(ctx, conn, sessionID, results.NodeIDs[0])
}

// findByText evaluates a document walker that returns the first leaf
// element (one with no child elements) whose textContent contains the
// needle. Visibility is not checked.
func (s *Service) findByText(ctx context.Context, conn session.Conn, sessionID, needle string) (int64, error) {
	needleJSON, _ := json.Marshal(needle)
	expr := fmt.Sprintf(`(function() {
  const needle = %s;
  const walker = document.createTreeWalker(document.body || document.documentElement, NodeFilter.SHOW_ELEMENT);
  let node;
  while ((node = walker.nextNode())) {
    if (node.children.length === 0 && node.textContent && node.textContent.includes(needle)) {
      return node;
    }
  }
  return null;
})()`, string(needleJSON))

	raw, err := conn.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr}, sessionID)
	if err != nil {
		return 0, err
	}
	var ret evaluateReturns
	if uerr := json.Unmarshal(raw, &ret); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode evaluate result", uerr)
	}
	if ret.ExceptionDetails != nil {
		return 0, errdefs.Newf(errdefs.CodeCDPProtocol, "text search failed: %s", ret.ExceptionDetails.Text)
	}
	if ret.Result.Subtype == "null" || ret.Result.ObjectID == "" {
		return 0, errdefs.NotFound("element", needle)
	}

	raw, err = conn.Send(ctx, "DOM.describeNode",
		map[string]string{"objectId": ret.Result.ObjectID}, sessionID)
	if err != nil {
		return 0, err
	}
	var desc describeNodeReturns
	if uerr := json.Unmarshal(raw, &desc); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode describeNode result", uerr)
	}
	return desc.Node.BackendNodeID, nil
}

func (s *Service) describeBackendNode(ctx context.Context, conn session.Conn, sessionID string, nodeID int64) (int64, error) {
	raw, err := conn.Send(ctx, "DOM.describeNode", map[string]any{"nodeId": nodeID}, sessionID)
	if err != nil {
		return 0, err
	}
	var desc describeNodeReturns
	if uerr := json.Unmarshal(raw, &desc); uerr != nil {
		return 0, errdefs.Wrap(errdefs.CodeInternal, "decode describeNode result", uerr)
	}
	return desc.Node.BackendNodeID, nil
}

// WaitForElement polls for a selector until it resolves or the deadline
// expires. This is the canonical wait; page-level waits are sugar over it.
func (s *Service) WaitForElement(ctx context.Context, pageID string, kind SelectorKind, selector string, deadline time.Duration) (session.ElementInfo, error) {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	for {
		info, err := s.FindElement(ctx, pageID, kind, selector)
		if err == nil {
			return info, nil
		}
		if !errdefs.IsCode(err, errdefs.CodeNotFound) {
			return session.ElementInfo{}, err
		}
		if serr := s.sleep(ctx, waitPollInterval); serr != nil {
			return session.ElementInfo{}, errdefs.Timeout("waitForElement " + selector)
		}
	}
}

type boxModelReturns struct {
	Model struct {
		Content []float64 `json:"content"`
	} `json:"model"`
}

// elementCenter scrolls the element into view and computes the center of
// its content quad in viewport coordinates.
func (s *Service) elementCenter(ctx context.Context, conn session.Conn, sessionID string, el session.ElementInfo) (humanoid.Vector2D, error) {
	if _, err := conn.Send(ctx, "DOM.scrollIntoViewIfNeeded",
		map[string]any{"backendNodeId": el.BackendNodeID}, sessionID); err != nil {
		return humanoid.Vector2D{}, err
	}

	raw, err := conn.Send(ctx, "DOM.getBoxModel",
		map[string]any{"backendNodeId": el.BackendNodeID}, sessionID)
	if err != nil {
		return humanoid.Vector2D{}, err
	}
	var box boxModelReturns
	if uerr := json.Unmarshal(raw, &box); uerr != nil {
		return humanoid.Vector2D{}, errdefs.Wrap(errdefs.CodeInternal, "decode getBoxModel result", uerr)
	}
	quad := box.Model.Content
	if len(quad) < 8 {
		return humanoid.Vector2D{}, errdefs.Internal("box model content quad malformed")
	}
	return humanoid.Vector2D{
		X: (quad[0] + quad[4]) / 2.0,
		Y: (quad[1] + quad[5]) / 2.0,
	}, nil
}

// Click dispatches a mouse press and release at the element center. With
// humanLike set, a synthesized cursor path is replayed first as a
// sequence of mouseMoved events.
func (s *Service) Click(ctx context.Context, elementID string, humanLike bool) error {
	el, err := s.registry.GetElement(elementID)
	if err != nil {
		return err
	}
	conn, sessionID, err := s.pageConn(el.PageID)
	if err != nil {
		return err
	}

	center, err := s.elementCenter(ctx, conn, sessionID, el)
	if err != nil {
		return err
	}

	if humanLike {
		if err := s.replayCursorPath(ctx, conn, sessionID, el.PageID, center); err != nil {
			return err
		}
	}

	for _, typ := range []string{"mousePressed", "mouseReleased"} {
		if _, err := conn.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type":       typ,
			"x":          center.X,
			"y":          center.Y,
			"button":     "left",
			"clickCount": 1,
		}, sessionID); err != nil {
			return err
		}
	}

	s.setCursor(el.PageID, center)
	s.touch(el.PageID)
	return nil
}

// replayCursorPath moves the cursor along a synthesized trajectory,
// dispatching one mouseMoved per sample and pacing by sample timestamps.
func (s *Service) replayCursorPath(ctx context.Context, conn session.Conn, sessionID, pageID string, target humanoid.Vector2D) error {
	start := s.lastCursor(pageID)

	var points []humanoid.PathPoint
	s.withRNG(func(rng *rand.Rand) {
		duration := humanoid.PathDuration(start.Dist(target), rng)
		points = humanoid.CursorPath(start, target, duration, rng)
	})

	prev := time.Duration(0)
	for _, pt := range points {
		if wait := pt.At - prev; wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}
		prev = pt.At
		if _, err := conn.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type": "mouseMoved",
			"x":    pt.Pos.X,
			"y":    pt.Pos.Y,
		}, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// Type focuses the element and dispatches per-character key events. With
// humanLike set, pacing and corrections follow the keystroke synthesizer.
func (s *Service) Type(ctx context.Context, elementID, text string, humanLike bool) error {
	el, err := s.registry.GetElement(elementID)
	if err != nil {
		return err
	}
	conn, sessionID, err := s.pageConn(el.PageID)
	if err != nil {
		return err
	}

	if _, err := conn.Send(ctx, "DOM.focus",
		map[string]any{"backendNodeId": el.BackendNodeID}, sessionID); err != nil {
		return err
	}

	var steps []humanoid.KeyStep
	if humanLike {
		s.withRNG(func(rng *rand.Rand) {
			steps = humanoid.KeystrokeSchedule(text, s.cfg.Humanoid.KeyDelayMean, rng)
		})
	} else {
		for _, r := range text {
			steps = append(steps, humanoid.KeyStep{Kind: humanoid.KeyChar, Rune: r})
		}
	}

	for _, step := range steps {
		if humanLike && step.Delay > 0 {
			if err := s.sleep(ctx, step.Delay); err != nil {
				return err
			}
		}
		switch step.Kind {
		case humanoid.KeyChar, humanoid.KeyTypo:
			if err := s.dispatchRune(ctx, conn, sessionID, step.Rune); err != nil {
				return err
			}
		case humanoid.KeyBackspace:
			if err := s.dispatchBackspace(ctx, conn, sessionID); err != nil {
				return err
			}
		}
	}

	s.touch(el.PageID)
	return nil
}

// dispatchRune emits the keyDown/char/keyUp triple for one rune, using
// the keyboard layout table for code and key identity when available.
func (s *Service) dispatchRune(ctx context.Context, conn session.Conn, sessionID string, r rune) error {
	keyName := string(r)
	code := ""
	if def, ok := kb.Keys[r]; ok {
		keyName = def.Key
		code = def.Code
	}

	down := map[string]any{"type": "keyDown", "key": keyName, "text": string(r)}
	char := map[string]any{"type": "char", "key": keyName, "text": string(r)}
	up := map[string]any{"type": "keyUp", "key": keyName}
	if code != "" {
		down["code"], char["code"], up["code"] = code, code, code
	}

	for _, params := range []map[string]any{down, char, up} {
		if _, err := conn.Send(ctx, "Input.dispatchKeyEvent", params, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) dispatchBackspace(ctx context.Context, conn session.Conn, sessionID string) error {
	for _, typ := range []string{"rawKeyDown", "keyUp"} {
		params := map[string]any{
			"type":                  typ,
			"key":                   "Backspace",
			"code":                  "Backspace",
			"windowsVirtualKeyCode": 8,
		}
		if _, err := conn.Send(ctx, "Input.dispatchKeyEvent", params, sessionID); err != nil {
			return err
		}
	}
	return nil
}

type callFunctionReturns struct {
	Result struct {
		Type  string              `json:"type"`
		Value jsoniter.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// Text returns the element's textContent.
func (s *Service) Text(ctx context.Context, elementID string) (string, error) {
	return s.callStringFunction(ctx, elementID, "function() { return this.textContent; }", nil)
}

// Attribute returns the named attribute, or empty when absent.
func (s *Service) Attribute(ctx context.Context, elementID, name string) (string, error) {
	if name == "" {
		return "", errdefs.InvalidArgument("attribute name must not be empty")
	}
	return s.callStringFunction(ctx, elementID,
		"function(n) { return this.getAttribute(n) || ''; }",
		[]any{map[string]any{"value": name}})
}

// ScrollIntoView scrolls the element's owning viewport to reveal it.
func (s *Service) ScrollIntoView(ctx context.Context, elementID string) error {
	el, err := s.registry.GetElement(elementID)
	if err != nil {
		return err
	}
	conn, sessionID, err := s.pageConn(el.PageID)
	if err != nil {
		return err
	}
	if _, err := conn.Send(ctx, "DOM.scrollIntoViewIfNeeded",
		map[string]any{"backendNodeId": el.BackendNodeID}, sessionID); err != nil {
		return err
	}
	s.touch(el.PageID)
	return nil
}

func (s *Service) callStringFunction(ctx context.Context, elementID, fn string, args []any) (string, error) {
	el, err := s.registry.GetElement(elementID)
	if err != nil {
		return "", err
	}
	if el.RemoteObjectID == "" {
		return "", errdefs.Internal("element has no resolved remote object")
	}
	conn, sessionID, err := s.pageConn(el.PageID)
	if err != nil {
		return "", err
	}

	params := map[string]any{
		"objectId":            string(el.RemoteObjectID),
		"functionDeclaration": fn,
		"returnByValue":       true,
	}
	if len(args) > 0 {
		params["arguments"] = args
	}
	raw, err := conn.Send(ctx, "Runtime.callFunctionOn", params, sessionID)
	if err != nil {
		return "", err
	}
	var ret callFunctionReturns
	if uerr := json.Unmarshal(raw, &ret); uerr != nil {
		return "", errdefs.Wrap(errdefs.CodeInternal, "decode callFunctionOn result", uerr)
	}
	if ret.ExceptionDetails != nil {
		return "", errdefs.Newf(errdefs.CodeCDPProtocol, "script failed: %s", ret.ExceptionDetails.Text)
	}

	var out string
	if len(ret.Result.Value) > 0 {
		_ = json.Unmarshal(ret.Result.Value, &out)
	}
	s.touch(el.PageID)
	return out, nil
}

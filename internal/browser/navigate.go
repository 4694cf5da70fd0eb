// File: internal/browser/navigate.go
package browser

import (
	"context"
	"time"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// networkQuiescence is the window with no network activity that
// satisfies WaitNetworkIdle.
const networkQuiescence = 500 * time.Millisecond

// navigateStreamBuffer absorbs event bursts from busy pages during the
// completion wait.
const navigateStreamBuffer = 512

// NavigateResult reports where a navigation landed.
type NavigateResult struct {
	FinalURL string
	// Status is the HTTP status of the matching top-frame document
	// response, or nil when none was observed (about:blank, data URLs).
	Status *int64
}

type navigateReturns struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId"`
	ErrorText string `json:"errorText"`
}

type loadFrameEvent struct {
	Frame struct {
		ID       string `json:"id"`
		ParentID string `json:"parentId"`
		URL      string `json:"url"`
	} `json:"frame"`
}

type navResponseEvent struct {
	FrameID  string `json:"frameId"`
	Type     string `json:"type"`
	Response struct {
		URL    string `json:"url"`
		Status int64  `json:"status"`
	} `json:"response"`
}

// Navigate drives Page.navigate and waits for the requested completion
// condition. On deadline expiry it returns TIMEOUT without aborting the
// in-flight navigation (CDP has no cancel); the page stays usable.
func (s *Service) Navigate(ctx context.Context, pageID, url string, waitUntil WaitUntil, deadline time.Duration) (NavigateResult, error) {
	if err := validateURL(url); err != nil {
		return NavigateResult{}, err
	}
	if err := validateWaitUntil(waitUntil); err != nil {
		return NavigateResult{}, err
	}
	conn, sessionID, err := s.pageConn(pageID)
	if err != nil {
		return NavigateResult{}, err
	}

	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	// Subscribe before issuing the command so no completion event can
	// slip between send and wait.
	stream := conn.Subscribe(cdp.Filter{SessionID: sessionID}, navigateStreamBuffer)
	defer stream.Close()

	raw, err := conn.Send(ctx, "Page.navigate", map[string]string{"url": url}, sessionID)
	if err != nil {
		return NavigateResult{}, err
	}
	var nav navigateReturns
	if uerr := json.Unmarshal(raw, &nav); uerr != nil {
		return NavigateResult{}, errdefs.Wrap(errdefs.CodeInternal, "decode navigate result", uerr)
	}
	if nav.ErrorText != "" {
		return NavigateResult{}, errdefs.Newf(errdefs.CodeCDPProtocol, "navigation failed: %s", nav.ErrorText)
	}

	result := NavigateResult{FinalURL: url}
	if err := s.awaitNavigation(ctx, stream, waitUntil, nav.FrameID, &result); err != nil {
		return result, err
	}

	s.touch(pageID)
	return result, nil
}

// awaitNavigation consumes session events until the completion condition
// holds, recording the final URL and top-frame response status on the way.
func (s *Service) awaitNavigation(ctx context.Context, stream *cdp.EventStream, waitUntil WaitUntil, frameID string, result *NavigateResult) error {
	inflight := 0
	sawActivity := false

	// The quiet timer only matters for NETWORK_IDLE; it restarts on every
	// network transition and fires after an uninterrupted quiet window.
	quiet := time.NewTimer(networkQuiescence)
	defer quiet.Stop()

	for {
		select {
		case n, ok := <-stream.Events():
			if !ok {
				if serr := stream.Err(); serr != nil {
					return serr
				}
				return errdefs.TransportClosed("event stream ended during navigation")
			}

			switch n.Method {
			case "Page.frameNavigated":
				var ev loadFrameEvent
				if json.Unmarshal(n.Params, &ev) == nil && ev.Frame.ParentID == "" {
					result.FinalURL = ev.Frame.URL
				}

			case "Network.responseReceived":
				var ev navResponseEvent
				if json.Unmarshal(n.Params, &ev) == nil &&
					ev.Type == "Document" && (frameID == "" || ev.FrameID == frameID) && result.Status == nil {
					status := ev.Response.Status
					result.Status = &status
				}

			case "Page.loadEventFired":
				if waitUntil == WaitLoad {
					return nil
				}

			case "Page.domContentEventFired":
				if waitUntil == WaitDOMContent {
					return nil
				}
			}

			if waitUntil == WaitNetworkIdle {
				switch n.Method {
				case "Network.requestWillBeSent":
					inflight++
					sawActivity = true
				case "Network.responseReceived":
					sawActivity = true
				case "Network.loadingFinished", "Network.loadingFailed":
					if inflight > 0 {
						inflight--
					}
					sawActivity = true
				}
				if sawActivity {
					if !quiet.Stop() {
						select {
						case <-quiet.C:
						default:
						}
					}
					if inflight == 0 {
						quiet.Reset(networkQuiescence)
					}
				}
			}

		case <-quiet.C:
			if waitUntil == WaitNetworkIdle && inflight == 0 {
				return nil
			}

		case <-ctx.Done():
			return errdefs.Wrap(errdefs.CodeTimeout, "navigation wait", ctx.Err())
		}
	}
}

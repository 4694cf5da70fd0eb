// File: internal/session/pump.go
package session

import (
	"github.com/chromedp/cdproto/target"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/cdp"
	"github.com/xkilldash9x/chaser/internal/errdefs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// pumpBufferSize sizes the registry's own transport subscription. The
// pump consumes quickly (map lookups and atomic bumps), so a deep buffer
// only has to absorb bursts.
const pumpBufferSize = 1024

// frameNavigatedParams is the slice of Page.frameNavigated the pump needs.
type frameNavigatedParams struct {
	Frame struct {
		ID       string `json:"id"`
		ParentID string `json:"parentId"`
		URL      string `json:"url"`
	} `json:"frame"`
}

type targetDestroyedParams struct {
	TargetID string `json:"targetId"`
}

// pump is the per-browser notification loop. It keeps registry state
// coherent with the wire (page epochs, URLs, unsolicited target
// teardowns) and forwards every notification except
// Target.targetDestroyed to the event sink in arrival order. A
// targetDestroyed for a known page reaches the sink as PageClosed.
func (r *Registry) pump(b *browserState) {
	defer r.wg.Done()

	stream := b.conn.Subscribe(cdp.Filter{}, pumpBufferSize)
	for n := range stream.Events() {
		r.handleNotification(b, n)
	}

	if err := stream.Err(); err != nil && err.Code == errdefs.CodeLagged {
		// The pump is load-bearing; losing it means epochs and page
		// lifecycle can no longer be trusted. Treat like transport death.
		r.logger.Error("registry pump lagged, closing browser",
			zap.String("browser_id", b.id))
		b.conn.Shutdown()
	}
}

func (r *Registry) handleNotification(b *browserState, n cdp.Notification) {
	var pageID string

	switch n.Method {
	case "Page.frameNavigated":
		var params frameNavigatedParams
		if err := jsonUnmarshal(n.Params, &params); err != nil {
			r.logger.Debug("undecodable frameNavigated", zap.Error(err))
			break
		}
		if p := r.pageBySession(b, n.SessionID); p != nil {
			pageID = p.id
			if params.Frame.ParentID == "" {
				// Main-frame navigation: everything issued before this
				// instant is stale.
				p.bumpEpoch()
				p.setURL(params.Frame.URL)
			}
		}

	case "Target.targetDestroyed":
		var params targetDestroyedParams
		if err := jsonUnmarshal(n.Params, &params); err != nil {
			break
		}
		if p := r.pageByTarget(b, params.TargetID); p != nil {
			pageID = p.id
			p.markGone()
			// Unsolicited destruction (tab crash, window.close) removes
			// the page exactly like an explicit close would.
			r.removePage(b, p)
		}

	default:
		if p := r.pageBySession(b, n.SessionID); p != nil {
			pageID = p.id
		}
	}

	if r.sink != nil && n.Method != "Target.targetDestroyed" {
		r.sink.Ingest(b.id, pageID, n)
	}
}

func (r *Registry) pageBySession(b *browserState, sessionID string) *pageState {
	if sessionID == "" {
		return nil
	}
	return b.pageBySession(target.SessionID(sessionID))
}

func (r *Registry) pageByTarget(b *browserState, targetID string) *pageState {
	return b.pageByTarget(target.ID(targetID))
}

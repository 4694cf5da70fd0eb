// File: internal/stealth/injector.go
package stealth

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// Sender is the slice of the CDP transport the injector needs. Both the
// concrete transport and the session layer's Conn satisfy it.
type Sender interface {
	Send(ctx context.Context, method string, params any, sessionID string) (jsoniter.RawMessage, error)
}

// Injector installs profile overrides into page sessions. Installation
// must complete before the first navigation; applying a different profile
// to a page that has already navigated requires a reload afterwards.
type Injector struct {
	logger  *zap.Logger
	catalog *Catalog
}

// NewInjector wires an injector to the profile catalog.
func NewInjector(catalog *Catalog, logger *zap.Logger) *Injector {
	return &Injector{logger: logger.Named("stealth"), catalog: catalog}
}

// Catalog exposes the backing profile catalog.
func (i *Injector) Catalog() *Catalog { return i.catalog }

type addScriptReturns struct {
	Identifier string `json:"identifier"`
}

// Install applies a profile to a fresh page session: protocol-level UA
// and environment overrides first, then the evaluate-on-new-document
// script. Returns the script identifiers now tracked on the page.
func (i *Injector) Install(ctx context.Context, conn Sender, sessionID, profileID string) ([]string, error) {
	p, err := i.catalog.Get(profileID)
	if err != nil {
		return nil, err
	}

	// UA goes in at the protocol level before anything else so even the
	// first request carries the profile identity.
	fp := p.Fingerprint
	uaParams := map[string]any{
		"userAgent": fp.UserAgent,
		"platform":  fp.NavigatorPlatform,
	}
	if len(fp.Languages) > 0 {
		uaParams["acceptLanguage"] = acceptLanguage(fp.Languages)
	}
	if _, err := conn.Send(ctx, "Network.setUserAgentOverride", uaParams, sessionID); err != nil {
		return nil, err
	}

	if fp.Timezone != "" {
		if _, err := conn.Send(ctx, "Emulation.setTimezoneOverride",
			map[string]string{"timezoneId": fp.Timezone}, sessionID); err != nil {
			return nil, err
		}
	}

	raw, err := conn.Send(ctx, "Page.addScriptToEvaluateOnNewDocument",
		map[string]any{"source": BuildScript(p), "runImmediately": true}, sessionID)
	if err != nil {
		return nil, err
	}
	var ret addScriptReturns
	if uerr := json.Unmarshal(raw, &ret); uerr != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, "decode addScript result", uerr)
	}

	i.logger.Debug("profile installed",
		zap.String("profile_id", p.ID),
		zap.String("profile_name", p.Name),
		zap.String("session", sessionID))
	return []string{ret.Identifier}, nil
}

// Swap removes previously installed init scripts and installs another
// profile. The caller is responsible for reloading the page so the new
// overrides take effect in a clean document.
func (i *Injector) Swap(ctx context.Context, conn Sender, sessionID string, oldScriptIDs []string, profileID string) ([]string, error) {
	for _, id := range oldScriptIDs {
		if _, err := conn.Send(ctx, "Page.removeScriptToEvaluateOnNewDocument",
			map[string]string{"identifier": id}, sessionID); err != nil {
			// A missing identifier is not fatal; the replacement script
			// guards itself against double application anyway.
			i.logger.Debug("remove init script failed", zap.String("script_id", id), zap.Error(err))
		}
	}
	return i.Install(ctx, conn, sessionID, profileID)
}

// acceptLanguage renders the q-weighted Accept-Language value for a
// language preference list.
func acceptLanguage(languages []string) string {
	var b strings.Builder
	for idx, lang := range languages {
		if idx == 0 {
			b.WriteString(lang)
			continue
		}
		q := 1.0 - float64(idx)*0.1
		if q < 0.5 {
			q = 0.5
		}
		fmt.Fprintf(&b, ",%s;q=%.1f", lang, q)
	}
	return b.String()
}

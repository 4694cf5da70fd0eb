// File: internal/browser/validate.go
package browser

import (
	"strings"

	"github.com/xkilldash9x/chaser/internal/errdefs"
)

// SelectorKind is the closed set of element lookup strategies.
type SelectorKind string

const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
	SelectorText  SelectorKind = "text"
)

// WaitUntil is the closed set of navigation completion conditions.
type WaitUntil string

const (
	WaitLoad        WaitUntil = "LOAD"
	WaitDOMContent  WaitUntil = "DOM_CONTENT"
	WaitNetworkIdle WaitUntil = "NETWORK_IDLE"
)

// ImageFormat is the closed set of screenshot encodings.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
)

func validateSelectorKind(kind SelectorKind) error {
	switch kind {
	case SelectorCSS, SelectorXPath, SelectorText:
		return nil
	}
	return errdefs.InvalidArgument("unknown selector kind: " + string(kind))
}

func validateWaitUntil(w WaitUntil) error {
	switch w {
	case WaitLoad, WaitDOMContent, WaitNetworkIdle:
		return nil
	}
	return errdefs.InvalidArgument("unknown waitUntil: " + string(w))
}

func validateFormat(f ImageFormat) error {
	switch f {
	case FormatPNG, FormatJPEG, FormatWebP:
		return nil
	}
	return errdefs.InvalidArgument("unknown image format: " + string(f))
}

func validateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return errdefs.InvalidArgument("url must not be empty")
	}
	return nil
}

func validateSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return errdefs.InvalidArgument("selector must not be empty")
	}
	return nil
}

// clampNonNegative coerces numeric boundary inputs into the non-negative
// range instead of rejecting them.
func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// clampQuality coerces a JPEG/WebP quality into [0,100].
func clampQuality(q int) int {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}

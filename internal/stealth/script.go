// File: internal/stealth/script.go
package stealth

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BuildScript concatenates one override snippet per enabled flag into a
// single script installed before any page script runs. The output is a
// pure function of the profile: identical profiles produce identical
// scripts, and re-running the script in a page is a no-op (the whole
// bundle is guarded by one sentinel keyed to the profile seed).
func BuildScript(p *Profile) string {
	sentinel := fmt.Sprintf("__vx%08x", p.Seed)
	var b strings.Builder

	b.WriteString("(function() {\n'use strict';\n")
	// Idempotence guard: the whole bundle runs at most once per realm.
	fmt.Fprintf(&b, "if (Object.getOwnPropertyDescriptor(window, '%s')) { return; }\n", sentinel)
	fmt.Fprintf(&b, "Object.defineProperty(window, '%s', { value: true, enumerable: false, configurable: false, writable: false });\n", sentinel)

	// defineLocked installs a non-enumerable, non-configurable getter so a
	// naive delete cannot restore the native value.
	b.WriteString(`const defineLocked = function(obj, prop, value) {
  try {
    Object.defineProperty(obj, prop, {
      get: function() { return value; },
      enumerable: false,
      configurable: false
    });
  } catch (e) { /* already locked */ }
};
`)

	if p.Flags.Navigator {
		b.WriteString(navigatorSnippet(p))
	}
	if p.Flags.WebdriverHide {
		b.WriteString("defineLocked(navigator, 'webdriver', false);\n")
	}
	if p.Flags.Plugins {
		b.WriteString(pluginsSnippet())
	}
	if p.Flags.Screen {
		b.WriteString(screenSnippet(p))
	}
	if p.Flags.WebGL {
		b.WriteString(webglSnippet(p))
	}
	if p.Flags.Canvas || p.Flags.Audio {
		b.WriteString(prngSnippet())
	}
	if p.Flags.Canvas {
		b.WriteString(canvasSnippet(p))
	}
	if p.Flags.Audio {
		b.WriteString(audioSnippet(p))
	}

	b.WriteString("})();\n")
	return b.String()
}

func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

func jsStrings(ss []string) string {
	out, _ := json.Marshal(ss)
	return string(out)
}

func navigatorSnippet(p *Profile) string {
	fp := p.Fingerprint
	lang := "en-US"
	if len(fp.Languages) > 0 {
		lang = fp.Languages[0]
	}
	return fmt.Sprintf(`defineLocked(navigator, 'platform', %s);
defineLocked(navigator, 'vendor', %s);
defineLocked(navigator, 'hardwareConcurrency', %d);
defineLocked(navigator, 'deviceMemory', %d);
defineLocked(navigator, 'language', %s);
defineLocked(navigator, 'languages', Object.freeze(%s));
`,
		jsString(fp.NavigatorPlatform),
		jsString(fp.Vendor),
		fp.HardwareConcurrency,
		fp.DeviceMemory,
		jsString(lang),
		jsStrings(fp.Languages))
}

// pluginsSnippet replaces navigator.plugins with a plausible non-empty
// iterable rather than the empty list headless Chromium exposes.
func pluginsSnippet() string {
	return `const fakePlugins = [
  { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format', length: 1 },
  { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '', length: 1 }
];
fakePlugins.item = function(i) { return this[i] || null; };
fakePlugins.namedItem = function(n) {
  for (const p of fakePlugins) { if (p.name === n) return p; }
  return null;
};
defineLocked(navigator, 'plugins', fakePlugins);
`
}

func screenSnippet(p *Profile) string {
	s := p.Fingerprint.Screen
	availHeight := s.Height - 40
	return fmt.Sprintf(`defineLocked(screen, 'width', %d);
defineLocked(screen, 'height', %d);
defineLocked(screen, 'availWidth', %d);
defineLocked(screen, 'availHeight', %d);
defineLocked(screen, 'colorDepth', %d);
defineLocked(screen, 'pixelDepth', %d);
defineLocked(window, 'devicePixelRatio', %g);
`, s.Width, s.Height, s.Width, availHeight, s.ColorDepth, s.ColorDepth, s.PixelRatio)
}

// webglSnippet answers the unmasked vendor/renderer queries with profile
// values and delegates everything else.
func webglSnippet(p *Profile) string {
	return fmt.Sprintf(`const wrapGetParameter = function(proto) {
  if (!proto || !proto.getParameter) { return; }
  const native = proto.getParameter;
  Object.defineProperty(proto, 'getParameter', {
    value: function(parameter) {
      if (parameter === 37445) { return %s; }
      if (parameter === 37446) { return %s; }
      return native.call(this, parameter);
    },
    enumerable: false,
    configurable: false
  });
};
wrapGetParameter(WebGLRenderingContext.prototype);
if (window.WebGL2RenderingContext) { wrapGetParameter(WebGL2RenderingContext.prototype); }
`, jsString(p.Fingerprint.WebGLVendor), jsString(p.Fingerprint.WebGLRenderer))
}

// prngSnippet embeds a deterministic mulberry32 generator. Canvas and
// audio noise must not depend on wall-clock randomness or a page reload
// would change the fingerprint.
func prngSnippet() string {
	return `const mulberry32 = function(seed) {
  let a = seed >>> 0;
  return function() {
    a |= 0; a = (a + 0x6D2B79F5) | 0;
    let t = Math.imul(a ^ (a >>> 15), 1 | a);
    t = (t + Math.imul(t ^ (t >>> 7), 61 | t)) ^ t;
    return ((t ^ (t >>> 14)) >>> 0) / 4294967296;
  };
};
`
}

// canvasSnippet perturbs each pixel's RGB by at most one step, seeded by
// (profile, canvas width, canvas height): stable within a profile,
// distinct across profiles.
func canvasSnippet(p *Profile) string {
	return fmt.Sprintf(`const canvasSeed = %d;
const perturbImage = function(data, width, height) {
  const rand = mulberry32((canvasSeed ^ Math.imul(width, 2654435761) ^ height) >>> 0);
  for (let i = 0; i < data.length; i += 4) {
    const delta = (rand() * 3 | 0) - 1;
    data[i] = Math.min(255, Math.max(0, data[i] + delta));
    data[i + 1] = Math.min(255, Math.max(0, data[i + 1] + delta));
    data[i + 2] = Math.min(255, Math.max(0, data[i + 2] + delta));
  }
};
const nativeToDataURL = HTMLCanvasElement.prototype.toDataURL;
Object.defineProperty(HTMLCanvasElement.prototype, 'toDataURL', {
  value: function() {
    const ctx = this.getContext('2d');
    if (ctx) {
      const image = ctx.getImageData(0, 0, this.width, this.height);
      perturbImage(image.data, this.width, this.height);
      ctx.putImageData(image, 0, 0);
    }
    return nativeToDataURL.apply(this, arguments);
  },
  enumerable: false,
  configurable: false
});
const nativeGetImageData = CanvasRenderingContext2D.prototype.getImageData;
Object.defineProperty(CanvasRenderingContext2D.prototype, 'getImageData', {
  value: function() {
    const image = nativeGetImageData.apply(this, arguments);
    perturbImage(image.data, image.width, image.height);
    return image;
  },
  enumerable: false,
  configurable: false
});
`, p.Seed)
}

// audioSnippet adds a seeded additive jitter of at most 1e-7 per sample.
func audioSnippet(p *Profile) string {
	return fmt.Sprintf(`if (window.AudioBuffer) {
  const audioSeed = %d;
  const nativeGetChannelData = AudioBuffer.prototype.getChannelData;
  Object.defineProperty(AudioBuffer.prototype, 'getChannelData', {
    value: function(channel) {
      const data = nativeGetChannelData.call(this, channel);
      const rand = mulberry32((audioSeed ^ Math.imul(data.length, 40503) ^ channel) >>> 0);
      for (let i = 0; i < data.length; i++) {
        data[i] += (rand() - 0.5) * 2e-7;
      }
      return data;
    },
    enumerable: false,
    configurable: false
  });
}
`, p.Seed)
}

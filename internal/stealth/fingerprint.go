// File: internal/stealth/fingerprint.go
package stealth

import (
	"math/rand"
)

// Platform names the preset families seeded into the catalog at startup.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Platforms lists every preset family.
var Platforms = []Platform{PlatformWindows, PlatformMacOS, PlatformLinux, PlatformAndroid, PlatformIOS}

// Screen is the spoofed display geometry.
type Screen struct {
	Width      int
	Height     int
	ColorDepth int
	PixelRatio float64
}

// Fingerprint is the immutable value bundle a profile exposes to pages.
type Fingerprint struct {
	UserAgent           string
	NavigatorPlatform   string
	Vendor              string
	HardwareConcurrency int
	DeviceMemory        int
	Screen              Screen
	Languages           []string
	Timezone            string
	WebGLVendor         string
	WebGLRenderer       string
}

// Built-in seed tables. Values carried over from the upstream browser
// population this project models.

var windowsUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

var macosUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
}

var linuxUserAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

var androidUserAgents = []string{
	"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
}

var iosUserAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 18_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 18_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Mobile/15E148 Safari/604.1",
}

var webglTuples = []struct{ vendor, renderer string }{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA GeForce RTX 3080 Direct3D11 vs_5_0 ps_5_0)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA GeForce RTX 3070 Direct3D11 vs_5_0 ps_5_0)"},
	{"Google Inc. (Intel)", "ANGLE (Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0)"},
	{"Google Inc. (AMD)", "ANGLE (AMD Radeon RX 6800 Direct3D11 vs_5_0 ps_5_0)"},
}

var desktopScreens = []Screen{
	{1920, 1080, 24, 1.0},
	{2560, 1440, 24, 1.0},
	{3840, 2160, 24, 1.0},
	{1366, 768, 24, 1.0},
}

var macScreens = []Screen{
	{2560, 1440, 30, 2.0},
	{2880, 1800, 30, 2.0},
	{1920, 1080, 24, 1.0},
}

var mobileScreens = []Screen{
	{390, 844, 24, 3.0},
	{414, 896, 24, 2.0},
	{393, 851, 24, 2.75},
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Paris",
	"Europe/Berlin",
	"Asia/Tokyo",
	"Asia/Shanghai",
	"Australia/Sydney",
}

var languageSets = [][]string{
	{"en-US", "en"},
	{"en-GB", "en"},
	{"de-DE", "de", "en"},
	{"fr-FR", "fr", "en"},
	{"es-ES", "es", "en"},
	{"ja-JP", "ja", "en"},
}

var concurrencyOptions = []int{4, 6, 8, 12, 16}

var memoryOptions = []int{4, 8, 16, 32}

// baseFingerprint returns fixed values for a platform, used for the
// startup presets. User agent, screen and languages are the first table
// entries; the other values are fixed per platform.
func baseFingerprint(platform Platform) Fingerprint {
	switch platform {
	case PlatformWindows:
		return Fingerprint{
			UserAgent:           windowsUserAgents[0],
			NavigatorPlatform:   "Win32",
			Vendor:              "Google Inc.",
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			Screen:              desktopScreens[0],
			Languages:           languageSets[0],
			Timezone:            "America/New_York",
			WebGLVendor:         webglTuples[0].vendor,
			WebGLRenderer:       webglTuples[0].renderer,
		}
	case PlatformMacOS:
		return Fingerprint{
			UserAgent:           macosUserAgents[0],
			NavigatorPlatform:   "MacIntel",
			Vendor:              "Google Inc.",
			HardwareConcurrency: 8,
			DeviceMemory:        16,
			Screen:              macScreens[0],
			Languages:           languageSets[0],
			Timezone:            "America/Los_Angeles",
			WebGLVendor:         webglTuples[2].vendor,
			WebGLRenderer:       webglTuples[2].renderer,
		}
	case PlatformLinux:
		return Fingerprint{
			UserAgent:           linuxUserAgents[0],
			NavigatorPlatform:   "Linux x86_64",
			Vendor:              "Google Inc.",
			HardwareConcurrency: 8,
			DeviceMemory:        16,
			Screen:              desktopScreens[0],
			Languages:           languageSets[0],
			Timezone:            "Europe/Berlin",
			WebGLVendor:         webglTuples[2].vendor,
			WebGLRenderer:       webglTuples[2].renderer,
		}
	case PlatformAndroid:
		return Fingerprint{
			UserAgent:           androidUserAgents[0],
			NavigatorPlatform:   "Linux armv8l",
			Vendor:              "Google Inc.",
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			Screen:              mobileScreens[0],
			Languages:           languageSets[0],
			Timezone:            "America/New_York",
			WebGLVendor:         "Qualcomm",
			WebGLRenderer:       "Adreno 740",
		}
	default: // PlatformIOS
		return Fingerprint{
			UserAgent:           iosUserAgents[0],
			NavigatorPlatform:   "iPhone",
			Vendor:              "Apple Computer, Inc.",
			HardwareConcurrency: 6,
			DeviceMemory:        8,
			Screen:              mobileScreens[0],
			Languages:           languageSets[0],
			Timezone:            "America/Los_Angeles",
			WebGLVendor:         "Apple Inc.",
			WebGLRenderer:       "Apple GPU",
		}
	}
}

// randomFingerprint samples user agent, screen, core count, memory,
// timezone and languages independently from the seed tables for a
// platform. WebGL is sampled for desktop platforms only; Android and iOS
// keep their fixed WebGL values.
func randomFingerprint(platform Platform, rng *rand.Rand) Fingerprint {
	fp := baseFingerprint(platform)

	switch platform {
	case PlatformWindows:
		fp.UserAgent = windowsUserAgents[rng.Intn(len(windowsUserAgents))]
		fp.Screen = desktopScreens[rng.Intn(len(desktopScreens))]
	case PlatformMacOS:
		fp.UserAgent = macosUserAgents[rng.Intn(len(macosUserAgents))]
		fp.Screen = macScreens[rng.Intn(len(macScreens))]
	case PlatformLinux:
		fp.UserAgent = linuxUserAgents[rng.Intn(len(linuxUserAgents))]
		fp.Screen = desktopScreens[rng.Intn(len(desktopScreens))]
	case PlatformAndroid:
		fp.UserAgent = androidUserAgents[rng.Intn(len(androidUserAgents))]
		fp.Screen = mobileScreens[rng.Intn(len(mobileScreens))]
	case PlatformIOS:
		fp.UserAgent = iosUserAgents[rng.Intn(len(iosUserAgents))]
		fp.Screen = mobileScreens[rng.Intn(len(mobileScreens))]
	}

	if platform == PlatformWindows || platform == PlatformMacOS || platform == PlatformLinux {
		tuple := webglTuples[rng.Intn(len(webglTuples))]
		fp.WebGLVendor = tuple.vendor
		fp.WebGLRenderer = tuple.renderer
	}

	fp.HardwareConcurrency = concurrencyOptions[rng.Intn(len(concurrencyOptions))]
	fp.DeviceMemory = memoryOptions[rng.Intn(len(memoryOptions))]
	fp.Timezone = timezones[rng.Intn(len(timezones))]
	fp.Languages = languageSets[rng.Intn(len(languageSets))]
	return fp
}

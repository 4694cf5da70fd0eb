// File: internal/humanoid/keystrokes.go
package humanoid

import (
	"math"
	"math/rand"
	"time"
	"unicode"
)

// DefaultKeyDelayMean is the median inter-key delay when the caller does
// not supply one.
const DefaultKeyDelayMean = 80 * time.Millisecond

// Inter-key delays are log-normal with this spread, clamped to the
// physiological range below.
const (
	keyDelaySigmaLog = 0.4
	keyDelayMin      = 20 * time.Millisecond
	keyDelayMax      = 400 * time.Millisecond
)

// typoRate is the per-character probability of a wrong keystroke followed
// by a correction.
const typoRate = 0.02

// keyboardNeighbors maps each key to its physical neighbors on a QWERTY
// layout, used to pick plausible wrong characters.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// KeyKind tags one entry of a keystroke schedule.
type KeyKind int

const (
	// KeyChar types the rune.
	KeyChar KeyKind = iota
	// KeyTypo types a wrong rune that a later KeyBackspace removes.
	KeyTypo
	// KeyBackspace removes the previously typed rune.
	KeyBackspace
)

// KeyStep is one scheduled keystroke: the rune to dispatch (unused for
// backspace) and the pause before dispatching it.
type KeyStep struct {
	Kind  KeyKind
	Rune  rune
	Delay time.Duration
}

// KeystrokeSchedule produces a humanized typing plan for text. Per-key
// delays are drawn from a log-normal distribution with median mean and
// σ_log 0.4, clamped to [20 ms, 400 ms]. With 2% probability a plausible
// wrong character is inserted, held for 150-250 ms, and corrected with a
// backspace. Pure given rng.
func KeystrokeSchedule(text string, mean time.Duration, rng *rand.Rand) []KeyStep {
	if mean <= 0 {
		mean = DefaultKeyDelayMean
	}
	mu := math.Log(float64(mean))

	delay := func() time.Duration {
		d := time.Duration(math.Exp(mu + keyDelaySigmaLog*rng.NormFloat64()))
		if d < keyDelayMin {
			d = keyDelayMin
		}
		if d > keyDelayMax {
			d = keyDelayMax
		}
		return d
	}

	var steps []KeyStep
	for _, r := range text {
		if rng.Float64() < typoRate {
			if wrong, ok := neighborOf(r, rng); ok {
				steps = append(steps,
					KeyStep{Kind: KeyTypo, Rune: wrong, Delay: delay()},
					// Recognition pause before the correction.
					KeyStep{Kind: KeyBackspace, Delay: 150*time.Millisecond + time.Duration(rng.Int63n(int64(100*time.Millisecond)))},
				)
			}
		}
		steps = append(steps, KeyStep{Kind: KeyChar, Rune: r, Delay: delay()})
	}
	return steps
}

// neighborOf picks a physically adjacent key for r, preserving case.
func neighborOf(r rune, rng *rand.Rand) (rune, bool) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(r)]
	if !ok || len(neighbors) == 0 {
		return 0, false
	}
	wrong := rune(neighbors[rng.Intn(len(neighbors))])
	if unicode.IsUpper(r) {
		wrong = unicode.ToUpper(wrong)
	}
	return wrong, true
}

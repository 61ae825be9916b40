// Package vad decides whether the most recent audio window ends in a pause
// after speech.
package vad

import (
	"math"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
)

type Params struct {
	// TrailingMS is the tail length compared against the whole window.
	TrailingMS int
	// Threshold is the tail-to-window energy ratio at or below which the tail
	// counts as quiet.
	Threshold float64
	// HighpassHz is the cutoff of the single-pole high-pass filter. 0 disables it.
	HighpassHz float64
	// EnergyFloor is the minimum mean window energy for the window to count as
	// containing speech at all.
	EnergyFloor float64
}

// Decision is the outcome of one activity check.
type Decision struct {
	SpeechEnded bool
	// Activity is the ratio of mean |x| over the tail to mean |x| over the
	// whole window. It is an energy ratio, not a fraction of samples; see
	// audio.Window.ActivityFraction for that.
	Activity     float64
	WindowEnergy float64
	TailEnergy   float64
}

// Evaluate inspects w and reports whether speech has just ended. It does not
// modify w and holds no state between calls.
func Evaluate(w audio.Window, p Params) Decision {
	n := len(w.Samples)
	last := audio.SamplesFor(p.TrailingMS, w.SampleRate)
	if n == 0 || last <= 0 || last >= n {
		return Decision{}
	}

	filtered := make([]float32, n)
	copy(filtered, w.Samples)
	if p.HighpassHz > 0 {
		HighPass(filtered, p.HighpassHz, w.SampleRate)
	}

	var all, tail float64
	for i, s := range filtered {
		v := math.Abs(float64(s))
		all += v
		if i >= n-last {
			tail += v
		}
	}
	all /= float64(n)
	tail /= float64(last)

	d := Decision{WindowEnergy: all, TailEnergy: tail}
	if all <= 0 {
		return d
	}
	d.Activity = tail / all
	d.SpeechEnded = all > p.EnergyFloor && d.Activity <= p.Threshold
	return d
}

// HighPass applies a single-pole RC high-pass filter to samples in place.
func HighPass(samples []float32, cutoffHz float64, sampleRate int) {
	if len(samples) == 0 || cutoffHz <= 0 || sampleRate <= 0 {
		return
	}
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := float32(rc / (rc + dt))

	y := samples[0]
	prev := samples[0]
	for i := 1; i < len(samples); i++ {
		x := samples[i]
		y = alpha * (y + x - prev)
		prev = x
		samples[i] = y
	}
}

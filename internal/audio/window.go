package audio

import (
	"math"
	"time"
)

// Window is a contiguous block of mono float32 samples in [-1, 1].
type Window struct {
	Samples    []float32
	SampleRate int
}

// Empty reports whether the window carries no samples.
func (w Window) Empty() bool {
	return len(w.Samples) == 0
}

func (w Window) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Tail returns the trailing ms of the window, or the whole window when it is
// shorter. The returned window aliases w.
func (w Window) Tail(ms int) Window {
	n := SamplesFor(ms, w.SampleRate)
	if n <= 0 || n >= len(w.Samples) {
		return w
	}
	return Window{Samples: w.Samples[len(w.Samples)-n:], SampleRate: w.SampleRate}
}

// ActivityFraction is the fraction of samples whose magnitude exceeds abs.
func (w Window) ActivityFraction(abs float64) float64 {
	if len(w.Samples) == 0 {
		return 0
	}
	active := 0
	for _, s := range w.Samples {
		if math.Abs(float64(s)) > abs {
			active++
		}
	}
	return float64(active) / float64(len(w.Samples))
}

// SamplesFor converts a duration in milliseconds to a sample count.
func SamplesFor(ms, sampleRate int) int {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(ms) * int64(sampleRate) / 1000)
}

package vad

import (
	"math"
	"testing"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
)

const rate = 16000

func tone(ms int, amp float64) []float32 {
	n := audio.SamplesFor(ms, rate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return out
}

func silence(ms int) []float32 {
	return make([]float32, audio.SamplesFor(ms, rate))
}

func window(parts ...[]float32) audio.Window {
	var samples []float32
	for _, p := range parts {
		samples = append(samples, p...)
	}
	return audio.Window{Samples: samples, SampleRate: rate}
}

func defaultParams() Params {
	return Params{TrailingMS: 1000, Threshold: 0.6, HighpassHz: 100, EnergyFloor: 0.0005}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name  string
		win   audio.Window
		ended bool
	}{
		{"empty", audio.Window{SampleRate: rate}, false},
		{"silence", window(silence(2000)), false},
		{"speech then pause", window(tone(1000, 0.5), silence(1000)), true},
		{"pause then speech", window(silence(1000), tone(1000, 0.5)), false},
		{"continuous speech", window(tone(2000, 0.5)), false},
		{"speech fading out", window(tone(1000, 0.5), tone(1000, 0.05)), true},
		{"dc offset only", window(constant(2000, 0.3)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(tc.win, defaultParams())
			if d.SpeechEnded != tc.ended {
				t.Fatalf("expected ended=%v, got %+v", tc.ended, d)
			}
		})
	}
}

func TestEvaluateTrailingNotShorterThanWindow(t *testing.T) {
	w := window(tone(500, 0.5), silence(500))
	p := defaultParams()
	p.TrailingMS = 1000
	if d := Evaluate(w, p); d.SpeechEnded {
		t.Fatalf("expected trailing >= window to be inconclusive, got %+v", d)
	}
}

func TestEvaluateDoesNotModifyWindow(t *testing.T) {
	w := window(tone(1000, 0.5), silence(1000))
	before := append([]float32(nil), w.Samples...)
	Evaluate(w, defaultParams())
	for i := range before {
		if before[i] != w.Samples[i] {
			t.Fatalf("sample %d modified", i)
		}
	}
}

func TestActivityReportsTailRatio(t *testing.T) {
	d := Evaluate(window(silence(1000), tone(1000, 0.5)), defaultParams())
	if d.Activity < 1.9 || d.Activity > 2.1 {
		t.Fatalf("expected activity near 2 for speech confined to the tail, got %v", d.Activity)
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	samples := constant(1000, 0.8)
	HighPass(samples, 100, rate)
	if v := math.Abs(float64(samples[len(samples)-1])); v > 1e-3 {
		t.Fatalf("expected DC removed, tail sample %v", v)
	}
}

func constant(ms int, v float32) []float32 {
	out := make([]float32, audio.SamplesFor(ms, rate))
	for i := range out {
		out[i] = v
	}
	return out
}

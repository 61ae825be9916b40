package stt

import (
	"context"
	"errors"
)

var (
	// ErrModelLoad marks a recognizer that could not load its model.
	ErrModelLoad = errors.New("stt: model load failed")
	// ErrNotSupported is returned by engines lacking an optional capability.
	ErrNotSupported = errors.New("stt: operation not supported")
)

// Request carries the per-utterance decoding settings.
type Request struct {
	Language      string
	Translate     bool
	MaxTokens     int // 0 means unlimited
	SingleSegment bool
	NoContext     bool
}

type Segment struct {
	Text         string
	NoSpeechProb float64
}

// Result captures recognizer output for one utterance.
type Result struct {
	Segments []Segment
	Language string
}

func (r Result) Texts() []string {
	texts := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		texts[i] = s.Text
	}
	return texts
}

// MaxNoSpeechProb is the highest non-speech probability across segments.
func (r Result) MaxNoSpeechProb() float64 {
	var p float64
	for _, s := range r.Segments {
		p = max(p, s.NoSpeechProb)
	}
	return p
}

// Recognizer abstracts speech recognition engines. Implementations are not
// required to support concurrent calls.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, req Request) (Result, error)
	// Disambiguate scores each candidate language for samples. Engines that
	// cannot do this return ErrNotSupported.
	Disambiguate(ctx context.Context, samples []float32, candidates []string) (map[string]float64, error)
	SupportsLanguage(code string) bool
	Multilingual() bool
	Close() error
}

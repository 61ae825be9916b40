package stt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockRecognizer replays scripted results in order, then describes the
// utterance it was given. It is used by the mock recognizer mode and tests.
type MockRecognizer struct {
	mu        sync.Mutex
	script    []Result
	calls     []MockCall
	Languages map[string]float64
	Err       error
	English   bool // report an English-only model
}

type MockCall struct {
	Samples int
	Request Request
}

func NewMockRecognizer(script ...Result) *MockRecognizer {
	return &MockRecognizer{script: script}
}

func (m *MockRecognizer) Transcribe(ctx context.Context, samples []float32, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.calls = append(m.calls, MockCall{Samples: len(samples), Request: req})
	if m.Err != nil {
		return Result{}, m.Err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	dur := time.Duration(len(samples)) * time.Second / 16000
	return Result{
		Segments: []Segment{{Text: fmt.Sprintf("[utterance %.2fs]", dur.Seconds())}},
		Language: req.Language,
	}, nil
}

func (m *MockRecognizer) Disambiguate(_ context.Context, _ []float32, candidates []string) (map[string]float64, error) {
	if m.Languages == nil {
		return nil, ErrNotSupported
	}
	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		out[c] = m.Languages[c]
	}
	return out, nil
}

func (m *MockRecognizer) SupportsLanguage(code string) bool {
	return code == "auto" || KnownLanguage(code)
}

func (m *MockRecognizer) Multilingual() bool {
	return !m.English
}

func (m *MockRecognizer) Close() error {
	return nil
}

// Calls returns a copy of the recorded Transcribe invocations.
func (m *MockRecognizer) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

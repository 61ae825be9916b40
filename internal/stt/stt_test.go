package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/spf13/afero"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-stt.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestResultHelpers(t *testing.T) {
	r := Result{Segments: []Segment{{Text: "a", NoSpeechProb: 0.2}, {Text: "b", NoSpeechProb: 0.7}}}
	if got := r.MaxNoSpeechProb(); got != 0.7 {
		t.Fatalf("expected 0.7, got %v", got)
	}
	if got := strings.Join(r.Texts(), "|"); got != "a|b" {
		t.Fatalf("unexpected texts %q", got)
	}
}

func TestExecRecognizerParsesSegments(t *testing.T) {
	script := writeScript(t, `echo '{"language":"en","segments":[{"text":" hello","no_speech_prob":0.1},{"text":" world","no_speech_prob":0.3}]}'`)
	rec, err := NewExecRecognizer(config.RecognizerConfig{Command: script}, afero.NewOsFs())
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), make([]float32, 1600), Request{Language: "en", MaxTokens: 32})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(res.Segments) != 2 || res.Segments[1].Text != " world" {
		t.Fatalf("unexpected segments %+v", res.Segments)
	}
	if res.MaxNoSpeechProb() != 0.3 {
		t.Fatalf("expected max no-speech 0.3, got %v", res.MaxNoSpeechProb())
	}
}

func TestExecRecognizerPassesAudioFile(t *testing.T) {
	// The script echoes the --audio argument back as text and checks the file exists.
	script := writeScript(t, `
while [ $# -gt 0 ]; do
  if [ "$1" = "--audio" ]; then shift; AUDIO="$1"; fi
  shift
done
test -s "$AUDIO" || exit 3
printf '{"text":"%s"}' "$AUDIO"`)
	rec, err := NewExecRecognizer(config.RecognizerConfig{Command: script}, nil)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), make([]float32, 800), Request{Language: "fr"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(res.Segments) != 1 || !strings.HasSuffix(res.Segments[0].Text, ".wav") {
		t.Fatalf("expected wav path echoed, got %+v", res.Segments)
	}
	if res.Language != "fr" {
		t.Fatalf("expected request language carried, got %q", res.Language)
	}
	if _, err := os.Stat(res.Segments[0].Text); !os.IsNotExist(err) {
		t.Fatalf("expected temp wav removed, stat err=%v", err)
	}
}

func TestExecRecognizerTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 10`)
	rec, err := NewExecRecognizer(config.RecognizerConfig{Command: script, TimeoutMS: 100}, nil)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	start := time.Now()
	_, err = rec.Transcribe(context.Background(), make([]float32, 800), Request{Language: "en"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("hung command held the recognizer for %s", elapsed)
	}
}

func TestExecRecognizerFailure(t *testing.T) {
	script := writeScript(t, `echo "model missing" >&2; exit 1`)
	rec, err := NewExecRecognizer(config.RecognizerConfig{Command: script}, nil)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	if _, err := rec.Transcribe(context.Background(), make([]float32, 10), Request{Language: "en"}); err == nil {
		t.Fatal("expected command failure")
	}
}

func TestExecRecognizerDisambiguate(t *testing.T) {
	script := writeScript(t, `echo '{"languages":{"en":0.3,"fr":0.6}}'`)
	rec, err := NewExecRecognizer(config.RecognizerConfig{Command: script}, nil)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	probs, err := rec.Disambiguate(context.Background(), make([]float32, 10), []string{"en", "fr"})
	if err != nil {
		t.Fatalf("disambiguate: %v", err)
	}
	if probs["fr"] != 0.6 {
		t.Fatalf("unexpected probabilities %v", probs)
	}
}

func TestExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.RecognizerConfig{Command: "  "}, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestMockRecognizerScript(t *testing.T) {
	m := NewMockRecognizer(Result{Segments: []Segment{{Text: "scripted"}}})
	res, err := m.Transcribe(context.Background(), make([]float32, 16000), Request{Language: "en"})
	if err != nil || res.Segments[0].Text != "scripted" {
		t.Fatalf("expected scripted result, got %+v err=%v", res, err)
	}
	res, err = m.Transcribe(context.Background(), make([]float32, 16000), Request{Language: "en"})
	if err != nil || res.Segments[0].Text != "[utterance 1.00s]" {
		t.Fatalf("expected generated result, got %+v err=%v", res, err)
	}
	if len(m.Calls()) != 2 {
		t.Fatalf("expected 2 calls recorded, got %d", len(m.Calls()))
	}
	if _, err := m.Disambiguate(context.Background(), nil, []string{"en"}); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestKnownLanguage(t *testing.T) {
	for _, code := range []string{"en", "fr", "yue"} {
		if !KnownLanguage(code) {
			t.Fatalf("expected %s known", code)
		}
	}
	if KnownLanguage("xx") {
		t.Fatal("expected xx unknown")
	}
}

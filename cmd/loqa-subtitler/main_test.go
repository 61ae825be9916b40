package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/loqalabs/loqa-subtitler/internal/capture"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/language"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
)

func TestExitCode(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{errors.New("bad yaml"), exitConfig},
		{fmt.Errorf("select: %w", capture.ErrNoDevice), exitNoDevice},
		{fmt.Errorf("open: %w", capture.ErrDeviceInit), exitDeviceInit},
		{fmt.Errorf("%w: \"xx\"", language.ErrUnsupportedLanguage), exitLanguage},
		{fmt.Errorf("whisper: %w", stt.ErrModelLoad), exitModelLoad},
	} {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("%v: expected exit %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestOverrideLanguage(t *testing.T) {
	for _, tc := range []struct {
		lang     string
		wantMode string
	}{
		{"en", "fallback"},
		{"fr", "fixed"},
		{"de", "fixed"},
	} {
		rc := config.RecognizerConfig{Language: "en", LanguageMode: "fallback", AlternateLanguage: "fr"}
		overrideLanguage(&rc, tc.lang)
		if rc.Language != tc.lang || rc.LanguageMode != tc.wantMode {
			t.Fatalf("-language %s: expected %s/%s, got %s/%s", tc.lang, tc.lang, tc.wantMode, rc.Language, rc.LanguageMode)
		}
	}
}

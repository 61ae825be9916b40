package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subtitler.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Preset != PresetDefault {
		t.Fatalf("expected default preset, got %q", cfg.Preset)
	}
	if cfg.Pipeline.LengthMS != 30000 || cfg.Pipeline.VADCheckMS != 2000 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Dispatch.Streamerbot.URL != "ws://127.0.0.1:8080/" {
		t.Fatalf("expected default streamerbot url, got %q", cfg.Dispatch.Streamerbot.URL)
	}
	if cfg.Recognizer.LanguageMode != "fallback" || cfg.Recognizer.AlternateLanguage != "fr" {
		t.Fatalf("unexpected language defaults: %+v", cfg.Recognizer)
	}
}

func TestFastPresetAppliedBeforeFileValues(t *testing.T) {
	path := writeConfig(t, `
preset: fast
pipeline:
  vad_check_ms: 250
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Preset != PresetFast {
		t.Fatalf("expected fast preset, got %q", cfg.Preset)
	}
	if cfg.Pipeline.VADCheckMS != 250 {
		t.Fatalf("expected explicit check interval to win, got %d", cfg.Pipeline.VADCheckMS)
	}
	if cfg.Pipeline.LengthMS != 3500 || cfg.Pipeline.VADWindowMS != 800 || cfg.Pipeline.VADLastMS != 350 {
		t.Fatalf("expected fast timings, got %+v", cfg.Pipeline)
	}
	if cfg.Recognizer.MaxTokens != 32 || cfg.Pipeline.DedupSimilarity != 0.80 {
		t.Fatalf("expected fast recognizer limits, got tokens=%d dedup=%v", cfg.Recognizer.MaxTokens, cfg.Pipeline.DedupSimilarity)
	}
	if !cfg.Pipeline.DiscardAfterSnapshot || !cfg.Pipeline.LowActivityGuard || !cfg.Pipeline.SuppressFillers {
		t.Fatalf("expected fast behaviours enabled: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.LanguageProbeMS != 1500 {
		t.Fatalf("expected probe tail 1500, got %d", cfg.Pipeline.LanguageProbeMS)
	}
}

func TestLoadWithPresetFlag(t *testing.T) {
	cfg, err := LoadWithPreset("", PresetFast)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.VADCheckMS != 100 {
		t.Fatalf("expected fast check interval, got %d", cfg.Pipeline.VADCheckMS)
	}
}

func TestUnknownPreset(t *testing.T) {
	t.Setenv("LOQA_PRESET", "turbo")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestNormalizeClampsPipeline(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.VADCheckMS = 10
	cfg.Pipeline.VADWindowMS = 100
	cfg.Pipeline.VADLastMS = 900
	cfg.Pipeline.DedupSimilarity = 1.7
	cfg.Recognizer.MaxTokens = -4

	cfg.Normalize()

	if cfg.Pipeline.VADCheckMS != 50 {
		t.Fatalf("expected check clamp to 50, got %d", cfg.Pipeline.VADCheckMS)
	}
	if cfg.Pipeline.VADWindowMS != 900 {
		t.Fatalf("expected window widened to trailing length, got %d", cfg.Pipeline.VADWindowMS)
	}
	if cfg.Pipeline.VADLastMS > cfg.Pipeline.VADWindowMS {
		t.Fatalf("trailing %d exceeds window %d", cfg.Pipeline.VADLastMS, cfg.Pipeline.VADWindowMS)
	}
	if cfg.Pipeline.DedupSimilarity != 1 {
		t.Fatalf("expected dedup clamp to 1, got %v", cfg.Pipeline.DedupSimilarity)
	}
	if cfg.Recognizer.MaxTokens != 0 {
		t.Fatalf("expected max tokens clamp to 0, got %d", cfg.Recognizer.MaxTokens)
	}

	before := cfg
	cfg.Normalize()
	if cfg.Pipeline != before.Pipeline {
		t.Fatal("normalize is not idempotent")
	}
}

func TestNormalizeTrailingNeverExceedsWindow(t *testing.T) {
	for _, tc := range []struct{ window, last int }{
		{0, 0}, {200, 50}, {200, 5000}, {800, 350}, {100, 100},
	} {
		cfg := Default()
		cfg.Pipeline.VADWindowMS = tc.window
		cfg.Pipeline.VADLastMS = tc.last
		cfg.Normalize()
		if cfg.Pipeline.VADLastMS > cfg.Pipeline.VADWindowMS {
			t.Fatalf("window=%d last=%d: trailing %d > window %d", tc.window, tc.last, cfg.Pipeline.VADLastMS, cfg.Pipeline.VADWindowMS)
		}
	}
}

func TestAutoLanguageForcesAutoMode(t *testing.T) {
	t.Setenv("LOQA_RECOGNIZER_LANGUAGE", "AUTO")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognizer.Language != "auto" || cfg.Recognizer.LanguageMode != "auto" {
		t.Fatalf("expected auto language mode, got %q/%q", cfg.Recognizer.Language, cfg.Recognizer.LanguageMode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_STREAMERBOT_URL", "ws://10.0.0.2:8080/")
	t.Setenv("LOQA_STREAMERBOT_PASSWORD", "hunter2")
	t.Setenv("LOQA_PIPELINE_VAD_THRESHOLD", "0.45")
	t.Setenv("LOQA_RECOGNIZER_MODE", "mock")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Dispatch.Streamerbot.URL != "ws://10.0.0.2:8080/" || cfg.Dispatch.Streamerbot.Password != "hunter2" {
		t.Fatalf("expected streamerbot override, got %+v", cfg.Dispatch.Streamerbot)
	}
	if cfg.Pipeline.VADThreshold != 0.45 {
		t.Fatalf("expected vad threshold override, got %v", cfg.Pipeline.VADThreshold)
	}
	if cfg.Recognizer.Mode != "mock" {
		t.Fatalf("expected recognizer mode override")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
}

func TestValidateRejectsPublishWithoutBus(t *testing.T) {
	t.Setenv("LOQA_DISPATCH_PUBLISH", "true")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when publishing without a bus")
	}
}

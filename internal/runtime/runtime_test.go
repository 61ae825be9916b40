package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/loqalabs/loqa-subtitler/internal/capture"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/eventstore"
	"github.com/loqalabs/loqa-subtitler/internal/language"
	"github.com/loqalabs/loqa-subtitler/internal/protocol"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
	"github.com/spf13/afero"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type overlay struct {
	mu   sync.Mutex
	args []string
}

func (o *overlay) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"request":"Hello"}`)); err != nil {
			return
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req struct {
				Request string            `json:"request"`
				Args    map[string]string `json:"args"`
			}
			if err := json.Unmarshal(data, &req); err != nil || req.Request != "DoAction" {
				continue
			}
			o.mu.Lock()
			o.args = append(o.args, req.Args["AiText"])
			o.mu.Unlock()
		}
	}
}

func (o *overlay) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.args...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	if err := cfg.ApplyPreset(config.PresetFast); err != nil {
		t.Fatalf("apply preset: %v", err)
	}
	cfg.HTTP.Enabled = false
	cfg.Recognizer.Mode = "mock"
	cfg.Dispatch.Streamerbot.Enabled = false
	cfg.EventStore = config.EventStoreConfig{RetentionMode: "ephemeral"}
	cfg.Normalize()
	return cfg
}

func writeRecording(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	var samples []float32
	for i := 0; i < config.SampleRate; i++ {
		samples = append(samples, float32(0.5*math.Sin(2*math.Pi*440*float64(i)/config.SampleRate)))
	}
	samples = append(samples, make([]float32, config.SampleRate*3/2)...)
	if err := audio.WriteWAV(fs, path, audio.Window{Samples: samples, SampleRate: config.SampleRate}); err != nil {
		t.Fatalf("write recording: %v", err)
	}
}

func TestReplayEndToEnd(t *testing.T) {
	ov := &overlay{}
	srv := httptest.NewServer(ov.handler(t))
	t.Cleanup(srv.Close)

	fs := afero.NewMemMapFs()
	writeRecording(t, fs, "speech.wav")

	cfg := testConfig(t)
	cfg.Dispatch.Streamerbot.Enabled = true
	cfg.Dispatch.Streamerbot.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	cfg.Dispatch.StartupText = "subtitler online"
	cfg.Dispatch.Journal = true
	cfg.Pipeline.ArchiveDir = "archive"
	cfg.EventStore = config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}

	rt := New(cfg, newLogger(), WithFs(fs), WithReplay("speech.wav"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("runtime did not stop after the recording ended")
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(ov.texts()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	texts := ov.texts()
	if len(texts) != 2 {
		t.Fatalf("expected startup text and one transcript, got %q", texts)
	}
	if texts[0] != "subtitler online" || !strings.HasPrefix(texts[1], "[utterance ") {
		t.Fatalf("unexpected overlay texts: %q", texts)
	}

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	events, err := store.ListSessionEvents(context.Background(), rt.SessionID(), 50)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []string{protocol.EventSessionStarted, protocol.EventTranscriptAccepted, protocol.EventSessionStopped}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected journal %v, got %v", want, types)
	}

	files, err := afero.ReadDir(fs, "archive")
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), rt.SessionID()) {
		t.Fatalf("expected one archived utterance, got %d", len(files))
	}
}

type idleSource struct{}

func (idleSource) Resume() error { return nil }
func (idleSource) Pause() error { return nil }
func (idleSource) Clear() {}
func (idleSource) Get(_ int, dst []float32) []float32 { return dst[:0] }
func (idleSource) SampleRate() int { return config.SampleRate }

func TestStartupErrorsAreClassified(t *testing.T) {
	t.Run("unsupported language", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Recognizer.Language = "klingon"
		rt := New(cfg, newLogger(), WithSource(idleSource{}), WithRecognizer(stt.NewMockRecognizer()))
		if err := rt.Start(context.Background()); !errors.Is(err, language.ErrUnsupportedLanguage) {
			t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
		}
	})
	t.Run("missing model", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Recognizer.Mode = "whisper"
		cfg.Recognizer.ModelPath = filepath.Join(t.TempDir(), "missing.bin")
		rt := New(cfg, newLogger(), WithSource(idleSource{}))
		if err := rt.Start(context.Background()); !errors.Is(err, stt.ErrModelLoad) {
			t.Fatalf("expected ErrModelLoad, got %v", err)
		}
	})
	t.Run("missing replay", func(t *testing.T) {
		rt := New(testConfig(t), newLogger(), WithFs(afero.NewMemMapFs()), WithReplay("nope.wav"))
		if err := rt.Start(context.Background()); !errors.Is(err, capture.ErrDeviceInit) {
			t.Fatalf("expected ErrDeviceInit, got %v", err)
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	rt := New(testConfig(t), newLogger(), WithSource(idleSource{}))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	rt := New(testConfig(t), newLogger())
	srv := httptest.NewServer(rt.newHTTPServer(nil).Handler)
	t.Cleanup(srv.Close)

	check := func(path string, want int) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}

	check("/healthz", http.StatusOK)
	check("/readyz", http.StatusServiceUnavailable)
	rt.ready.Store(true)
	check("/readyz", http.StatusOK)
}

package capture

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/spf13/afero"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDevices() []DeviceInfo {
	return []DeviceInfo{
		{Index: 0, Name: "Built-in Microphone"},
		{Index: 1, Name: "Samson Q2U Microphone", Default: true},
		{Index: 2, Name: "USB Audio CODEC"},
	}
}

func TestParseMic(t *testing.T) {
	cases := []struct {
		in    string
		index int
		name  string
	}{
		{"0", 0, ""},
		{" 2 ", 2, ""},
		{"Samson", -1, "Samson"},
		{"", -1, ""},
		{"-1", -1, "-1"},
	}
	for _, tc := range cases {
		index, name := ParseMic(tc.in)
		if index != tc.index || name != tc.name {
			t.Fatalf("ParseMic(%q) = %d,%q want %d,%q", tc.in, index, name, tc.index, tc.name)
		}
	}
}

func TestSelectDevice(t *testing.T) {
	devices := testDevices()

	got, err := SelectDevice(devices, 2, "")
	if err != nil || got.Name != "USB Audio CODEC" {
		t.Fatalf("select by index: %+v %v", got, err)
	}
	got, err = SelectDevice(devices, -1, "samson")
	if err != nil || got.Index != 1 {
		t.Fatalf("select by name: %+v %v", got, err)
	}
	got, err = SelectDevice(devices, -1, "")
	if err != nil || !got.Default {
		t.Fatalf("select default: %+v %v", got, err)
	}
}

func TestSelectDeviceErrors(t *testing.T) {
	if _, err := SelectDevice(testDevices(), 7, ""); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice for bad index, got %v", err)
	}
	if _, err := SelectDevice(testDevices(), -1, "rode"); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice for unknown name, got %v", err)
	}
	if _, err := SelectDevice(nil, -1, ""); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice for empty list, got %v", err)
	}
}

func TestOpenDeviceRequiresListedDevice(t *testing.T) {
	if _, err := OpenDevice(DeviceInfo{Name: "fake"}, 16000, 1000, newLogger()); !errors.Is(err, ErrDeviceInit) {
		t.Fatalf("expected ErrDeviceInit, got %v", err)
	}
}

func TestReplayFeedsRecording(t *testing.T) {
	fs := afero.NewMemMapFs()
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.25
	}
	if err := audio.WriteWAV(fs, "/clip.wav", audio.Window{Samples: samples, SampleRate: 16000}); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	r, err := OpenReplay(fs, "/clip.wav", 16000, 1000, newLogger())
	if err != nil {
		t.Fatalf("open replay: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	if got := r.Get(1000, nil); len(got) != 0 {
		t.Fatalf("expected nothing buffered before resume, got %d", len(got))
	}
	if err := r.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("replay did not finish")
	}
	if got := r.Get(1000, nil); len(got) != len(samples) {
		t.Fatalf("expected %d samples buffered, got %d", len(samples), len(got))
	}
	r.Clear()
	if got := r.Get(1000, nil); len(got) != 0 {
		t.Fatalf("expected empty after clear, got %d", len(got))
	}
}

func TestReplayRejectsSampleRateMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := audio.WriteWAV(fs, "/clip.wav", audio.Window{Samples: make([]float32, 10), SampleRate: 8000}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if _, err := OpenReplay(fs, "/clip.wav", 16000, 1000, newLogger()); !errors.Is(err, ErrDeviceInit) {
		t.Fatalf("expected ErrDeviceInit, got %v", err)
	}
}

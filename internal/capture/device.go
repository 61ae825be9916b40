package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-subtitler/internal/audio"
)

// Device captures mono float32 audio from a PortAudio input stream into a
// ring buffer. It implements audio.Source.
type Device struct {
	info       DeviceInfo
	sampleRate int
	ring       *audio.Ring
	log        *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool
	running atomic.Bool
}

var _ audio.Source = (*Device)(nil)

// OpenDevice opens an input stream on info retaining bufferMS of audio.
func OpenDevice(info DeviceInfo, sampleRate, bufferMS int, log *slog.Logger) (*Device, error) {
	if info.pa == nil {
		return nil, fmt.Errorf("%w: device %q was not obtained from ListDevices", ErrDeviceInit, info.Name)
	}
	d := &Device{
		info:       info,
		sampleRate: sampleRate,
		ring:       audio.NewRing(audio.SamplesFor(bufferMS, sampleRate)),
		log:        log.With(slog.String("component", "capture"), slog.String("device", info.Name)),
	}

	params := portaudio.LowLatencyParameters(info.pa, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = sampleRate / 100

	stream, err := portaudio.OpenStream(params, d.process)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream on %q at %d Hz: %v", ErrDeviceInit, info.Name, sampleRate, err)
	}
	d.stream = stream
	d.log.Info("capture device opened", slog.Int("sample_rate", sampleRate), slog.Int("buffer_ms", bufferMS))
	return d, nil
}

// process runs on the PortAudio callback thread.
func (d *Device) process(in []float32) {
	if d.running.Load() {
		d.ring.Write(in)
	}
}

func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		if err := d.stream.Start(); err != nil {
			return fmt.Errorf("%w: start stream: %v", ErrDeviceInit, err)
		}
		d.started = true
	}
	d.running.Store(true)
	return nil
}

func (d *Device) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running.Store(false)
	if !d.started {
		return nil
	}
	d.started = false
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}

func (d *Device) Clear() {
	d.ring.Clear()
}

func (d *Device) Get(ms int, dst []float32) []float32 {
	return d.ring.Snapshot(audio.SamplesFor(ms, d.sampleRate), dst)
}

func (d *Device) SampleRate() int {
	return d.sampleRate
}

func (d *Device) Info() DeviceInfo {
	return d.info
}

func (d *Device) Close() error {
	if err := d.Pause(); err != nil {
		d.log.Warn("pause before close failed", slog.String("error", err.Error()))
	}
	return d.stream.Close()
}

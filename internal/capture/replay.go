package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/spf13/afero"
)

// Replay feeds a WAV recording into a ring buffer in real time, standing in
// for a microphone. It implements audio.Source.
type Replay struct {
	samples    []float32
	sampleRate int
	ring       *audio.Ring
	chunk      time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	pos    int
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

var _ audio.Source = (*Replay)(nil)

// OpenReplay loads path from fs. The recording must already be at sampleRate.
func OpenReplay(fs afero.Fs, path string, sampleRate, bufferMS int, log *slog.Logger) (*Replay, error) {
	w, err := audio.ReadWAV(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceInit, err)
	}
	if w.SampleRate != sampleRate {
		return nil, fmt.Errorf("%w: %s is %d Hz, want %d Hz", ErrDeviceInit, path, w.SampleRate, sampleRate)
	}
	log = log.With(slog.String("component", "replay"), slog.String("path", path))
	log.Info("replay source opened", slog.Duration("duration", w.Duration()))
	return &Replay{
		samples:    w.Samples,
		sampleRate: sampleRate,
		ring:       audio.NewRing(audio.SamplesFor(bufferMS, sampleRate)),
		chunk:      10 * time.Millisecond,
		log:        log,
		done:       make(chan struct{}),
	}, nil
}

// Done is closed once the whole recording has been fed.
func (r *Replay) Done() <-chan struct{} {
	return r.done
}

func (r *Replay) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.feed(ctx)
	return nil
}

func (r *Replay) feed(ctx context.Context) {
	defer r.wg.Done()
	step := audio.SamplesFor(int(r.chunk/time.Millisecond), r.sampleRate)
	ticker := time.NewTicker(r.chunk)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		end := min(r.pos+step, len(r.samples))
		r.ring.Write(r.samples[r.pos:end])
		r.pos = end
		finished := r.pos >= len(r.samples)
		r.mu.Unlock()
		if finished {
			r.once.Do(func() { close(r.done) })
			return
		}
	}
}

func (r *Replay) Pause() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
	return nil
}

func (r *Replay) Clear() {
	r.ring.Clear()
}

func (r *Replay) Get(ms int, dst []float32) []float32 {
	return r.ring.Snapshot(audio.SamplesFor(ms, r.sampleRate), dst)
}

func (r *Replay) SampleRate() int {
	return r.sampleRate
}

func (r *Replay) Close() error {
	return r.Pause()
}

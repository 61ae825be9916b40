package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/loqalabs/loqa-subtitler/internal/bus"
	"github.com/loqalabs/loqa-subtitler/internal/capture"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/dispatch"
	"github.com/loqalabs/loqa-subtitler/internal/dispatch/streamerbot"
	"github.com/loqalabs/loqa-subtitler/internal/eventstore"
	"github.com/loqalabs/loqa-subtitler/internal/natsserver"
	"github.com/loqalabs/loqa-subtitler/internal/protocol"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
	"github.com/loqalabs/loqa-subtitler/internal/stt/whisper"
	"github.com/loqalabs/loqa-subtitler/internal/transcript"
)

// openSource returns the audio source, a display name for it, a channel that
// closes when a finite source is exhausted, and a cleanup function.
func (r *Runtime) openSource() (audio.Source, string, <-chan struct{}, func(), error) {
	bufferMS := r.cfg.Pipeline.LengthMS
	if r.source != nil {
		return r.source, "injected", nil, func() {}, nil
	}

	if r.replayPath != "" {
		replay, err := capture.OpenReplay(r.fs, r.replayPath, config.SampleRate, bufferMS, r.logger)
		if err != nil {
			return nil, "", nil, nil, err
		}
		closeFn := func() {
			if err := replay.Close(); err != nil {
				r.logger.Warn("replay close failed", slog.String("error", err.Error()))
			}
		}
		return replay, "replay:" + filepath.Base(r.replayPath), replay.Done(), closeFn, nil
	}

	if err := capture.Initialize(); err != nil {
		return nil, "", nil, nil, err
	}
	devices, err := capture.ListDevices()
	if err != nil {
		_ = capture.Terminate()
		return nil, "", nil, nil, err
	}
	info, err := capture.SelectDevice(devices, r.cfg.Audio.DeviceIndex, r.cfg.Audio.DeviceName)
	if err != nil {
		_ = capture.Terminate()
		return nil, "", nil, nil, err
	}
	r.logger.Info("selected capture device", slog.String("device", info.String()))

	dev, err := capture.OpenDevice(info, config.SampleRate, bufferMS, r.logger)
	if err != nil {
		_ = capture.Terminate()
		return nil, "", nil, nil, err
	}
	closeFn := func() {
		if err := dev.Close(); err != nil {
			r.logger.Warn("capture close failed", slog.String("error", err.Error()))
		}
		if err := capture.Terminate(); err != nil {
			r.logger.Warn("portaudio terminate failed", slog.String("error", err.Error()))
		}
	}
	return dev, info.Name, nil, closeFn, nil
}

func (r *Runtime) openRecognizer() (stt.Recognizer, error) {
	if r.recognizer != nil {
		return r.recognizer, nil
	}
	rc := r.cfg.Recognizer
	switch rc.Mode {
	case "whisper":
		engine, err := whisper.Open(rc.ModelPath, whisper.WithThreads(rc.Threads), whisper.WithLogger(r.logger))
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "exec":
		return stt.NewExecRecognizer(rc, r.fs)
	case "mock":
		r.logger.Warn("using mock recognizer")
		return stt.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", rc.Mode)
	}
}

func (r *Runtime) connectBus(ctx context.Context, embedded *natsserver.EmbeddedServer) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if embedded != nil && len(busCfg.Servers) == 0 {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// buildSinks assembles the dispatch fan-out from configuration. The
// Streamer.bot client is also returned, nil when disabled.
func (r *Runtime) buildSinks(journal *eventstore.Journal) (*dispatch.Fanout, *streamerbot.Client, error) {
	fanout := dispatch.NewFanout()

	var client *streamerbot.Client
	if sb := r.cfg.Dispatch.Streamerbot; sb.Enabled {
		var err error
		client, err = streamerbot.New(sb, r.logger)
		if err != nil {
			return nil, nil, err
		}
		fanout.Add("streamerbot", client)
	}
	if r.cfg.Dispatch.Publish && r.bus != nil {
		fanout.Add("bus", dispatch.NewBusSink(r.bus, r.cfg.Bus.Subject))
	}
	if r.cfg.Dispatch.Journal {
		fanout.Add("journal", journal)
	}
	if fanout.Len() == 0 {
		r.logger.Warn("no dispatch sinks configured; transcripts are only logged")
	}
	return fanout, client, nil
}

// sendStartupText triggers the action once before listening so the overlay
// can be checked end to end. Failures are not fatal.
func (r *Runtime) sendStartupText(ctx context.Context, client *streamerbot.Client) {
	text := r.cfg.Dispatch.StartupText
	if text == "" || client == nil {
		return
	}
	if err := client.DoAction(ctx, text); err != nil {
		r.logger.Warn("startup text not delivered", slog.String("error", err.Error()))
		return
	}
	r.logger.Info("startup text delivered", slog.String("text", text))
}

func (r *Runtime) rejectHook(journal *eventstore.Journal) func(context.Context, transcript.Rejection, string) {
	return func(ctx context.Context, reason transcript.Rejection, text string) {
		now := time.Now()
		if r.cfg.Dispatch.Journal {
			if err := journal.RecordRejection(ctx, string(reason), text, now); err != nil {
				r.logger.Warn("journal rejection failed", slog.String("error", err.Error()))
			}
		}
		if r.cfg.Dispatch.Publish && r.bus != nil {
			r.publish(protocol.SubjectTranscriptRejected, protocol.Rejection{
				SessionID: r.sessionID,
				Reason:    string(reason),
				Text:      text,
				Timestamp: now.UTC(),
			})
		}
	}
}

// archiveHook writes each accepted utterance as a WAV file when an archive
// directory is configured.
func (r *Runtime) archiveHook() func(int, audio.Window) {
	dir := r.cfg.Pipeline.ArchiveDir
	if dir == "" {
		return nil
	}
	return func(seq int, w audio.Window) {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			r.logger.Warn("archive dir unavailable", slog.String("error", err.Error()))
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%04d.wav", r.sessionID, seq))
		if err := audio.WriteWAV(r.fs, path, w); err != nil {
			r.logger.Warn("archive utterance failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) publishSession(subject, device string) {
	if !r.cfg.Dispatch.Publish || r.bus == nil {
		return
	}
	r.publish(subject, protocol.SessionEvent{
		SessionID: r.sessionID,
		Device:    device,
		Preset:    r.cfg.Preset,
		Timestamp: time.Now().UTC(),
	})
}

func (r *Runtime) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("marshal bus event failed", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(subject, data); err != nil {
		r.logger.Warn("publish bus event failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// Package session runs the capture loop: wait for a pause after speech,
// transcribe the buffered utterance, filter it and hand it to dispatch.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/loqalabs/loqa-subtitler/internal/dispatch"
	"github.com/loqalabs/loqa-subtitler/internal/language"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
	"github.com/loqalabs/loqa-subtitler/internal/transcript"
	"github.com/loqalabs/loqa-subtitler/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Emitter accepts transcripts for delivery without blocking.
type Emitter interface {
	Enqueue(msg dispatch.Message) error
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Source     audio.Source
	Recognizer stt.Recognizer
	Selector   *language.Selector
	Normalizer transcript.Normalizer
	Suppressor *transcript.Suppressor
	Output     Emitter
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = log }
}

func WithSessionID(id string) Option {
	return func(ctl *Controller) { ctl.sessionID = id }
}

// WithObserver registers fn to be called on every state change.
func WithObserver(fn func(from, to State)) Option {
	return func(ctl *Controller) { ctl.observer = fn }
}

// WithRejectHook registers fn to be called for every filtered transcript.
func WithRejectHook(fn func(ctx context.Context, reason transcript.Rejection, text string)) Option {
	return func(ctl *Controller) { ctl.onReject = fn }
}

// WithUtteranceHook registers fn to be called with every accepted utterance's
// audio. The window is only valid for the duration of the call.
func WithUtteranceHook(fn func(seq int, w audio.Window)) Option {
	return func(ctl *Controller) { ctl.onUtterance = fn }
}

type Controller struct {
	settings  Settings
	deps      Deps
	acc       *audio.Accumulator
	clock     Clock
	log       *slog.Logger
	sessionID string
	tracer    trace.Tracer

	observer    func(from, to State)
	onReject    func(ctx context.Context, reason transcript.Rejection, text string)
	onUtterance func(seq int, w audio.Window)

	state atomic.Int32

	// owned by the Run goroutine
	lastAccepted string
	lastCheck    time.Time
	emitted      int

	checks      metric.Int64Counter
	utterances  metric.Int64Counter
	duration    metric.Float64Histogram
	accepted    metric.Int64Counter
	rejected    metric.Int64Counter
	recogErrors metric.Int64Counter
}

func New(settings Settings, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		settings: settings,
		deps:     deps,
		acc:      audio.NewAccumulator(deps.Source),
		clock:    SystemClock(),
		log:      slog.Default(),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-subtitler/session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "session"))
	if err := c.initMetrics(); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return c
}

func (c *Controller) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-subtitler/session")
	var err error
	if c.checks, err = meter.Int64Counter("subtitler.vad.checks"); err != nil {
		return err
	}
	if c.utterances, err = meter.Int64Counter("subtitler.utterances"); err != nil {
		return err
	}
	if c.duration, err = meter.Float64Histogram("subtitler.transcribe.duration", metric.WithUnit("ms")); err != nil {
		return err
	}
	if c.accepted, err = meter.Int64Counter("subtitler.transcripts.accepted"); err != nil {
		return err
	}
	if c.rejected, err = meter.Int64Counter("subtitler.transcripts.rejected"); err != nil {
		return err
	}
	c.recogErrors, err = meter.Int64Counter("subtitler.recognition.errors")
	return err
}

// State is safe to call from any goroutine.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Emitted is the number of accepted transcripts. Read it only after Run
// has returned.
func (c *Controller) Emitted() int {
	return c.emitted
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s && c.observer != nil {
		c.observer(prev, s)
	}
}

// Run drives the loop until ctx is cancelled. It returns nil on cancellation;
// per-cycle failures are logged and never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.deps.Source.Resume(); err != nil {
		return err
	}
	defer func() {
		if err := c.deps.Source.Pause(); err != nil {
			c.log.Warn("pause capture failed", slog.String("error", err.Error()))
		}
		c.setState(StateStopped)
	}()

	c.lastCheck = c.clock.Now()
	c.setState(StateAwaitingQuietPeriod)
	c.log.Info("listening",
		slog.Int("length_ms", c.settings.LengthMS),
		slog.Duration("check_interval", c.settings.CheckInterval),
		slog.String("language_mode", string(c.deps.Selector.Mode())))

	slice := c.settings.pollSlice()
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := c.clock.Now()
		if now.Sub(c.lastCheck) < c.settings.CheckInterval {
			if err := c.clock.Sleep(ctx, slice); err != nil {
				return nil
			}
			continue
		}

		win := c.acc.VADWindow(c.settings.VADWindowMS)
		if win.Empty() {
			if err := c.clock.Sleep(ctx, emptyWindowBackoff); err != nil {
				return nil
			}
			continue
		}

		c.Step(ctx, win)
		c.lastCheck = now
	}
}

// Step runs one post-check cycle on an activity window.
func (c *Controller) Step(ctx context.Context, win audio.Window) {
	defer c.setState(StateAwaitingQuietPeriod)

	d := vad.Evaluate(win, c.settings.VAD)
	if c.checks != nil {
		c.checks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech_ended", d.SpeechEnded)))
	}
	if !d.SpeechEnded {
		return
	}

	c.setState(StateAwaitingFullWindow)
	full := c.acc.UtteranceWindow(c.settings.LengthMS)
	if full.Duration() < MinUtterance {
		c.log.Debug("utterance too short", slog.Duration("duration", full.Duration()))
		return
	}
	if c.settings.LowActivityGuard && full.ActivityFraction(lowActivityLevel) < lowActivityFraction {
		c.log.Debug("discarding low-activity audio", slog.Duration("duration", full.Duration()))
		c.acc.Discard()
		return
	}
	if c.settings.DiscardAfterSnapshot {
		c.acc.Discard()
	}
	if c.utterances != nil {
		c.utterances.Add(ctx, 1)
	}

	c.setState(StateTranscribing)
	res, err := c.transcribe(ctx, full)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("transcription failed", slog.String("error", err.Error()))
		}
		return
	}

	c.setState(StateFiltering)
	cand, reason := c.deps.Normalizer.Normalize(res.Texts(), res.MaxNoSpeechProb(), res.Language)
	if reason == transcript.Accepted {
		reason = c.deps.Suppressor.Check(c.lastAccepted, cand.Text)
	}
	if reason != transcript.Accepted {
		c.reject(ctx, reason, cand.Text)
		return
	}

	c.setState(StateDispatching)
	c.accept(ctx, cand, full)
}

func (c *Controller) transcribe(ctx context.Context, full audio.Window) (stt.Result, error) {
	lang := c.deps.Selector.Select(ctx, full)
	req := stt.Request{
		Language:      lang,
		Translate:     c.deps.Selector.Translate(),
		MaxTokens:     c.settings.MaxTokens,
		SingleSegment: c.settings.SingleSegment,
		NoContext:     c.settings.NoContext,
	}

	ctx, span := c.tracer.Start(ctx, "subtitler.transcribe", trace.WithAttributes(
		attribute.String("subtitler.language", lang),
		attribute.Int64("subtitler.audio_ms", full.Duration().Milliseconds()),
	))
	defer span.End()

	start := time.Now()
	res, err := c.deps.Recognizer.Transcribe(ctx, full.Samples, req)
	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.recogErrors != nil && !errors.Is(err, context.Canceled) {
			c.recogErrors.Add(ctx, 1)
		}
		return stt.Result{}, err
	}
	if res.Language == "" {
		res.Language = lang
	}
	return res, nil
}

func (c *Controller) reject(ctx context.Context, reason transcript.Rejection, text string) {
	c.log.Debug("transcript rejected", slog.String("reason", string(reason)), slog.String("text", text))
	if c.rejected != nil {
		c.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	}
	if c.onReject != nil {
		c.onReject(ctx, reason, text)
	}
}

func (c *Controller) accept(ctx context.Context, cand transcript.Candidate, full audio.Window) {
	c.emitted++
	seq := c.emitted
	c.lastAccepted = cand.Text
	c.log.Info("transcript", slog.Int("seq", seq), slog.String("text", cand.Text), slog.String("language", cand.Language))
	if c.accepted != nil {
		c.accepted.Add(ctx, 1)
	}
	if c.onUtterance != nil {
		c.onUtterance(seq, full)
	}

	err := c.deps.Output.Enqueue(dispatch.Message{
		SessionID:    c.sessionID,
		Sequence:     seq,
		Text:         cand.Text,
		Language:     cand.Language,
		NoSpeechProb: cand.NoSpeechProb,
		Timestamp:    c.clock.Now(),
	})
	if err != nil {
		c.log.Warn("transcript not queued", slog.Int("seq", seq), slog.String("error", err.Error()))
	}
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/loqalabs/loqa-subtitler/internal/bus"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/dispatch"
	"github.com/loqalabs/loqa-subtitler/internal/eventstore"
	"github.com/loqalabs/loqa-subtitler/internal/language"
	"github.com/loqalabs/loqa-subtitler/internal/natsserver"
	"github.com/loqalabs/loqa-subtitler/internal/protocol"
	"github.com/loqalabs/loqa-subtitler/internal/session"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
	"github.com/loqalabs/loqa-subtitler/internal/transcript"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Option customises a Runtime.
type Option func(*Runtime)

// WithFs sets the filesystem used for replay input, archives and temp files.
func WithFs(fs afero.Fs) Option {
	return func(r *Runtime) { r.fs = fs }
}

// WithReplay feeds the WAV file at path instead of opening a microphone. The
// runtime stops on its own once the recording has been processed.
func WithReplay(path string) Option {
	return func(r *Runtime) { r.replayPath = path }
}

// WithSource uses src instead of opening a capture device.
func WithSource(src audio.Source) Option {
	return func(r *Runtime) { r.source = src }
}

// WithRecognizer uses rec instead of building one from configuration.
func WithRecognizer(rec stt.Recognizer) Option {
	return func(r *Runtime) { r.recognizer = rec }
}

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	fs         afero.Fs
	replayPath string
	source     audio.Source
	recognizer stt.Recognizer
	sessionID  string

	httpServer  *http.Server
	tracerClose func(context.Context) error
	bus         *bus.Client
	ready       atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:       cfg,
		logger:    logger,
		fs:        afero.NewOsFs(),
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID identifies this run in published and journaled events.
func (r *Runtime) SessionID() string {
	return r.sessionID
}

// Start prepares every component and runs the capture loop until ctx is
// cancelled. Startup failures wrap capture.ErrNoDevice, capture.ErrDeviceInit,
// stt.ErrModelLoad or language.ErrUnsupportedLanguage.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	src, device, done, closeSource, err := r.openSource()
	if err != nil {
		return err
	}
	defer closeSource()

	rec, err := r.openRecognizer()
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			r.logger.Warn("recognizer close failed", slog.String("error", err.Error()))
		}
	}()

	selector, err := language.Plan(r.cfg.Recognizer, r.cfg.Pipeline.LanguageProbeMS, rec, r.logger)
	if err != nil {
		return err
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if err := r.connectBus(ctx, embedded); err != nil {
		return err
	}
	defer r.bus.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	journal := eventstore.NewJournal(store, r.sessionID)
	if err := journal.Start(ctx, device, r.cfg.Preset); err != nil {
		r.logger.Warn("journal start failed", slog.String("error", err.Error()))
	}
	r.publishSession(protocol.SubjectSessionStarted, device)

	sinks, sbClient, err := r.buildSinks(journal)
	if err != nil {
		return err
	}
	if sbClient != nil {
		defer func() {
			if err := sbClient.Close(); err != nil {
				r.logger.Warn("streamerbot close failed", slog.String("error", err.Error()))
			}
		}()
	}
	r.sendStartupText(ctx, sbClient)

	queue := dispatch.NewQueue(sinks, r.cfg.Dispatch.QueueSize, r.dispatchTimeout(), r.logger)

	normOpts := transcript.DefaultNormalizerOptions()
	normOpts.SuppressFillers = r.cfg.Pipeline.SuppressFillers
	similarity, err := transcript.MetricByName(r.cfg.Pipeline.DedupMetric)
	if err != nil {
		return err
	}

	ctl := session.New(session.SettingsFromConfig(r.cfg), session.Deps{
		Source:     src,
		Recognizer: rec,
		Selector:   selector,
		Normalizer: transcript.NewNormalizer(normOpts),
		Suppressor: transcript.NewSuppressor(transcript.SuppressorOptions{
			Threshold:      r.cfg.Pipeline.DedupSimilarity,
			MinSuffixWords: r.cfg.Pipeline.MinSuffixWords,
			Metric:         similarity,
		}),
		Output: queue,
	},
		session.WithLogger(r.logger),
		session.WithSessionID(r.sessionID),
		session.WithRejectHook(r.rejectHook(journal)),
		session.WithUtteranceHook(r.archiveHook()),
		session.WithObserver(func(from, to session.State) {
			r.logger.Debug("session state", slog.String("from", from.String()), slog.String("to", to.String()))
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	g.Go(func() error {
		return queue.Run(queueCtx)
	})
	g.Go(func() error {
		defer stopQueue()
		defer cancel()
		return ctl.Run(gctx)
	})
	if done != nil {
		g.Go(func() error {
			return r.stopAfterReplay(gctx, done, cancel)
		})
	}
	if r.cfg.HTTP.Enabled {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port))
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("listen: %w", err)
		}
		r.httpServer = r.newHTTPServer(metricsHandler)
		g.Go(func() error {
			return r.serveHTTP(gctx, ln)
		})
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("session_id", r.sessionID),
		slog.String("device", device),
		slog.String("preset", r.cfg.Preset),
		slog.Int("sinks", sinks.Len()))

	err = g.Wait()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	if jerr := journal.Stop(stopCtx); jerr != nil {
		r.logger.Warn("journal stop failed", slog.String("error", jerr.Error()))
	}
	r.publishSession(protocol.SubjectSessionStopped, device)
	return err
}

func (r *Runtime) dispatchTimeout() time.Duration {
	timeout := time.Duration(r.cfg.Dispatch.Streamerbot.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return timeout
}

// stopAfterReplay cancels the run once the recording has been fed and the
// loop has had time for a final check.
func (r *Runtime) stopAfterReplay(ctx context.Context, done <-chan struct{}, cancel context.CancelFunc) error {
	select {
	case <-ctx.Done():
		return nil
	case <-done:
	}
	grace := 2*time.Duration(r.cfg.Pipeline.VADCheckMS)*time.Millisecond + time.Duration(r.cfg.Pipeline.VADWindowMS)*time.Millisecond
	r.logger.Info("replay finished", slog.Duration("grace", grace))
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		cancel()
	}
	return nil
}

func (r *Runtime) newHTTPServer(metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (r *Runtime) serveHTTP(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
		errCh <- r.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	<-errCh
	return nil
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// Package whisper runs speech recognition in-process with whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
)

// Engine wraps a loaded whisper.cpp model. Calls are serialised; the
// underlying context is not safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	model   *whispercpp.Context
	threads int
	log     *slog.Logger
}

var _ stt.Recognizer = (*Engine)(nil)

type Option func(*Engine)

func WithThreads(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threads = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// Open loads the model at modelPath. Failures wrap stt.ErrModelLoad.
func Open(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: model path must not be empty", stt.ErrModelLoad)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", stt.ErrModelLoad, err)
	}

	e := &Engine{threads: 1, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(slog.String("component", "whisper"))

	model := whispercpp.Whisper_init(modelPath)
	if model == nil {
		return nil, fmt.Errorf("%w: whisper: failed to load %s", stt.ErrModelLoad, modelPath)
	}
	e.model = model
	e.log.Info("model loaded",
		slog.String("path", modelPath),
		slog.Bool("multilingual", e.Multilingual()),
		slog.Int("threads", e.threads))
	return e, nil
}

func (e *Engine) Transcribe(ctx context.Context, samples []float32, req stt.Request) (stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return stt.Result{}, errors.New("whisper: engine closed")
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	params := e.model.Whisper_full_default_params(whispercpp.SAMPLING_GREEDY)
	params.SetPrintProgress(false)
	params.SetPrintRealtime(false)
	params.SetPrintSpecial(false)
	params.SetPrintTimestamps(false)
	params.SetTranslate(req.Translate)
	params.SetSingleSegment(req.SingleSegment)
	params.SetNoContext(req.NoContext)
	params.SetMaxTokensPerSegment(req.MaxTokens)
	params.SetThreads(e.threads)

	langID := -1
	if req.Language != "" && req.Language != "auto" {
		langID = e.model.Whisper_lang_id(req.Language)
		if langID < 0 {
			return stt.Result{}, fmt.Errorf("whisper: unsupported language %q", req.Language)
		}
	}
	if err := params.SetLanguage(langID); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language: %w", err)
	}

	// Returning false from the encoder callback aborts decoding on shutdown.
	err := e.model.Whisper_full(params, samples,
		func() bool { return ctx.Err() == nil },
		func(int) {},
		func(int) {},
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, ctxErr
		}
		return stt.Result{}, fmt.Errorf("whisper: process: %w", err)
	}

	n := e.model.Whisper_full_n_segments()
	result := stt.Result{Language: req.Language, Segments: make([]stt.Segment, 0, n)}
	for i := 0; i < n; i++ {
		result.Segments = append(result.Segments, stt.Segment{
			Text:         e.model.Whisper_full_get_segment_text(i),
			NoSpeechProb: e.noSpeechProb(i),
		})
	}
	return result, nil
}

// noSpeechProb estimates how likely segment i is non-speech as one minus the
// mean probability of its text tokens.
func (e *Engine) noSpeechProb(segment int) float64 {
	eot := e.model.Whisper_token_eot()
	var sum float64
	var count int
	for t := 0; t < e.model.Whisper_full_n_tokens(segment); t++ {
		if e.model.Whisper_full_get_token_id(segment, t) >= eot {
			continue
		}
		sum += float64(e.model.Whisper_full_get_token_p(segment, t))
		count++
	}
	if count == 0 {
		return 1
	}
	return 1 - sum/float64(count)
}

func (e *Engine) Disambiguate(ctx context.Context, samples []float32, candidates []string) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil, errors.New("whisper: engine closed")
	}
	if !e.Multilingual() {
		return nil, stt.ErrNotSupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.model.Whisper_pcm_to_mel(samples, e.threads); err != nil {
		return nil, fmt.Errorf("whisper: pcm to mel: %w", err)
	}
	probs, err := e.model.Whisper_lang_auto_detect(0, e.threads)
	if err != nil {
		return nil, fmt.Errorf("whisper: detect language: %w", err)
	}

	out := make(map[string]float64, len(candidates))
	for _, code := range candidates {
		id := e.model.Whisper_lang_id(code)
		if id >= 0 && id < len(probs) {
			out[code] = float64(probs[id])
		}
	}
	return out, nil
}

func (e *Engine) SupportsLanguage(code string) bool {
	if code == "auto" {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil && e.model.Whisper_lang_id(code) >= 0
}

func (e *Engine) Multilingual() bool {
	return e.model != nil && e.model.Whisper_is_multilingual() != 0
}

// Close prints the accumulated whisper timings and frees the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	e.model.Whisper_print_timings()
	e.model.Whisper_free()
	e.model = nil
	return nil
}

// Package language picks the spoken language passed to the recognizer for
// each utterance.
package language

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/loqalabs/loqa-subtitler/internal/config"
)

// Auto asks the recognizer to detect the language itself.
const Auto = "auto"

// ErrUnsupportedLanguage is returned when a configured language code is not
// known to the recognizer.
var ErrUnsupportedLanguage = errors.New("unsupported language")

type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeAuto     Mode = "auto"
	ModeFallback Mode = "fallback"
)

// Engine is the part of the recognizer the selector needs.
type Engine interface {
	Multilingual() bool
	SupportsLanguage(code string) bool
	// Disambiguate returns a probability per candidate code for samples.
	Disambiguate(ctx context.Context, samples []float32, candidates []string) (map[string]float64, error)
}

type Options struct {
	Mode      Mode
	Default   string
	Alternate string
	// MinAlternateProb is the probability the alternate must reach, on top of
	// beating the default, before it is chosen.
	MinAlternateProb float64
	// ProbeTailMS limits disambiguation to the trailing part of the
	// utterance. 0 uses the whole utterance.
	ProbeTailMS int
	Translate   bool
}

type Selector struct {
	opts   Options
	engine Engine
	log    *slog.Logger
}

// NewSelector validates opts against the engine. English-only engines pin the
// selector to a fixed "en" and disable translation; that downgrade is logged.
// Any other requested language on such an engine is ErrUnsupportedLanguage.
func NewSelector(opts Options, engine Engine, log *slog.Logger) (*Selector, error) {
	log = log.With(slog.String("component", "language-selector"))
	if opts.MinAlternateProb <= 0 {
		opts.MinAlternateProb = 0.50
	}
	if opts.Default == Auto {
		opts.Mode = ModeAuto
	}
	if opts.Mode == "" {
		opts.Mode = ModeFixed
	}

	if !engine.Multilingual() {
		pinned := opts.Default
		if pinned == Auto || pinned == "" {
			pinned = "en"
		}
		if pinned != "en" {
			return nil, fmt.Errorf("%w: %q (model is English-only)", ErrUnsupportedLanguage, pinned)
		}
		if opts.Mode != ModeFixed || opts.Translate || pinned != opts.Default {
			log.Warn("model is not multilingual; pinning language and disabling translation",
				slog.String("language", pinned),
				slog.String("requested_mode", string(opts.Mode)),
				slog.Bool("requested_translate", opts.Translate))
		}
		opts.Mode = ModeFixed
		opts.Default = pinned
		opts.Translate = false
	}

	switch opts.Mode {
	case ModeFixed, ModeFallback:
		if !engine.SupportsLanguage(opts.Default) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, opts.Default)
		}
		if opts.Mode == ModeFallback {
			if opts.Alternate == "" || opts.Alternate == opts.Default {
				opts.Mode = ModeFixed
			} else if !engine.SupportsLanguage(opts.Alternate) {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, opts.Alternate)
			}
		}
	case ModeAuto:
		opts.Default = Auto
	default:
		return nil, fmt.Errorf("unknown language mode %q", opts.Mode)
	}

	return &Selector{opts: opts, engine: engine, log: log}, nil
}

// Plan builds the startup selector from recognizer settings.
func Plan(cfg config.RecognizerConfig, probeTailMS int, engine Engine, log *slog.Logger) (*Selector, error) {
	return NewSelector(Options{
		Mode:        Mode(cfg.LanguageMode),
		Default:     cfg.Language,
		Alternate:   cfg.AlternateLanguage,
		ProbeTailMS: probeTailMS,
		Translate:   cfg.Translate,
	}, engine, log)
}

func (s *Selector) Mode() Mode {
	return s.opts.Mode
}

// Translate reports whether translation stays enabled after validation.
func (s *Selector) Translate() bool {
	return s.opts.Translate
}

// Select returns the language code to decode w with.
func (s *Selector) Select(ctx context.Context, w audio.Window) string {
	switch s.opts.Mode {
	case ModeAuto:
		return Auto
	case ModeFallback:
	default:
		return s.opts.Default
	}

	probe := w
	if s.opts.ProbeTailMS > 0 {
		probe = w.Tail(s.opts.ProbeTailMS)
	}
	probs, err := s.engine.Disambiguate(ctx, probe.Samples, []string{s.opts.Default, s.opts.Alternate})
	if err != nil {
		s.log.Debug("language disambiguation failed", slog.String("error", err.Error()))
		return s.opts.Default
	}
	return s.choose(probs)
}

func (s *Selector) choose(probs map[string]float64) string {
	pDefault, pAlt := probs[s.opts.Default], probs[s.opts.Alternate]
	if pAlt > pDefault && pAlt >= s.opts.MinAlternateProb {
		return s.opts.Alternate
	}
	return s.opts.Default
}

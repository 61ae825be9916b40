package session

import (
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/vad"
)

const (
	// MinUtterance is the shortest snapshot worth sending to the recognizer.
	MinUtterance = 500 * time.Millisecond
	// emptyWindowBackoff is how long to wait when nothing has been captured yet.
	emptyWindowBackoff = 25 * time.Millisecond
	// lowActivityLevel and lowActivityFraction define a snapshot with no real
	// signal in it: fewer than 1% of samples above 0.01 full scale.
	lowActivityLevel    = 0.01
	lowActivityFraction = 0.01
)

// Settings are the resolved loop parameters. Presets are already folded in.
type Settings struct {
	LengthMS      int
	VADWindowMS   int
	CheckInterval time.Duration
	VAD           vad.Params

	DiscardAfterSnapshot bool
	LowActivityGuard     bool

	MaxTokens     int
	SingleSegment bool
	NoContext     bool
}

// SettingsFromConfig resolves Settings from a normalized configuration.
func SettingsFromConfig(cfg config.Config) Settings {
	p := cfg.Pipeline
	return Settings{
		LengthMS:      p.LengthMS,
		VADWindowMS:   p.VADWindowMS,
		CheckInterval: time.Duration(p.VADCheckMS) * time.Millisecond,
		VAD: vad.Params{
			TrailingMS:  p.VADLastMS,
			Threshold:   p.VADThreshold,
			HighpassHz:  p.HighpassHz,
			EnergyFloor: p.EnergyFloor,
		},
		DiscardAfterSnapshot: p.DiscardAfterSnapshot,
		LowActivityGuard:     p.LowActivityGuard,
		MaxTokens:            cfg.Recognizer.MaxTokens,
		SingleSegment:        cfg.Recognizer.SingleSegment,
		NoContext:            cfg.Recognizer.NoContext,
	}
}

// pollSlice is the sleep granularity while waiting for the next check.
func (s Settings) pollSlice() time.Duration {
	slice := s.CheckInterval / 3
	slice = max(slice, time.Millisecond)
	return min(slice, 50*time.Millisecond)
}

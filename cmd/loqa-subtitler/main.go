package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-subtitler/internal/capture"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/loqalabs/loqa-subtitler/internal/language"
	"github.com/loqalabs/loqa-subtitler/internal/runtime"
	"github.com/loqalabs/loqa-subtitler/internal/stt"
)

var version = "0.1.0-dev"

const (
	exitConfig     = 1
	exitNoDevice   = 2
	exitDeviceInit = 3
	exitLanguage   = 4
	exitModelLoad  = 5
)

func main() {
	var (
		configPath  string
		showVersion bool
		listDevices bool
		fast        bool
		mic         string
		model       string
		lang        string
		translate   bool
		replay      string
		startupText string
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio input devices and exit")
	flag.BoolVar(&fast, "fast", false, "Use the low-latency preset")
	flag.StringVar(&mic, "mic", "", "Input device index or name substring")
	flag.StringVar(&model, "model", "", "Path to the whisper model")
	flag.StringVar(&lang, "language", "", "Spoken language code, or auto (a code other than the configured default disables fallback)")
	flag.BoolVar(&translate, "translate", false, "Translate to English")
	flag.StringVar(&replay, "replay", "", "Process a 16 kHz WAV file instead of the microphone")
	flag.StringVar(&startupText, "startup-text", "", "Text sent to Streamer.bot once at startup")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitCode(err))
		}
		return
	}

	preset := ""
	if fast {
		preset = config.PresetFast
	}
	cfg, err := config.LoadWithPreset(configPath, preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitConfig)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["mic"] {
		cfg.Audio.DeviceIndex, cfg.Audio.DeviceName = capture.ParseMic(mic)
	}
	if set["model"] {
		cfg.Recognizer.ModelPath = model
	}
	if set["language"] {
		overrideLanguage(&cfg.Recognizer, lang)
	}
	if set["translate"] {
		cfg.Recognizer.Translate = translate
	}
	if set["startup-text"] {
		cfg.Dispatch.StartupText = startupText
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitConfig)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Telemetry.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	var opts []runtime.Option
	if replay != "" {
		opts = append(opts, runtime.WithReplay(replay))
	}
	rt := runtime.New(cfg, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		stop()
		os.Exit(exitCode(err))
	}

	logger.Info("shutdown complete")
}

// overrideLanguage applies -language. Repeating the configured default keeps
// the configured mode, so fallback detection survives an explicit -language en.
func overrideLanguage(rc *config.RecognizerConfig, lang string) {
	if lang == rc.Language {
		return
	}
	rc.Language = lang
	rc.LanguageMode = string(language.ModeFixed)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, capture.ErrNoDevice):
		return exitNoDevice
	case errors.Is(err, capture.ErrDeviceInit):
		return exitDeviceInit
	case errors.Is(err, language.ErrUnsupportedLanguage):
		return exitLanguage
	case errors.Is(err, stt.ErrModelLoad):
		return exitModelLoad
	default:
		return exitConfig
	}
}

func printDevices() error {
	if err := capture.Initialize(); err != nil {
		return err
	}
	defer capture.Terminate()
	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no input devices found", capture.ErrNoDevice)
	}
	for _, d := range devices {
		fmt.Println(d.String())
	}
	return nil
}

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/audio"
	"github.com/loqalabs/loqa-subtitler/internal/config"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/afero"
)

// execRecognizer hands each utterance to an external command as a temporary
// WAV file and reads a JSON result from its stdout.
type execRecognizer struct {
	cmd []string
	cfg config.RecognizerConfig
	fs  afero.Fs
	mu  sync.Mutex
}

type execSegment struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type execResult struct {
	Text      string             `json:"text"`
	Language  string             `json:"language"`
	Segments  []execSegment      `json:"segments"`
	Languages map[string]float64 `json:"languages"`
}

func NewExecRecognizer(cfg config.RecognizerConfig, fs afero.Fs) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &execRecognizer{cmd: args, cfg: cfg, fs: fs}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32, req Request) (Result, error) {
	args := []string{"--language", req.Language}
	if req.Translate {
		args = append(args, "--translate")
	}
	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(req.MaxTokens))
	}
	if req.SingleSegment {
		args = append(args, "--single-segment")
	}
	if req.NoContext {
		args = append(args, "--no-context")
	}

	resp, err := r.run(ctx, samples, args)
	if err != nil {
		return Result{}, err
	}

	result := Result{Language: resp.Language}
	if result.Language == "" {
		result.Language = req.Language
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, Segment{Text: seg.Text, NoSpeechProb: seg.NoSpeechProb})
	}
	if len(result.Segments) == 0 && resp.Text != "" {
		result.Segments = []Segment{{Text: resp.Text}}
	}
	return result, nil
}

func (r *execRecognizer) Disambiguate(ctx context.Context, samples []float32, candidates []string) (map[string]float64, error) {
	resp, err := r.run(ctx, samples, []string{"--detect-language", "--candidates", strings.Join(candidates, ",")})
	if err != nil {
		return nil, err
	}
	if len(resp.Languages) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Languages, nil
}

func (r *execRecognizer) SupportsLanguage(code string) bool {
	return code == "auto" || KnownLanguage(code)
}

func (r *execRecognizer) Multilingual() bool {
	return true
}

func (r *execRecognizer) Close() error {
	return nil
}

func (r *execRecognizer) run(ctx context.Context, samples []float32, extra []string) (execResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := afero.TempFile(r.fs, "", "loqa_stt_*.wav")
	if err != nil {
		return execResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer r.fs.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, audio.Window{Samples: samples, SampleRate: config.SampleRate}); err != nil {
		return execResult{}, err
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	cmdArgs = append(cmdArgs, extra...)

	if r.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	command.WaitDelay = time.Second
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return execResult{}, fmt.Errorf("stt command aborted: %w", ctxErr)
		}
		return execResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return resp, nil
}

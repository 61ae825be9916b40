package audio

import (
	"fmt"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// WriteWAV encodes w as 16-bit mono PCM into a new file on fs.
func WriteWAV(fs afero.Fs, path string, w Window) error {
	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()
	return EncodeWAV(file, w)
}

// EncodeWAV writes w as 16-bit mono PCM to an afero file.
func EncodeWAV(file afero.File, w Window) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           make([]int, len(w.Samples)),
		SourceBitDepth: 16,
	}
	for i, s := range w.Samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		buffer.Data[i] = int(math.Round(v * math.MaxInt16))
	}

	enc := wav.NewEncoder(file, w.SampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAV decodes a PCM WAV file into a mono window, keeping the first
// channel of multi-channel input.
func ReadWAV(fs afero.Fs, path string) (Window, error) {
	file, err := fs.Open(path)
	if err != nil {
		return Window{}, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return Window{}, fmt.Errorf("invalid wav file %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Window{}, fmt.Errorf("decode wav: %w", err)
	}
	channels := max(buf.Format.NumChannels, 1)
	scale := float32(int(1) << (dec.BitDepth - 1))
	samples := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float32(buf.Data[i])/scale)
	}
	return Window{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

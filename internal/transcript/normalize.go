// Package transcript cleans recognizer output and decides whether it is novel
// enough to forward.
package transcript

import (
	"strings"
	"unicode"
)

// BlankSentinel is the text the recognizer emits for effectively silent audio.
const BlankSentinel = "[BLANK_AUDIO]"

// Rejection names the policy that dropped a transcript. The zero value means
// the transcript was accepted.
type Rejection string

const (
	Accepted           Rejection = ""
	RejectEmpty        Rejection = "empty"
	RejectBlank        Rejection = "blank_audio"
	RejectFiller       Rejection = "filler"
	RejectSuffixRepeat Rejection = "suffix_repeat"
	RejectSimilar      Rejection = "similar"
)

// Candidate is a cleaned transcript awaiting the duplicate check.
type Candidate struct {
	Text         string
	NoSpeechProb float64
	Language     string
}

type NormalizerOptions struct {
	// SuppressFillers drops a bare "thank you" when the recognizer itself
	// considers the audio likely non-speech.
	SuppressFillers bool
	// FillerNoSpeechFloor is the non-speech probability at or above which a
	// filler phrase is dropped.
	FillerNoSpeechFloor float64
}

func DefaultNormalizerOptions() NormalizerOptions {
	return NormalizerOptions{FillerNoSpeechFloor: 0.80}
}

type Normalizer struct {
	opts NormalizerOptions
}

func NewNormalizer(opts NormalizerOptions) Normalizer {
	return Normalizer{opts: opts}
}

// Normalize joins segment texts, collapses whitespace and applies the
// rejection rules. A rejected candidate still carries its cleaned text.
func (n Normalizer) Normalize(segments []string, noSpeechProb float64, language string) (Candidate, Rejection) {
	c := Candidate{
		Text:         CollapseWhitespace(strings.Join(segments, "")),
		NoSpeechProb: noSpeechProb,
		Language:     language,
	}
	switch {
	case c.Text == "":
		return c, RejectEmpty
	case c.Text == BlankSentinel:
		return c, RejectBlank
	case n.opts.SuppressFillers && isThankYou(c.Text) && noSpeechProb >= n.opts.FillerNoSpeechFloor:
		return c, RejectFiller
	}
	return c, Accepted
}

// CollapseWhitespace trims s and replaces every whitespace run with a single
// space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Words splits s into lowercase alphanumeric words, dropping punctuation.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isThankYou(s string) bool {
	w := Words(s)
	switch len(w) {
	case 1:
		return w[0] == "thankyou"
	case 2:
		return w[0] == "thank" && w[1] == "you"
	}
	return false
}

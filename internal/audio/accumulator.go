package audio

// Source is a continuously filled capture buffer.
type Source interface {
	Resume() error
	Pause() error
	// Clear discards everything buffered so far.
	Clear()
	// Get copies up to ms of the most recent audio into dst and returns it.
	Get(ms int, dst []float32) []float32
	SampleRate() int
}

// Accumulator exposes peeks over a Source for the two consumers of the
// session loop. The activity check and the utterance snapshot each own a
// reusable buffer, so a Window stays valid until the next peek of the same
// kind.
type Accumulator struct {
	src     Source
	vadBuf  []float32
	fullBuf []float32
}

func NewAccumulator(src Source) *Accumulator {
	return &Accumulator{src: src}
}

// VADWindow returns the most recent ms of audio for activity detection.
func (a *Accumulator) VADWindow(ms int) Window {
	a.vadBuf = a.src.Get(ms, a.vadBuf)
	return Window{Samples: a.vadBuf, SampleRate: a.src.SampleRate()}
}

// UtteranceWindow returns the most recent ms of audio for recognition.
func (a *Accumulator) UtteranceWindow(ms int) Window {
	a.fullBuf = a.src.Get(ms, a.fullBuf)
	return Window{Samples: a.fullBuf, SampleRate: a.src.SampleRate()}
}

// Discard drops all buffered audio so it is never peeked again.
func (a *Accumulator) Discard() {
	a.src.Clear()
}

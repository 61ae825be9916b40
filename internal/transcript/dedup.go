package transcript

// Suppressor drops transcripts that repeat the previously forwarded one.
type Suppressor struct {
	threshold      float64
	minSuffixWords int
	metric         Metric
}

type SuppressorOptions struct {
	// Threshold is the similarity at or above which a candidate is a duplicate.
	Threshold float64
	// MinSuffixWords is the shortest candidate treated as a suffix repeat.
	MinSuffixWords int
	Metric         Metric
}

func NewSuppressor(opts SuppressorOptions) *Suppressor {
	if opts.Metric == nil {
		opts.Metric = LevenshteinSimilarity
	}
	if opts.MinSuffixWords <= 0 {
		opts.MinSuffixWords = 3
	}
	return &Suppressor{
		threshold:      opts.Threshold,
		minSuffixWords: opts.MinSuffixWords,
		metric:         opts.Metric,
	}
}

// Check reports why candidate duplicates previous, or Accepted when it does
// not. An empty previous never produces a duplicate.
func (s *Suppressor) Check(previous, candidate string) Rejection {
	if previous == "" {
		return Accepted
	}
	if s.IsSuffixRepeat(previous, candidate) {
		return RejectSuffixRepeat
	}
	if s.metric(previous, candidate) >= s.threshold {
		return RejectSimilar
	}
	return Accepted
}

func (s *Suppressor) IsDuplicate(previous, candidate string) bool {
	return s.Check(previous, candidate) != Accepted
}

// IsSuffixRepeat reports whether candidate is the tail of previous with one or
// more leading words dropped, a typical sliding-window artifact.
func (s *Suppressor) IsSuffixRepeat(previous, candidate string) bool {
	prev, cur := Words(previous), Words(candidate)
	if len(cur) < s.minSuffixWords || len(prev) <= len(cur) {
		return false
	}
	offset := len(prev) - len(cur)
	for i, w := range cur {
		if prev[offset+i] != w {
			return false
		}
	}
	return true
}

package audio

import "sync"

// Ring is a fixed-capacity sample buffer shared between a capture callback
// (writer) and the session loop (reader). Snapshots copy into caller-owned
// memory so the writer is only held off for the duration of a copy.
type Ring struct {
	mu     sync.Mutex
	buf    []float32
	head   int // next write position
	filled int // samples available since the last Clear
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len is the number of samples buffered since the last Clear.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}

// Write appends samples, overwriting the oldest ones once the ring is full.
func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.head = 0
		r.filled = len(r.buf)
		return
	}
	n := copy(r.buf[r.head:], samples)
	if n < len(samples) {
		copy(r.buf, samples[n:])
	}
	r.head = (r.head + len(samples)) % len(r.buf)
	r.filled = min(r.filled+len(samples), len(r.buf))
}

// Snapshot copies up to n of the most recent samples into dst (reusing its
// backing array when large enough) and returns the filled slice.
func (r *Ring) Snapshot(n int, dst []float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = min(n, r.filled)
	if n <= 0 {
		return dst[:0]
	}
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	c := copy(dst, r.buf[start:])
	if c < n {
		copy(dst[c:], r.buf[:n-c])
	}
	return dst
}

// Clear drops all buffered samples. Samples written afterwards are kept.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.filled = 0
	r.mu.Unlock()
}

// Package dispatch forwards accepted transcripts to downstream sinks without
// blocking the session loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrQueueFull is returned by Queue.Enqueue when the worker is behind.
var ErrQueueFull = errors.New("dispatch: queue full")

// Message is one accepted transcript.
type Message struct {
	SessionID    string
	Sequence     int
	Text         string
	Language     string
	NoSpeechProb float64
	Timestamp    time.Time
}

// Dispatcher delivers a message to one sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, msg Message) error

func (f Func) Dispatch(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type namedSink struct {
	name string
	sink Dispatcher
}

// Fanout delivers every message to all sinks in registration order. A failing
// sink does not prevent delivery to the others.
type Fanout struct {
	sinks []namedSink
}

func NewFanout() *Fanout {
	return &Fanout{}
}

func (f *Fanout) Add(name string, sink Dispatcher) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Dispatch(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

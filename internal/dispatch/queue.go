package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Queue decouples the session loop from network delivery. A single worker
// delivers messages in order; Enqueue never blocks.
type Queue struct {
	sink    Dispatcher
	ch      chan Message
	timeout time.Duration
	log     *slog.Logger
	tracer  trace.Tracer

	delivered metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter
}

func NewQueue(sink Dispatcher, size int, timeout time.Duration, log *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		sink:    sink,
		ch:      make(chan Message, size),
		timeout: timeout,
		log:     log.With(slog.String("component", "dispatch")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-subtitler/dispatch"),
	}
	if err := q.initMetrics(); err != nil {
		q.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return q
}

func (q *Queue) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-subtitler/dispatch")
	var err error
	if q.delivered, err = meter.Int64Counter("subtitler.dispatch.delivered"); err != nil {
		return err
	}
	if q.failed, err = meter.Int64Counter("subtitler.dispatch.errors"); err != nil {
		return err
	}
	q.dropped, err = meter.Int64Counter("subtitler.dispatch.dropped")
	return err
}

// Enqueue schedules msg for delivery, or returns ErrQueueFull.
func (q *Queue) Enqueue(msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		if q.dropped != nil {
			q.dropped.Add(context.Background(), 1)
		}
		return ErrQueueFull
	}
}

// Run delivers messages until ctx is cancelled, then makes one bounded
// attempt at whatever is still queued.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-q.ch:
			q.deliver(ctx, msg)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

func (q *Queue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	for {
		select {
		case msg := <-q.ch:
			q.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	if ctx.Err() != nil {
		q.log.Warn("dropping transcript on shutdown", slog.Int("seq", msg.Sequence))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	ctx, span := q.tracer.Start(ctx, "subtitler.dispatch", trace.WithAttributes(
		attribute.Int("subtitler.seq", msg.Sequence),
		attribute.Int("subtitler.text_len", len(msg.Text)),
	))
	defer span.End()

	if err := q.sink.Dispatch(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if q.failed != nil {
			q.failed.Add(ctx, 1)
		}
		q.log.Warn("dispatch failed", slog.Int("seq", msg.Sequence), slog.String("error", err.Error()))
		return
	}
	if q.delivered != nil {
		q.delivered.Add(ctx, 1)
	}
}

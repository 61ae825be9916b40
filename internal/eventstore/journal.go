package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-subtitler/internal/dispatch"
	"github.com/loqalabs/loqa-subtitler/internal/protocol"
)

// Journal records one capture session's lifecycle and transcripts.
type Journal struct {
	store     *Store
	sessionID string
}

var _ dispatch.Dispatcher = (*Journal)(nil)

// NewJournal binds a journal to sessionID.
func NewJournal(store *Store, sessionID string) *Journal {
	return &Journal{store: store, sessionID: sessionID}
}

func (j *Journal) SessionID() string {
	return j.sessionID
}

// Start registers the session and records a session.started event.
func (j *Journal) Start(ctx context.Context, device, preset string) error {
	now := j.store.clock().UTC()
	if err := j.store.AppendSession(ctx, Session{ID: j.sessionID, Device: device, Preset: preset, CreatedAt: now}); err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return j.append(ctx, protocol.EventSessionStarted, 0, "", "", protocol.SessionEvent{
		SessionID: j.sessionID,
		Device:    device,
		Preset:    preset,
		Timestamp: now,
	})
}

// Stop records a session.stopped event.
func (j *Journal) Stop(ctx context.Context) error {
	return j.append(ctx, protocol.EventSessionStopped, 0, "", "", protocol.SessionEvent{
		SessionID: j.sessionID,
		Timestamp: j.store.clock().UTC(),
	})
}

// Dispatch records an accepted transcript.
func (j *Journal) Dispatch(ctx context.Context, msg dispatch.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = j.store.clock()
	}
	return j.append(ctx, protocol.EventTranscriptAccepted, msg.Sequence, msg.Text, msg.Language, protocol.Transcript{
		SessionID:    j.sessionID,
		Sequence:     msg.Sequence,
		Text:         msg.Text,
		Language:     msg.Language,
		NoSpeechProb: msg.NoSpeechProb,
		Timestamp:    ts.UTC(),
	})
}

// RecordRejection records a transcript dropped by a filter.
func (j *Journal) RecordRejection(ctx context.Context, reason, text string, at time.Time) error {
	return j.append(ctx, protocol.EventTranscriptRejected, 0, text, "", protocol.Rejection{
		SessionID: j.sessionID,
		Reason:    reason,
		Text:      text,
		Timestamp: at.UTC(),
	})
}

func (j *Journal) append(ctx context.Context, eventType string, seq int, text, language string, payload any) error {
	if !j.store.Enabled() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return j.store.AppendEvent(ctx, Event{
		SessionID: j.sessionID,
		Type:      eventType,
		Seq:       seq,
		Text:      text,
		Language:  language,
		Payload:   data,
	})
}

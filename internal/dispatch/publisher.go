package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-subtitler/internal/protocol"
)

// Publisher is the subset of a NATS connection used for fire-and-forget
// publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusSink publishes accepted transcripts on the message bus.
type BusSink struct {
	pub     Publisher
	subject string
}

func NewBusSink(pub Publisher, subject string) *BusSink {
	return &BusSink{pub: pub, subject: subject}
}

func (b *BusSink) Dispatch(_ context.Context, msg Message) error {
	data, err := json.Marshal(protocol.Transcript{
		SessionID:    msg.SessionID,
		Sequence:     msg.Sequence,
		Text:         msg.Text,
		Language:     msg.Language,
		NoSpeechProb: msg.NoSpeechProb,
		Timestamp:    msg.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := b.pub.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish transcript: %w", err)
	}
	return nil
}

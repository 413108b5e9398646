// Package bus provides the in-process mailbox bus that agents use to
// exchange envelopes point to point.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is one addressed message. The bus never inspects Type or
// Payload; only the receiving agent interprets them.
//
// Envelopes are values: the bus copies them in and out and never mutates
// them after construction.
type Envelope struct {
	MsgID     string    `json:"msg_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	ContextID string    `json:"context_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope builds an envelope with a fresh message id and the current time.
func NewEnvelope(from, to, msgType string, payload any) Envelope {
	return Envelope{
		MsgID:     uuid.NewString(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// WithContext returns a copy of e that references a context store bundle.
func (e Envelope) WithContext(contextID string) Envelope {
	e.ContextID = contextID
	return e
}

// HasContext reports whether the envelope references a context bundle.
func (e Envelope) HasContext() bool {
	return e.ContextID != ""
}

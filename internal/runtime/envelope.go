package runtime

import (
	"bytes"
	"fmt"
	"time"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	idspkg "github.com/drblury/synapse/internal/runtime/ids"
	jsoncodec "github.com/drblury/synapse/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

// Envelope is the immutable unit flowing through the bus. Every accessor hands
// out copies, so neither producers nor middleware can change an envelope after
// construction.
type Envelope struct {
	id        string
	eventType string
	source    string
	channel   string
	payload   []byte
	metadata  metadatapkg.Metadata
	createdAt time.Time
}

// EnvelopeOption customises NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithSource records the producer that emitted the envelope.
func WithSource(source string) EnvelopeOption {
	return func(e *Envelope) { e.source = source }
}

// WithChannel routes the envelope to channel instead of its event type.
func WithChannel(channel string) EnvelopeOption {
	return func(e *Envelope) { e.channel = channel }
}

// WithMetadata attaches headers to the envelope.
func WithMetadata(md metadatapkg.Metadata) EnvelopeOption {
	return func(e *Envelope) { e.metadata = md.Clone() }
}

// WithEnvelopeID keeps an identifier minted elsewhere, such as a bridged
// Watermill message UUID.
func WithEnvelopeID(id string) EnvelopeOption {
	return func(e *Envelope) { e.id = id }
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(t time.Time) EnvelopeOption {
	return func(e *Envelope) { e.createdAt = t.UTC() }
}

// NewEnvelope builds an envelope of the given event type. The payload is copied.
func NewEnvelope(eventType string, payload []byte, opts ...EnvelopeOption) (*Envelope, error) {
	if eventType == "" {
		return nil, errspkg.ErrEventTypeRequired
	}

	env := &Envelope{
		eventType: eventType,
		payload:   bytes.Clone(payload),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(env)
		}
	}

	if env.createdAt.IsZero() {
		env.createdAt = time.Now().UTC()
	}
	if env.id == "" {
		env.id = idspkg.NewEnvelopeIDAt(env.createdAt)
	}
	if env.metadata == nil {
		env.metadata = metadatapkg.Metadata{}
	}
	return env, nil
}

// MustEnvelope is NewEnvelope for static event types; it panics on error.
func MustEnvelope(eventType string, payload []byte, opts ...EnvelopeOption) *Envelope {
	env, err := NewEnvelope(eventType, payload, opts...)
	if err != nil {
		panic(err)
	}
	return env
}

func (e *Envelope) ID() string        { return e.id }
func (e *Envelope) EventType() string { return e.eventType }
func (e *Envelope) Source() string    { return e.source }

// Channel is the routing key: the explicit channel when set, the event type otherwise.
func (e *Envelope) Channel() string {
	if e.channel != "" {
		return e.channel
	}
	return e.eventType
}

// Payload returns a copy of the payload bytes.
func (e *Envelope) Payload() []byte { return bytes.Clone(e.payload) }

// PayloadSize is the payload length in bytes.
func (e *Envelope) PayloadSize() int { return len(e.payload) }

// Metadata returns a copy of the envelope headers.
func (e *Envelope) Metadata() metadatapkg.Metadata { return e.metadata.Clone() }

// Header returns a single metadata value.
func (e *Envelope) Header(key string) string { return e.metadata[key] }

func (e *Envelope) CreatedAt() time.Time { return e.createdAt }

// routedTo returns a copy bound to channel. Identity and payload are shared;
// both are never written after construction.
func (e *Envelope) routedTo(channel string) *Envelope {
	clone := *e
	clone.channel = channel
	return &clone
}

func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{id=%s type=%s channel=%s source=%s bytes=%d}",
		e.id, e.eventType, e.Channel(), e.source, len(e.payload))
}

type envelopeView struct {
	ID        string               `json:"id"`
	EventType string               `json:"event_type"`
	Source    string               `json:"source,omitempty"`
	Channel   string               `json:"channel"`
	CreatedAt time.Time            `json:"created_at"`
	Metadata  metadatapkg.Metadata `json:"metadata,omitempty"`
	Payload   any                  `json:"payload,omitempty"`
}

// MarshalJSON renders JSON payloads inline and anything else as base64.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	view := envelopeView{
		ID:        e.id,
		EventType: e.eventType,
		Source:    e.source,
		Channel:   e.Channel(),
		CreatedAt: e.createdAt,
		Metadata:  e.metadata,
	}
	switch {
	case len(e.payload) == 0:
	case jsoncodec.Valid(e.payload):
		view.Payload = rawJSON(e.payload)
	default:
		view.Payload = e.payload
	}
	return jsoncodec.Marshal(view)
}

type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }

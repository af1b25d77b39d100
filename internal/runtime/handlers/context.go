package handlers

import (
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

// EnvelopeInfo is the identity and routing data of a delivered envelope,
// detached from the bus types so this package stays a leaf.
type EnvelopeInfo struct {
	ID        string
	EventType string
	Channel   string
	Source    string
	Metadata  metadatapkg.Metadata
}

// EnvelopeContextBase provides common functionality for all typed handler contexts.
// It holds the envelope info and logger shared by JSON and Proto handlers.
type EnvelopeContextBase struct {
	EnvelopeInfo
	Logger loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for follow-up envelopes without touching the original map.
func (b EnvelopeContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b EnvelopeContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b EnvelopeContextBase) CorrelationID() string {
	return b.Metadata[MetadataKeyCorrelationID]
}

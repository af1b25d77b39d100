package handlers

// Metadata key constants used throughout synapse.
// These keys are reserved and should not be used for custom metadata.
const (
	// MetadataKeyCorrelationID tracks related envelopes across producers.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyPayloadType names the Go or protobuf type encoded in the payload.
	MetadataKeyPayloadType = "synapse_payload_type"

	// MetadataKeyPriority carries a priority name across the Watermill bridge.
	MetadataKeyPriority = "synapse_priority"

	// MetadataKeyBatch marks bridged messages for the batch lane.
	MetadataKeyBatch = "synapse_batch"

	// MetadataKeyEventType carries the envelope event type across the Watermill bridge.
	MetadataKeyEventType = "synapse_event_type"

	// MetadataKeySource carries the envelope source across the Watermill bridge.
	MetadataKeySource = "synapse_source"
)

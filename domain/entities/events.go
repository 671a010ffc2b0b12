package entities

// EventKind identifies which variant of ConversationEvent a frame produced.
type EventKind string

const (
	EventSetupAck           EventKind = "setup_ack"
	EventModelAudio         EventKind = "model_audio"
	EventModelText          EventKind = "model_text"
	EventInputTranscript    EventKind = "input_transcript"
	EventOutputTranscript   EventKind = "output_transcript"
	EventTurnComplete       EventKind = "turn_complete"
	EventGenerationComplete EventKind = "generation_complete"
	EventInterrupted        EventKind = "interrupted"
	EventToolCall           EventKind = "tool_call"
	EventToolCallCancelled  EventKind = "tool_call_cancelled"
	EventProtocolError      EventKind = "protocol_error"
)

// ToolCall is a remote procedure request issued by the model mid-conversation.
// ID is an opaque correlation token, unique per outstanding call.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ConversationEvent is the tagged union produced from inbound frames. Exactly
// one event is produced per recognized frame; only the fields relevant to
// Kind are populated.
type ConversationEvent struct {
	Kind EventKind

	// Audio holds decoded 16-bit little-endian PCM for EventModelAudio.
	Audio []byte

	// Text holds the payload for EventModelText, both transcript kinds,
	// and the reason for EventProtocolError.
	Text string

	// ToolCalls holds the batch for EventToolCall.
	ToolCalls []ToolCall

	// CancelledIDs holds the batch for EventToolCallCancelled.
	CancelledIDs []string
}

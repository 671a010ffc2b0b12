package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/wiryanata/swara/domain/entities"
)

// ParseServerFrame deserializes one inbound frame into at most one
// ConversationEvent.
//
// Parsing is defensive: a malformed payload yields a ProtocolError event and
// an unrecognized but well-formed frame yields no event (ok is false); the
// session logs and moves on in both cases. The parser keeps no state between
// frames, so one bad frame cannot corrupt the next.
//
// A serverContent frame carrying several fields resolves to a single event
// by fixed precedence: interrupted, input transcription, output
// transcription, model turn (audio before text), turn complete, generation
// complete. In practice the endpoint sends one logical payload per frame.
func ParseServerFrame(data []byte) (entities.ConversationEvent, bool) {
	var frame ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return entities.ConversationEvent{
			Kind: entities.EventProtocolError,
			Text: fmt.Sprintf("malformed frame: %v", err),
		}, true
	}

	switch {
	case frame.SetupComplete != nil:
		return entities.ConversationEvent{Kind: entities.EventSetupAck}, true

	case frame.ToolCall != nil:
		calls := make([]entities.ToolCall, 0, len(frame.ToolCall.FunctionCalls))
		for _, fc := range frame.ToolCall.FunctionCalls {
			calls = append(calls, entities.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		if len(calls) == 0 {
			return entities.ConversationEvent{
				Kind: entities.EventProtocolError,
				Text: "toolCall frame with no function calls",
			}, true
		}
		return entities.ConversationEvent{Kind: entities.EventToolCall, ToolCalls: calls}, true

	case frame.ToolCallCancellation != nil:
		return entities.ConversationEvent{
			Kind:         entities.EventToolCallCancelled,
			CancelledIDs: frame.ToolCallCancellation.IDs,
		}, true

	case frame.ServerContent != nil:
		return parseServerContent(frame.ServerContent)
	}

	return entities.ConversationEvent{}, false
}

func parseServerContent(content *ServerContent) (entities.ConversationEvent, bool) {
	if content.Interrupted {
		return entities.ConversationEvent{Kind: entities.EventInterrupted}, true
	}
	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		return entities.ConversationEvent{
			Kind: entities.EventInputTranscript,
			Text: content.InputTranscription.Text,
		}, true
	}
	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		return entities.ConversationEvent{
			Kind: entities.EventOutputTranscript,
			Text: content.OutputTranscription.Text,
		}, true
	}
	if content.ModelTurn != nil {
		if ev, ok := parseModelTurn(content.ModelTurn); ok {
			return ev, true
		}
	}
	if content.TurnComplete {
		return entities.ConversationEvent{Kind: entities.EventTurnComplete}, true
	}
	if content.GenerationComplete {
		return entities.ConversationEvent{Kind: entities.EventGenerationComplete}, true
	}
	return entities.ConversationEvent{}, false
}

func parseModelTurn(turn *Content) (entities.ConversationEvent, bool) {
	// Audio parts win over text parts; a part carries one or the other.
	for _, part := range turn.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		pcm, err := DecodeAudioPayload(part.InlineData.Data)
		if err != nil {
			return entities.ConversationEvent{
				Kind: entities.EventProtocolError,
				Text: fmt.Sprintf("undecodable audio payload: %v", err),
			}, true
		}
		return entities.ConversationEvent{Kind: entities.EventModelAudio, Audio: pcm}, true
	}
	var text string
	for _, part := range turn.Parts {
		text += part.Text
	}
	if text != "" {
		return entities.ConversationEvent{Kind: entities.EventModelText, Text: text}, true
	}
	return entities.ConversationEvent{}, false
}

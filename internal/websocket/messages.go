package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of WebSocket control message. Microphone audio
// travels as binary frames, not as JSON messages.
type MessageType string

// Supported message types
const (
	// Client to server
	MessageTypeConnect    MessageType = "connect"
	MessageTypeSendText   MessageType = "send_text"
	MessageTypeStopAudio  MessageType = "stop_audio"
	MessageTypeDisconnect MessageType = "disconnect"

	// Server to client
	MessageTypeState      MessageType = "state"
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeResponse   MessageType = "response"
	MessageTypeAudioReset MessageType = "audio_reset"
	MessageTypeError      MessageType = "error"
)

// ClientMessage is a control message from the browser.
type ClientMessage struct {
	Type MessageType `json:"type" validate:"required"`

	// Connect options
	SystemPrompt  string `json:"system_prompt,omitempty"`
	Voice         string `json:"voice,omitempty"`
	AutoReconnect bool   `json:"auto_reconnect,omitempty"`

	// send_text payload
	Text string `json:"text,omitempty"`
}

// ServerMessage is a control message to the browser. Model audio is sent
// separately as binary PCM16 frames.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`

	State   string `json:"state,omitempty"`
	Text    string `json:"text,omitempty"`
	IsInput bool   `json:"is_input,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseClientMessage validates an incoming control message.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch msg.Type {
	case MessageTypeConnect, MessageTypeStopAudio, MessageTypeDisconnect:
	case MessageTypeSendText:
		if msg.Text == "" {
			return nil, fmt.Errorf("text is required")
		}
	case "":
		return nil, fmt.Errorf("message missing type field")
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	return &msg, nil
}

// CreateStateMessage creates a session state notification.
func CreateStateMessage(state string) *ServerMessage {
	return &ServerMessage{
		Type:      MessageTypeState,
		Timestamp: time.Now().Format(time.RFC3339),
		State:     state,
	}
}

// CreateTranscriptMessage creates a transcript notification.
func CreateTranscriptMessage(text string, isInput bool) *ServerMessage {
	return &ServerMessage{
		Type:      MessageTypeTranscript,
		Timestamp: time.Now().Format(time.RFC3339),
		Text:      text,
		IsInput:   isInput,
	}
}

// CreateResponseMessage creates a model text response notification.
func CreateResponseMessage(text string) *ServerMessage {
	return &ServerMessage{
		Type:      MessageTypeResponse,
		Timestamp: time.Now().Format(time.RFC3339),
		Text:      text,
	}
}

// CreateAudioResetMessage tells the browser to drop any queued playback.
func CreateAudioResetMessage() *ServerMessage {
	return &ServerMessage{
		Type:      MessageTypeAudioReset,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message.
func CreateErrorMessage(message string) *ServerMessage {
	return &ServerMessage{
		Type:      MessageTypeError,
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   message,
	}
}

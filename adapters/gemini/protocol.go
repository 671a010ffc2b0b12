package gemini

import (
	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
)

// Codec implements repositories.ProtocolCodec for the Gemini Live protocol.
type Codec struct{}

var _ repositories.ProtocolCodec = Codec{}

// NewCodec returns the stateless Live protocol codec.
func NewCodec() Codec {
	return Codec{}
}

// SetupFrame builds the session setup frame.
func (Codec) SetupFrame(setup repositories.SessionSetup) ([]byte, error) {
	return BuildSetupFrame(SetupConfig{
		Model:              setup.Model,
		SystemPrompt:       setup.SystemPrompt,
		Tools:              setup.Tools,
		Voice:              setup.Voice,
		ResponseModalities: setup.ResponseModalities,
	})
}

// AudioChunkFrame builds a realtimeInput frame from microphone samples.
func (Codec) AudioChunkFrame(samples []int16) ([]byte, error) {
	return BuildAudioChunkFrame(samples)
}

// TextFrame builds a user text turn.
func (Codec) TextFrame(text string) ([]byte, error) {
	return BuildTextFrame(text)
}

// ToolResponseFrame builds a correlated tool result frame.
func (Codec) ToolResponseFrame(id, name string, response map[string]any) ([]byte, error) {
	return BuildToolResponseFrame(id, name, response)
}

// QuantizePCM converts capture samples to 16-bit PCM.
func (Codec) QuantizePCM(samples []float32) []int16 {
	return QuantizeFloat32(samples)
}

// ParseServerFrame routes one inbound frame to at most one event.
func (Codec) ParseServerFrame(data []byte) (entities.ConversationEvent, bool) {
	return ParseServerFrame(data)
}

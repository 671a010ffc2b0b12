package repositories

import (
	"google.golang.org/genai"

	"github.com/wiryanata/swara/domain/entities"
)

// SessionSetup is what the orchestrator declares to the remote endpoint when
// a session opens: instructions, callable tools, voice and modality.
type SessionSetup struct {
	Model              string
	SystemPrompt       string
	Tools              []*genai.FunctionDeclaration
	Voice              string
	ResponseModalities []string
}

// ProtocolCodec converts between wire frames and domain values. Outbound
// builders are pure; ParseServerFrame is defensive and stateless, so a
// malformed frame never affects the next one.
type ProtocolCodec interface {
	SetupFrame(setup SessionSetup) ([]byte, error)
	AudioChunkFrame(samples []int16) ([]byte, error)
	TextFrame(text string) ([]byte, error)
	ToolResponseFrame(id, name string, response map[string]any) ([]byte, error)

	// QuantizePCM converts capture samples in [-1, 1] to 16-bit PCM.
	QuantizePCM(samples []float32) []int16

	// ParseServerFrame produces at most one event per inbound frame.
	// ok is false for well-formed frames of unrecognized shape.
	ParseServerFrame(data []byte) (event entities.ConversationEvent, ok bool)
}

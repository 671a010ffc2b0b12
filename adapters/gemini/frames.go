package gemini

import (
	"encoding/json"

	"google.golang.org/genai"
)

// Wire protocol constants. Sample rates are fixed by the protocol, not
// negotiated.
const (
	// CaptureMimeType is the mime type for outbound microphone audio.
	CaptureMimeType = "audio/pcm;rate=16000"

	// DefaultEndpoint is the Gemini Live websocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is used when the credential provider leaves it empty.
	DefaultModel = "models/gemini-2.0-flash-exp"

	// DefaultVoice selects the prebuilt voice when none is configured.
	DefaultVoice = "Puck"
)

// Blob is inline binary data, base64-encoded on the wire.
type Blob struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Part is one piece of content: inline text or inline data, never both.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is a role-tagged sequence of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// PrebuiltVoiceConfig selects a named voice.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

// VoiceConfig wraps the voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// SpeechConfig configures synthesized speech output.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// GenerationConfig configures the response generation for the session.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// Tool declares callable functions to the model. Declarations reuse the
// genai schema types so hosts can describe parameters without hand-rolled
// JSON schemas.
type Tool struct {
	FunctionDeclarations []*genai.FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// Setup is the first outbound frame of every session.
type Setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         GenerationConfig `json:"generationConfig"`
	SystemInstruction        *Content         `json:"systemInstruction,omitempty"`
	Tools                    []Tool           `json:"tools,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
}

// SetupFrame wraps Setup at the top level.
type SetupFrame struct {
	Setup Setup `json:"setup"`
}

// RealtimeInput carries continuous media, currently only audio.
type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
}

// RealtimeInputFrame wraps RealtimeInput at the top level.
type RealtimeInputFrame struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// ClientContent carries discrete user turns.
type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

// ClientContentFrame wraps ClientContent at the top level.
type ClientContentFrame struct {
	ClientContent ClientContent `json:"clientContent"`
}

// FunctionResponse is one correlated tool result.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

// ToolResponse carries a batch of function responses.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// ToolResponseFrame wraps ToolResponse at the top level.
type ToolResponseFrame struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// Transcription is a fragment of recognized speech.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// ServerContent is the model-generated portion of an inbound frame.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCallPayload is a batch of function calls.
type ToolCallPayload struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// ToolCallCancellation names previously issued calls to abandon.
type ToolCallCancellation struct {
	IDs []string `json:"ids,omitempty"`
}

// ServerFrame is the envelope of every inbound frame. Exactly one field is
// set per frame.
type ServerFrame struct {
	SetupComplete        *struct{}             `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCallPayload      `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
}

// SetupConfig is everything BuildSetupFrame needs from the session config.
type SetupConfig struct {
	Model              string
	SystemPrompt       string
	Tools              []*genai.FunctionDeclaration
	Voice              string
	ResponseModalities []string
}

// BuildSetupFrame marshals the session setup frame, applying protocol
// defaults for model, voice and modalities. Both transcription directions
// are always requested.
func BuildSetupFrame(cfg SetupConfig) ([]byte, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}

	setup := Setup{
		Model: model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: modalities,
			SpeechConfig: &SpeechConfig{
				VoiceConfig: &VoiceConfig{
					PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
		OutputAudioTranscription: &struct{}{},
		InputAudioTranscription:  &struct{}{},
	}
	if cfg.SystemPrompt != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemPrompt}}}
	}
	if len(cfg.Tools) > 0 {
		setup.Tools = []Tool{{FunctionDeclarations: cfg.Tools}}
	}

	return json.Marshal(SetupFrame{Setup: setup})
}

// BuildAudioChunkFrame marshals one block of microphone samples as a
// realtimeInput frame.
func BuildAudioChunkFrame(samples []int16) ([]byte, error) {
	frame := RealtimeInputFrame{
		RealtimeInput: RealtimeInput{
			Audio: &Blob{
				MimeType: CaptureMimeType,
				Data:     EncodeAudioPayload(samples),
			},
		},
	}
	return json.Marshal(frame)
}

// BuildTextFrame marshals a user text turn with turnComplete set.
func BuildTextFrame(text string) ([]byte, error) {
	frame := ClientContentFrame{
		ClientContent: ClientContent{
			Turns: []Content{
				{Role: "user", Parts: []Part{{Text: text}}},
			},
			TurnComplete: true,
		},
	}
	return json.Marshal(frame)
}

// BuildToolResponseFrame marshals one correlated tool result.
func BuildToolResponseFrame(id, name string, response map[string]any) ([]byte, error) {
	frame := ToolResponseFrame{
		ToolResponse: ToolResponse{
			FunctionResponses: []FunctionResponse{
				{ID: id, Name: name, Response: response},
			},
		},
	}
	return json.Marshal(frame)
}

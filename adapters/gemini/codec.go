// Package gemini implements the Gemini Live wire protocol: JSON frame
// encoding, PCM payload codecs, the websocket transport, and the inbound
// frame router.
package gemini

import (
	"encoding/base64"
	"math"
)

// EncodePCM16 converts 16-bit samples to little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian bytes back to 16-bit samples. A
// trailing odd byte is ignored.
func DecodePCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// QuantizeFloat32 converts floating-point samples in [-1, 1] to 16-bit PCM
// via round(clamp(x, -1, 1) * 32767). Out-of-range input is clamped, never
// wrapped.
func QuantizeFloat32(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		f := float64(v)
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		out[i] = int16(math.Round(f * 32767))
	}
	return out
}

// EncodeAudioPayload base64-encodes PCM16 samples for an inline audio field.
func EncodeAudioPayload(samples []int16) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeAudioPayload reverses EncodeAudioPayload back to raw PCM bytes.
func DecodeAudioPayload(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

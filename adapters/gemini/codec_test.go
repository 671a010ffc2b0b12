package gemini

import (
	"testing"
)

func TestQuantizeFloat32(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full scale positive", 1, 32767},
		{"full scale negative", -1, -32767},
		{"half scale", 0.5, 16384},
		{"rounds toward nearest", 0.00005, 2},
		{"clamps above range", 2.5, 32767},
		{"clamps below range", -2.5, -32767},
	}

	for _, tt := range tests {
		got := QuantizeFloat32([]float32{tt.in})
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 sample, got %d", tt.name, len(got))
		}
		if got[0] != tt.want {
			t.Errorf("%s: QuantizeFloat32(%v) = %d, want %d", tt.name, tt.in, got[0], tt.want)
		}
	}
}

func TestEncodeDecodePCM16(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}

	encoded := EncodePCM16(samples)
	if len(encoded) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(encoded))
	}

	// Little-endian byte order.
	if encoded[2] != 0x01 || encoded[3] != 0x00 {
		t.Errorf("Expected little-endian encoding, got % x", encoded[2:4])
	}

	decoded := DecodePCM16(encoded)
	for i, s := range samples {
		if decoded[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, decoded[i])
		}
	}
}

func TestDecodePCM16IgnoresTrailingOddByte(t *testing.T) {
	decoded := DecodePCM16([]byte{0x01, 0x00, 0xff})
	if len(decoded) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(decoded))
	}
	if decoded[0] != 1 {
		t.Errorf("Expected sample 1, got %d", decoded[0])
	}
}

func TestAudioPayloadRoundTrip(t *testing.T) {
	samples := []int16{100, -200, 300}

	payload := EncodeAudioPayload(samples)
	pcm, err := DecodeAudioPayload(payload)
	if err != nil {
		t.Fatalf("DecodeAudioPayload failed: %v", err)
	}

	decoded := DecodePCM16(pcm)
	for i, s := range samples {
		if decoded[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, decoded[i])
		}
	}
}

func TestDecodeAudioPayloadRejectsInvalidBase64(t *testing.T) {
	if _, err := DecodeAudioPayload("not base64!!"); err == nil {
		t.Error("Expected error for invalid base64 payload")
	}
}

package entities

import "time"

// Audio format constants for the live wire protocol. Both rates are protocol
// constants, not negotiated: microphone audio is always sent at 16 kHz and
// model audio always arrives at 24 kHz.
const (
	// CaptureSampleRate is the outbound (microphone) sample rate in Hz.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the inbound (model audio) sample rate in Hz.
	PlaybackSampleRate = 24000

	// CaptureBlockSize is the number of samples delivered per capture
	// callback (~256ms at 16 kHz).
	CaptureBlockSize = 4096
)

// AudioFrame is an immutable block of 16-bit mono PCM samples.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
	CapturedAt time.Time
}

// Duration returns the wall-clock length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

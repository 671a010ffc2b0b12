package repositories

import "context"

// CaptureConfig configures the microphone device.
//
// EchoCancellation and NoiseSuppression are requested best-effort; a backend
// that cannot provide them must still open the device.
type CaptureConfig struct {
	SampleRate       int
	BlockSize        int
	EchoCancellation bool
	NoiseSuppression bool
}

// CaptureDevice is a live microphone source. Start yields fixed-size blocks
// of floating-point samples in [-1, 1] at a steady cadence until Stop is
// called or the context is cancelled, at which point the channel is closed.
type CaptureDevice interface {
	Start(ctx context.Context, config CaptureConfig) (<-chan []float32, error)
	Stop() error
}

// PlaybackSink is an audio output device accepting 16-bit little-endian
// mono PCM. Write must not block for longer than the audio it carries.
type PlaybackSink interface {
	Write(pcm []byte) error

	// Reset drops any audio the sink has buffered but not yet played.
	Reset() error

	Close() error
}

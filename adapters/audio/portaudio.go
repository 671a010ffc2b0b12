// Package audio provides local microphone and speaker devices backed by
// PortAudio. Host applications that relay audio from elsewhere (for example
// a browser over a websocket) supply their own device implementations
// instead.
package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/repositories"
)

const speakerBlockSize = 1024

// Microphone captures mono float32 blocks from the default input device.
type Microphone struct {
	logger *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	out    chan []float32
	stop   chan struct{}
}

var _ repositories.CaptureDevice = (*Microphone)(nil)

// NewMicrophone creates an unopened microphone.
func NewMicrophone(logger *zap.Logger) *Microphone {
	return &Microphone{logger: logger}
}

// Start opens the default input stream and begins emitting fixed-size blocks.
// The returned channel closes when the stream ends or Stop is called.
func (m *Microphone) Start(ctx context.Context, config repositories.CaptureConfig) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil, fmt.Errorf("microphone already open")
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}
	if config.EchoCancellation || config.NoiseSuppression {
		// PortAudio exposes raw device input only; processing constraints are
		// honored by browser-relayed devices instead.
		m.logger.Debug("Echo cancellation and noise suppression unavailable on local backend")
	}

	m.buf = make([]float32, config.BlockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(config.SampleRate), config.BlockSize, m.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}

	m.stream = stream
	m.out = make(chan []float32)
	m.stop = make(chan struct{})
	go m.readLoop(ctx, stream, m.out, m.stop)

	m.logger.Info("Microphone opened",
		zap.Int("sampleRate", config.SampleRate),
		zap.Int("blockSize", config.BlockSize))
	return m.out, nil
}

// Stop closes the stream; the block channel closes shortly after.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	close(m.stop)
	if err := m.stream.Stop(); err != nil {
		m.logger.Warn("Failed to stop microphone stream", zap.Error(err))
	}
	err := m.stream.Close()
	m.stream = nil
	portaudio.Terminate()
	return err
}

func (m *Microphone) readLoop(ctx context.Context, stream *portaudio.Stream, out chan<- []float32, stop <-chan struct{}) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-stop:
			default:
				m.logger.Warn("Microphone read failed", zap.Error(err))
			}
			return
		}

		block := make([]float32, len(m.buf))
		copy(block, m.buf)

		select {
		case out <- block:
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}

// Speaker plays little-endian PCM16 mono audio on the default output device.
type Speaker struct {
	logger *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

var _ repositories.PlaybackSink = (*Speaker)(nil)

// NewSpeaker opens the default output stream at the given sample rate.
func NewSpeaker(sampleRate int, logger *zap.Logger) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	s := &Speaker{
		logger: logger,
		buf:    make([]int16, speakerBlockSize),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), speakerBlockSize, s.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start speaker: %w", err)
	}

	s.stream = stream
	logger.Info("Speaker opened", zap.Int("sampleRate", sampleRate))
	return s, nil
}

// Write blocks until the chunk has been handed to the output device. A short
// final block is zero-padded.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker closed")
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	for off := 0; off < len(samples); off += speakerBlockSize {
		n := copy(s.buf, samples[off:])
		for i := n; i < speakerBlockSize; i++ {
			s.buf[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to speaker: %w", err)
		}
	}
	return nil
}

// Reset discards any audio buffered in the device.
func (s *Speaker) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.stream.Abort(); err != nil {
		return fmt.Errorf("failed to flush speaker: %w", err)
	}
	return s.stream.Start()
}

// Close releases the output device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stream.Stop(); err != nil {
		s.logger.Warn("Failed to stop speaker stream", zap.Error(err))
	}
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}

package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/repositories"
)

// blockQueueSize bounds how many relayed microphone blocks may wait for the
// capture pipeline before newer blocks are dropped.
const blockQueueSize = 8

// RemoteCapture adapts microphone audio relayed by the browser as binary
// PCM16 frames into the capture device contract. The browser applies echo
// cancellation and noise suppression on its side; the flags in the capture
// config are already honored by the time audio reaches this process.
type RemoteCapture struct {
	logger *zap.Logger

	mu      sync.Mutex
	out     chan []float32
	started bool
	stopped bool
}

var _ repositories.CaptureDevice = (*RemoteCapture)(nil)

// NewRemoteCapture creates an unopened relay device.
func NewRemoteCapture(logger *zap.Logger) *RemoteCapture {
	return &RemoteCapture{logger: logger}
}

// Start opens the block channel. Blocks arrive via Push.
func (r *RemoteCapture) Start(_ context.Context, _ repositories.CaptureConfig) (<-chan []float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil, fmt.Errorf("remote capture already open")
	}
	r.started = true
	r.out = make(chan []float32, blockQueueSize)
	return r.out, nil
}

// Push converts one binary PCM16 frame and forwards it. Frames arriving
// before Start or after Stop are discarded, as are frames the pipeline has
// no room for.
func (r *RemoteCapture) Push(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return
	}

	// Dividing by 32767 inverts the capture quantizer exactly, so relayed
	// samples survive the round trip bit for bit.
	block := make([]float32, len(pcm)/2)
	for i := range block {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		block[i] = float32(sample) / 32767
	}

	select {
	case r.out <- block:
	default:
		r.logger.Debug("Dropping relayed microphone block, pipeline busy")
	}
}

// Stop closes the block channel. Idempotent.
func (r *RemoteCapture) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		r.stopped = true
		return nil
	}
	r.stopped = true
	close(r.out)
	return nil
}

// RemoteSink relays model audio to the browser. Scheduled chunks go out as
// binary PCM16 frames; a reset becomes a control message telling the browser
// to flush whatever it has queued locally.
type RemoteSink struct {
	enqueue func(WriteData) bool
	logger  *zap.Logger
}

var _ repositories.PlaybackSink = (*RemoteSink)(nil)

// NewRemoteSink creates a sink writing through enqueue; enqueue reports
// whether the frame was accepted.
func NewRemoteSink(enqueue func(WriteData) bool, logger *zap.Logger) *RemoteSink {
	return &RemoteSink{enqueue: enqueue, logger: logger}
}

// Write forwards one playback chunk. A congested client loses the chunk
// rather than stalling the playback scheduler.
func (s *RemoteSink) Write(pcm []byte) error {
	if !s.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: pcm}) {
		s.logger.Warn("Dropping playback chunk, client congested", zap.Int("size", len(pcm)))
	}
	return nil
}

// Reset tells the browser to discard queued playback immediately.
func (s *RemoteSink) Reset() error {
	payload, err := marshalServerMessage(CreateAudioResetMessage())
	if err != nil {
		return err
	}
	s.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
	return nil
}

// Close is a no-op; the websocket connection owns its own lifecycle.
func (s *RemoteSink) Close() error {
	return nil
}

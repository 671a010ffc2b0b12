package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
)

// CapturePipeline turns the microphone stream into outbound audio frames at
// a steady cadence. At most one block is ever outstanding: when encoding or
// sending falls behind, late blocks are dropped rather than queued, keeping
// the real-time budget bounded. Blocks captured while the session is not in
// a connected state are discarded silently.
type CapturePipeline struct {
	device    repositories.CaptureDevice
	transport repositories.LiveTransport
	codec     repositories.ProtocolCodec
	gate      func() bool
	logger    *zap.Logger

	pending  chan []float32
	done     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
	started  bool

	dropped atomic.Int64
}

// NewCapturePipeline wires a capture device to the live transport. gate
// reports whether captured audio should currently be forwarded.
func NewCapturePipeline(
	device repositories.CaptureDevice,
	transport repositories.LiveTransport,
	codec repositories.ProtocolCodec,
	gate func() bool,
	logger *zap.Logger,
) *CapturePipeline {
	return &CapturePipeline{
		device:    device,
		transport: transport,
		codec:     codec,
		gate:      gate,
		logger:    logger,
		pending:   make(chan []float32, 1),
		done:      make(chan struct{}),
	}
}

// Start opens the device and begins forwarding. A device-open failure is
// returned to the caller and is not retried here.
func (p *CapturePipeline) Start(ctx context.Context) error {
	cctx, cancel := context.WithCancel(ctx)
	blocks, err := p.device.Start(cctx, repositories.CaptureConfig{
		SampleRate:       entities.CaptureSampleRate,
		BlockSize:        entities.CaptureBlockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
	})
	if err != nil {
		cancel()
		return err
	}
	p.cancel = cancel
	p.started = true

	go p.readLoop(blocks)
	go p.sendLoop()

	p.logger.Info("Capture pipeline started",
		zap.Int("sampleRate", entities.CaptureSampleRate),
		zap.Int("blockSize", entities.CaptureBlockSize))
	return nil
}

// Stop closes the device and stops forwarding. Idempotent; safe before Start.
func (p *CapturePipeline) Stop() {
	p.stopOnce.Do(func() {
		if !p.started {
			close(p.done)
			return
		}
		p.cancel()
		if err := p.device.Stop(); err != nil {
			p.logger.Warn("Failed to stop capture device", zap.Error(err))
		}
		<-p.done
		if n := p.dropped.Load(); n > 0 {
			p.logger.Info("Capture pipeline stopped", zap.Int64("droppedBlocks", n))
		}
	})
}

// DroppedBlocks returns how many late blocks were discarded.
func (p *CapturePipeline) DroppedBlocks() int64 {
	return p.dropped.Load()
}

func (p *CapturePipeline) readLoop(blocks <-chan []float32) {
	defer close(p.pending)
	for block := range blocks {
		if !p.gate() {
			continue
		}
		select {
		case p.pending <- block:
		default:
			// Encoder still busy with the previous block; drop this one.
			p.dropped.Add(1)
		}
	}
}

func (p *CapturePipeline) sendLoop() {
	defer close(p.done)
	for block := range p.pending {
		samples := p.codec.QuantizePCM(block)
		frame, err := p.codec.AudioChunkFrame(samples)
		if err != nil {
			p.logger.Error("Failed to encode audio chunk", zap.Error(err))
			continue
		}
		if err := p.transport.Send(context.Background(), frame); err != nil {
			p.logger.Debug("Dropping capture frame, transport unavailable", zap.Error(err))
			return
		}
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"testing"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/wiryanata/swara/adapters/gemini"
	"github.com/wiryanata/swara/domain/repositories"
)

func TestRemoteCapturePushConvertsPCM16(t *testing.T) {
	capture := NewRemoteCapture(zaptest.NewLogger(t))

	// 0x4000 = 16384, 0xC000 = -16384 little-endian.
	pcm := []byte{0x00, 0x40, 0x00, 0xC0}

	// Frames before Start are discarded.
	capture.Push(pcm)

	blocks, err := capture.Start(context.Background(), repositories.CaptureConfig{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	capture.Push(pcm)

	block := <-blocks
	if len(block) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(block))
	}
	if expected := float32(16384) / 32767; block[0] != expected {
		t.Errorf("Expected %v, got %v", expected, block[0])
	}
	if expected := float32(-16384) / 32767; block[1] != expected {
		t.Errorf("Expected %v, got %v", expected, block[1])
	}

	if err := capture.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, open := <-blocks; open {
		t.Error("Expected block channel to close on Stop")
	}

	// Pushing after Stop must not panic.
	capture.Push(pcm)
	if err := capture.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestRemoteCaptureRoundTripsThroughQuantizer(t *testing.T) {
	capture := NewRemoteCapture(zaptest.NewLogger(t))
	blocks, err := capture.Start(context.Background(), repositories.CaptureConfig{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer capture.Stop()

	samples := []int16{0, 1, -1, 16384, -16384, 32767, -32767}
	capture.Push(gemini.EncodePCM16(samples))

	block := <-blocks
	requantized := gemini.QuantizeFloat32(block)
	if len(requantized) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(requantized))
	}
	for i, want := range samples {
		if requantized[i] != want {
			t.Errorf("Sample %d: expected %d after round trip, got %d", i, want, requantized[i])
		}
	}
}

func TestRemoteCaptureRejectsDoubleStart(t *testing.T) {
	capture := NewRemoteCapture(zaptest.NewLogger(t))
	if _, err := capture.Start(context.Background(), repositories.CaptureConfig{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := capture.Start(context.Background(), repositories.CaptureConfig{}); err == nil {
		t.Error("Expected error on double Start")
	}
	capture.Stop()
}

func TestRemoteCaptureDropsWhenQueueFull(t *testing.T) {
	capture := NewRemoteCapture(zaptest.NewLogger(t))
	blocks, err := capture.Start(context.Background(), repositories.CaptureConfig{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer capture.Stop()

	// Nobody reads; pushes beyond the queue size must drop, not block.
	for i := 0; i < blockQueueSize+4; i++ {
		capture.Push([]byte{0x00, 0x10})
	}
	if len(blocks) != blockQueueSize {
		t.Errorf("Expected %d queued blocks, got %d", blockQueueSize, len(blocks))
	}
}

func TestRemoteSinkWriteAndReset(t *testing.T) {
	var frames []WriteData
	sink := NewRemoteSink(func(data WriteData) bool {
		frames = append(frames, data)
		return true
	}, zaptest.NewLogger(t))

	pcm := []byte{1, 2, 3, 4}
	if err := sink.Write(pcm); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(frames) != 1 || frames[0].Type != gws.BinaryMessage {
		t.Fatalf("Expected 1 binary frame, got %+v", frames)
	}
	if string(frames[0].Payload) != string(pcm) {
		t.Error("Payload must pass through unmodified")
	}

	if err := sink.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(frames) != 2 || frames[1].Type != gws.TextMessage {
		t.Fatalf("Expected a text control frame, got %+v", frames)
	}
	var msg ServerMessage
	if err := json.Unmarshal(frames[1].Payload, &msg); err != nil {
		t.Fatalf("Failed to unmarshal reset message: %v", err)
	}
	if msg.Type != MessageTypeAudioReset {
		t.Errorf("Expected %s, got %s", MessageTypeAudioReset, msg.Type)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestRemoteSinkToleratesCongestion(t *testing.T) {
	sink := NewRemoteSink(func(WriteData) bool { return false }, zaptest.NewLogger(t))
	if err := sink.Write([]byte{1, 2}); err != nil {
		t.Errorf("Congestion must drop, not error: %v", err)
	}
}

package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
)

// fakeCodec speaks a trivial JSON dialect so tests can assert on frame
// content without depending on the real wire adapter.
type fakeCodec struct{}

var _ repositories.ProtocolCodec = fakeCodec{}

type fakeFrame struct {
	Setup *struct {
		Model string `json:"model"`
	} `json:"setup,omitempty"`
	Audio []int16 `json:"audio,omitempty"`
	Text  string  `json:"text,omitempty"`

	ToolResponse *fakeToolResponse         `json:"toolResponse,omitempty"`
	Event        *entities.ConversationEvent `json:"event,omitempty"`
}

type fakeToolResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

func (fakeCodec) SetupFrame(setup repositories.SessionSetup) ([]byte, error) {
	return json.Marshal(fakeFrame{Setup: &struct {
		Model string `json:"model"`
	}{Model: setup.Model}})
}

func (fakeCodec) AudioChunkFrame(samples []int16) ([]byte, error) {
	return json.Marshal(fakeFrame{Audio: samples})
}

func (fakeCodec) TextFrame(text string) ([]byte, error) {
	return json.Marshal(fakeFrame{Text: text})
}

func (fakeCodec) ToolResponseFrame(id, name string, response map[string]any) ([]byte, error) {
	return json.Marshal(fakeFrame{ToolResponse: &fakeToolResponse{ID: id, Name: name, Response: response}})
}

func (fakeCodec) QuantizePCM(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
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

func (fakeCodec) ParseServerFrame(data []byte) (entities.ConversationEvent, bool) {
	var frame fakeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return entities.ConversationEvent{Kind: entities.EventProtocolError, Text: err.Error()}, true
	}
	if frame.Event == nil {
		return entities.ConversationEvent{}, false
	}
	return *frame.Event, true
}

func decodeFakeFrame(data []byte) (fakeFrame, error) {
	var frame fakeFrame
	err := json.Unmarshal(data, &frame)
	return frame, err
}

// fakeTransport is an in-memory duplex connection.
type fakeTransport struct {
	mu        sync.Mutex
	sent      [][]byte
	recv      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
	err       error

	// When non-nil, Send blocks until the channel is closed.
	blockSend chan struct{}
}

var _ repositories.LiveTransport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		recv: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (t *fakeTransport) Send(_ context.Context, payload []byte) error {
	if t.blockSend != nil {
		<-t.blockSend
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	t.sent = append(t.sent, payload)
	return nil
}

func (t *fakeTransport) Receive() <-chan []byte { return t.recv }
func (t *fakeTransport) Done() <-chan struct{}  { return t.done }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.recv)
		close(t.done)
	})
	return nil
}

// failWith simulates a broken connection.
func (t *fakeTransport) failWith(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.Close()
}

// push delivers one inbound event through the fake codec dialect.
func (t *fakeTransport) push(event entities.ConversationEvent) {
	payload, err := json.Marshal(fakeFrame{Event: &event})
	if err != nil {
		panic(err)
	}
	t.recv <- payload
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

type fakeDialer struct {
	mu        sync.Mutex
	transport *fakeTransport
	err       error
	dials     int
}

var _ repositories.TransportDialer = (*fakeDialer)(nil)

func (d *fakeDialer) Dial(context.Context, repositories.Credentials) (repositories.LiveTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeCredentials struct {
	creds repositories.Credentials
	err   error
}

var _ repositories.CredentialProvider = fakeCredentials{}

func (f fakeCredentials) Credentials(context.Context) (repositories.Credentials, error) {
	return f.creds, f.err
}

// fakeDevice is a hand-driven capture device.
type fakeDevice struct {
	mu       sync.Mutex
	blocks   chan []float32
	started  bool
	startErr error
	stopOnce sync.Once
}

var _ repositories.CaptureDevice = (*fakeDevice)(nil)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{blocks: make(chan []float32, 16)}
}

func (d *fakeDevice) Start(context.Context, repositories.CaptureConfig) (<-chan []float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return nil, d.startErr
	}
	d.started = true
	return d.blocks, nil
}

func (d *fakeDevice) Stop() error {
	d.stopOnce.Do(func() { close(d.blocks) })
	return nil
}

func (d *fakeDevice) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *fakeDevice) push(block []float32) {
	d.blocks <- block
}

// fakeSink records playback writes and resets.
type fakeSink struct {
	mu     sync.Mutex
	writes [][]byte
	resets int
}

var _ repositories.PlaybackSink = (*fakeSink)(nil)

func (s *fakeSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pcm)
	return nil
}

func (s *fakeSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeSink) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

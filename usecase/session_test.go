package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
)

type sessionFixture struct {
	session   *Session
	transport *fakeTransport
	dialer    *fakeDialer
	device    *fakeDevice
	sink      *fakeSink
	clk       *clock.Mock

	mu     sync.Mutex
	states []entities.SessionState
	errors []string
}

func newSessionFixture(t *testing.T, executor repositories.ToolExecutor) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		transport: newFakeTransport(),
		device:    newFakeDevice(),
		sink:      &fakeSink{},
		clk:       clock.NewMock(),
	}
	f.dialer = &fakeDialer{transport: f.transport}

	session, err := NewSession(
		SessionConfig{SystemPrompt: "be brief"},
		SessionDeps{
			Credentials: fakeCredentials{creds: repositories.Credentials{APIKey: "test-key", Model: "models/test"}},
			Dialer:      f.dialer,
			Codec:       fakeCodec{},
			Capture:     f.device,
			Sink:        f.sink,
			Executor:    executor,
			Clock:       f.clk,
			Logger:      zaptest.NewLogger(t),
		},
		Callbacks{
			OnStateChange: func(state entities.SessionState) {
				f.mu.Lock()
				f.states = append(f.states, state)
				f.mu.Unlock()
			},
			OnError: func(message string) {
				f.mu.Lock()
				f.errors = append(f.errors, message)
				f.mu.Unlock()
			},
		},
	)
	require.NoError(t, err)
	f.session = session
	return f
}

func (f *sessionFixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Connect(context.Background()))
}

func (f *sessionFixture) ack(t *testing.T) {
	t.Helper()
	f.transport.push(entities.ConversationEvent{Kind: entities.EventSetupAck})
	f.waitForState(t, entities.SessionStateListening)
}

func (f *sessionFixture) waitForState(t *testing.T, want entities.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session.State() == want
	}, time.Second, 5*time.Millisecond, "expected state %s, still %s", want, f.session.State())
}

func TestSessionConnectSendsSetupFirst(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()

	require.Equal(t, entities.SessionStateSetupPending, f.session.State())
	require.Equal(t, 1, f.transport.sentCount())

	frame, err := decodeFakeFrame(f.transport.sentFrames()[0])
	require.NoError(t, err)
	require.NotNil(t, frame.Setup, "setup must be the first outbound frame")
	require.Equal(t, "models/test", frame.Setup.Model)
}

func TestSessionConnectFailsFastWithoutCredentials(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.deps.Credentials = fakeCredentials{err: fmt.Errorf("no key configured")}

	err := f.session.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, entities.SessionStateError, f.session.State())
	require.Zero(t, f.dialer.dialCount(), "must not dial without credentials")
}

func TestSessionConnectReportsDialFailure(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.dialer.err = fmt.Errorf("connection refused")

	err := f.session.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, entities.SessionStateError, f.session.State())
}

func TestSessionConnectTwiceFails(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()

	require.ErrorIs(t, f.session.Connect(context.Background()), ErrAlreadyStarted)
}

func TestSessionSetupAckOpensMicrophone(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()

	require.False(t, f.device.isStarted(), "microphone must stay closed until setup is acknowledged")
	f.ack(t)
	require.True(t, f.device.isStarted())

	// Captured audio now flows out as audio chunk frames.
	f.device.push([]float32{0.5})
	require.Eventually(t, func() bool {
		for _, raw := range f.transport.sentFrames() {
			if frame, err := decodeFakeFrame(raw); err == nil && len(frame.Audio) > 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSessionMicrophoneFailureKeepsSessionAlive(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.device.startErr = fmt.Errorf("device busy")
	f.connect(t)
	defer f.session.Disconnect()

	f.transport.push(entities.ConversationEvent{Kind: entities.EventSetupAck})
	f.waitForState(t, entities.SessionStateListening)

	// The failure is reported but the conversation stays usable: text in,
	// audio out.
	f.mu.Lock()
	errCount := len(f.errors)
	f.mu.Unlock()
	require.NotZero(t, errCount)
	require.True(t, f.session.IsLiveConnected())
	require.NoError(t, f.session.SendText("can you hear me"))
}

func TestSessionStateTrace(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	// One half-second chunk, then turn completion.
	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelAudio, Audio: make([]byte, 24000)})
	f.waitForState(t, entities.SessionStateSpeaking)
	f.transport.push(entities.ConversationEvent{Kind: entities.EventTurnComplete})
	time.Sleep(50 * time.Millisecond)
	f.clk.Add(latencyMargin + 500*time.Millisecond)
	f.waitForState(t, entities.SessionStateListening)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []entities.SessionState{
		entities.SessionStateConnecting,
		entities.SessionStateSetupPending,
		entities.SessionStateListening,
		entities.SessionStateSpeaking,
		entities.SessionStateListening,
	}, f.states)
}

func TestSessionSetupTimeout(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)

	f.clk.Add(setupTimeout)
	f.waitForState(t, entities.SessionStateError)

	select {
	case <-f.transport.Done():
	case <-time.After(time.Second):
		t.Fatal("transport must be closed after setup timeout")
	}
}

func TestSessionDefersListeningUntilPlaybackDrains(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	// 4800 bytes at 24 kHz is 100ms of audio.
	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelAudio, Audio: make([]byte, 4800)})
	f.waitForState(t, entities.SessionStateSpeaking)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventTurnComplete})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, entities.SessionStateSpeaking, f.session.State(),
		"turn completion must not cut off audio that is still draining")

	f.clk.Add(latencyMargin + 100*time.Millisecond)
	f.waitForState(t, entities.SessionStateListening)
}

func TestSessionTurnCompleteWithoutAudio(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelText, Text: "hi"})
	f.waitForState(t, entities.SessionStateSpeaking)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventTurnComplete})
	f.waitForState(t, entities.SessionStateListening)
}

func TestSessionInterruptHaltsPlayback(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelAudio, Audio: make([]byte, 48000)})
	f.waitForState(t, entities.SessionStateSpeaking)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventInterrupted})
	f.waitForState(t, entities.SessionStateListening)
	require.GreaterOrEqual(t, f.sink.resetCount(), 1, "interruption must flush the sink")

	// A new chunk after the interrupt starts a fresh playback timeline.
	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelAudio, Audio: make([]byte, 4800)})
	f.waitForState(t, entities.SessionStateSpeaking)
}

func TestSessionStopAudio(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelAudio, Audio: make([]byte, 48000)})
	f.waitForState(t, entities.SessionStateSpeaking)

	f.session.StopAudio()
	f.waitForState(t, entities.SessionStateListening)
	require.GreaterOrEqual(t, f.sink.resetCount(), 1)
}

func TestSessionToolCallRoundTrip(t *testing.T) {
	executor := repositories.ToolExecutorFunc(func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
		return map[string]any{"temp": 21}, nil
	})
	f := newSessionFixture(t, executor)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	f.transport.push(entities.ConversationEvent{
		Kind:      entities.EventToolCall,
		ToolCalls: []entities.ToolCall{{ID: "c1", Name: "get_weather", Args: map[string]any{"city": "Jakarta"}}},
	})
	f.waitForState(t, entities.SessionStateThinking)

	require.Eventually(t, func() bool {
		for _, raw := range f.transport.sentFrames() {
			if frame, err := decodeFakeFrame(raw); err == nil && frame.ToolResponse != nil {
				return frame.ToolResponse.ID == "c1"
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	f.waitForState(t, entities.SessionStateListening)
}

func TestSessionToolCallCancellation(t *testing.T) {
	release := make(chan struct{})
	executor := repositories.ToolExecutorFunc(func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{"late": true}, nil
	})
	f := newSessionFixture(t, executor)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	f.transport.push(entities.ConversationEvent{
		Kind:      entities.EventToolCall,
		ToolCalls: []entities.ToolCall{{ID: "c1", Name: "slow"}},
	})
	f.waitForState(t, entities.SessionStateThinking)

	f.transport.push(entities.ConversationEvent{Kind: entities.EventToolCallCancelled, CancelledIDs: []string{"c1"}})
	f.waitForState(t, entities.SessionStateListening)

	close(release)
	time.Sleep(50 * time.Millisecond)
	for _, raw := range f.transport.sentFrames() {
		frame, err := decodeFakeFrame(raw)
		require.NoError(t, err)
		require.Nil(t, frame.ToolResponse, "cancelled call must never produce a response")
	}
}

func TestSessionSendText(t *testing.T) {
	f := newSessionFixture(t, nil)

	require.ErrorIs(t, f.session.SendText("too early"), ErrNotConnected)

	f.connect(t)
	defer f.session.Disconnect()
	require.ErrorIs(t, f.session.SendText("still handshaking"), ErrNotConnected)

	f.ack(t)
	require.NoError(t, f.session.SendText("hello"))

	require.Eventually(t, func() bool {
		for _, raw := range f.transport.sentFrames() {
			if frame, err := decodeFakeFrame(raw); err == nil && frame.Text == "hello" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSessionDisconnect(t *testing.T) {
	t.Run("before connect", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		f.session.Disconnect()
		require.Equal(t, entities.SessionStateDisconnected, f.session.State())
	})

	t.Run("during handshake", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		f.connect(t)
		f.session.Disconnect()
		require.Equal(t, entities.SessionStateDisconnected, f.session.State())
		select {
		case <-f.transport.Done():
		case <-time.After(time.Second):
			t.Fatal("transport must be closed on disconnect")
		}
	})

	t.Run("while connected and idempotent", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		f.connect(t)
		f.ack(t)
		f.session.Disconnect()
		require.Equal(t, entities.SessionStateDisconnected, f.session.State())
		f.session.Disconnect()
		require.Equal(t, entities.SessionStateDisconnected, f.session.State())
	})
}

func TestSessionTransportLossEndsInError(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	f.ack(t)

	f.transport.failWith(fmt.Errorf("connection reset"))
	f.waitForState(t, entities.SessionStateError)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.errors, "transport loss must be reported")
}

func TestSessionRemoteCloseEndsDisconnected(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	f.ack(t)

	f.transport.Close()
	f.waitForState(t, entities.SessionStateDisconnected)
}

func TestSessionProtocolErrorDoesNotDisturbState(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.connect(t)
	defer f.session.Disconnect()
	f.ack(t)

	f.transport.recv <- []byte(`{{{not json`)
	f.transport.push(entities.ConversationEvent{Kind: entities.EventModelText, Text: "still fine"})
	f.waitForState(t, entities.SessionStateSpeaking)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
)

const (
	// setupTimeout bounds the window between the transport opening and the
	// remote side acknowledging the setup frame.
	setupTimeout = 10 * time.Second

	commandQueueSize = 32
)

var (
	// ErrAlreadyStarted is returned by Connect on a session that left Idle.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotConnected is returned by operations requiring a connected session.
	ErrNotConnected = errors.New("session is not connected")
)

// SessionConfig declares the conversation to the remote endpoint.
type SessionConfig struct {
	Model              string
	SystemPrompt       string
	Tools              []*genai.FunctionDeclaration
	Voice              string
	ResponseModalities []string
}

// Callbacks is the surface the session reports through. Any field may be
// nil. Callbacks fire from session-owned goroutines and must not block.
type Callbacks struct {
	OnStateChange func(state entities.SessionState)
	OnTranscript  func(text string, isInput bool)
	OnResponse    func(text string)
	OnError       func(message string)
}

// SessionDeps are the injected capabilities one session owns for its
// lifetime. Clock and Logger default when nil.
type SessionDeps struct {
	Credentials repositories.CredentialProvider
	Dialer      repositories.TransportDialer
	Codec       repositories.ProtocolCodec
	Capture     repositories.CaptureDevice
	Sink        repositories.PlaybackSink
	Executor    repositories.ToolExecutor
	Clock       clock.Clock
	Logger      *zap.Logger
}

// ValidateSessionDeps checks the required capabilities are present.
func ValidateSessionDeps(deps SessionDeps) error {
	if deps.Credentials == nil {
		return fmt.Errorf("credential provider is required")
	}
	if deps.Dialer == nil {
		return fmt.Errorf("transport dialer is required")
	}
	if deps.Codec == nil {
		return fmt.Errorf("protocol codec is required")
	}
	if deps.Capture == nil {
		return fmt.Errorf("capture device is required")
	}
	if deps.Sink == nil {
		return fmt.Errorf("playback sink is required")
	}
	return nil
}

// Session is one end-to-end live voice conversation. It owns the transport,
// the capture pipeline, the playback scheduler and the tool-call bridge, and
// releases all of them on teardown regardless of which exit path triggered
// it.
//
// Every event source — inbound frames, playback completion, tool results,
// timers, user commands — is serialized onto a single loop goroutine, so
// exactly one event mutates the state machine at a time.
type Session struct {
	cfg    SessionConfig
	deps   SessionDeps
	cb     Callbacks
	clk    clock.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	state entities.SessionState

	transport repositories.LiveTransport
	scheduler *PlaybackScheduler
	capture   *CapturePipeline
	bridge    *ToolCallBridge

	commands chan func()
	closing  chan struct{}
	loopDone chan struct{}

	closeOnce   sync.Once
	loopStarted atomic.Bool

	// Written only from the loop goroutine.
	pendingListen bool
	setupTimer    *clock.Timer

	finalMu    sync.Mutex
	finalState entities.SessionState
	finalMsg   string
}

// NewSession constructs an idle session. Nothing is opened until Connect.
func NewSession(cfg SessionConfig, deps SessionDeps, cb Callbacks) (*Session, error) {
	if err := ValidateSessionDeps(deps); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Session{
		cfg:      cfg,
		deps:     deps,
		cb:       cb,
		clk:      deps.Clock,
		logger:   deps.Logger,
		state:    entities.SessionStateIdle,
		commands: make(chan func(), commandQueueSize),
		closing:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// State returns the current session state.
func (s *Session) State() entities.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsLiveConnected reports whether the session is in a connected substate.
func (s *Session) IsLiveConnected() bool {
	return s.State().IsConnected()
}

// Connect resolves credentials, opens the transport and sends the setup
// frame. It returns once the handshake is in flight; the transition to
// Listening happens when the remote side acknowledges setup. A missing
// credential fails fast before any connection attempt.
func (s *Session) Connect(ctx context.Context) error {
	if !s.compareAndSetState(entities.SessionStateIdle, entities.SessionStateConnecting) {
		return ErrAlreadyStarted
	}

	creds, err := s.deps.Credentials.Credentials(ctx)
	if err != nil {
		s.failBeforeLoop(fmt.Sprintf("no live credentials: %v", err))
		return fmt.Errorf("no live credentials: %w", err)
	}

	transport, err := s.deps.Dialer.Dial(ctx, creds)
	if err != nil {
		s.failBeforeLoop(fmt.Sprintf("failed to open live connection: %v", err))
		return fmt.Errorf("failed to open live connection: %w", err)
	}
	s.transport = transport

	// Transport is open: the setup frame goes out before anything else.
	setup, err := s.deps.Codec.SetupFrame(repositories.SessionSetup{
		Model:              firstNonEmpty(s.cfg.Model, creds.Model),
		SystemPrompt:       s.cfg.SystemPrompt,
		Tools:              s.cfg.Tools,
		Voice:              s.cfg.Voice,
		ResponseModalities: s.cfg.ResponseModalities,
	})
	if err == nil {
		err = transport.Send(ctx, setup)
	}
	if err != nil {
		_ = transport.Close()
		s.failBeforeLoop(fmt.Sprintf("failed to send setup frame: %v", err))
		return fmt.Errorf("failed to send setup frame: %w", err)
	}
	s.setState(entities.SessionStateSetupPending)

	s.scheduler = NewPlaybackScheduler(s.deps.Sink, s.clk, s.logger, func() {
		s.post(s.onPlaybackDrained)
	})
	s.bridge = NewToolCallBridge(s.deps.Executor, s.deps.Codec, s.sendFrame, s.logger, func() {
		s.post(s.onToolsIdle)
	})
	s.capture = NewCapturePipeline(s.deps.Capture, transport, s.deps.Codec, s.IsLiveConnected, s.logger)

	s.setupTimer = s.clk.AfterFunc(setupTimeout, func() {
		s.post(s.onSetupTimeout)
	})

	s.loopStarted.Store(true)
	go s.run()
	return nil
}

// SendText sends a complete user text turn.
func (s *Session) SendText(text string) error {
	if !s.IsLiveConnected() {
		return ErrNotConnected
	}
	frame, err := s.deps.Codec.TextFrame(text)
	if err != nil {
		return fmt.Errorf("failed to encode text turn: %w", err)
	}
	return s.transport.Send(context.Background(), frame)
}

// StopAudio halts all scheduled playback immediately and resets the playback
// timeline. Safe in any state.
func (s *Session) StopAudio() {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
	s.post(func() {
		s.pendingListen = false
		if s.State() == entities.SessionStateSpeaking {
			s.setState(entities.SessionStateListening)
		}
	})
}

// Disconnect tears the session down: capture, playback and transport are all
// released before it returns. Idempotent and safe from any state; the
// session always ends Disconnected unless it already ended in Error.
func (s *Session) Disconnect() {
	state := s.State()
	if state.IsTerminal() {
		return
	}
	if !s.loopStarted.Load() {
		// Connect never got as far as starting the loop.
		s.closeOnce.Do(func() {
			s.teardown(entities.SessionStateDisconnected, "")
		})
		return
	}
	s.requestShutdown(entities.SessionStateDisconnected, "")
	<-s.loopDone
}

func (s *Session) run() {
	defer close(s.loopDone)

	for {
		select {
		case raw, ok := <-s.transport.Receive():
			if !ok {
				if err := s.transport.Err(); err != nil {
					s.teardown(entities.SessionStateError, fmt.Sprintf("live connection lost: %v", err))
				} else {
					s.teardown(entities.SessionStateDisconnected, "")
				}
				return
			}
			event, recognized := s.deps.Codec.ParseServerFrame(raw)
			if !recognized {
				s.logger.Debug("Ignoring unrecognized inbound frame", zap.Int("size", len(raw)))
				continue
			}
			s.handleEvent(event)

		case fn := <-s.commands:
			fn()

		case <-s.closing:
			s.finalMu.Lock()
			finalState, finalMsg := s.finalState, s.finalMsg
			s.finalMu.Unlock()
			s.teardown(finalState, finalMsg)
			return
		}
	}
}

// handleEvent applies one inbound event to the state machine. Runs on the
// loop goroutine only.
func (s *Session) handleEvent(event entities.ConversationEvent) {
	switch event.Kind {
	case entities.EventSetupAck:
		if s.State() != entities.SessionStateSetupPending {
			s.logger.Warn("Unexpected setup ack", zap.String("state", s.State().String()))
			return
		}
		s.setupTimer.Stop()
		s.setState(entities.SessionStateListening)
		// The microphone opens only after the remote side accepted the
		// session; audio captured earlier would just be discarded.
		if err := s.capture.Start(context.Background()); err != nil {
			s.reportError(fmt.Sprintf("microphone unavailable: %v", err))
		}

	case entities.EventModelAudio:
		if !s.State().IsConnected() {
			return
		}
		s.setState(entities.SessionStateSpeaking)
		s.scheduler.Schedule(event.Audio, entities.PlaybackSampleRate)

	case entities.EventModelText:
		if !s.State().IsConnected() {
			return
		}
		s.setState(entities.SessionStateSpeaking)
		if s.cb.OnResponse != nil {
			s.cb.OnResponse(event.Text)
		}

	case entities.EventInputTranscript:
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(event.Text, true)
		}

	case entities.EventOutputTranscript:
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(event.Text, false)
		}

	case entities.EventTurnComplete:
		if s.scheduler.Playing() {
			// Audio is still draining; defer Listening until the
			// scheduler reports empty.
			s.pendingListen = true
			return
		}
		if s.State().IsConnected() {
			s.setState(entities.SessionStateListening)
		}

	case entities.EventGenerationComplete:
		s.logger.Debug("Generation complete")

	case entities.EventInterrupted:
		s.scheduler.Stop()
		s.pendingListen = false
		if s.State().IsConnected() {
			s.setState(entities.SessionStateListening)
		}

	case entities.EventToolCall:
		if !s.State().IsConnected() {
			return
		}
		// Capture keeps running; only the conversational turn pauses.
		s.setState(entities.SessionStateThinking)
		for _, tc := range event.ToolCalls {
			s.bridge.Handle(tc)
		}

	case entities.EventToolCallCancelled:
		s.bridge.Cancel(event.CancelledIDs)

	case entities.EventProtocolError:
		s.logger.Warn("Protocol error on inbound frame", zap.String("reason", event.Text))
	}
}

func (s *Session) onPlaybackDrained() {
	if s.pendingListen && s.State() == entities.SessionStateSpeaking {
		s.pendingListen = false
		s.setState(entities.SessionStateListening)
	}
}

func (s *Session) onToolsIdle() {
	if s.State() != entities.SessionStateThinking {
		return
	}
	if s.scheduler.Playing() {
		s.setState(entities.SessionStateSpeaking)
	} else {
		s.setState(entities.SessionStateListening)
	}
}

func (s *Session) onSetupTimeout() {
	if s.State() != entities.SessionStateSetupPending {
		return
	}
	s.requestShutdown(entities.SessionStateError, "setup handshake timed out")
}

// post schedules fn onto the loop goroutine in arrival order.
func (s *Session) post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.loopDone:
	}
}

func (s *Session) sendFrame(payload []byte) error {
	return s.transport.Send(context.Background(), payload)
}

// requestShutdown records the terminal outcome and wakes the loop. The first
// caller wins.
func (s *Session) requestShutdown(final entities.SessionState, msg string) {
	s.closeOnce.Do(func() {
		s.finalMu.Lock()
		s.finalState, s.finalMsg = final, msg
		s.finalMu.Unlock()
		close(s.closing)
	})
}

// teardown releases every owned resource unconditionally and parks the
// session in its terminal state.
func (s *Session) teardown(final entities.SessionState, msg string) {
	if s.setupTimer != nil {
		s.setupTimer.Stop()
	}
	if s.capture != nil {
		s.capture.Stop()
	}
	if s.bridge != nil {
		s.bridge.Shutdown()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.transport != nil {
		_ = s.transport.Close()
	}
	s.setState(final)
	if msg != "" {
		s.reportError(msg)
	}
	s.logger.Info("Session ended", zap.String("state", final.String()))
}

// failBeforeLoop handles Connect failures that happen before the loop owns
// teardown. The session parks in Error with no resources held.
func (s *Session) failBeforeLoop(msg string) {
	s.setState(entities.SessionStateError)
	s.reportError(msg)
}

func (s *Session) reportError(msg string) {
	s.logger.Error(msg)
	if s.cb.OnError != nil {
		s.cb.OnError(msg)
	}
}

func (s *Session) setState(next entities.SessionState) {
	s.mu.Lock()
	if s.state == next || s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("Session state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(next)
	}
}

func (s *Session) compareAndSetState(expect, next entities.SessionState) bool {
	s.mu.Lock()
	if s.state != expect {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(next)
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

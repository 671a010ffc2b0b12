package usecase

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/repositories"
)

// latencyMargin absorbs scheduling jitter: a chunk never starts sooner than
// this after it arrives, so bursty delivery cannot produce audible clicks.
const latencyMargin = 50 * time.Millisecond

// PlaybackScheduler turns bursty inbound audio chunks into gaplessly queued
// output. It keeps a monotonically advancing cursor: each chunk starts at
// max(now+margin, cursor) and advances the cursor by its own duration, so
// units never overlap and never leave a gap while the network keeps up.
//
// The scheduler is the only writer of the cursor. All timing runs on the
// injected clock so tests drive it deterministically.
type PlaybackScheduler struct {
	sink      repositories.PlaybackSink
	clk       clock.Clock
	logger    *zap.Logger
	onDrained func()

	mu     sync.Mutex
	cursor time.Time
	units  map[string]*scheduledUnit
}

type scheduledUnit struct {
	pcm        []byte
	start      time.Time
	duration   time.Duration
	startTimer *clock.Timer
	endTimer   *clock.Timer
}

// NewPlaybackScheduler creates a scheduler writing to sink. onDrained fires
// every time the in-flight set becomes empty; it may be nil.
func NewPlaybackScheduler(sink repositories.PlaybackSink, clk clock.Clock, logger *zap.Logger, onDrained func()) *PlaybackScheduler {
	return &PlaybackScheduler{
		sink:      sink,
		clk:       clk,
		logger:    logger,
		onDrained: onDrained,
		units:     make(map[string]*scheduledUnit),
	}
}

// Schedule commits one decoded PCM16 chunk for playback and returns its
// start time and duration. Empty chunks are ignored.
func (s *PlaybackScheduler) Schedule(pcm []byte, sampleRate int) (time.Time, time.Duration) {
	duration := time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
	if duration <= 0 {
		return time.Time{}, 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	start := now.Add(latencyMargin)
	if !s.cursor.IsZero() && s.cursor.After(start) {
		start = s.cursor
	}
	s.cursor = start.Add(duration)

	token := uuid.NewString()
	unit := &scheduledUnit{pcm: pcm, start: start, duration: duration}
	s.units[token] = unit
	unit.startTimer = s.clk.AfterFunc(start.Sub(now), func() { s.fire(token) })
	unit.endTimer = s.clk.AfterFunc(start.Add(duration).Sub(now), func() { s.complete(token) })

	s.logger.Debug("Scheduled playback unit",
		zap.Duration("duration", duration),
		zap.Int("inFlight", len(s.units)))

	return start, duration
}

// Playing reports whether any unit is still in flight.
func (s *PlaybackScheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units) > 0
}

// InFlight returns the number of committed, unfinished units.
func (s *PlaybackScheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// Stop forcibly halts every in-flight unit, resets the cursor to zero so the
// next chunk re-seeds from "now", and drops whatever the sink still buffers.
func (s *PlaybackScheduler) Stop() {
	s.mu.Lock()
	for _, unit := range s.units {
		unit.startTimer.Stop()
		unit.endTimer.Stop()
	}
	halted := len(s.units)
	s.units = make(map[string]*scheduledUnit)
	s.cursor = time.Time{}
	s.mu.Unlock()

	if err := s.sink.Reset(); err != nil {
		s.logger.Warn("Failed to reset playback sink", zap.Error(err))
	}
	if halted > 0 {
		s.logger.Info("Stopped playback", zap.Int("haltedUnits", halted))
	}
}

func (s *PlaybackScheduler) fire(token string) {
	s.mu.Lock()
	unit, ok := s.units[token]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sink.Write(unit.pcm); err != nil {
		s.logger.Error("Failed to write playback unit", zap.Error(err))
	}
}

func (s *PlaybackScheduler) complete(token string) {
	s.mu.Lock()
	if _, ok := s.units[token]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.units, token)
	drained := len(s.units) == 0
	s.mu.Unlock()

	if drained && s.onDrained != nil {
		s.onDrained()
	}
}

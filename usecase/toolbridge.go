package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
)

// ToolCallBridge correlates tool-call requests from the model with the
// host-supplied executor and sends back responses tagged with the original
// call id.
//
// Calls execute independently, so a slow tool never blocks a fast one, and
// responses go out in completion order rather than call order. Cancellation
// wins over late completion: once an id is cancelled, a result the executor
// still produces for it is discarded, never sent.
type ToolCallBridge struct {
	executor repositories.ToolExecutor
	codec    repositories.ProtocolCodec
	send     func(payload []byte) error
	logger   *zap.Logger
	onIdle   func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// NewToolCallBridge creates a bridge sending response frames via send.
// onIdle fires whenever the outstanding set becomes empty; it may be nil.
func NewToolCallBridge(
	executor repositories.ToolExecutor,
	codec repositories.ProtocolCodec,
	send func(payload []byte) error,
	logger *zap.Logger,
	onIdle func(),
) *ToolCallBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &ToolCallBridge{
		executor: executor,
		codec:    codec,
		send:     send,
		logger:   logger,
		onIdle:   onIdle,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]context.CancelFunc),
	}
}

// Handle registers the call and runs the executor asynchronously.
func (b *ToolCallBridge) Handle(tc entities.ToolCall) {
	cctx, cancel := context.WithCancel(b.ctx)

	b.mu.Lock()
	b.pending[tc.ID] = cancel
	b.mu.Unlock()

	b.logger.Info("Tool call received",
		zap.String("id", tc.ID),
		zap.String("name", tc.Name))

	go b.execute(cctx, tc)
}

// Cancel abandons the named calls. In-flight executor results for them are
// discarded when they eventually arrive. Unknown ids are ignored.
func (b *ToolCallBridge) Cancel(ids []string) {
	b.mu.Lock()
	removed := 0
	for _, id := range ids {
		if cancel, ok := b.pending[id]; ok {
			cancel()
			delete(b.pending, id)
			removed++
		}
	}
	idle := removed > 0 && len(b.pending) == 0
	b.mu.Unlock()

	if removed > 0 {
		b.logger.Info("Tool calls cancelled", zap.Strings("ids", ids))
	}
	if idle && b.onIdle != nil {
		b.onIdle()
	}
}

// Outstanding returns the number of unresolved calls.
func (b *ToolCallBridge) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Shutdown cancels every outstanding call and suppresses their responses.
func (b *ToolCallBridge) Shutdown() {
	b.cancel()
	b.mu.Lock()
	b.pending = make(map[string]context.CancelFunc)
	b.mu.Unlock()
}

func (b *ToolCallBridge) execute(ctx context.Context, tc entities.ToolCall) {
	result := b.safeExecute(ctx, tc)

	// Resolve and unregister atomically so a concurrent Cancel either wins
	// outright or is a clean no-op.
	b.mu.Lock()
	if _, ok := b.pending[tc.ID]; !ok {
		b.mu.Unlock()
		b.logger.Debug("Discarding result of cancelled tool call", zap.String("id", tc.ID))
		return
	}
	delete(b.pending, tc.ID)
	idle := len(b.pending) == 0
	b.mu.Unlock()

	frame, err := b.codec.ToolResponseFrame(tc.ID, tc.Name, result)
	if err != nil {
		b.logger.Error("Failed to encode tool response", zap.String("id", tc.ID), zap.Error(err))
	} else if err := b.send(frame); err != nil {
		b.logger.Error("Failed to send tool response", zap.String("id", tc.ID), zap.Error(err))
	}

	if idle && b.onIdle != nil {
		b.onIdle()
	}
}

// safeExecute runs the executor and converts failures of any kind into a
// structured failure result; the conversation continues even when a tool
// breaks.
func (b *ToolCallBridge) safeExecute(ctx context.Context, tc entities.ToolCall) (result map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Tool executor panicked",
				zap.String("name", tc.Name),
				zap.Any("panic", r))
			result = map[string]any{"success": false, "error": fmt.Sprintf("tool panicked: %v", r)}
		}
	}()

	if b.executor == nil {
		return map[string]any{"success": false, "error": "no tool executor configured"}
	}

	res, err := b.executor.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		b.logger.Warn("Tool execution failed",
			zap.String("name", tc.Name),
			zap.Error(err))
		return map[string]any{"success": false, "error": err.Error()}
	}
	if res == nil {
		res = map[string]any{"success": true}
	}
	return res
}

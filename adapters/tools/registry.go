// Package tools provides a name-based tool executor that host applications
// fill with their own action handlers.
package tools

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/repositories"
)

// Handler performs one named action for the model.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry dispatches tool calls to registered handlers by name.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

var _ repositories.ToolExecutor = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a tool name, replacing any previous binding.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	r.logger.Info("Tool registered", zap.String("name", name))
}

// Execute runs the handler bound to name. An unknown name is an execution
// error; the bridge converts it into a structured failure result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return handler(ctx, args)
}

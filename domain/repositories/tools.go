package repositories

import "context"

// ToolExecutor performs an action requested by the model mid-conversation.
// It is supplied by the host application; the streaming core never inspects
// tool semantics. Execution may suspend; the context is cancelled when the
// call is cancelled by the remote side or the session is torn down.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ToolExecutorFunc adapts a plain function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, name string, args map[string]any) (map[string]any, error)

// Execute calls f.
func (f ToolExecutorFunc) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return f(ctx, name, args)
}

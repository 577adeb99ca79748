package function

import "context"

// Executor runs a Definition's work against an Execution's input and
// returns its output. The engine treats this as opaque: what backs it —
// a container, a subprocess, a remote RPC — is a concern of the caller
// wiring an Executor implementation into the engine, not of this package.
type Executor interface {
	Execute(ctx context.Context, def Definition, input map[string]any) (output map[string]any, err error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, def Definition, input map[string]any) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, def Definition, input map[string]any) (map[string]any, error) {
	return f(ctx, def, input)
}

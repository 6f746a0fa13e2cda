package tools

import "context"

// Tool execution context keys. The registry injects these before
// calling Execute so tools that need ambient identity (which session
// is calling, how deep in the sub-agent tree it is) don't need it
// threaded through every call signature.

type toolContextKey string

const (
	ctxWorkspace  toolContextKey = "tool_workspace"
	ctxSessionKey toolContextKey = "tool_session_key"
	ctxDepth      toolContextKey = "tool_depth"
)

func WithToolWorkspace(ctx context.Context, ws string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, ws)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}

func WithToolSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxSessionKey, key)
}

func ToolSessionKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionKey).(string)
	return v
}

func WithToolDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, ctxDepth, depth)
}

func ToolDepthFromCtx(ctx context.Context) int {
	v, _ := ctx.Value(ctxDepth).(int)
	return v
}

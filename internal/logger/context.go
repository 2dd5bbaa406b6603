package logger

import "context"

type contextKey string

const TraceIDKey contextKey = "trace_id"
const ChatIDKey contextKey = "chat_id"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithChatID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ChatIDKey, id)
}

func GetChatID(ctx context.Context) int64 {
	if id, ok := ctx.Value(ChatIDKey).(int64); ok {
		return id
	}
	return 0
}

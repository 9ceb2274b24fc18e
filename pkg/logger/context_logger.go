package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	roomIDKey contextKey = "room_id"
	peerIDKey contextKey = "peer_id"
)

// WithRoom stores the room id on ctx for log enrichment.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDKey, roomID)
}

// WithPeer stores the remote peer id on ctx for log enrichment.
func WithPeer(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, peerIDKey, peerID)
}

// FromContext adds room and peer fields found on ctx to logger.
func FromContext(ctx context.Context, logger *zap.SugaredLogger) *zap.SugaredLogger {
	var fields []interface{}
	if id, ok := ctx.Value(roomIDKey).(string); ok && id != "" {
		fields = append(fields, "room_id", id)
	}
	if id, ok := ctx.Value(peerIDKey).(string); ok && id != "" {
		fields = append(fields, "peer_id", id)
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

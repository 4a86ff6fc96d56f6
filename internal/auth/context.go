package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxParticipantID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, participantID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxParticipantID, participantID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func ParticipantID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxParticipantID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("participant_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

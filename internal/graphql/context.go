package graphql

import (
	"context"
	"errors"
)

type contextKey string

const subjectKey contextKey = "graphql.subject"

var ErrUnauthenticated = errors.New("unauthenticated")

// WithSubject marks ctx as carrying an authenticated operator.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

func SubjectFromContext(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrUnauthenticated
	}
	if raw, ok := ctx.Value(subjectKey).(string); ok && raw != "" {
		return raw, nil
	}
	return "", ErrUnauthenticated
}

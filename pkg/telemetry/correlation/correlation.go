// Package correlation carries the run identifier shared by logs, spans and
// metrics of one import run.
package correlation

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type runIDKey struct{}

// RunID returns the run id stored on ctx, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, id)
}

// EnsureRunID keeps an id already on ctx. Otherwise it stores a new ULID
// stamped with startedAt, so ids of successive runs sort by start time.
func EnsureRunID(ctx context.Context, startedAt time.Time) (context.Context, string) {
	if id := RunID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.MustNew(ulid.Timestamp(startedAt), rand.Reader).String()
	return WithRunID(ctx, id), id
}

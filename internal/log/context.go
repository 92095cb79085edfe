// SPDX-License-Identifier: MIT

package log

import "context"

type ctxKey string

const jobIDKey ctxKey = "job_id"

// ContextWithJobID stores a correlation id for one triggered run in the
// context.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the correlation id, or "" when absent.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		return v
	}
	return ""
}

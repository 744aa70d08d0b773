// Package requestid carries the id that correlates an API call with the
// background work it starts, such as the dispatch of a job to the worker.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// Header is read from incoming requests and echoed on every response.
const Header = "X-Request-Id"

// maxLen bounds ids supplied by clients; longer ones are replaced.
const maxLen = 128

func New() string {
	return uuid.NewString()
}

// Sanitize returns id when a client may reuse it, or a fresh one.
func Sanitize(id string) string {
	if id == "" || len(id) > maxLen {
		return New()
	}
	return id
}

func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id carried by ctx or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Ptr is FromContext for optional response fields.
func Ptr(ctx context.Context) *string {
	if id := FromContext(ctx); id != "" {
		return &id
	}
	return nil
}

// Detach returns a context that outlives ctx but keeps its request id.
// Work started by a request and finished after the response uses it.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}

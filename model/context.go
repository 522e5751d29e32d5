package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the identity and tracing information for the
// lifetime of one engine invocation. It is immutable after construction and
// safe for concurrent reads.
type RequestContext struct {
	ActorID       string
	Email         string
	OrgID         string
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
// ActorID and OrgID must be non-empty.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.ActorID == "" {
		errs = append(errs, fmt.Errorf("ActorID is required"))
	}
	if rc.OrgID == "" {
		errs = append(errs, fmt.Errorf("OrgID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrIdentityID = "blueauth.identity.id"
	AttrOperation  = "blueauth.operation"
)

// SpanOptions are the common attributes of blueauth spans.
type SpanOptions struct {
	IdentityID string
	Operation  string
}

// StartSpan starts a span carrying the non-empty attributes of opts.
func (p *Provider) StartSpan(ctx context.Context, name string, opts SpanOptions) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if opts.IdentityID != "" {
		attrs = append(attrs, attribute.String(AttrIdentityID, opts.IdentityID))
	}
	if opts.Operation != "" {
		attrs = append(attrs, attribute.String(AttrOperation, opts.Operation))
	}
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

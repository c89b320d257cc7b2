package node

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ergo-services/erldist/dist"
)

const (
	// TracerName is the name of the tracer the node creates its spans with.
	TracerName = "github.com/ergo-services/erldist"

	SpanHandshake = "erldist.handshake"

	AttrLocalNode           = "node.name"
	AttrPeerNode            = "peer.name"
	AttrConnectionDirection = "connection.direction"
	AttrHandshakeResult     = "handshake.result"
	AttrHandshakeStatus     = "handshake.status"
)

type tracer struct {
	tracer trace.Tracer
}

func newTracer(provider trace.TracerProvider) tracer {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return tracer{tracer: provider.Tracer(TracerName)}
}

func (t tracer) startHandshake(ctx context.Context, local, direction, peer string) (context.Context, trace.Span) {
	kind := trace.SpanKindServer
	if direction == directionOutbound {
		kind = trace.SpanKindClient
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrLocalNode, local),
		attribute.String(AttrConnectionDirection, direction),
	}
	if peer != "" {
		attrs = append(attrs, attribute.String(AttrPeerNode, peer))
	}
	return t.tracer.Start(ctx, SpanHandshake, trace.WithAttributes(attrs...), trace.WithSpanKind(kind))
}

func endHandshake(span trace.Span, result dist.Result, err error) {
	if result.PeerName != "" {
		span.SetAttributes(attribute.String(AttrPeerNode, result.PeerName))
	}
	if result.Status != 0 {
		span.SetAttributes(attribute.String(AttrHandshakeStatus, result.Status.String()))
	}
	span.SetAttributes(attribute.String(AttrHandshakeResult, dist.Outcome(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

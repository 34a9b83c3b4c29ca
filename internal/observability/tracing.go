package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures NewTracer.
type TraceConfig struct {
	// ServiceName labels exported spans; defaults to "agentcore".
	ServiceName string

	// Endpoint is an OTLP/gRPC collector address ("host:4317"). Empty
	// means no exporter is wired: spans are still created so a host
	// application can attach its own processor, but nothing leaves the
	// process.
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// Tracer creates spans around the runtime's units of work: one span per
// turn, child spans per tool execution, MCP call, and compression pass.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer builds a tracer. With no endpoint configured the provider
// has no exporter and span creation is effectively free.
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "agentcore"
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceName(name),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(name), provider: provider}, nil
}

// Shutdown flushes any batched spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartTurn opens a span for one provider exchange. Correlation IDs
// already on ctx are attached as attributes.
func (t *Tracer) StartTurn(ctx context.Context, model string, iteration int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := t.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("iteration", iteration),
	))
	attachIDs(ctx, span)
	return ctx, span
}

// StartTool opens a span for one tool execution.
func (t *Tracer) StartTool(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := t.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", callID),
	))
	attachIDs(ctx, span)
	return ctx, span
}

// StartMCPCall opens a span for one MCP request.
func (t *Tracer) StartMCPCall(ctx context.Context, server, method string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "mcp.call", trace.WithAttributes(
		attribute.String("mcp.server", server),
		attribute.String("mcp.method", method),
	))
}

// StartCompression opens a span for one compression pass.
func (t *Tracer) StartCompression(ctx context.Context, strategy string, tokensBefore int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "context.compress", trace.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Int("tokens.before", tokensBefore),
	))
}

// End finishes a span, recording err when non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func attachIDs(ctx context.Context, span trace.Span) {
	if id := GetRunID(ctx); id != "" {
		span.SetAttributes(attribute.String("run_id", id))
	}
	if id := GetSessionID(ctx); id != "" {
		span.SetAttributes(attribute.String("session_id", id))
	}
}

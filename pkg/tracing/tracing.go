// Package tracing wires OpenTelemetry spans for capture runs. Without a
// provider installed the global no-op tracer is used and spans cost nothing.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/entrhq/portalcap"

// Span attribute keys.
var (
	AttrRunID      = attribute.Key("portalcap.run.id")
	AttrPage       = attribute.Key("portalcap.page.name")
	AttrPageURL    = attribute.Key("portalcap.page.url")
	AttrPageStatus = attribute.Key("portalcap.page.status")
	AttrDelivered  = attribute.Key("portalcap.run.delivered")
	AttrFailed     = attribute.Key("portalcap.run.failed")
)

// Provider owns an SDK tracer provider exporting to a writer.
type Provider struct {
	provider *sdktrace.TracerProvider
}

// NewProvider exports spans as JSON to w and installs itself globally.
func NewProvider(w io.Writer, serviceName, version string) (*Provider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

// Tracer returns the portalcap tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

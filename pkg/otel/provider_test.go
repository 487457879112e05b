package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvider_DisabledRecordsNothing(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, p.Close())
}

func TestProvider_ExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := New(&Config{Enabled: true, ServiceName: "svc", Sampler: SamplerAlways}, WithExporter(exp))
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "find users")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "find users", spans[0].Name)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_PropagatesTraceContext(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := New(&Config{Enabled: true, ServiceName: "svc", Sampler: SamplerAlways}, WithExporter(exp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx, span := p.Tracer("test").Start(context.Background(), "upstream")
	carrier := propagation.MapCarrier{}
	p.Propagator().Inject(ctx, carrier)
	span.End()
	require.NotEmpty(t, carrier.Get("traceparent"))

	remote := p.Propagator().Extract(context.Background(), carrier)
	_, child := p.Tracer("test").Start(remote, "downstream")
	child.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext.TraceID(), spans[1].SpanContext.TraceID())
	assert.Equal(t, spans[0].SpanContext.SpanID(), spans[1].Parent.SpanID())
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]*Config{
		"missing service": {Enabled: true, Exporter: ExporterNoop, Ratio: 1},
		"bad ratio":       {Enabled: true, ServiceName: "s", Exporter: ExporterNoop, Ratio: 2},
		"bad exporter":    {Enabled: true, ServiceName: "s", Exporter: "zipkin", Ratio: 1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, (&Config{}).Validate())
}

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer_StdoutFallback(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracerConfig{
		ServiceName: "liquidator-test",
		Stdout:      &buf,
	})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "liquidation_scanner.cycle")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "liquidation_scanner.cycle") {
		t.Errorf("span not exported to stdout writer: %q", buf.String())
	}
}

func TestInitMetrics_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitMetrics(context.Background(), MetricConfig{})
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

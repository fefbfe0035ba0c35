package instrumentation

import (
	"context"
	"errors"
	"testing"

	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Error("Metrics() = nil")
	}
	if inst.MeterProvider() == nil {
		t.Error("MeterProvider() = nil")
	}
	if inst.TracerProvider() == nil {
		t.Error("TracerProvider() = nil")
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
}

func TestNew_DisabledUsesNoopProviders(t *testing.T) {
	inst, err := New(Config{
		Enabled:        false,
		TracerProvider: tracenoop.NewTracerProvider(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// When disabled, the configured provider is ignored and recording through
	// the no-op stack must not panic.
	ctx := context.Background()
	inst.Metrics().RecordAuthorizationRequest(ctx, "client", "success")
	inst.Metrics().RecordCodeExchange(ctx, "client", "S256")
	inst.Metrics().RecordStorageOperation(ctx, "SaveToken", "success")

	_, span := inst.Tracer("server").Start(ctx, "test")
	span.End()
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// Engines call metrics unconditionally; a nil holder must be a no-op
	m.RecordAuthorizationRequest(ctx, "client", "success")
	m.RecordTokenRefresh(ctx, "client")
	m.RecordTokenRevocation(ctx, "client")
	m.RecordIntrospection(ctx, true)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordHTTPRequest(ctx, "POST", "token", 200, 1.5)
}

func TestSpanHelpers_NilSpan(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanError(nil, "boom")
	SetSpanSuccess(nil)
	AddFlowAttributes(nil, "client", []string{"openid"})
	AddPKCEAttributes(nil, "S256")
	AddStorageAttributes(nil, "SaveToken", "memory")
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordError records an error on the span and marks it failed.
// Safe to call on a nil or no-op span.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanError marks the span as failed with a message, without an error value
func SetSpanError(span trace.Span, message string) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Error, message)
}

// SetSpanSuccess marks the span as successful
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddFlowAttributes adds OAuth flow attributes to a span.
// User IDs are not added; only the client ID and scope set are safe to trace.
func AddFlowAttributes(span trace.Span, clientID string, scopes []string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("oauth.client_id", clientID),
		attribute.StringSlice("oauth.scopes", scopes),
	)
}

// AddPKCEAttributes adds the PKCE method in use to a span
func AddPKCEAttributes(span trace.Span, method string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("oauth.pkce_method", method))
}

// AddStorageAttributes adds storage operation attributes to a span
func AddStorageAttributes(span trace.Span, operation, backend string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("storage.operation", operation),
		attribute.String("storage.backend", backend),
	)
}

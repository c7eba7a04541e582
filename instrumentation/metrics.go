package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome attribute values recorded on flow metrics
const (
	OutcomeSuccess        = "success"
	OutcomeInvalidGrant   = "invalid_grant"
	OutcomeInvalidRequest = "invalid_request"
	OutcomeInvalidScope   = "invalid_scope"
	OutcomeError          = "error"
)

// Metrics holds all metric instruments for the OAuth core
type Metrics struct {
	// Flow metrics
	CodesIssued      metric.Int64Counter
	CodeExchanges    metric.Int64Counter
	TokensIssued     metric.Int64Counter
	TokensRefreshed  metric.Int64Counter
	TokensRevoked    metric.Int64Counter
	TokenValidations metric.Int64Counter

	// Security metrics
	PKCEFailures      metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Storage metrics
	StorageOperations        metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}

	var err error
	m.CodesIssued, err = serverMeter.Int64Counter(
		"oauth.authorization_codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization_codes.issued counter: %w", err)
	}

	m.CodeExchanges, err = serverMeter.Int64Counter(
		"oauth.authorization_codes.exchanged",
		metric.WithDescription("Number of code exchange attempts by outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization_codes.exchanged counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Number of token pairs issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"oauth.tokens.refreshed",
		metric.WithDescription("Number of refresh attempts by outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.TokensRevoked, err = serverMeter.Int64Counter(
		"oauth.tokens.revoked",
		metric.WithDescription("Number of tokens revoked (single and bulk)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.revoked counter: %w", err)
	}

	m.TokenValidations, err = serverMeter.Int64Counter(
		"oauth.tokens.validated",
		metric.WithDescription("Number of access token validations by outcome"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.validated counter: %w", err)
	}

	m.PKCEFailures, err = serverMeter.Int64Counter(
		"oauth.pkce.failures",
		metric.WithDescription("Number of failed PKCE verifications"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.failures counter: %w", err)
	}

	m.RateLimitExceeded, err = serverMeter.Int64Counter(
		"oauth.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.StorageOperations, err = storageMeter.Int64Counter(
		"oauth.storage.operations",
		metric.WithDescription("Number of storage operations by name and status"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordOutcome increments a flow counter with an outcome attribute. Nil-safe
// so callers need no instrumentation conditionals.
func (m *Metrics) RecordOutcome(ctx context.Context, counter metric.Int64Counter, outcome string) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStorageOperation records one storage operation with its duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation string, err error, start time.Time) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.StorageOperations.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}

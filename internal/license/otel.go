package license

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments of the trust engine. A nil
// *Metrics disables recording everywhere it is accepted.
type Metrics struct {
	VerifyAttempts metric.Int64Counter
	VerifyFailures metric.Int64Counter
	VerifyDuration metric.Float64Histogram
	LoginTotal     metric.Int64Counter
	LoginDuration  metric.Float64Histogram
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	TrustLost      metric.Int64Counter
}

// NewMetrics creates the trust engine instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.VerifyAttempts, err = meter.Int64Counter("cardkey_verify_attempts_total",
		metric.WithDescription("Verification attempts against the card-key service")); err != nil {
		return nil, err
	}
	if m.VerifyFailures, err = meter.Int64Counter("cardkey_verify_failures_total",
		metric.WithDescription("Verification attempts that did not succeed")); err != nil {
		return nil, err
	}
	if m.VerifyDuration, err = meter.Float64Histogram("cardkey_verify_duration_seconds",
		metric.WithDescription("Duration of verification requests")); err != nil {
		return nil, err
	}
	if m.LoginTotal, err = meter.Int64Counter("cardkey_logins_total",
		metric.WithDescription("Login attempts by outcome and source")); err != nil {
		return nil, err
	}
	if m.LoginDuration, err = meter.Float64Histogram("cardkey_login_duration_seconds",
		metric.WithDescription("Duration of login attempts")); err != nil {
		return nil, err
	}
	if m.CacheHits, err = meter.Int64Counter("cardkey_trust_cache_hits_total",
		metric.WithDescription("Logins satisfied from the local trust cache")); err != nil {
		return nil, err
	}
	if m.CacheMisses, err = meter.Int64Counter("cardkey_trust_cache_misses_total",
		metric.WithDescription("Logins that had to go to the network")); err != nil {
		return nil, err
	}
	if m.TrustLost, err = meter.Int64Counter("cardkey_trust_lost_total",
		metric.WithDescription("Heartbeat detections of lost local trust")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordVerify records one verification attempt.
func (m *Metrics) RecordVerify(ctx context.Context, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.VerifyAttempts.Add(ctx, 1)
	m.VerifyDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		m.VerifyFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", classifyVerifyError(err)),
		))
	}
}

// RecordLogin records one login attempt with its outcome and trust source.
func (m *Metrics) RecordLogin(ctx context.Context, elapsed time.Duration, source string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.LoginTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
	m.LoginDuration.Record(ctx, elapsed.Seconds())
}

// RecordCacheHit records a login satisfied from local trust.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a login that required network verification.
func (m *Metrics) RecordCacheMiss(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTrustLost records a heartbeat trust-loss detection.
func (m *Metrics) RecordTrustLost(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.TrustLost.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func classifyVerifyError(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	var re *RejectionError
	if errors.As(err, &re) {
		return "rejected"
	}
	return "other"
}

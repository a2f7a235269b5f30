package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "cardkeyd/internal/errors"
)

// TransportKind classifies verification transport failures.
type TransportKind string

const (
	KindTimeout    TransportKind = "timeout"
	KindConnection TransportKind = "connection"
	KindStatus     TransportKind = "status"
	KindPayload    TransportKind = "payload"
)

// TransportError reports a verification attempt that never yielded a usable
// verdict: timeouts, connection failures, unexpected HTTP statuses and
// malformed response bodies. It is distinct from a rejection, which is a
// definitive verdict about the key.
type TransportError struct {
	Kind   TransportKind
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("verification request failed with status %d", e.Status)
	case KindPayload:
		return fmt.Sprintf("verification response unreadable: %v", e.Err)
	default:
		return fmt.Sprintf("verification request failed (%s): %v", e.Kind, e.Err)
	}
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{apperrors.ErrVerifyUnavailable, e.Err}
	}
	return []error{apperrors.ErrVerifyUnavailable}
}

// RejectionError reports that the verification service refused the card key.
// The message is the server's verbatim explanation.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return "card key rejected"
	}
	return "card key rejected: " + e.Message
}

func (e *RejectionError) Unwrap() error {
	return apperrors.ErrKeyRejected
}

// Client calls the remote card-key verification service.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *Metrics
}

// NewClient creates a verification client. limiter throttles outbound
// attempts; pass nil to disable throttling.
func NewClient(url string, timeout time.Duration, limiter *rate.Limiter, logger *slog.Logger, metrics *Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "verify_client")),
		metrics:    metrics,
	}
}

type verifyRequest struct {
	Key            string `json:"key"`
	UserIdentifier string `json:"userIdentifier"`
}

type verifyResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    *Entitlement `json:"data"`
}

// Verify submits the card key for online verification. On success it returns
// the granted entitlement and the server message. Rejections come back as
// *RejectionError, everything else as *TransportError.
func (c *Client) Verify(ctx context.Context, key, userIdentifier string) (*Entitlement, string, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, "", fmt.Errorf("verification throttled: %w", apperrors.ErrRateLimited)
	}

	start := time.Now()
	ent, msg, err := c.verify(ctx, key, userIdentifier)
	c.recordAttempt(ctx, time.Since(start), err)
	return ent, msg, err
}

func (c *Client) verify(ctx context.Context, key, userIdentifier string) (*Entitlement, string, error) {
	body, err := json.Marshal(verifyRequest{Key: key, UserIdentifier: userIdentifier})
	if err != nil {
		return nil, "", fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindConnection
		if isTimeout(err) {
			kind = KindTimeout
		}
		c.logger.WarnContext(ctx, "verification request failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return nil, "", &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(ctx, "verification service returned unexpected status",
			slog.Int("status", resp.StatusCode))
		return nil, "", &TransportError{Kind: KindStatus, Status: resp.StatusCode}
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, "", &TransportError{Kind: KindPayload, Err: err}
	}

	if !vr.Success {
		c.logger.InfoContext(ctx, "card key rejected",
			slog.String("key", MaskKey(key)),
			slog.String("message", vr.Message))
		return nil, "", &RejectionError{Message: vr.Message}
	}
	if vr.Data == nil {
		return nil, "", &TransportError{Kind: KindPayload, Err: errors.New("success response missing data")}
	}

	c.logger.InfoContext(ctx, "card key verified",
		slog.String("key", MaskKey(key)),
		slog.String("card_type", vr.Data.CardType),
		slog.String("expiry_time", vr.Data.ExpiryTime))
	return vr.Data, vr.Message, nil
}

func (c *Client) recordAttempt(ctx context.Context, elapsed time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordVerify(ctx, elapsed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

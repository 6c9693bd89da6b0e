package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Ledger-Signature"

// WebhookConfig configures a WebhookPublisher.
type WebhookConfig struct {
	URL    string
	Secret string
	// Backoff lists the waits before each retry. Its length is the number
	// of retries after the first attempt.
	Backoff []time.Duration
	Client  *http.Client
}

// WebhookPublisher POSTs each entry as JSON to a single endpoint, signed
// with a shared secret.
type WebhookPublisher struct {
	cfg    WebhookConfig
	logger *zap.Logger
}

// NewWebhookPublisher creates a WebhookPublisher.
func NewWebhookPublisher(cfg WebhookConfig, logger *zap.Logger) (*WebhookPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.Backoff == nil {
		cfg.Backoff = []time.Duration{time.Second, 5 * time.Second}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPublisher{cfg: cfg, logger: logger}, nil
}

// Publish implements Publisher. Failed deliveries are retried until the
// backoff schedule or ctx runs out.
func (p *WebhookPublisher) Publish(ctx context.Context, e *ledger.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry %d: %w", e.Sequence, err)
	}
	signature := Sign(body, p.cfg.Secret)

	for attempt := 0; ; attempt++ {
		err = p.deliver(ctx, e, body, signature)
		if err == nil {
			return nil
		}
		if attempt >= len(p.cfg.Backoff) {
			break
		}
		p.logger.Warn("webhook: delivery failed",
			zap.Int64("seq", e.Sequence),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-time.After(p.cfg.Backoff[attempt]):
		case <-ctx.Done():
			return fmt.Errorf("deliver ledger entry %d: %w", e.Sequence, ctx.Err())
		}
	}
	return fmt.Errorf("deliver ledger entry %d: %w", e.Sequence, err)
}

func (p *WebhookPublisher) deliver(ctx context.Context, e *ledger.Entry, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set("X-Ledger-Seq", strconv.FormatInt(e.Sequence, 10))

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close implements Publisher.
func (p *WebhookPublisher) Close() error {
	p.cfg.Client.CloseIdleConnections()
	return nil
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Multi fans an entry out to several publishers. Every publisher is tried;
// the joined error reports the ones that failed.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e *ledger.Entry) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// Retry delays between delivery attempts to one endpoint
var retryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// Service delivers job notifications to the configured endpoints. Delivery
// is best effort and never blocks the caller.
type Service struct {
	client *http.Client
	urls   []string
	secret string
	delays []time.Duration
	logger *logging.Logger
	wg     sync.WaitGroup
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		client: &http.Client{
			Timeout: timeout,
		},
		urls:   cfg.URLs,
		secret: cfg.Secret,
		delays: retryDelays,
		logger: logger.WithComponent("webhook"),
	}
}

// Enabled reports whether any endpoint is configured
func (s *Service) Enabled() bool {
	return len(s.urls) > 0
}

// Notify sends a webhook notification for an event to every endpoint
func (s *Service) Notify(ctx context.Context, event string, data interface{}) error {
	if !s.Enabled() {
		return nil
	}

	payload := models.WebhookEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	deliveryID := uuid.New().String()
	for _, url := range s.urls {
		s.wg.Add(1)
		// Deliveries outlive the request that triggered them
		go func(url string) {
			defer s.wg.Done()
			s.deliverWithRetry(context.WithoutCancel(ctx), url, event, deliveryID, payloadBytes)
		}(url)
	}

	return nil
}

// NotifyJobDone sends notification when a job completes
func (s *Service) NotifyJobDone(ctx context.Context, job *models.Job) error {
	return s.Notify(ctx, models.WebhookEventJobDone, job)
}

// NotifyJobFailed sends notification when a job fails permanently
func (s *Service) NotifyJobFailed(ctx context.Context, job *models.Job) error {
	return s.Notify(ctx, models.WebhookEventJobFailed, job)
}

// Wait blocks until in-flight deliveries finish
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) deliverWithRetry(ctx context.Context, url, event, deliveryID string, payload []byte) {
	logger := s.logger.WithField("url", url).WithField("event", event)

	for attempt := 0; ; attempt++ {
		err := s.deliver(ctx, url, event, deliveryID, payload)
		if err == nil {
			metrics.RecordWebhookDelivery(event, "delivered")
			return
		}

		if attempt >= len(s.delays) {
			metrics.RecordWebhookDelivery(event, "failed")
			logger.WithError(err).Error("Webhook delivery failed")
			return
		}

		logger.WithError(err).Warnf("Webhook delivery failed, retrying in %s", s.delays[attempt])
		select {
		case <-time.After(s.delays[attempt]):
		case <-ctx.Done():
			return
		}
	}
}

// deliver attempts to deliver a webhook once
func (s *Service) deliver(ctx context.Context, url, event, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vodpipe-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)

	// Add HMAC signature if secret is configured
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header produced by this service
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(payload, secret)), []byte(signature))
}

package waiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowgraph-go/internal/domain/webhook"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/mapping"
	"github.com/flowgraph-go/pkg/metrics"
	"github.com/patrickmn/go-cache"
	"github.com/xeipuuv/gojsonschema"
)

// CallbackPath is the route prefix inbound callbacks are served under.
const CallbackPath = "/webhooks/callback/"

// Config controls webhook waits.
type Config struct {
	BaseURL         string
	DefaultTimeout  time.Duration
	GracePeriod     time.Duration
	CleanupInterval time.Duration
	// Verifier checks signatures of secret-protected waits. Nil means HMAC-SHA256.
	Verifier webhook.SignatureVerifier
}

// WaitingInfo is passed to the on-waiting callback so the caller can publish the callback URL.
type WaitingInfo struct {
	WebhookID   string
	ExecutionID string
	NodeID      string
	CallbackURL string
	ExpiresAt   time.Time
}

// WaitingFunc is invoked once a wait has been registered.
type WaitingFunc func(ctx context.Context, info WaitingInfo)

// WaitSpec describes one wait.
type WaitSpec struct {
	WebhookID      string
	ExecutionID    string
	NodeID         string
	Timeout        time.Duration
	ExpectedMethod string
	SecretKey      string
	Schema         map[string]interface{}
	OutputMapping  map[string]string
}

// Outcome is the result of a wait. Success is false on timeout or cancellation.
type Outcome struct {
	Success     bool                   `json:"success"`
	WebhookID   string                 `json:"webhook_id"`
	CallbackURL string                 `json:"callback_url"`
	Data        map[string]interface{} `json:"data,omitempty"`
	MappedData  map[string]interface{} `json:"mapped_data,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
	ReceivedAt  *time.Time             `json:"received_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Waiter suspends nodes until a correlated callback arrives. Pending entries are kept in a TTL
// cache keyed by webhook id; entries from different executions never interact.
type Waiter struct {
	pending   *cache.Cache
	cfg       Config
	onWaiting WaitingFunc
	logger    logger.Logger
}

func NewWaiter(cfg Config, onWaiting WaitingFunc, log logger.Logger) *Waiter {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Verifier == nil {
		cfg.Verifier = webhook.HMACVerifier{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Waiter{
		pending:   cache.New(cache.NoExpiration, cfg.CleanupInterval),
		cfg:       cfg,
		onWaiting: onWaiting,
		logger:    log,
	}
}

// CallbackURL returns the URL a sender must call to resolve the given wait.
func (w *Waiter) CallbackURL(webhookID string) string {
	return w.cfg.BaseURL + CallbackPath + webhookID
}

// Pending returns the number of waits currently registered.
func (w *Waiter) Pending() int {
	return w.pending.ItemCount()
}

// Wait registers the wait, announces it and blocks until the callback, the timeout or ctx ends it.
// The pending entry is removed on every path. An error is returned only if registration fails.
func (w *Waiter) Wait(ctx context.Context, spec WaitSpec) (*Outcome, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}

	entry := webhook.NewPendingWebhook(spec.WebhookID, spec.ExecutionID, spec.NodeID, timeout)
	entry.ExpectedMethod = spec.ExpectedMethod
	entry.Secret = spec.SecretKey
	entry.Schema = spec.Schema

	if err := w.pending.Add(entry.ID, entry, timeout+w.cfg.GracePeriod); err != nil {
		return nil, fmt.Errorf("%w: %s", webhook.ErrDuplicateWebhook, entry.ID)
	}
	metrics.PendingWebhooks.Inc()
	defer func() {
		w.pending.Delete(entry.ID)
		metrics.PendingWebhooks.Dec()
	}()

	outcome := &Outcome{WebhookID: entry.ID, CallbackURL: w.CallbackURL(entry.ID)}
	log := w.logger.With("webhookId", entry.ID, "executionId", spec.ExecutionID, "nodeId", spec.NodeID)
	log.Info("Waiting for webhook callback", "callbackUrl", outcome.CallbackURL, "timeout", timeout.String())

	if w.onWaiting != nil {
		w.onWaiting(ctx, WaitingInfo{
			WebhookID:   entry.ID,
			ExecutionID: spec.ExecutionID,
			NodeID:      spec.NodeID,
			CallbackURL: outcome.CallbackURL,
			ExpiresAt:   entry.ExpiresAt,
		})
	}

	timer := time.NewTimer(time.Until(entry.ExpiresAt))
	defer timer.Stop()

	select {
	case <-entry.Done():
	case <-timer.C:
		// a delivery accepted right at the deadline still counts
		select {
		case <-entry.Done():
		default:
			metrics.RecordWebhookWait("timeout")
			log.Warn("Webhook wait timed out")
			outcome.Error = fmt.Sprintf("timeout waiting for webhook %s after %s", entry.ID, timeout)
			return outcome, nil
		}
	case <-ctx.Done():
		metrics.RecordWebhookWait("cancelled")
		outcome.Error = fmt.Sprintf("webhook wait cancelled: %v", ctx.Err())
		return outcome, nil
	}

	data, headers, receivedAt := entry.Received()
	outcome.Success = true
	outcome.Data = data
	outcome.Headers = headers
	outcome.ReceivedAt = &receivedAt
	if len(spec.OutputMapping) > 0 {
		outcome.MappedData = mapping.Extract(data, spec.OutputMapping)
	} else {
		outcome.MappedData = data
	}

	metrics.RecordWebhookWait("received")
	log.Info("Webhook callback received")
	return outcome, nil
}

// Receive resolves a pending wait with an inbound callback. The receipt always describes the
// outcome; the error identifies the rejection reason for callers that map it to a status code.
// body is the request body as received and is what signatures are checked against; when it is
// empty the signature is checked against the JSON encoding of data.
func (w *Waiter) Receive(webhookID string, data map[string]interface{}, headers map[string]string, method string, body []byte) (*webhook.Receipt, error) {
	err := w.receive(webhookID, data, headers, method, body)
	if err != nil {
		metrics.RecordWebhookReceive(rejectionReason(err))
		w.logger.Warn("Webhook callback rejected", "webhookId", webhookID, "error", err)
		return &webhook.Receipt{Success: false, Error: err.Error()}, err
	}

	metrics.RecordWebhookReceive("accepted")
	return &webhook.Receipt{Success: true, Message: "webhook received"}, nil
}

func (w *Waiter) receive(webhookID string, data map[string]interface{}, headers map[string]string, method string, body []byte) error {
	item, ok := w.pending.Get(webhookID)
	if !ok {
		return fmt.Errorf("%w: %s", webhook.ErrWebhookNotFound, webhookID)
	}
	entry := item.(*webhook.PendingWebhook)

	now := time.Now()
	if entry.IsExpired(now) {
		return fmt.Errorf("%w: %s", webhook.ErrWebhookExpired, webhookID)
	}
	if !entry.MethodAllowed(method) {
		return fmt.Errorf("%w: got %s, expected %s", webhook.ErrMethodNotAllowed, method, entry.ExpectedMethod)
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	if entry.Secret != "" {
		payload := body
		if len(payload) == 0 {
			encoded, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("%w: %v", webhook.ErrInvalidPayload, err)
			}
			payload = encoded
		}
		if !entry.VerifySignature(w.cfg.Verifier, payload, webhook.HeaderValue(headers, webhook.SignatureHeader)) {
			return webhook.ErrInvalidSignature
		}
	}

	if len(entry.Schema) > 0 {
		if err := validateSchema(entry.Schema, data); err != nil {
			return err
		}
	}

	return entry.Deliver(data, headers, now)
}

func validateSchema(schema, data map[string]interface{}) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", webhook.ErrInvalidPayload, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", webhook.ErrInvalidPayload, strings.Join(msgs, "; "))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, webhook.ErrWebhookNotFound):
		return "not_found"
	case errors.Is(err, webhook.ErrWebhookExpired):
		return "expired"
	case errors.Is(err, webhook.ErrMethodNotAllowed):
		return "method_not_allowed"
	case errors.Is(err, webhook.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, webhook.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, webhook.ErrAlreadyReceived):
		return "already_received"
	default:
		return "error"
	}
}

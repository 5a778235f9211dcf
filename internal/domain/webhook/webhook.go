package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWebhookNotFound   = errors.New("webhook not found")
	ErrWebhookExpired    = errors.New("webhook has expired")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrMethodNotAllowed  = errors.New("webhook method not allowed")
	ErrInvalidPayload    = errors.New("webhook payload does not match schema")
	ErrAlreadyReceived   = errors.New("webhook already received")
	ErrDuplicateWebhook  = errors.New("webhook id already waiting")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// SignatureHeader carries the hex HMAC-SHA256 of the payload.
const SignatureHeader = "X-Webhook-Signature"

// Status of a pending webhook
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusReceived Status = "received"
)

// PendingWebhook is one in-flight wait for an external callback. It lives only as long as that
// wait; the wake channel is closed at most once.
type PendingWebhook struct {
	ID             string
	ExecutionID    string
	NodeID         string
	ExpectedMethod string
	Secret         string
	Schema         map[string]interface{}
	CreatedAt      time.Time
	ExpiresAt      time.Time

	mu         sync.Mutex
	status     Status
	data       map[string]interface{}
	headers    map[string]string
	receivedAt time.Time
	done       chan struct{}
}

// NewPendingWebhook creates a waiting entry. An empty id is replaced with a generated one.
func NewPendingWebhook(id, executionID, nodeID string, timeout time.Duration) *PendingWebhook {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &PendingWebhook{
		ID:          id,
		ExecutionID: executionID,
		NodeID:      nodeID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
		status:      StatusWaiting,
		done:        make(chan struct{}),
	}
}

// Done is closed when a callback has been accepted.
func (p *PendingWebhook) Done() <-chan struct{} {
	return p.done
}

func (p *PendingWebhook) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsExpired reports whether the wait deadline has passed at the given instant.
func (p *PendingWebhook) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// MethodAllowed checks the inbound HTTP method against the expected one, if any.
func (p *PendingWebhook) MethodAllowed(method string) bool {
	return p.ExpectedMethod == "" || strings.EqualFold(p.ExpectedMethod, method)
}

// VerifySignature verifies the payload signature with v, or HMAC-SHA256 when v is nil.
func (p *PendingWebhook) VerifySignature(v SignatureVerifier, payload []byte, signature string) bool {
	if p.Secret == "" {
		return true // No signature required
	}
	if v == nil {
		v = HMACVerifier{}
	}
	return v.Verify(p.Secret, payload, signature)
}

// Deliver stores the callback payload and wakes the waiter. It fails once the entry has expired or
// was already delivered.
func (p *PendingWebhook) Deliver(data map[string]interface{}, headers map[string]string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IsExpired(now) {
		return ErrWebhookExpired
	}
	if p.status == StatusReceived {
		return ErrAlreadyReceived
	}

	p.data = data
	p.headers = headers
	p.receivedAt = now
	p.status = StatusReceived
	close(p.done)
	return nil
}

// Received returns the delivered payload, headers and arrival time.
func (p *PendingWebhook) Received() (map[string]interface{}, map[string]string, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data, p.headers, p.receivedAt
}

// SignatureVerifier checks a callback signature against the raw payload.
type SignatureVerifier interface {
	Verify(secret string, payload []byte, signature string) bool
}

// HMACVerifier expects the hex HMAC-SHA256 of the payload.
type HMACVerifier struct{}

func (HMACVerifier) Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, payload)))
}

// Sign computes the hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HeaderValue finds a header regardless of case.
func HeaderValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Receipt is the answer to an inbound callback.
type Receipt struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

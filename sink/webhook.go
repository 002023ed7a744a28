package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/realtime"
)

const (
	// PayloadSource identifies deliveries made by this package.
	PayloadSource = "rocketchat_bridge"
	// EventMessage is the only event kind delivered today.
	EventMessage = "message.new"

	SignatureHeader  = "X-Bridge-Signature"
	DeliveryIDHeader = "X-Bridge-Delivery"

	signaturePrefix = "sha256="
)

// ============================================================================
// Payload
// ============================================================================

// Payload is the body of a webhook delivery.
type Payload struct {
	Source     string         `json:"source"`
	Event      string         `json:"event"`
	DeliveryID string         `json:"deliveryId"`
	Timestamp  int64          `json:"timestamp"`
	Data       realtime.Event `json:"data"`
}

// Message decodes the chat message carried by the delivery.
func (p *Payload) Message() (rocketchat.Message, error) {
	var m rocketchat.Message
	if len(p.Data.Payload) == 0 {
		return m, fmt.Errorf("delivery %s carries no message", p.DeliveryID)
	}
	if err := json.Unmarshal(p.Data.Payload, &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an HMAC-SHA256 signature in constant time. The
// "sha256=" prefix is optional.
func VerifySignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, signaturePrefix)
	if sig == "" {
		return false
	}
	expected := strings.TrimPrefix(Sign(body, secret), signaturePrefix)
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParsePayload decodes and validates a delivery body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}
	if p.Source != PayloadSource {
		return nil, fmt.Errorf("unknown webhook source: %q", p.Source)
	}
	if p.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if p.DeliveryID == "" || p.Data.ID == "" {
		return nil, fmt.Errorf("missing required fields in webhook payload (deliveryId, data.id)")
	}
	return &p, nil
}

// ============================================================================
// Webhook sink
// ============================================================================

// Webhook POSTs each event as a signed Payload.
type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

type WebhookOption func(*Webhook)

func WithWebhookHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.httpClient = c }
}

func WithWebhookLogger(l zerolog.Logger) WebhookOption {
	return func(w *Webhook) { w.log = l }
}

// NewWebhook creates a webhook sink. The secret is required: unsigned
// deliveries are not supported.
func NewWebhook(url, secret string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	w := &Webhook{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Webhook) Deliver(ctx context.Context, ev realtime.Event) error {
	p := Payload{
		Source:     PayloadSource,
		Event:      EventMessage,
		DeliveryID: uuid.NewString(),
		Timestamp:  w.now().UnixMilli(),
		Data:       ev,
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, w.secret))
	req.Header.Set(DeliveryIDHeader, p.DeliveryID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", p.DeliveryID, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{DeliveryID: p.DeliveryID, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	w.log.Debug().Str("delivery_id", p.DeliveryID).Str("event_id", ev.ID).Int("status", resp.StatusCode).Msg("delivered")
	return nil
}

// StatusError is a delivery the receiver answered with a non-2xx status.
type StatusError struct {
	DeliveryID string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deliver %s: HTTP %d: %s", e.DeliveryID, e.StatusCode, e.Body)
}

// Permanent reports whether retrying err cannot succeed: the receiver
// rejected the request itself rather than failing to handle it.
func Permanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

func (w *Webhook) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}

// ============================================================================
// Receiver
// ============================================================================

// HandlerFunc handles one verified delivery.
type HandlerFunc func(p *Payload) error

// Receiver verifies, parses and dispatches incoming deliveries.
type Receiver struct {
	secret string
	handle HandlerFunc
}

func NewReceiver(secret string, handle HandlerFunc) (*Receiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Receiver{secret: secret, handle: handle}, nil
}

// Handle processes one request body and returns the status code and
// response document for the caller to write.
func (r *Receiver) Handle(body []byte, signature string) (int, any) {
	if !VerifySignature(body, signature, r.secret) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}
	p, err := ParsePayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}
	if err := r.handle(p); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

func (r *Receiver) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
		return
	}
	status, data := r.Handle(body, req.Header.Get(SignatureHeader))
	writeJSON(rw, status, data)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

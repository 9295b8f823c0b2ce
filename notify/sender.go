// Package notify delivers persistent-link notifications to external
// consumers. Delivery is best-effort: a failed send is logged by the caller
// and never fails the operation that produced the notification.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Message is one notification on its way out.
type Message struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"linkId"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sender is the delivery interface.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookSender posts notifications as JSON to a configured URL.
type WebhookSender struct {
	URL    string
	client *http.Client
}

// NewWebhookSender creates a webhook sender with a bounded request deadline.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		URL:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send posts the notification.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}

// DevSender logs notifications instead of delivering them and retains them
// for inspection. Used when no webhook is configured.
type DevSender struct {
	mu   sync.Mutex
	sent []Message
}

// NewDevSender creates a new development sender.
func NewDevSender() *DevSender {
	return &DevSender{}
}

// Send logs the notification and stores it.
func (d *DevSender) Send(ctx context.Context, msg Message) error {
	log.Printf("Notify (Dev): %s link=%s reason=%s", msg.Kind, msg.LinkID, msg.Reason)

	d.mu.Lock()
	d.sent = append(d.sent, msg)
	if len(d.sent) > 100 {
		d.sent = d.sent[len(d.sent)-100:]
	}
	d.mu.Unlock()
	return nil
}

// Sent returns a copy of everything delivered so far.
func (d *DevSender) Sent() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Message, len(d.sent))
	copy(out, d.sent)
	return out
}

package links

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"time"

	"github.com/johnjansen/switchboard/notify"
)

// Notification kinds emitted by the overlay.
const (
	NotifyCreated     = "created"
	NotifyRegenerated = "regenerated"
	NotifyPromoted    = "promoted"
)

// Regeneration reasons.
const (
	ReasonInactive = "inactive"
	ReasonExpired  = "expired"
)

// maxNotifications caps the persisted notification FIFO.
const maxNotifications = 100

// Notification is one overlay event retained for inspection and pushed to
// the configured sender.
type Notification struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"linkId"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func mintNotificationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// emitLocked appends a notification to the FIFO, trims to the cap, persists
// the buffer, and hands delivery off to the sender. Must be called with the
// manager lock held; delivery happens off the lock.
func (m *Manager) emitLocked(linkID, kind, reason string) {
	n := Notification{
		ID:        mintNotificationID(),
		LinkID:    linkID,
		Kind:      kind,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	m.notifications = append(m.notifications, n)
	if len(m.notifications) > maxNotifications {
		m.notifications = m.notifications[len(m.notifications)-maxNotifications:]
	}
	m.persistNotificationsLocked()

	if m.sender == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := m.sender.Send(ctx, notify.Message{
			ID:        n.ID,
			LinkID:    n.LinkID,
			Kind:      n.Kind,
			Reason:    n.Reason,
			CreatedAt: n.CreatedAt,
		})
		if err != nil {
			log.Printf("Links: notification delivery failed for %s: %v", n.LinkID, err)
		}
	}()
}

// Notifications returns a snapshot of the retained notification FIFO,
// newest last.
func (m *Manager) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}

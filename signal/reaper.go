package signal

import (
	"log"
	"time"
)

// StartReaper runs the in-process reaper loop. The loop is strictly
// sequential, so a pass that overruns the cadence simply delays the next
// tick rather than overlapping it.
func (h *Hub) StartReaper() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.cfg.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.ReapOnce()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// ReapOnce performs a single reclamation pass: sessions with no host, no
// clients, and an age past MaxSessionAge are destroyed, and endpoints whose
// transport has closed but are still referenced are swept out with the usual
// departure notifications. Returns the number of sessions reclaimed.
func (h *Hub) ReapOnce() int {
	now := time.Now()

	h.mu.Lock()
	var deliveries []delivery

	// Sweep dead endpoints first so their sessions can qualify as empty.
	for id, e := range h.endpoints {
		if e.closed.Load() {
			delete(h.endpoints, id)
			deliveries = append(deliveries, h.detachLocked(e)...)
		}
	}

	reaped := 0
	for id, sess := range h.sessions {
		if sess.Host == nil && len(sess.Clients) == 0 && sess.age(now) > h.cfg.MaxSessionAge {
			delete(h.sessions, id)
			reaped++
		}
	}
	h.mu.Unlock()

	flush(deliveries)
	if reaped > 0 {
		log.Printf("Hub: reaped %d stale session(s)", reaped)
	}
	return reaped
}

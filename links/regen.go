package links

import (
	"context"
	"log"
	"time"
)

// StartAutoRegen runs the in-process auto-regeneration loop at the
// configured cadence. A pass that overruns the interval delays the next
// tick; passes never overlap.
func (m *Manager) StartAutoRegen() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.RegenInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RegenInterval)
				m.RegenerateOnce(ctx)
				m.KeepAliveOnce(ctx)
				cancel()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// RegenerateOnce performs one auto-regeneration pass. Every wallet-associated
// regular link whose session has no live host, or whose expiry has passed,
// is regenerated with preserved identity fields and a recomputed tier; a
// `regenerated` notification carries the reason. NFT links are probed for
// activity only. Returns the number of links regenerated.
func (m *Manager) RegenerateOnce(ctx context.Context) int {
	type candidate struct {
		id     string
		wallet string
		reason string
	}

	now := time.Now()

	m.mu.Lock()
	var candidates []candidate
	for id, l := range m.links {
		if l.Wallet == "" {
			continue
		}
		reason := ""
		if l.Expired(now) {
			reason = ReasonExpired
		} else if m.probe != nil {
			if _, hasHost := m.probe.ProbeSession(l.SessionID); !hasHost {
				reason = ReasonInactive
			}
		}
		if reason != "" {
			candidates = append(candidates, candidate{id: id, wallet: l.Wallet, reason: reason})
		}
	}

	var nftActive []string
	if m.probe != nil {
		for id, l := range m.nftLinks {
			if exists, hasHost := m.probe.ProbeSession(l.SessionID); exists && hasHost {
				nftActive = append(nftActive, id)
			}
		}
	}
	m.mu.Unlock()

	// Tier lookups run off the lock; the oracle may block.
	regenerated := 0
	for _, c := range candidates {
		tier := m.TierFor(ctx, c.wallet)

		m.mu.Lock()
		l, ok := m.links[c.id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		m.regenerateLocked(ctx, l, tier, "", time.Now())
		m.emitLocked(c.id, NotifyRegenerated, c.reason)
		m.persistLocked(ctx)
		m.mu.Unlock()

		regenerated++
		log.Printf("Links: regenerated %s (%s) tier=%s", c.id, c.reason, tier)
	}

	for _, id := range nftActive {
		_, _ = m.RecordActivity(ctx, id)
	}

	return regenerated
}

// KeepAliveOnce performs one internal keep-alive pass: links with keep-alive
// enabled and a paid tier have their expiry extended when either activity
// was recorded within the last hour or the wallet balance still clears the
// tier threshold. Returns the number of links extended.
func (m *Manager) KeepAliveOnce(ctx context.Context) int {
	now := time.Now()

	m.mu.Lock()
	type candidate struct {
		id           string
		wallet       string
		recentActive bool
	}
	var candidates []candidate
	for id, l := range m.links {
		if !l.KeepAlive.Enabled || l.Tier == TierFree {
			continue
		}
		candidates = append(candidates, candidate{
			id:           id,
			wallet:       l.Wallet,
			recentActive: now.Sub(l.LastActivityAt) < time.Hour,
		})
	}
	m.mu.Unlock()

	extended := 0
	for _, c := range candidates {
		keep := c.recentActive
		if !keep && c.wallet != "" {
			balance, _ := m.oracle.Balance(ctx, c.wallet)
			keep = balance >= m.cfg.PersistenceThreshold
		}
		if !keep {
			continue
		}

		m.mu.Lock()
		if l, ok := m.links[c.id]; ok {
			l.ExpiresAt = expiryFor(l.Tier, now)
			l.KeepAlive.LastCheck = now
			m.persistLocked(ctx)
			extended++
		}
		m.mu.Unlock()
	}
	return extended
}

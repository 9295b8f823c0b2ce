// Package links overlays stable, human-friendly identifiers onto signaling
// sessions, with tiered expiry driven by wallet balance, keep-alive
// extension, and background auto-regeneration across host restarts.
package links

import (
	"strings"
	"time"
)

// Tier is the policy class of a persistent link.
type Tier string

const (
	TierFree    Tier = "free"
	TierWallet  Tier = "wallet"
	TierPremium Tier = "premium"
	TierNFT     Tier = "nft"
)

// Default tier policy.
const (
	FreeTTL    = 24 * time.Hour
	WalletTTL  = 7 * 24 * time.Hour
	PremiumTTL = 30 * 24 * time.Hour

	DefaultPersistenceThreshold = 1.0
	DefaultPremiumThreshold     = 10.0
)

// TTL returns the expiry interval for the tier; zero means never expires.
func (t Tier) TTL() time.Duration {
	switch t {
	case TierWallet:
		return WalletTTL
	case TierPremium:
		return PremiumTTL
	case TierNFT:
		return 0
	default:
		return FreeTTL
	}
}

// KeepAlive is the per-link keep-alive state.
type KeepAlive struct {
	Enabled    bool      `json:"enabled"`
	Conditions []string  `json:"conditions,omitempty"`
	LastCheck  time.Time `json:"lastCheck,omitempty"`
}

// Link is one persistent identifier overlaid on a session.
type Link struct {
	ID                string            `json:"linkId"`
	SessionID         string            `json:"sessionId"`
	Wallet            string            `json:"walletAddress,omitempty"`
	Tier              Tier              `json:"tier"`
	CreatedAt         time.Time         `json:"createdAt"`
	ExpiresAt         *time.Time        `json:"expiresAt,omitempty"` // nil iff tier == nft
	ActivityCount     int               `json:"activityCount"`
	LastActivityAt    time.Time         `json:"lastActivityAt,omitempty"`
	RegenerationCount int               `json:"regenerationCount"`
	KeepAlive         KeepAlive         `json:"keepAlive"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the link's expiry has passed. NFT links never
// expire.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// clone returns a copy safe to hand out of the manager's lock.
func (l *Link) clone() *Link {
	c := *l
	if l.ExpiresAt != nil {
		exp := *l.ExpiresAt
		c.ExpiresAt = &exp
	}
	if l.Metadata != nil {
		c.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}
	if l.KeepAlive.Conditions != nil {
		c.KeepAlive.Conditions = append([]string(nil), l.KeepAlive.Conditions...)
	}
	return &c
}

// expiryFor computes the new ExpiresAt for a tier from now; nil for nft.
func expiryFor(tier Tier, now time.Time) *time.Time {
	ttl := tier.TTL()
	if ttl == 0 {
		return nil
	}
	exp := now.Add(ttl)
	return &exp
}

// normalizeLinkID case-folds a link id the same way session ids are folded,
// since links are addressed as subdomain labels too.
func normalizeLinkID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

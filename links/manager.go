package links

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/johnjansen/switchboard/notify"
)

// SessionProbe answers whether a session currently exists and has a live
// host. The signaling hub implements it; tests substitute fakes.
type SessionProbe interface {
	ProbeSession(sessionID string) (exists, hasHost bool)
}

// Config controls tier thresholds and the auto-regeneration cadence.
type Config struct {
	// PersistenceThreshold is the minimum balance for the wallet tier
	// (boundary inclusive).
	PersistenceThreshold float64

	// PremiumThreshold is the minimum balance for the premium tier
	// (boundary inclusive).
	PremiumThreshold float64

	// RegenInterval is the auto-regeneration cadence.
	RegenInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PersistenceThreshold: DefaultPersistenceThreshold,
		PremiumThreshold:     DefaultPremiumThreshold,
		RegenInterval:        5 * time.Minute,
	}
}

// Errors surfaced by manager operations.
var (
	ErrLinkNotFound         = errors.New("link not found")
	ErrKeepAliveUnavailable = errors.New("keep-alive not available for this link")
)

// Manager owns the two persistent-link stores. Every linkId lives in exactly
// one of them: regular links (expiring) or NFT links (permanent). The store
// is written after every mutation and is the source of truth across
// restarts; a write failure is logged and memory stays authoritative until
// the next successful write.
type Manager struct {
	cfg    Config
	store  *Store
	oracle BalanceOracle
	probe  SessionProbe
	sender notify.Sender

	mu            sync.Mutex
	links         map[string]*Link
	nftLinks      map[string]*Link
	notifications []Notification

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager loads persisted state and returns a ready manager. The store
// may be nil for a purely in-memory overlay (tests, dev mode).
func NewManager(cfg Config, store *Store, oracle BalanceOracle, probe SessionProbe, sender notify.Sender) (*Manager, error) {
	if cfg.PersistenceThreshold <= 0 {
		cfg.PersistenceThreshold = DefaultPersistenceThreshold
	}
	if cfg.PremiumThreshold <= 0 {
		cfg.PremiumThreshold = DefaultPremiumThreshold
	}
	if cfg.RegenInterval <= 0 {
		cfg.RegenInterval = 5 * time.Minute
	}
	if oracle == nil {
		oracle = ZeroOracle{}
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		oracle:   oracle,
		probe:    probe,
		sender:   sender,
		links:    make(map[string]*Link),
		nftLinks: make(map[string]*Link),
		stopCh:   make(chan struct{}),
	}

	if store != nil {
		if err := m.load(context.Background()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	for name, target := range map[string]*map[string]*Link{
		RecordLinks:    &m.links,
		RecordNFTLinks: &m.nftLinks,
	} {
		loaded := make(map[string]*Link)
		err := m.store.LoadRecord(ctx, name, &loaded)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		if err == nil {
			*target = loaded
		}
	}

	var notifications []Notification
	err := m.store.LoadRecord(ctx, RecordNotifications, &notifications)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("failed to load notifications: %w", err)
	}
	m.notifications = notifications

	log.Printf("Links: loaded %d regular and %d NFT link(s)", len(m.links), len(m.nftLinks))
	return nil
}

// persistLocked writes both link records. Failures are logged only: memory
// remains authoritative until the next successful write.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRecord(ctx, RecordLinks, m.links); err != nil {
		log.Printf("Links: failed to persist links: %v", err)
	}
	if err := m.store.SaveRecord(ctx, RecordNFTLinks, m.nftLinks); err != nil {
		log.Printf("Links: failed to persist NFT links: %v", err)
	}
}

func (m *Manager) persistNotificationsLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRecord(context.Background(), RecordNotifications, m.notifications); err != nil {
		log.Printf("Links: failed to persist notifications: %v", err)
	}
}

func mintLinkID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// TierFor assigns the tier for a wallet address: nft when the address
// already owns an NFT link, else by balance against the thresholds
// (boundaries inclusive), else free. Oracle failures have already degraded
// to a cached or zero balance by the time a value reaches here.
func (m *Manager) TierFor(ctx context.Context, wallet string) Tier {
	if wallet == "" {
		return TierFree
	}

	m.mu.Lock()
	owned := m.walletOwnsNFTLocked(wallet)
	m.mu.Unlock()
	if owned {
		return TierNFT
	}

	balance, err := m.oracle.Balance(ctx, wallet)
	if err != nil {
		// Only reachable with a raw oracle; the cached oracle swallows errors.
		log.Printf("Links: balance lookup for %s failed, assuming zero: %v", wallet, err)
		balance = 0
	}

	switch {
	case balance >= m.cfg.PremiumThreshold:
		return TierPremium
	case balance >= m.cfg.PersistenceThreshold:
		return TierWallet
	default:
		return TierFree
	}
}

func (m *Manager) walletOwnsNFTLocked(wallet string) bool {
	for _, l := range m.nftLinks {
		if l.Wallet == wallet {
			return true
		}
	}
	return false
}

// CreateRequest is the input to CreateOrRegenerate.
type CreateRequest struct {
	LinkID    string            `json:"customId,omitempty"`
	SessionID string            `json:"sessionId"`
	Wallet    string            `json:"walletAddress,omitempty"`
	KeepAlive bool              `json:"keepAlive,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CreateOrRegenerate creates a link, or regenerates it when the id already
// exists: createdAt, walletAddress, and the regeneration history are
// preserved, the regeneration counter increments, expiry is recomputed from
// the current tier, and metadata is merged.
func (m *Manager) CreateOrRegenerate(ctx context.Context, req CreateRequest) (*Link, error) {
	if req.SessionID == "" {
		return nil, errors.New("sessionId is required")
	}

	id := normalizeLinkID(req.LinkID)
	if id == "" {
		id = mintLinkID()
	}

	// The wallet that drives tier assignment is the link's existing wallet
	// on regeneration; requests cannot rebind a link to a new address.
	wallet := req.Wallet
	m.mu.Lock()
	if existing, ok := m.links[id]; ok && existing.Wallet != "" {
		wallet = existing.Wallet
	} else if existing, ok := m.nftLinks[id]; ok && existing.Wallet != "" {
		wallet = existing.Wallet
	}
	m.mu.Unlock()

	// Oracle call happens outside the lock; it may block on the network.
	tier := m.TierFor(ctx, wallet)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.nftLinks[id]; ok {
		// NFT entries keep their tier and permanence across regeneration.
		existing.SessionID = req.SessionID
		existing.RegenerationCount++
		mergeMetadata(existing, req.Metadata)
		m.persistLocked(ctx)
		return existing.clone(), nil
	}

	if existing, ok := m.links[id]; ok {
		m.regenerateLocked(ctx, existing, tier, req.SessionID, now)
		mergeMetadata(existing, req.Metadata)
		m.persistLocked(ctx)
		return existing.clone(), nil
	}

	l := &Link{
		ID:             id,
		SessionID:      req.SessionID,
		Wallet:         wallet,
		Tier:           tier,
		CreatedAt:      now,
		ExpiresAt:      expiryFor(tier, now),
		LastActivityAt: now,
		KeepAlive:      KeepAlive{Enabled: req.KeepAlive},
		Metadata:       req.Metadata,
	}
	if tier == TierNFT {
		m.nftLinks[id] = l
	} else {
		m.links[id] = l
	}
	m.emitLocked(id, NotifyCreated, "")
	m.persistLocked(ctx)

	log.Printf("Links: created %s tier=%s session=%s", id, tier, req.SessionID)
	return l.clone(), nil
}

// regenerateLocked refreshes a regular link in place, preserving identity
// fields per the regeneration contract.
func (m *Manager) regenerateLocked(ctx context.Context, l *Link, tier Tier, sessionID string, now time.Time) {
	if sessionID != "" {
		l.SessionID = sessionID
	}
	l.Tier = tier
	l.ExpiresAt = expiryFor(tier, now)
	l.RegenerationCount++
}

func mergeMetadata(l *Link, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if l.Metadata == nil {
		l.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		l.Metadata[k] = v
	}
}

// Get returns a copy of the link from whichever store holds it.
func (m *Manager) Get(id string) (*Link, bool) {
	id = normalizeLinkID(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[id]; ok {
		return l.clone(), true
	}
	if l, ok := m.nftLinks[id]; ok {
		return l.clone(), true
	}
	return nil, false
}

// Remove deletes a link from whichever store holds it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	id = normalizeLinkID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[id]; ok {
		delete(m.links, id)
	} else if _, ok := m.nftLinks[id]; ok {
		delete(m.nftLinks, id)
	} else {
		return ErrLinkNotFound
	}
	m.persistLocked(ctx)
	return nil
}

// ListByWallet returns copies of every link bound to the address.
func (m *Manager) ListByWallet(wallet string) []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Link
	for _, l := range m.links {
		if l.Wallet == wallet {
			out = append(out, l.clone())
		}
	}
	for _, l := range m.nftLinks {
		if l.Wallet == wallet {
			out = append(out, l.clone())
		}
	}
	return out
}

// PromoteToNFT atomically moves a link from the regular store to the NFT
// store: the regular entry is removed iff the NFT entry is created.
func (m *Manager) PromoteToNFT(ctx context.Context, id string) (*Link, error) {
	id = normalizeLinkID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok {
		if _, already := m.nftLinks[id]; already {
			return m.nftLinks[id].clone(), nil
		}
		return nil, ErrLinkNotFound
	}

	delete(m.links, id)
	l.Tier = TierNFT
	l.ExpiresAt = nil
	m.nftLinks[id] = l

	m.emitLocked(id, NotifyPromoted, "")
	m.persistLocked(ctx)
	return l.clone(), nil
}

// ExtendKeepAlive extends a link's expiry on an explicit keep-alive call.
// No-op on NFT links; unavailable for free-tier or keep-alive-disabled
// links.
func (m *Manager) ExtendKeepAlive(ctx context.Context, id string) (*Link, error) {
	id = normalizeLinkID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.nftLinks[id]; ok {
		return l.clone(), nil
	}
	l, ok := m.links[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	if !l.KeepAlive.Enabled || l.Tier == TierFree {
		return nil, ErrKeepAliveUnavailable
	}

	now := time.Now()
	l.ExpiresAt = expiryFor(l.Tier, now)
	l.KeepAlive.LastCheck = now
	m.persistLocked(ctx)
	return l.clone(), nil
}

// RecordActivity bumps a link's activity counters.
func (m *Manager) RecordActivity(ctx context.Context, id string) (*Link, error) {
	id = normalizeLinkID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok {
		l, ok = m.nftLinks[id]
	}
	if !ok {
		return nil, ErrLinkNotFound
	}

	l.ActivityCount++
	l.LastActivityAt = time.Now()
	m.persistLocked(ctx)
	return l.clone(), nil
}

// Counts returns the sizes of the two stores.
func (m *Manager) Counts() (regular, nft int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links), len(m.nftLinks)
}

package links

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnjansen/switchboard/notify"
)

type stubProbe struct {
	exists  bool
	hasHost bool
}

func (p *stubProbe) ProbeSession(sessionID string) (bool, bool) {
	return p.exists, p.hasHost
}

var _ = Describe("Manager", func() {
	var (
		ctx    context.Context
		oracle *stubOracle
		probe  *stubProbe
		sender *notify.DevSender
		m      *Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		oracle = &stubOracle{}
		probe = &stubProbe{exists: true, hasHost: true}
		sender = notify.NewDevSender()

		var err error
		m, err = NewManager(DefaultConfig(), nil, oracle, probe, sender)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("TierFor", func() {
		It("assigns free for an empty wallet", func() {
			Expect(m.TierFor(ctx, "")).To(Equal(TierFree))
		})

		It("assigns free below the persistence threshold", func() {
			oracle.balance = 0.99
			Expect(m.TierFor(ctx, "addr")).To(Equal(TierFree))
		})

		It("assigns wallet at exactly the persistence threshold", func() {
			oracle.balance = 1.0
			Expect(m.TierFor(ctx, "addr")).To(Equal(TierWallet))
		})

		It("assigns wallet just below the premium threshold", func() {
			oracle.balance = 9.99
			Expect(m.TierFor(ctx, "addr")).To(Equal(TierWallet))
		})

		It("assigns premium at exactly the premium threshold", func() {
			oracle.balance = 10.0
			Expect(m.TierFor(ctx, "addr")).To(Equal(TierPremium))
		})

		It("assigns nft when the wallet already owns an NFT link", func() {
			m.mu.Lock()
			m.nftLinks["owned"] = &Link{ID: "owned", Wallet: "addr", Tier: TierNFT}
			m.mu.Unlock()

			oracle.balance = 0
			Expect(m.TierFor(ctx, "addr")).To(Equal(TierNFT))
		})
	})

	Describe("CreateOrRegenerate", func() {
		It("mints an id when none is given", func() {
			l, err := m.CreateOrRegenerate(ctx, CreateRequest{SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.ID).NotTo(BeEmpty())
			Expect(l.Tier).To(Equal(TierFree))
			Expect(l.ExpiresAt).NotTo(BeNil())
			Expect(*l.ExpiresAt).To(BeTemporally("~", time.Now().Add(FreeTTL), time.Minute))
		})

		It("rejects a missing session id", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{})
			Expect(err).To(HaveOccurred())
		})

		It("normalizes a custom id", func() {
			l, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "  MyDesk  ", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.ID).To(Equal("mydesk"))
		})

		It("regenerates an existing id, preserving identity fields", func() {
			oracle.balance = 1.0
			first, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room-a", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.RegenerationCount).To(Equal(0))

			second, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room-b"})
			Expect(err).NotTo(HaveOccurred())

			Expect(second.CreatedAt).To(Equal(first.CreatedAt))
			Expect(second.Wallet).To(Equal("addr"))
			Expect(second.SessionID).To(Equal("room-b"))
			Expect(second.RegenerationCount).To(Equal(1))

			regular, nft := m.Counts()
			Expect(regular).To(Equal(1))
			Expect(nft).To(BeZero())
		})

		It("does not rebind a link to a new wallet on regeneration", func() {
			oracle.balance = 1.0
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "original"})
			Expect(err).NotTo(HaveOccurred())

			l, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "attacker"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Wallet).To(Equal("original"))
		})

		It("recomputes the tier on regeneration", func() {
			oracle.balance = 1.0
			l, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Tier).To(Equal(TierWallet))

			oracle.balance = 10.0
			l, err = m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Tier).To(Equal(TierPremium))
			Expect(*l.ExpiresAt).To(BeTemporally("~", time.Now().Add(PremiumTTL), time.Minute))
		})

		It("merges metadata across regenerations", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Metadata: map[string]string{"a": "1"}})
			Expect(err).NotTo(HaveOccurred())

			l, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Metadata: map[string]string{"b": "2"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Metadata).To(HaveKeyWithValue("a", "1"))
			Expect(l.Metadata).To(HaveKeyWithValue("b", "2"))
		})

		It("emits a created notification for new links only", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())
			_, err = m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())

			notifications := m.Notifications()
			Expect(notifications).To(HaveLen(1))
			Expect(notifications[0].Kind).To(Equal(NotifyCreated))
		})
	})

	Describe("NFT links", func() {
		BeforeEach(func() {
			m.mu.Lock()
			m.nftLinks["perm"] = &Link{ID: "perm", SessionID: "room", Wallet: "addr", Tier: TierNFT}
			m.mu.Unlock()
		})

		It("keeps permanence across regeneration", func() {
			l, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "perm", SessionID: "room-2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Tier).To(Equal(TierNFT))
			Expect(l.ExpiresAt).To(BeNil())
			Expect(l.SessionID).To(Equal("room-2"))
			Expect(l.RegenerationCount).To(Equal(1))
		})

		It("places a new link for an NFT wallet in the NFT store", func() {
			l, err := m.CreateOrRegenerate(ctx, CreateRequest{SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Tier).To(Equal(TierNFT))
			Expect(l.ExpiresAt).To(BeNil())

			regular, nft := m.Counts()
			Expect(regular).To(BeZero())
			Expect(nft).To(Equal(2))
		})
	})

	Describe("PromoteToNFT", func() {
		It("moves a link so each id lives in exactly one store", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())

			l, err := m.PromoteToNFT(ctx, "desk")
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Tier).To(Equal(TierNFT))
			Expect(l.ExpiresAt).To(BeNil())

			regular, nft := m.Counts()
			Expect(regular).To(BeZero())
			Expect(nft).To(Equal(1))
		})

		It("is idempotent for an already promoted link", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())
			_, err = m.PromoteToNFT(ctx, "desk")
			Expect(err).NotTo(HaveOccurred())

			l, err := m.PromoteToNFT(ctx, "desk")
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Tier).To(Equal(TierNFT))
		})

		It("fails for an unknown id", func() {
			_, err := m.PromoteToNFT(ctx, "missing")
			Expect(err).To(MatchError(ErrLinkNotFound))
		})
	})

	Describe("ExtendKeepAlive", func() {
		It("is a no-op for NFT links", func() {
			m.mu.Lock()
			m.nftLinks["perm"] = &Link{ID: "perm", Tier: TierNFT}
			m.mu.Unlock()

			l, err := m.ExtendKeepAlive(ctx, "perm")
			Expect(err).NotTo(HaveOccurred())
			Expect(l.ExpiresAt).To(BeNil())
		})

		It("is unavailable for free-tier links", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", KeepAlive: true})
			Expect(err).NotTo(HaveOccurred())

			_, err = m.ExtendKeepAlive(ctx, "desk")
			Expect(err).To(MatchError(ErrKeepAliveUnavailable))
		})

		It("is unavailable when keep-alive was not requested", func() {
			oracle.balance = 1.0
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())

			_, err = m.ExtendKeepAlive(ctx, "desk")
			Expect(err).To(MatchError(ErrKeepAliveUnavailable))
		})

		It("extends a paid link with keep-alive enabled", func() {
			oracle.balance = 1.0
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr", KeepAlive: true})
			Expect(err).NotTo(HaveOccurred())

			l, err := m.ExtendKeepAlive(ctx, "desk")
			Expect(err).NotTo(HaveOccurred())
			Expect(*l.ExpiresAt).To(BeTemporally("~", time.Now().Add(WalletTTL), time.Minute))
			Expect(l.KeepAlive.LastCheck).To(BeTemporally("~", time.Now(), time.Minute))
		})
	})

	Describe("RecordActivity", func() {
		It("bumps counters in either store", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())

			l, err := m.RecordActivity(ctx, "desk")
			Expect(err).NotTo(HaveOccurred())
			Expect(l.ActivityCount).To(Equal(1))
		})

		It("fails for an unknown id", func() {
			_, err := m.RecordActivity(ctx, "missing")
			Expect(err).To(MatchError(ErrLinkNotFound))
		})
	})

	Describe("RegenerateOnce", func() {
		It("regenerates a wallet link whose session lost its host", func() {
			oracle.balance = 1.0
			first, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())

			probe.hasHost = false
			Expect(m.RegenerateOnce(ctx)).To(Equal(1))

			l, ok := m.Get("desk")
			Expect(ok).To(BeTrue())
			Expect(l.RegenerationCount).To(Equal(first.RegenerationCount + 1))
			Expect(l.CreatedAt).To(Equal(first.CreatedAt))

			notifications := m.Notifications()
			last := notifications[len(notifications)-1]
			Expect(last.Kind).To(Equal(NotifyRegenerated))
			Expect(last.Reason).To(Equal(ReasonInactive))
		})

		It("regenerates an expired wallet link with reason expired", func() {
			oracle.balance = 1.0
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())

			m.mu.Lock()
			past := time.Now().Add(-time.Hour)
			m.links["desk"].ExpiresAt = &past
			m.mu.Unlock()

			Expect(m.RegenerateOnce(ctx)).To(Equal(1))

			l, _ := m.Get("desk")
			Expect(l.Expired(time.Now())).To(BeFalse())

			notifications := m.Notifications()
			last := notifications[len(notifications)-1]
			Expect(last.Reason).To(Equal(ReasonExpired))
		})

		It("skips links without a wallet", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())

			probe.hasHost = false
			Expect(m.RegenerateOnce(ctx)).To(BeZero())
		})

		It("skips healthy links", func() {
			oracle.balance = 1.0
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())

			Expect(m.RegenerateOnce(ctx)).To(BeZero())
		})

		It("records activity on NFT links with live hosts", func() {
			m.mu.Lock()
			m.nftLinks["perm"] = &Link{ID: "perm", SessionID: "room", Wallet: "addr", Tier: TierNFT}
			m.mu.Unlock()

			Expect(m.RegenerateOnce(ctx)).To(BeZero())

			l, _ := m.Get("perm")
			Expect(l.ActivityCount).To(Equal(1))
		})
	})

	Describe("KeepAliveOnce", func() {
		It("extends paid keep-alive links with recent activity", func() {
			oracle.balance = 1.0
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room", Wallet: "addr", KeepAlive: true})
			Expect(err).NotTo(HaveOccurred())

			Expect(m.KeepAliveOnce(ctx)).To(Equal(1))
		})

		It("ignores free and keep-alive-disabled links", func() {
			_, err := m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "free", SessionID: "room", KeepAlive: true})
			Expect(err).NotTo(HaveOccurred())

			oracle.balance = 1.0
			_, err = m.CreateOrRegenerate(ctx, CreateRequest{LinkID: "noka", SessionID: "room", Wallet: "addr"})
			Expect(err).NotTo(HaveOccurred())

			Expect(m.KeepAliveOnce(ctx)).To(BeZero())
		})
	})

	Describe("notifications", func() {
		It("caps the retained FIFO at 100", func() {
			m.mu.Lock()
			for i := 0; i < 150; i++ {
				m.emitLocked(fmt.Sprintf("link-%d", i), NotifyCreated, "")
			}
			m.mu.Unlock()

			notifications := m.Notifications()
			Expect(notifications).To(HaveLen(100))
			Expect(notifications[0].LinkID).To(Equal("link-50"))
			Expect(notifications[99].LinkID).To(Equal("link-149"))
		})
	})

	Describe("persistence", func() {
		It("survives a manager restart through the store", func() {
			store, err := Open(":memory:", testKey('p'))
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()

			first, err := NewManager(DefaultConfig(), store, oracle, probe, sender)
			Expect(err).NotTo(HaveOccurred())
			_, err = first.CreateOrRegenerate(ctx, CreateRequest{LinkID: "desk", SessionID: "room"})
			Expect(err).NotTo(HaveOccurred())

			second, err := NewManager(DefaultConfig(), store, oracle, probe, sender)
			Expect(err).NotTo(HaveOccurred())

			l, ok := second.Get("desk")
			Expect(ok).To(BeTrue())
			Expect(l.SessionID).To(Equal("room"))
		})
	})
})

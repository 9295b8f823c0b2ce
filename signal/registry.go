package signal

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Session is a rendezvous group. At most one endpoint holds the host role at
// any instant; clients are keyed by endpoint id. The struct is only ever
// touched under the hub lock.
type Session struct {
	ID        string
	Host      *Endpoint
	Clients   map[string]*Endpoint
	CreatedAt time.Time
	Password  string
	Nickname  string
}

func (s *Session) age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// liveHost reports whether the host slot is occupied by an endpoint whose
// transport is still open.
func (s *Session) liveHost() bool {
	return s.Host != nil && !s.Host.closed.Load()
}

// normalizeSessionID case-folds an id for subdomain safety.
func normalizeSessionID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// mintSessionID returns a short random identifier suitable for a subdomain
// label.
func mintSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateSession attaches the endpoint as host of a new session, minting an
// id when the caller did not choose one. Colliding with a session that still
// has a live host is already_exists; a closed-but-not-yet-reaped session is
// revived instead.
func (h *Hub) CreateSession(e *Endpoint, requestedID string, settings *Settings) (string, []delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sid := normalizeSessionID(requestedID)
	if sid == "" {
		for {
			sid = mintSessionID()
			if _, taken := h.sessions[sid]; !taken {
				break
			}
		}
	}

	return h.attachHostLocked(e, sid, settings, ErrAlreadyExists)
}

// JoinAsHost attaches the endpoint as host to an existing session, creating
// it when absent. A second live host is rejected with host_conflict.
func (h *Hub) JoinAsHost(e *Endpoint, sessionID string) (string, []delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attachHostLocked(e, normalizeSessionID(sessionID), nil, ErrHostConflict)
}

// attachHostLocked implements the shared create/host path. conflictErr
// distinguishes the create_session and host entry points, which differ only
// in the error they surface when a live host is already attached.
func (h *Hub) attachHostLocked(e *Endpoint, sid string, settings *Settings, conflictErr error) (string, []delivery, error) {
	sess, exists := h.sessions[sid]
	if exists && sess.liveHost() {
		return "", nil, conflictErr
	}

	// An endpoint is in at most one session; re-attaching implies leaving.
	deliveries := h.detachLocked(e)

	if !exists {
		sess = &Session{
			ID:        sid,
			Clients:   make(map[string]*Endpoint),
			CreatedAt: time.Now(),
		}
		h.sessions[sid] = sess
	} else if sess.Host != nil {
		// Dead host still referenced; drop it before reattaching.
		sess.Host.sessionID = ""
		sess.Host.isHost = false
		sess.Host = nil
	}

	sess.Host = e
	e.sessionID = sid
	e.isHost = true

	if settings != nil {
		if settings.Password != "" {
			sess.Password = settings.Password
		}
		if settings.Nickname != "" {
			sess.Nickname = settings.Nickname
		}
	}

	for _, c := range sess.Clients {
		deliveries = append(deliveries, delivery{c, peerJoinedMessage{Type: "peer_joined", PeerID: e.ID, IsHost: true}})
	}
	return sid, deliveries, nil
}

// JoinAsClient attaches the endpoint to an existing session in the client
// role.
func (h *Hub) JoinAsClient(e *Endpoint, sessionID string) (string, []delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sid := normalizeSessionID(sessionID)
	sess, exists := h.sessions[sid]
	if !exists {
		return "", nil, ErrNotFound
	}

	deliveries := h.detachLocked(e)

	sess.Clients[e.ID] = e
	e.sessionID = sid
	e.isHost = false

	if sess.liveHost() {
		deliveries = append(deliveries, delivery{sess.Host, peerJoinedMessage{Type: "peer_joined", PeerID: e.ID, IsHost: false}})
	}
	return sid, deliveries, nil
}

// Leave detaches the endpoint from its session. A host leaving with no
// clients attached destroys the session immediately; a host leaving with
// clients present empties the host slot and notifies them, keeping the
// session alive for the reclamation window.
func (h *Hub) Leave(e *Endpoint) []delivery {
	h.mu.Lock()
	deliveries := h.detachExplicitLocked(e)
	h.mu.Unlock()
	return deliveries
}

// detachLocked is the transport-close detach path: the session always
// survives so the host can reattach under the same id within the
// reclamation window.
func (h *Hub) detachLocked(e *Endpoint) []delivery {
	return h.detach(e, false)
}

func (h *Hub) detachExplicitLocked(e *Endpoint) []delivery {
	return h.detach(e, true)
}

func (h *Hub) detach(e *Endpoint, explicit bool) []delivery {
	if e.sessionID == "" {
		return nil
	}
	sess, ok := h.sessions[e.sessionID]
	if !ok {
		e.sessionID = ""
		e.isHost = false
		return nil
	}

	var deliveries []delivery
	if e.isHost && sess.Host == e {
		sess.Host = nil
		for _, c := range sess.Clients {
			deliveries = append(deliveries, delivery{c, hostDisconnectedMessage{Type: "host_disconnected"}})
		}
		if explicit && len(sess.Clients) == 0 {
			delete(h.sessions, sess.ID)
		}
	} else {
		delete(sess.Clients, e.ID)
		if sess.liveHost() {
			deliveries = append(deliveries, delivery{sess.Host, peerDisconnectedMessage{Type: "peer_disconnected", PeerID: e.ID}})
		}
	}

	e.sessionID = ""
	e.isHost = false
	return deliveries
}

// Lookup returns a public snapshot of a session.
func (h *Hub) Lookup(sessionID string) (SessionSummary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sess, ok := h.sessions[normalizeSessionID(sessionID)]
	if !ok {
		return SessionSummary{}, false
	}
	return SessionSummary{
		SessionID:   sess.ID,
		HasHost:     sess.liveHost(),
		ClientCount: len(sess.Clients),
		Nickname:    sess.Nickname,
		HasPassword: sess.Password != "",
		AgeSeconds:  int64(sess.age(time.Now()).Seconds()),
	}, true
}

// ProbeSession reports whether a session exists and has a live host.
func (h *Hub) ProbeSession(sessionID string) (bool, bool) {
	summary, ok := h.Lookup(sessionID)
	if !ok {
		return false, false
	}
	return true, summary.HasHost
}

// SetPassword updates the session password. Host only; a non-empty
// sessionID must name the session the endpoint is attached to.
func (h *Hub) SetPassword(e *Endpoint, sessionID, password string) (string, []delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, err := h.hostSessionLocked(e, sessionID)
	if err != nil {
		return "", nil, err
	}
	sess.Password = password

	var deliveries []delivery
	for _, c := range sess.Clients {
		deliveries = append(deliveries, delivery{c, passwordMessage{Type: "password_updated", SessionID: sess.ID, Password: password}})
	}
	return sess.ID, deliveries, nil
}

// SetNickname updates the host-supplied session label and advertises it to
// clients as a passive settings_updated notice.
func (h *Hub) SetNickname(e *Endpoint, sessionID, nickname string) (string, []delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, err := h.hostSessionLocked(e, sessionID)
	if err != nil {
		return "", nil, err
	}
	sess.Nickname = nickname

	var deliveries []delivery
	for _, c := range sess.Clients {
		deliveries = append(deliveries, delivery{c, settingsUpdatedMessage{Type: "settings_updated", SessionID: sess.ID, Nickname: nickname}})
	}
	return sess.ID, deliveries, nil
}

func (h *Hub) hostSessionLocked(e *Endpoint, sessionID string) (*Session, error) {
	if e.sessionID == "" {
		return nil, ErrNotInSession
	}
	sess, ok := h.sessions[e.sessionID]
	if !ok {
		return nil, ErrNotInSession
	}
	if !e.isHost || sess.Host != e {
		return nil, ErrNotHost
	}
	if sid := normalizeSessionID(sessionID); sid != "" && sid != sess.ID {
		return nil, ErrSessionMismatch
	}
	return sess, nil
}

// relayTargets resolves the recipients for a negotiation payload or opaque
// relay sent by e. Host traffic goes to one targeted client or fans out to
// all of them; client traffic goes to the live host.
func (h *Hub) relayTargets(e *Endpoint, targetID string) ([]*Endpoint, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if e.sessionID == "" {
		return nil, ErrNotInSession
	}
	sess, ok := h.sessions[e.sessionID]
	if !ok {
		return nil, ErrNotInSession
	}

	if e.isHost {
		if targetID != "" {
			if c, ok := sess.Clients[targetID]; ok {
				return []*Endpoint{c}, nil
			}
			// Target already gone; nothing to deliver.
			return nil, nil
		}
		targets := make([]*Endpoint, 0, len(sess.Clients))
		for _, c := range sess.Clients {
			targets = append(targets, c)
		}
		return targets, nil
	}

	if !sess.liveHost() {
		return nil, ErrHostAbsent
	}
	return []*Endpoint{sess.Host}, nil
}

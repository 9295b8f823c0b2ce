package signal

import (
	"encoding/json"
	"errors"
)

// Message is the inbound wire envelope. Every frame is a single UTF-8 JSON
// object carrying a "type" discriminator; fields beyond the discriminator are
// type-specific and optional on the wire.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	IsHost    bool            `json:"isHost,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	Password  string          `json:"password,omitempty"`
	Nickname  string          `json:"nickname,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Settings  *Settings       `json:"settings,omitempty"`
}

// Settings carries optional session-scoped settings on create_session.
type Settings struct {
	Password string `json:"password,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// SessionSummary is the public view of a session returned by query_session
// and the HTTP probe. It deliberately omits endpoint identifiers.
type SessionSummary struct {
	SessionID   string `json:"sessionId"`
	HasHost     bool   `json:"hasHost"`
	ClientCount int    `json:"clientCount"`
	Nickname    string `json:"nickname,omitempty"`
	HasPassword bool   `json:"hasPassword"`
	AgeSeconds  int64  `json:"ageSeconds"`
}

// Error kinds surfaced over the wire in error.kind.
const (
	KindInvalidMessage = "invalid_message"
	KindNotFound       = "not_found"
	KindAlreadyExists  = "already_exists"
	KindHostConflict   = "host_conflict"
	KindNotInSession   = "not_in_session"
	KindNotHost        = "not_host"
	KindHostAbsent     = "host_absent"
	KindSlowConsumer   = "slow_consumer"
)

// Sentinel errors for registry operations. The router maps these onto wire
// error kinds one-to-one.
var (
	ErrAlreadyExists   = errors.New("session already exists")
	ErrHostConflict    = errors.New("session already has a live host")
	ErrNotFound        = errors.New("session not found")
	ErrNotInSession    = errors.New("endpoint not attached to a session")
	ErrNotHost         = errors.New("operation requires the host role")
	ErrHostAbsent      = errors.New("session has no live host")
	ErrSessionMismatch = errors.New("sessionId does not match the attached session")
)

// errorKind maps a registry error onto its wire kind.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrHostConflict):
		return KindHostConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotInSession):
		return KindNotInSession
	case errors.Is(err, ErrNotHost):
		return KindNotHost
	case errors.Is(err, ErrHostAbsent):
		return KindHostAbsent
	default:
		return KindInvalidMessage
	}
}

// Outbound message shapes. Each server-to-client type gets its own struct so
// that required fields (isHost on joined, found on session_response) are
// always present on the wire.

type welcomeMessage struct {
	Type             string `json:"type"`
	ClientID         string `json:"clientId"`
	SubdomainSession string `json:"subdomainSession,omitempty"`
}

type sessionCreatedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type joinedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	IsHost    bool   `json:"isHost"`
}

type peerJoinedMessage struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
	IsHost bool   `json:"isHost"`
}

type peerDisconnectedMessage struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

type hostDisconnectedMessage struct {
	Type string `json:"type"`
}

type sessionResponseMessage struct {
	Type    string          `json:"type"`
	Found   bool            `json:"found"`
	Session *SessionSummary `json:"session,omitempty"`
}

type passwordMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Password  string `json:"password"`
}

type settingsUpdatedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Nickname  string `json:"nickname"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

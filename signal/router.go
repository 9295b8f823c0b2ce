package signal

import (
	"encoding/json"
	"log"
)

// route interprets one inbound frame from e. Protocol-level failures are
// reported to the sender only and never tear the session down.
func (h *Hub) route(e *Endpoint, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.sendError(KindInvalidMessage, "message body failed to decode")
		return
	}
	if msg.Type == "" {
		e.sendError(KindInvalidMessage, "missing type")
		return
	}

	switch msg.Type {
	case "create_session":
		h.handleCreateSession(e, msg)

	case "host":
		if msg.SessionID == "" {
			e.sendError(KindInvalidMessage, "missing sessionId")
			return
		}
		h.handleJoin(e, msg.SessionID, true)

	case "join":
		if msg.SessionID == "" {
			e.sendError(KindInvalidMessage, "missing sessionId")
			return
		}
		h.handleJoin(e, msg.SessionID, msg.IsHost)

	case "leave":
		flush(h.Leave(e))

	case "offer", "answer", "ice_candidate":
		h.handleRelay(e, msg, raw)

	case "broadcast":
		if len(msg.Data) == 0 {
			e.sendError(KindInvalidMessage, "missing data")
			return
		}
		h.handleRelay(e, msg, raw)

	case "client-info":
		h.handleRelay(e, msg, raw)

	case "query_session":
		if msg.SessionID == "" {
			e.sendError(KindInvalidMessage, "missing sessionId")
			return
		}
		h.handleQuerySession(e, msg.SessionID)

	case "update_password":
		h.handleUpdatePassword(e, msg)

	case "update_device_info":
		h.handleUpdateDeviceInfo(e, msg)

	default:
		e.sendError(KindInvalidMessage, "unknown message type: "+msg.Type)
	}
}

func (h *Hub) handleCreateSession(e *Endpoint, msg Message) {
	settings := msg.Settings
	if settings == nil {
		settings = &Settings{}
	}
	if msg.Password != "" {
		settings.Password = msg.Password
	}
	if msg.Nickname != "" {
		settings.Nickname = msg.Nickname
	}

	sid, deliveries, err := h.CreateSession(e, msg.SessionID, settings)
	if err != nil {
		e.sendError(errorKind(err), err.Error())
		return
	}
	flush(deliveries)
	e.Enqueue(sessionCreatedMessage{Type: "session_created", SessionID: sid})
	log.Printf("Hub: endpoint %s created session %s", e.ID, sid)
}

func (h *Hub) handleJoin(e *Endpoint, sessionID string, asHost bool) {
	var (
		sid        string
		deliveries []delivery
		err        error
	)
	if asHost {
		sid, deliveries, err = h.JoinAsHost(e, sessionID)
	} else {
		sid, deliveries, err = h.JoinAsClient(e, sessionID)
	}
	if err != nil {
		e.sendError(errorKind(err), err.Error())
		return
	}
	flush(deliveries)
	e.Enqueue(joinedMessage{Type: "joined", SessionID: sid, IsHost: asHost})
	log.Printf("Hub: endpoint %s joined session %s (host=%v)", e.ID, sid, asHost)
}

// handleRelay forwards negotiation payloads, opaque broadcasts, and
// client-info frames. The forwarded copy is the sender's frame with the
// sender's endpoint id stamped as fromId; it is never echoed back.
func (h *Hub) handleRelay(e *Endpoint, msg Message, raw []byte) {
	targets, err := h.relayTargets(e, msg.TargetID)
	if err != nil {
		e.sendError(errorKind(err), err.Error())
		return
	}
	if len(targets) == 0 {
		return
	}

	forwarded, err := stampFrom(raw, e.ID)
	if err != nil {
		e.sendError(KindInvalidMessage, "message body failed to decode")
		return
	}

	for _, t := range targets {
		if t == e {
			continue
		}
		t.enqueueRaw(forwarded)
	}
}

// stampFrom rewrites a frame with the sender's id as fromId, preserving the
// rest of the body as-is.
func stampFrom(raw []byte, fromID string) ([]byte, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	body["fromId"] = fromID
	delete(body, "targetId")
	return json.Marshal(body)
}

func (h *Hub) handleQuerySession(e *Endpoint, sessionID string) {
	summary, found := h.Lookup(sessionID)
	resp := sessionResponseMessage{Type: "session_response", Found: found}
	if found {
		resp.Session = &summary
	}
	e.Enqueue(resp)
}

func (h *Hub) handleUpdatePassword(e *Endpoint, msg Message) {
	sid, deliveries, err := h.SetPassword(e, msg.SessionID, msg.Password)
	if err != nil {
		e.sendError(errorKind(err), err.Error())
		return
	}
	flush(deliveries)
	e.Enqueue(passwordMessage{Type: "password_update_confirmed", SessionID: sid, Password: msg.Password})
}

func (h *Hub) handleUpdateDeviceInfo(e *Endpoint, msg Message) {
	if msg.Nickname == "" {
		e.sendError(KindInvalidMessage, "missing nickname")
		return
	}
	_, deliveries, err := h.SetNickname(e, msg.SessionID, msg.Nickname)
	if err != nil {
		e.sendError(errorKind(err), err.Error())
		return
	}
	flush(deliveries)
}

package signal

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the endpoint is considered dead.
	pongWait = 60 * time.Second

	// Ping cadence; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size (1 MiB).
	maxMessageSize = 1 << 20

	// Outbound queue capacity per endpoint. A full queue means the consumer
	// is too slow and the endpoint is closed.
	sendQueueSize = 64
)

// Endpoint is one live connection to a remote participant. The transport
// owns the socket; the registry only ever holds the endpoint by identifier
// and uses Enqueue as the send handle.
//
// Session attachment (sessionID, isHost) is guarded by the hub lock, never
// touched from the pumps directly.
type Endpoint struct {
	ID  string
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    atomic.Bool

	// Guarded by hub.mu.
	sessionID string
	isHost    bool
}

func newEndpoint(id string, hub *Hub, conn *websocket.Conn) *Endpoint {
	return &Endpoint{
		ID:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// Enqueue serializes v and queues it for delivery. Sends on one endpoint are
// delivered in enqueue order. If the queue is full the endpoint is treated
// as a dead consumer and closed.
func (e *Endpoint) Enqueue(v interface{}) bool {
	if e.closed.Load() {
		return false
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("Hub: marshal error for endpoint %s: %v", e.ID, err)
		return false
	}
	return e.enqueueRaw(b)
}

func (e *Endpoint) enqueueRaw(b []byte) bool {
	select {
	case e.send <- b:
		return true
	default:
		log.Printf("Hub: endpoint %s send queue full, closing (slow consumer)", e.ID)
		e.close()
		return false
	}
}

// close shuts the socket down at most once. The read pump notices the closed
// connection and runs the hub's departure path.
func (e *Endpoint) close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.conn != nil {
			_ = e.conn.Close()
		}
	})
}

// readPump decodes inbound frames and hands them to the router. It exits on
// any read error and triggers the hub's disconnect handling exactly once.
func (e *Endpoint) readPump() {
	defer func() {
		e.hub.Disconnect(e)
		e.close()
	}()

	e.conn.SetReadLimit(maxMessageSize)
	_ = e.conn.SetReadDeadline(time.Now().Add(pongWait))
	e.conn.SetPongHandler(func(string) error {
		return e.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Hub: endpoint %s read error: %v", e.ID, err)
			}
			return
		}
		e.hub.route(e, raw)
	}
}

// writePump is the single writer for the connection. All sends flow through
// the outbound queue, so concurrent routing never interleaves frames.
func (e *Endpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		e.close()
	}()

	for {
		select {
		case b, ok := <-e.send:
			_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = e.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := e.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError reports a protocol-level error to this endpoint only.
func (e *Endpoint) sendError(kind, msg string) {
	e.Enqueue(errorMessage{Type: "error", Message: msg, Kind: kind})
}

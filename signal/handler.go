package signal

import (
	"log"
	"net/http"
	"strings"

	"github.com/gobuffalo/buffalo"
	"github.com/gobuffalo/buffalo/render"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Signaling endpoints are reached cross-origin from desktop clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS returns the Buffalo handler that upgrades a connection and hands
// it to the hub. The server mints the endpoint id and emits the welcome
// frame before the pumps start consuming traffic.
func ServeWS(hub *Hub) buffalo.Handler {
	return func(c buffalo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Printf("Hub: upgrade failed: %v", err)
			return err
		}

		e := newEndpoint(uuid.NewString(), hub, conn)
		hub.Register(e)

		e.Enqueue(welcomeMessage{
			Type:             "welcome",
			ClientID:         e.ID,
			SubdomainSession: SubdomainSessionHint(c.Request().Host),
		})

		go e.writePump()
		go e.readPump()
		return nil
	}
}

// SubdomainSessionHint extracts a session id encoded as the leftmost
// subdomain label, so a client connecting to abc123.relay.example.com can
// auto-join abc123. Returns "" when the host carries no usable hint.
func SubdomainSessionHint(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	hint := normalizeSessionID(labels[0])
	switch hint {
	case "", "www", "api", "ws", "relay":
		return ""
	}
	return hint
}

// SessionProbeHandler serves GET /api/session/{id}: the existence probe used
// by the persistent-link overlay and external tooling.
func SessionProbeHandler(hub *Hub) buffalo.Handler {
	return func(c buffalo.Context) error {
		summary, found := hub.Lookup(c.Param("id"))
		body := map[string]interface{}{
			"exists":      found,
			"hasHost":     summary.HasHost,
			"clientCount": summary.ClientCount,
		}
		return c.Render(http.StatusOK, render.JSON(body))
	}
}

// HealthHandler serves the health endpoint.
func HealthHandler(hub *Hub) buffalo.Handler {
	return func(c buffalo.Context) error {
		body := map[string]interface{}{
			"status":   "ok",
			"sessions": hub.Sessions(),
			"clients":  hub.Clients(),
		}
		return c.Render(http.StatusOK, render.JSON(body))
	}
}

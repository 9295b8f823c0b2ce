package links

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gobuffalo/buffalo"
	"github.com/gobuffalo/buffalo/render"
)

// HTTP handlers for the link management API. Mounted under /api by the
// composition root.

// CreateLinkHandler serves POST /api/links: create-or-regenerate.
func CreateLinkHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		var req CreateRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.Render(http.StatusBadRequest, render.JSON(map[string]string{
				"error": "invalid request body",
			}))
		}

		link, err := m.CreateOrRegenerate(c.Request().Context(), req)
		if err != nil {
			return c.Render(http.StatusBadRequest, render.JSON(map[string]string{
				"error": err.Error(),
			}))
		}
		return c.Render(http.StatusOK, render.JSON(link))
	}
}

// ShowLinkHandler serves GET /api/links/{id}.
func ShowLinkHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		link, ok := m.Get(c.Param("id"))
		if !ok {
			return c.Render(http.StatusNotFound, render.JSON(map[string]string{
				"error": ErrLinkNotFound.Error(),
			}))
		}
		return c.Render(http.StatusOK, render.JSON(link))
	}
}

// KeepAliveHandler serves POST /api/links/{id}/keepalive.
func KeepAliveHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		link, err := m.ExtendKeepAlive(c.Request().Context(), c.Param("id"))
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrLinkNotFound) {
				status = http.StatusNotFound
			}
			return c.Render(status, render.JSON(map[string]string{"error": err.Error()}))
		}
		return c.Render(http.StatusOK, render.JSON(link))
	}
}

// ActivityHandler serves POST /api/links/{id}/activity.
func ActivityHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		link, err := m.RecordActivity(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.Render(http.StatusNotFound, render.JSON(map[string]string{
				"error": err.Error(),
			}))
		}
		return c.Render(http.StatusOK, render.JSON(link))
	}
}

// PromoteLinkHandler serves POST /api/links/{id}/promote.
func PromoteLinkHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		link, err := m.PromoteToNFT(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.Render(http.StatusNotFound, render.JSON(map[string]string{
				"error": err.Error(),
			}))
		}
		return c.Render(http.StatusOK, render.JSON(link))
	}
}

// DeleteLinkHandler serves DELETE /api/links/{id}.
func DeleteLinkHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		if err := m.Remove(c.Request().Context(), c.Param("id")); err != nil {
			return c.Render(http.StatusNotFound, render.JSON(map[string]string{
				"error": err.Error(),
			}))
		}
		return c.Render(http.StatusOK, render.JSON(map[string]bool{"deleted": true}))
	}
}

// ListLinksHandler serves GET /api/links?wallet=ADDR.
func ListLinksHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		wallet := c.Param("wallet")
		if wallet == "" {
			return c.Render(http.StatusBadRequest, render.JSON(map[string]string{
				"error": "wallet parameter is required",
			}))
		}
		links := m.ListByWallet(wallet)
		if links == nil {
			links = []*Link{}
		}
		return c.Render(http.StatusOK, render.JSON(links))
	}
}

// NotificationsHandler serves GET /api/notifications.
func NotificationsHandler(m *Manager) buffalo.Handler {
	return func(c buffalo.Context) error {
		notifications := m.Notifications()
		if notifications == nil {
			notifications = []Notification{}
		}
		return c.Render(http.StatusOK, render.JSON(notifications))
	}
}

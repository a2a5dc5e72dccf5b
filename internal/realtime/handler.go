package realtime

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/decibel-relay/pkg/response"
)

// Handler exposes read-only HTTP views of the registry.
type Handler struct {
	hub *Hub
}

// NewHandler creates a session inspection handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Inspect handles GET /sessions/:id.
func (h *Handler) Inspect(c *gin.Context) {
	s, err := h.hub.Get(c.Param("id"))
	if errors.Is(err, ErrSessionNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, s.Snapshot())
}

// Stats handles GET /sessions.
func (h *Handler) Stats(c *gin.Context) {
	response.OK(c, gin.H{"sessions": h.hub.SessionCount()})
}

package sessionlog

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/pkg/response"
)

// Reader is the query side of Repository.
type Reader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.ObserverSessionLog, error)
	GetWatchTimeAggregates(ctx context.Context, sessionID string) (*WatchTimeAggregates, error)
}

// Handler handles GET /sessions/:id/attendees.
type Handler struct {
	repo   Reader
	logger *zap.Logger
}

// NewHandler creates a session log handler.
func NewHandler(repo Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// GetAttendees lists the observer connections of a session with join time and watch duration.
func (h *Handler) GetAttendees(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list attendees", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "failed to list attendees")
		return
	}
	agg, err := h.repo.GetWatchTimeAggregates(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("watch time aggregates", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "failed to list attendees")
		return
	}
	response.OK(c, gin.H{"attendees": list, "watch_time": agg})
}

package archive

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/pkg/response"
)

// SessionLookup finds the stream row of a session.
type SessionLookup interface {
	Get(ctx context.Context, sessionID string) (*models.StreamSession, error)
}

// Presigner produces download links for archived objects.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// Handler handles GET /sessions/:id/archive.
type Handler struct {
	sessions SessionLookup
	presign  Presigner
	logger   *zap.Logger
}

// NewHandler creates an archive download handler.
func NewHandler(sessions SessionLookup, presign Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, presign: presign, logger: logger}
}

// GetDownloadURL returns a pre-signed link to the session archive.
func (h *Handler) GetDownloadURL(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	s, err := h.sessions.Get(ctx, id)
	if err != nil {
		h.logger.Error("load stream session", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil || s.ArchiveKey == nil {
		response.NotFound(c, "archive not available")
		return
	}
	url, err := h.presign.PresignDownload(ctx, *s.ArchiveKey)
	if err != nil {
		h.logger.Error("presign archive", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{
		"url":        url,
		"key":        *s.ArchiveKey,
		"expires_at": time.Now().Add(h.presign.PresignExpire()),
	})
}

package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/realtime"
	"github.com/aura-webinar/decibel-relay/internal/sessionlog"
	"github.com/aura-webinar/decibel-relay/pkg/response"
)

// StreamLookup reads persisted stream statistics.
type StreamLookup interface {
	Get(ctx context.Context, sessionID string) (*models.StreamSession, error)
}

// WatchTime reads attendance aggregates.
type WatchTime interface {
	GetWatchTimeAggregates(ctx context.Context, sessionID string) (*sessionlog.WatchTimeAggregates, error)
}

// Handler handles GET /sessions/:id/stats. It merges the live registry with
// the persisted rows, so stats stay available after eviction.
type Handler struct {
	hub     *realtime.Hub
	streams StreamLookup
	watch   WatchTime
	logger  *zap.Logger
}

// NewHandler creates an analytics handler. streams and watch may be nil
// when no database is configured.
func NewHandler(hub *realtime.Hub, streams StreamLookup, watch WatchTime, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, streams: streams, watch: watch, logger: logger}
}

// SummaryResponse is the JSON shape for session statistics.
type SummaryResponse struct {
	SessionID        string     `json:"session_id"`
	Live             bool       `json:"live"`
	Active           bool       `json:"active"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	CurrentObservers int        `json:"current_observers"`
	PeakObservers    int        `json:"peak_observers"`
	ReadingsCount    int64      `json:"readings_count"`
	SummariesCount   int        `json:"summaries_count"`
	AvgWatchSeconds  int64      `json:"avg_watch_seconds"`
	ArchiveKey       *string    `json:"archive_key,omitempty"`
}

// GetBySession handles GET /sessions/:id/stats.
func (h *Handler) GetBySession(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var out SummaryResponse
	found := false

	if h.streams != nil {
		row, err := h.streams.Get(ctx, id)
		if err != nil {
			h.logger.Error("load stream stats", zap.String("session_id", id), zap.Error(err))
			response.Internal(c, "failed to load stream stats")
			return
		}
		if row != nil {
			found = true
			out = SummaryResponse{
				SessionID:      row.SessionID,
				StartedAt:      row.StartedAt,
				EndedAt:        row.EndedAt,
				PeakObservers:  row.PeakObservers,
				ReadingsCount:  row.ReadingsCount,
				SummariesCount: row.SummariesCount,
				ArchiveKey:     row.ArchiveKey,
			}
		}
	}

	// live state wins over persisted counters
	s, err := h.hub.Get(id)
	switch {
	case err == nil:
		found = true
		snap := s.Snapshot()
		out.SessionID = snap.SessionID
		out.Live = true
		out.Active = snap.IsActive
		out.StartedAt = snap.StartedAt
		out.EndedAt = snap.EndedAt
		out.CurrentObservers = snap.Observers
		out.PeakObservers = max(out.PeakObservers, snap.PeakObservers)
		out.ReadingsCount = snap.ReadingsTotal
		out.SummariesCount = len(snap.SummaryLog)
	case !errors.Is(err, realtime.ErrSessionNotFound):
		response.Internal(c, "failed to load session")
		return
	}

	if !found {
		response.NotFound(c, "session not found")
		return
	}

	if h.watch != nil {
		agg, err := h.watch.GetWatchTimeAggregates(ctx, id)
		if err != nil {
			h.logger.Warn("watch time aggregates", zap.String("session_id", id), zap.Error(err))
		} else if agg.Observers > 0 {
			out.AvgWatchSeconds = agg.TotalWatchSeconds / int64(agg.Observers)
		}
	}
	response.OK(c, out)
}

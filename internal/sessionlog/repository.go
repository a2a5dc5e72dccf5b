package sessionlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// Repository handles observer_session_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when an observer joins a session.
func (r *Repository) LogJoin(ctx context.Context, sessionID, clientID, remoteAddr string, joinedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO observer_session_logs (session_id, client_id, remote_addr, joined_at) VALUES ($1, $2, $3, $4)`,
		sessionID, clientID, remoteAddr, joinedAt)
	return err
}

// LogLeave closes the open row of this observer connection.
func (r *Repository) LogLeave(ctx context.Context, sessionID, clientID string, leftAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE observer_session_logs SET left_at = $3, watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - joined_at))::BIGINT)
		 WHERE session_id = $1 AND client_id = $2 AND left_at IS NULL`,
		sessionID, clientID, leftAt)
	return err
}

// WatchTimeAggregates holds the sum of watch_seconds and the number of observer connections for a session.
type WatchTimeAggregates struct {
	TotalWatchSeconds int64 `json:"total_watch_seconds"`
	Observers         int   `json:"observers"`
}

// GetWatchTimeAggregates returns total watch time and observer count of closed rows.
func (r *Repository) GetWatchTimeAggregates(ctx context.Context, sessionID string) (*WatchTimeAggregates, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(*) FROM observer_session_logs WHERE session_id = $1 AND left_at IS NOT NULL`
	var agg WatchTimeAggregates
	if err := r.pool.QueryRow(ctx, q, sessionID).Scan(&agg.TotalWatchSeconds, &agg.Observers); err != nil {
		return nil, err
	}
	return &agg, nil
}

// ListBySession returns the attendance rows of a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.ObserverSessionLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, client_id, remote_addr, joined_at, left_at, watch_seconds
		 FROM observer_session_logs WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.ObserverSessionLog{}
	for rows.Next() {
		var row models.ObserverSessionLog
		if err := rows.Scan(&row.ID, &row.SessionID, &row.ClientID, &row.RemoteAddr, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

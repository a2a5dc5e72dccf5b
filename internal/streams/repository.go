package streams

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// Repository handles stream_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `session_id, started_at, ended_at, peak_observers, readings_count, summaries_count, archive_key, created_at, updated_at`

func scan(row pgx.Row) (*models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.SessionID, &s.StartedAt, &s.EndedAt, &s.PeakObservers, &s.ReadingsCount, &s.SummariesCount, &s.ArchiveKey, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts the row for a new session. A second call for the same id is a no-op.
func (r *Repository) Create(ctx context.Context, sessionID string, startedAt time.Time) error {
	const q = `INSERT INTO stream_sessions (session_id, started_at) VALUES ($1, $2) ON CONFLICT (session_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, sessionID, startedAt)
	return err
}

// Get returns the row for sessionID, or nil when there is none.
func (r *Repository) Get(ctx context.Context, sessionID string) (*models.StreamSession, error) {
	q := `SELECT ` + columns + ` FROM stream_sessions WHERE session_id = $1`
	s, err := scan(r.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// UpdatePeakObservers raises peak_observers; lower values are ignored.
func (r *Repository) UpdatePeakObservers(ctx context.Context, sessionID string, peak int) error {
	const q = `UPDATE stream_sessions SET peak_observers = $1, updated_at = NOW() WHERE session_id = $2 AND $1 > peak_observers`
	_, err := r.pool.Exec(ctx, q, peak, sessionID)
	return err
}

// Finish records the end of a session with its final counters.
func (r *Repository) Finish(ctx context.Context, f Final) error {
	const q = `UPDATE stream_sessions
		SET ended_at = $2, readings_count = $3, summaries_count = $4,
		    peak_observers = GREATEST(peak_observers, $5), updated_at = NOW()
		WHERE session_id = $1`
	_, err := r.pool.Exec(ctx, q, f.SessionID, f.EndedAt, f.Readings, f.Summaries, f.PeakObservers)
	return err
}

// MarkArchived stores the object key of the session archive.
func (r *Repository) MarkArchived(ctx context.Context, sessionID, key string) error {
	const q = `UPDATE stream_sessions SET archive_key = $1, updated_at = NOW() WHERE session_id = $2`
	_, err := r.pool.Exec(ctx, q, key, sessionID)
	return err
}

// ListRecent returns the latest sessions, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.StreamSession, error) {
	q := `SELECT ` + columns + ` FROM stream_sessions ORDER BY started_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamSession
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

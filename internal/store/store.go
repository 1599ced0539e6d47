package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store keeps the history of streaming sessions in PostgreSQL.
type Store struct {
	conn *pgx.Conn
}

// Session is one run of the streamer.
type Session struct {
	ID          uuid.UUID
	Mode        string
	Source      string
	Destination string
	StartedAt   time.Time
	// EndedAt is nil while the session is still running or if it crashed
	EndedAt *time.Time
	Stats   Stats
}

// Stats are the loop counters stored when a session finishes.
type Stats struct {
	Frames         int
	RecordsSent    int
	SendErrors     int
	DetectorErrors int
	Pose           int
	Hands          int
	Face           int
	Segmentation   int
	ExitReason     string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			mode TEXT NOT NULL,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			frames INT NOT NULL DEFAULT 0,
			records_sent INT NOT NULL DEFAULT 0,
			send_errors INT NOT NULL DEFAULT 0,
			detector_errors INT NOT NULL DEFAULT 0,
			pose_count INT NOT NULL DEFAULT 0,
			hands_count INT NOT NULL DEFAULT 0,
			face_count INT NOT NULL DEFAULT 0,
			segmentation_count INT NOT NULL DEFAULT 0,
			exit_reason TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS sessions_started_at_idx ON sessions (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartSession records a new running session and returns its id.
func (s *Store) StartSession(ctx context.Context, mode, source, destination string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sessions (id, mode, source, destination, started_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, id, mode, source, destination)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishSession stores the final counters of a session.
func (s *Store) FinishSession(ctx context.Context, id uuid.UUID, st Stats) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE sessions SET
			ended_at = NOW(),
			frames = $2, records_sent = $3, send_errors = $4, detector_errors = $5,
			pose_count = $6, hands_count = $7, face_count = $8, segmentation_count = $9,
			exit_reason = $10
		WHERE id = $1
	`, id, st.Frames, st.RecordsSent, st.SendErrors, st.DetectorErrors,
		st.Pose, st.Hands, st.Face, st.Segmentation, st.ExitReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// GetSession returns one session, or pgx.ErrNoRows wrapped if it does not exist.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	row := s.conn.QueryRow(ctx, selectSessions+` WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	return sess, err
}

// ListSessions returns the most recent sessions first. A limit <= 0 returns all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := selectSessions + ` ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

const selectSessions = `
	SELECT id, mode, source, destination, started_at, ended_at,
		frames, records_sent, send_errors, detector_errors,
		pose_count, hands_count, face_count, segmentation_count, exit_reason
	FROM sessions`

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.Mode, &sess.Source, &sess.Destination, &sess.StartedAt, &sess.EndedAt,
		&sess.Stats.Frames, &sess.Stats.RecordsSent, &sess.Stats.SendErrors, &sess.Stats.DetectorErrors,
		&sess.Stats.Pose, &sess.Stats.Hands, &sess.Stats.Face, &sess.Stats.Segmentation, &sess.Stats.ExitReason)
	return sess, err
}

// Reset drops all application tables to clear the database state.
// The schema is recreated on the next connection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS sessions CASCADE;`)
	return err
}

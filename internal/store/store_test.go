package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("posebridge_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	first, err := s.StartSession(ctx, "pose", "camera 0", "127.0.0.1:8080")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if first == uuid.Nil {
		t.Fatal("Expected a session id")
	}

	running, err := s.GetSession(ctx, first)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if running.EndedAt != nil {
		t.Errorf("Expected running session to have no end time, got %v", running.EndedAt)
	}

	stats := Stats{Frames: 300, RecordsSent: 290, SendErrors: 10, Pose: 290, ExitReason: "quit"}
	if err := s.FinishSession(ctx, first, stats); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	done, err := s.GetSession(ctx, first)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if done.EndedAt == nil {
		t.Error("Expected finished session to have an end time")
	}
	if done.Stats != stats {
		t.Errorf("Expected stats %+v, got %+v", stats, done.Stats)
	}

	// Unknown session
	if err := s.FinishSession(ctx, uuid.New(), stats); err == nil {
		t.Error("Expected FinishSession on unknown id to fail")
	}
	if _, err := s.GetSession(ctx, uuid.New()); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}

	time.Sleep(10 * time.Millisecond) // Distinct started_at
	second, err := s.StartSession(ctx, "multi", "clip.mp4", "127.0.0.1:8888")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != second {
		t.Errorf("Expected newest session first, got %s", sessions[0].ID)
	}

	limited, err := s.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 session with limit, got %d", len(limited))
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListSessions(ctx, 0); err == nil {
		t.Error("Expected ListSessions to fail after the table was dropped")
	}
}

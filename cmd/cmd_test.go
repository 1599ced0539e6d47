package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/sonifyv1/posebridge/internal/camera"
	"github.com/sonifyv1/posebridge/internal/pipeline"
	"github.com/sonifyv1/posebridge/internal/store"
	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/sonifyv1/posebridge/internal/worker"
)

func validOpts() StreamOptions {
	return StreamOptions{
		Host:            "127.0.0.1",
		Port:            8080,
		Confidence:      0.5,
		Source:          "gocv",
		Width:           640,
		Height:          480,
		FPS:             30,
		Python:          "python3",
		WorkerScript:    "python/detector.py",
		WorkerTimeout:   "5s",
		StartupTimeout:  "60s",
		SummaryInterval: "5s",
		MaxPeople:       1,
	}
}

func TestValidateStreamOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *StreamOptions)
		wantErr string
	}{
		{name: "Defaults", mutate: func(o *StreamOptions) {}},
		{name: "Port zero", mutate: func(o *StreamOptions) { o.Port = 0 }, wantErr: "invalid port"},
		{name: "Port too large", mutate: func(o *StreamOptions) { o.Port = 70000 }, wantErr: "invalid port"},
		{name: "Confidence above one", mutate: func(o *StreamOptions) { o.Confidence = 1.5 }, wantErr: "invalid confidence"},
		{name: "Negative camera", mutate: func(o *StreamOptions) { o.Camera = -1 }, wantErr: "invalid camera"},
		{name: "Unknown source", mutate: func(o *StreamOptions) { o.Source = "v4l" }, wantErr: "invalid source"},
		{name: "Input without ffmpeg", mutate: func(o *StreamOptions) { o.Input = "clip.mp4" }, wantErr: "--input requires"},
		{name: "Input with ffmpeg", mutate: func(o *StreamOptions) { o.Input = "clip.mp4"; o.Source = "ffmpeg" }},
		{name: "Bad timeout", mutate: func(o *StreamOptions) { o.WorkerTimeout = "soon" }, wantErr: "invalid worker-timeout format"},
		{name: "Bad startup timeout", mutate: func(o *StreamOptions) { o.StartupTimeout = "-1s" }, wantErr: "invalid worker-startup-timeout"},
		{name: "Zero summary interval", mutate: func(o *StreamOptions) { o.SummaryInterval = "0s" }, wantErr: "must be positive"},
		{name: "No people", mutate: func(o *StreamOptions) { o.MaxPeople = 0 }, wantErr: "invalid max-people"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOpts()
			tt.mutate(&o)
			err := o.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMultiKinds(t *testing.T) {
	got := multiKinds(true, false, true, true)
	want := []types.Kind{types.KindPose, types.KindFace, types.KindSegmentation}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("multiKinds() mismatch (-want +got):\n%s", diff)
	}
	if got := multiKinds(false, false, false, false); len(got) != 0 {
		t.Errorf("Expected no kinds, got %v", got)
	}
}

func TestWorkerConfig(t *testing.T) {
	o := validOpts()
	o.Confidence = 0.3
	o.WorkerTimeout = "250ms"
	o.StartupTimeout = "90s"

	cfg := o.workerConfig([]types.Kind{types.KindHands})
	if cfg.MinDetectionConfidence != 0.3 {
		t.Errorf("Expected confidence 0.3, got %g", cfg.MinDetectionConfidence)
	}
	if cfg.ReadTimeout != 250*time.Millisecond {
		t.Errorf("Expected timeout 250ms, got %s", cfg.ReadTimeout)
	}
	if cfg.StartupTimeout != 90*time.Second {
		t.Errorf("Expected startup timeout 90s, got %s", cfg.StartupTimeout)
	}
	if diff := cmp.Diff([]types.Kind{types.KindHands}, cfg.Models); diff != "" {
		t.Errorf("Models mismatch (-want +got):\n%s", diff)
	}
}

func TestExitReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "stopped"},
		{fmt.Errorf("%w: EOF", pipeline.ErrSourceExhausted), "source ended"},
		{fmt.Errorf("%w: busy", pipeline.ErrCameraOpen), "camera error"},
		{fmt.Errorf("%w: broken pipe", worker.ErrSidecarDied), "detector crashed"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := exitReason(tt.err); got != tt.want {
			t.Errorf("exitReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestResolveDBURL(t *testing.T) {
	old := dbURL
	defer func() { dbURL = old }()

	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(); got != "" {
		t.Errorf("Expected no URL without configuration, got %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "posebridge")
	t.Setenv("POSTGRES_PORT", "")
	if got, want := resolveDBURL(), "postgres://u:p@db:5432/posebridge"; got != want {
		t.Errorf("resolveDBURL() = %q, want %q", got, want)
	}

	dbURL = "postgres://flag/db"
	if got := resolveDBURL(); got != dbURL {
		t.Errorf("Expected flag to win, got %q", got)
	}
}

func TestOpenStoreOptional(t *testing.T) {
	old := dbURL
	defer func() { dbURL = old }()
	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")

	db, err := openStore(context.Background(), false)
	if err != nil || db != nil {
		t.Errorf("Expected no store and no error, got %v, %v", db, err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if out.String() != "Drop? [y/N]: " {
			t.Errorf("Unexpected prompt %q", out.String())
		}
	}
}

func TestRunChecks(t *testing.T) {
	var out bytes.Buffer
	failed := runChecks(context.Background(), &out, []check{
		{"python", func(context.Context) (string, error) { return "Python 3.11.4", nil }},
		{"mediapipe", func(context.Context) (string, error) { return "", errors.New("No module named 'mediapipe'") }},
	})

	if failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}
	for _, want := range []string{"✅ python", "Python 3.11.4", "❌ mediapipe", "No module named 'mediapipe'", "1 of 2 checks failed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunOutputMissingBinary(t *testing.T) {
	_, err := runOutput(context.Background(), "posebridge-definitely-missing-binary")
	if err == nil || !strings.Contains(err.Error(), "not found in PATH") {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestPrintSessions(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	id := uuid.MustParse("0b5e8f5a-1111-4222-8333-444455556666")

	var out bytes.Buffer
	printSessions(&out, []store.Session{
		{ID: id, Mode: "pose", Source: "camera 0", Destination: "127.0.0.1:8080", StartedAt: start, EndedAt: &end,
			Stats: store.Stats{Frames: 2700, RecordsSent: 2650, SendErrors: 2, DetectorErrors: 1, ExitReason: "quit"}},
		{ID: id, Mode: "multi", Source: "clip.mp4", Destination: "127.0.0.1:8888", StartedAt: start},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header, rule and 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	for _, want := range []string{"0b5e8f5a", "1m30s", "2700", "2650", "quit"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("Row missing %q: %s", want, lines[2])
		}
	}
	if !strings.Contains(lines[3], "running") {
		t.Errorf("Expected unfinished session to show running: %s", lines[3])
	}
}

type stubSource struct {
	n, reads int
}

func (s *stubSource) Read() (camera.Frame, error) {
	if s.reads >= s.n {
		return camera.Frame{}, camera.ErrNoFrame
	}
	s.reads++
	return camera.Frame{Image: image.NewRGBA(image.Rect(0, 0, 64, 48)), Width: 64, Height: 48}, nil
}

func (s *stubSource) Close() error { return nil }

func TestReadFrames(t *testing.T) {
	res, err := readFrames(&stubSource{n: 5}, 5)
	if err != nil {
		t.Fatalf("readFrames failed: %v", err)
	}
	if res.Frames != 5 || res.Width != 64 || res.Height != 48 {
		t.Errorf("Unexpected result %+v", res)
	}

	_, err = readFrames(&stubSource{n: 2}, 5)
	if !errors.Is(err, camera.ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "frame 3 of 5") {
		t.Errorf("Expected failing frame number in error, got %v", err)
	}
}

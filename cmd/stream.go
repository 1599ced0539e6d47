package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sonifyv1/posebridge/internal/camera"
	"github.com/sonifyv1/posebridge/internal/logger"
	"github.com/sonifyv1/posebridge/internal/metrics"
	"github.com/sonifyv1/posebridge/internal/pipeline"
	"github.com/sonifyv1/posebridge/internal/publish"
	"github.com/sonifyv1/posebridge/internal/store"
	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/sonifyv1/posebridge/internal/utils"
	"github.com/sonifyv1/posebridge/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// StreamOptions holds the configuration shared by the pose and multi commands
type StreamOptions struct {
	Camera          int
	Host            string
	Port            int
	Confidence      float64
	Source          string
	Input           string
	Format          string
	Width           int
	Height          int
	FPS             int
	DetectorSize    int
	Python          string
	WorkerScript    string
	WorkerTimeout   string
	StartupTimeout  string
	SummaryInterval string
	MetricsAddr     string
	NoKeys          bool
	MaxPeople       int
}

func addStreamFlags(c *cobra.Command, opts *StreamOptions, defaultPort int) {
	f := c.Flags()
	f.IntVarP(&opts.Camera, "camera", "c", 0, "Camera device index")
	f.StringVar(&opts.Host, "host", "127.0.0.1", "Destination host")
	f.IntVarP(&opts.Port, "port", "p", defaultPort, "Destination UDP port")
	f.Float64Var(&opts.Confidence, "confidence", 0.5, "Minimum detection confidence passed to the detector")
	f.StringVar(&opts.Source, "source", string(camera.BackendGoCV), "Frame source: gocv or ffmpeg")
	f.StringVar(&opts.Input, "input", "", "ffmpeg input (file, URL or device); defaults to the camera index")
	f.StringVar(&opts.Format, "format", "", "ffmpeg input format (e.g. v4l2, avfoundation)")
	f.IntVar(&opts.Width, "width", 640, "Requested capture width")
	f.IntVar(&opts.Height, "height", 480, "Requested capture height")
	f.IntVar(&opts.FPS, "fps", 30, "Requested capture frame rate")
	f.IntVar(&opts.DetectorSize, "detector-size", 0, "Scale the square crop to this side before detection (0 keeps the crop size)")
	f.StringVar(&opts.Python, "python", "python3", "Python interpreter for the detector sidecar")
	f.StringVar(&opts.WorkerScript, "worker-script", "python/detector.py", "Path to the detector sidecar script")
	f.StringVar(&opts.WorkerTimeout, "worker-timeout", "5s", "Maximum time for one detection call before the sidecar is killed")
	f.StringVar(&opts.StartupTimeout, "worker-startup-timeout", "60s", "Maximum time for the sidecar to load its models")
	f.StringVar(&opts.SummaryInterval, "summary-interval", "5s", "Interval between throughput summaries")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	f.BoolVar(&opts.NoKeys, "no-keys", false, "Disable keyboard controls")
	f.IntVar(&opts.MaxPeople, "max-people", 1, "Maximum number of people to track")
}

func (o *StreamOptions) validate() error {
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("invalid port: must be between 1 and 65535, got %d", o.Port)
	}
	if o.Confidence < 0 || o.Confidence > 1.0 {
		return fmt.Errorf("invalid confidence: must be between 0.0 and 1.0, got %g", o.Confidence)
	}
	if o.Camera < 0 {
		return fmt.Errorf("invalid camera index %d", o.Camera)
	}
	switch camera.Backend(o.Source) {
	case camera.BackendGoCV, camera.BackendFFmpeg:
	default:
		return fmt.Errorf("invalid source %q: use gocv or ffmpeg", o.Source)
	}
	if o.Input != "" && camera.Backend(o.Source) != camera.BackendFFmpeg {
		return fmt.Errorf("--input requires --source ffmpeg")
	}
	if o.Width < 0 || o.Height < 0 || o.FPS < 0 || o.DetectorSize < 0 {
		return fmt.Errorf("capture size, frame rate and detector size must not be negative")
	}
	if o.MaxPeople < 1 {
		return fmt.Errorf("invalid max-people: must be >= 1, got %d", o.MaxPeople)
	}
	if _, err := parsePositiveDuration("worker-timeout", o.WorkerTimeout); err != nil {
		return err
	}
	if _, err := parsePositiveDuration("worker-startup-timeout", o.StartupTimeout); err != nil {
		return err
	}
	if _, err := parsePositiveDuration("summary-interval", o.SummaryInterval); err != nil {
		return err
	}
	return nil
}

func parsePositiveDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format (use '5s', '500ms'): %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", name, s)
	}
	return d, nil
}

func (o *StreamOptions) cameraConfig() camera.Config {
	return camera.Config{
		Backend: camera.Backend(o.Source),
		Device:  o.Camera,
		Input:   o.Input,
		Format:  o.Format,
		Width:   o.Width,
		Height:  o.Height,
		FPS:     o.FPS,
	}
}

func (o *StreamOptions) workerConfig(kinds []types.Kind) worker.Config {
	cfg := worker.DefaultConfig()
	cfg.Python = o.Python
	cfg.Script = o.WorkerScript
	cfg.Models = kinds
	cfg.MinDetectionConfidence = o.Confidence
	cfg.MaxPeople = o.MaxPeople
	cfg.ReadTimeout, _ = time.ParseDuration(o.WorkerTimeout)
	cfg.StartupTimeout, _ = time.ParseDuration(o.StartupTimeout)
	return cfg
}

func (o *StreamOptions) sourceLabel() string {
	if o.Input != "" {
		return o.Input
	}
	return fmt.Sprintf("camera %d", o.Camera)
}

// runStream wires the frame loop for the given detection types and runs it
// until it is interrupted or the source ends
func runStream(ctx context.Context, mode string, kinds []types.Kind, toggleable bool, opts StreamOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if len(kinds) == 0 {
		return errors.New("no detection type enabled")
	}

	summary, _ := time.ParseDuration(opts.SummaryInterval)

	pub, err := publish.Dial(opts.Host, opts.Port)
	if err != nil {
		return err
	}

	// Raw mode delivers Ctrl+C as a key, so quitting cancels ctx directly.
	// A read that ignores cancellation is escaped by pressing it again.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Keyboard controls need raw mode, which also needs CRLF line endings
	var keys <-chan byte
	var statusOut io.Writer = os.Stderr
	if !opts.NoKeys {
		kr, err := pipeline.StartKeys(os.Stdin, func(presses int) {
			if presses > 1 {
				fmt.Fprintf(os.Stderr, "\r\n🛑 Forced exit\r\n")
				os.Exit(130)
			}
			cancel()
		})
		if err != nil {
			logger.Debug("cli", "keyboard controls disabled: %v", err)
		} else {
			defer kr.Restore()
			keys = kr.Keys()
			statusOut = pipeline.CRLFWriter{W: os.Stderr}
			logger.Init(logger.Default().Level(), statusOut, term.IsTerminal(int(os.Stderr.Fd())))
		}
	}

	m := metrics.New()
	if opts.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, opts.MetricsAddr); err != nil {
				logger.Warn("metrics", "endpoint stopped: %v", err)
			}
		}()
	}

	db, err := openStore(ctx, false)
	if err != nil {
		logger.Warn("store", "session history disabled: %v", err)
	}
	var session *sessionRecorder
	if db != nil {
		defer db.Close(context.Background())
		session = startSession(ctx, db, mode, opts.sourceLabel(), pub.Addr())
	}

	fmt.Fprintf(statusOut, "📡 Streaming %s detections to %s\n", mode, pub.Addr())
	if keys != nil {
		if toggleable {
			fmt.Fprintf(statusOut, "⌨️  q quit | i status | 1-4 toggle pose/hands/face/segmentation\n")
		} else {
			fmt.Fprintf(statusOut, "⌨️  q quit | i status\n")
		}
	}

	var sidecar *worker.PythonWorker
	loop := pipeline.New(pipeline.Config{
		Plugins:         pipeline.Plugins(kinds...),
		Toggleable:      toggleable,
		SummaryInterval: summary,
		DetectorSize:    opts.DetectorSize,
	}, pipeline.Deps{
		OpenSource: func(ctx context.Context) (camera.Source, error) {
			return camera.Open(ctx, opts.cameraConfig())
		},
		StartDetector: func(ctx context.Context) (pipeline.Detector, error) {
			fmt.Fprintf(statusOut, "⚙️  Loading %d detection model(s)...\n", len(kinds))
			w, err := worker.NewPythonWorker(ctx, opts.workerConfig(kinds))
			if err != nil {
				return nil, err
			}
			sidecar = w
			return w, nil
		},
		Publisher: pub,
		Keys:      keys,
		Metrics:   m,
		Log:       logger.Default(),
		Status:    statusOut,
	})

	runErr := loop.Run(ctx)
	session.finish(loop.Counters(), runErr)

	var startErr *worker.StartupError
	switch {
	case runErr == nil:
		fmt.Fprintf(statusOut, "✅ Shutdown complete\n")
		return nil
	case errors.Is(runErr, pipeline.ErrSourceExhausted):
		fmt.Fprintf(statusOut, "✅ Shutdown complete (source ended)\n")
		return nil
	case errors.Is(runErr, pipeline.ErrCameraOpen):
		utils.ShowError("Failed to open camera "+opts.sourceLabel(), runErr, nil)
		return errReported{runErr}
	case errors.As(runErr, &startErr):
		utils.ShowError("Detector sidecar failed to load its models", startErr.Err, startErr.Cmd)
		return errReported{runErr}
	case errors.Is(runErr, worker.ErrSidecarDied):
		var cmd *utils.SafeCommand
		if sidecar != nil {
			cmd = sidecar.Cmd
		}
		utils.ShowError("Detector sidecar crashed", runErr, cmd)
		return errReported{runErr}
	default:
		if sidecar == nil {
			utils.ShowError("Detector sidecar failed to start", runErr, nil)
			return errReported{runErr}
		}
		return runErr
	}
}

// sessionRecorder writes the session row. A nil recorder does nothing.
type sessionRecorder struct {
	db *store.Store
	id uuid.UUID
}

func startSession(ctx context.Context, db *store.Store, mode, source, dest string) *sessionRecorder {
	id, err := db.StartSession(ctx, mode, source, dest)
	if err != nil {
		logger.Warn("store", "failed to record session: %v", err)
		return nil
	}
	logger.Debug("store", "session %s", id)
	return &sessionRecorder{db: db, id: id}
}

func (s *sessionRecorder) finish(c pipeline.Counters, runErr error) {
	if s == nil {
		return
	}
	st := store.Stats{
		Frames:         c.Frames,
		RecordsSent:    c.RecordsSent,
		SendErrors:     c.SendErrors,
		DetectorErrors: c.DetectorErrors,
		Pose:           c.Detections[types.KindPose],
		Hands:          c.Detections[types.KindHands],
		Face:           c.Detections[types.KindFace],
		Segmentation:   c.Detections[types.KindSegmentation],
		ExitReason:     exitReason(runErr),
	}
	// The command context may already be cancelled by Ctrl+C
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.FinishSession(ctx, s.id, st); err != nil {
		logger.Warn("store", "failed to save session: %v", err)
	}
}

func exitReason(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, pipeline.ErrSourceExhausted):
		return "source ended"
	case errors.Is(err, pipeline.ErrCameraOpen):
		return "camera error"
	case errors.Is(err, worker.ErrSidecarDied):
		return "detector crashed"
	default:
		return "error"
	}
}

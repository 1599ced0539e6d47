package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"github.com/sonifyv1/posebridge/internal/camera"
	"github.com/sonifyv1/posebridge/internal/geometry"
	"github.com/sonifyv1/posebridge/internal/logger"
	"github.com/sonifyv1/posebridge/internal/message"
	"github.com/sonifyv1/posebridge/internal/metrics"
	"github.com/sonifyv1/posebridge/internal/publish"
	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/sonifyv1/posebridge/internal/worker"
)

var (
	// ErrCameraOpen means the source could not be opened or gave no test frame
	ErrCameraOpen = errors.New("camera initialization failed")
	// ErrSourceExhausted means the source stopped producing frames while
	// running. The loop shuts down cleanly; callers treat it as a normal exit.
	ErrSourceExhausted = errors.New("frame source stopped producing frames")
)

const module = "loop"

// Config controls one streaming run
type Config struct {
	// Plugins run in slice order on every frame while enabled
	Plugins []Plugin
	// Toggleable allows keys 1-4 to switch plugins on and off
	Toggleable bool
	// SummaryInterval is the wall time between throughput summaries
	SummaryInterval time.Duration
	// DetectorSize scales the crop to this side before encoding; 0 keeps it
	DetectorSize int
	JPEGQuality  int
}

// Deps are the collaborators of a Loop. OpenSource and StartDetector are
// called during initialization, camera first.
type Deps struct {
	OpenSource    func(ctx context.Context) (camera.Source, error)
	StartDetector func(ctx context.Context) (Detector, error)
	Publisher     publish.Publisher
	// Keys delivers key presses; nil disables keyboard controls
	Keys    <-chan byte
	Metrics *metrics.Metrics
	Log     *logger.Logger
	// Status receives the 'i' snapshot and the final report
	Status io.Writer
}

// Loop drives the capture, detect and publish cycle on a single goroutine
type Loop struct {
	cfg  Config
	deps Deps

	phase    Phase
	state    State
	counters Counters
	started  time.Time

	lastSummary   time.Time
	summaryFrames int
	now           func() time.Time
}

func New(cfg Config, deps Deps) *Loop {
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = 5 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Log == nil {
		deps.Log = logger.Default()
	}
	if deps.Status == nil {
		deps.Status = io.Discard
	}

	kinds := make([]types.Kind, 0, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		kinds = append(kinds, p.Kind)
	}

	return &Loop{
		cfg:   cfg,
		deps:  deps,
		state: NewState(kinds...),
		now:   time.Now,
	}
}

func (l *Loop) Phase() Phase       { return l.phase }
func (l *Loop) Counters() Counters { return l.counters }
func (l *Loop) State() *State      { return &l.state }

// Run initializes the source and detector, then processes frames until the
// context is cancelled, 'q' is pressed, or the source stops. Camera, detector
// and publisher are released before Run returns, the publisher last.
// A nil error or ErrSourceExhausted is a graceful shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.phase = Initializing
	log := l.deps.Log

	defer func() {
		l.phase = ShuttingDown
		if cerr := l.deps.Publisher.Close(); cerr != nil {
			log.Warn(module, "closing socket: %v", cerr)
		}
		log.Info(module, "socket closed")
	}()

	src, err := l.deps.OpenSource(ctx)
	if err != nil {
		if l.interrupted(ctx) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCameraOpen, err)
	}
	defer func() {
		l.phase = ShuttingDown
		if cerr := src.Close(); cerr != nil {
			log.Warn(module, "closing camera: %v", cerr)
		}
		log.Info(module, "camera released")
	}()

	test, err := src.Read()
	if err != nil {
		if l.interrupted(ctx) {
			return nil
		}
		return fmt.Errorf("%w: test frame: %v", ErrCameraOpen, err)
	}
	log.Info(module, "camera ready: %dx%d", test.Width, test.Height)

	det, err := l.deps.StartDetector(ctx)
	if err != nil {
		if l.interrupted(ctx) {
			return nil
		}
		return fmt.Errorf("failed to start detector: %w", err)
	}
	defer func() {
		if cerr := det.Close(); cerr != nil {
			log.Debug(module, "detector exit: %v", cerr)
		}
	}()

	l.phase = Running
	l.started = l.now()
	l.lastSummary = l.started
	log.Info(module, "streaming %s to %s", l.state.String(), l.deps.Publisher.Addr())

	for {
		frame, rerr := src.Read()
		if rerr != nil {
			// Cancelling ctx kills a capture process, which ends its stream
			if l.interrupted(ctx) {
				l.report()
				return nil
			}
			log.Warn(module, "frame read failed after %d frames: %v", l.counters.Frames, rerr)
			l.report()
			return fmt.Errorf("%w: %v", ErrSourceExhausted, rerr)
		}

		if err := l.processFrame(ctx, det, frame); err != nil {
			l.report()
			return err
		}

		l.maybeSummary()

		if l.interrupted(ctx) {
			l.report()
			return nil
		}

		if l.pollKeys() {
			log.Info(module, "quit requested")
			l.report()
			return nil
		}
	}
}

func (l *Loop) interrupted(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	l.deps.Log.Info(module, "interrupted")
	return true
}

// processFrame runs every enabled plugin on one frame. Only a dead detector
// is returned as an error; everything else is logged and counted.
func (l *Loop) processFrame(ctx context.Context, det Detector, frame camera.Frame) error {
	start := l.now()
	l.counters.Frames++
	l.deps.Metrics.FramesRead.Add(1)

	cropped, crop, err := geometry.CropImage(frame.Image)
	if err != nil {
		l.deps.Log.Warn(module, "frame %d: %v", frame.Index, err)
		return nil
	}

	var encoded []byte
	for _, p := range l.cfg.Plugins {
		if !l.state.Enabled(p.Kind) {
			continue
		}
		if encoded == nil {
			if encoded, err = l.encode(cropped); err != nil {
				l.deps.Log.Warn(module, "frame %d: encode: %v", frame.Index, err)
				return nil
			}
		}

		recs, err := p.Run(ctx, det, encoded, crop, frame.CapturedAt)
		if err != nil {
			// An interrupt also kills the sidecar; the loop stops on ctx next
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, worker.ErrSidecarDied) {
				return err
			}
			l.counters.DetectorErrors++
			l.deps.Metrics.DetectorErrors.Add(1)
			l.deps.Log.Warn(module, "%s detection failed: %v", p.Kind, err)
			continue
		}

		if len(recs) > 0 {
			l.counters.addDetection(p.Kind)
			l.deps.Metrics.AddDetection(p.Kind)
		}
		for _, rec := range recs {
			l.send(rec)
		}
	}

	l.deps.Metrics.UpdateFrameLatency(l.now().Sub(start))
	return nil
}

func (l *Loop) encode(img image.Image) ([]byte, error) {
	if l.cfg.DetectorSize > 0 && img.Bounds().Dx() != l.cfg.DetectorSize {
		img = geometry.ScaleSquare(img, l.cfg.DetectorSize)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: l.cfg.JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l *Loop) send(rec message.Record) {
	n, err := l.deps.Publisher.Publish(rec)
	if err != nil {
		l.counters.SendErrors++
		l.deps.Metrics.SendErrors.Add(1)
		l.deps.Log.Warn(module, "send %s: %v", rec.Kind(), err)
		return
	}
	l.counters.RecordsSent++
	l.counters.BytesSent += n
	l.deps.Metrics.RecordsSent.Add(1)
	l.deps.Metrics.BytesSent.Add(uint64(n))
}

func (l *Loop) maybeSummary() {
	now := l.now()
	elapsed := now.Sub(l.lastSummary)
	if elapsed < l.cfg.SummaryInterval {
		return
	}

	frames := l.counters.Frames - l.summaryFrames
	fps := float64(frames) / elapsed.Seconds()
	l.deps.Log.Info(module, "📊 %.1f FPS | frames %d | %s", fps, l.counters.Frames, l.detectionSummary())

	l.lastSummary = now
	l.summaryFrames = l.counters.Frames
}

func (l *Loop) detectionSummary() string {
	var b bytes.Buffer
	for i, k := range types.AllKinds {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s %d", k, l.counters.Detections[k])
	}
	return b.String()
}

// pollKeys drains pending key presses without blocking and reports whether
// quit was requested
func (l *Loop) pollKeys() bool {
	if l.deps.Keys == nil {
		return false
	}
	for {
		select {
		case key, ok := <-l.deps.Keys:
			if !ok {
				l.deps.Keys = nil
				return false
			}
			if l.handleKey(key) {
				return true
			}
		default:
			return false
		}
	}
}

// handleKey applies one key press and reports whether it asks to quit.
// Ctrl+C arrives as a byte while the terminal is in raw mode.
func (l *Loop) handleKey(key byte) bool {
	switch key {
	case 'q', 'Q', ctrlC:
		return true
	case 'i', 'I':
		l.snapshot()
	case '1', '2', '3', '4':
		kind := types.Kind(key - '1')
		if !l.cfg.Toggleable {
			l.deps.Log.Info(module, "toggling %s is not available in this mode", kind)
			return false
		}
		if !l.hasPlugin(kind) {
			l.deps.Log.Info(module, "%s detection is not loaded", kind)
			return false
		}
		if l.state.Toggle(kind) {
			l.deps.Log.Info(module, "%s detection enabled", kind)
		} else {
			l.deps.Log.Info(module, "%s detection disabled", kind)
		}
	}
	return false
}

func (l *Loop) hasPlugin(k types.Kind) bool {
	for _, p := range l.cfg.Plugins {
		if p.Kind == k {
			return true
		}
	}
	return false
}

func (l *Loop) snapshot() {
	elapsed := l.now().Sub(l.started)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(l.counters.Frames) / elapsed.Seconds()
	}
	fmt.Fprintf(l.deps.Status, "ℹ️  %s | up %s | frames %d (%.1f FPS avg)\n", l.phase, elapsed.Round(time.Second), l.counters.Frames, fps)
	fmt.Fprintf(l.deps.Status, "   enabled: %s\n", l.state.String())
	fmt.Fprintf(l.deps.Status, "   detections: %s\n", l.detectionSummary())
	fmt.Fprintf(l.deps.Status, "   sent %d records (%d bytes), %d send errors, %d detector errors\n",
		l.counters.RecordsSent, l.counters.BytesSent, l.counters.SendErrors, l.counters.DetectorErrors)
}

// report prints the final statistics
func (l *Loop) report() {
	fmt.Fprintf(l.deps.Status, "🏁 Stopping after %d frames\n", l.counters.Frames)
	l.snapshot()
}

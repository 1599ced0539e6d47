package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/sonifyv1/posebridge/internal/utils" // Using the SafeCommand wrapper
)

// Response status bytes written by the sidecar
const (
	statusOK    byte = 0
	statusError byte = 1
	// statusReady is sent once, after every model has loaded
	statusReady byte = 2
)

// maxResponse bounds a single response body; a full face mesh plus a 256x256
// float mask fits comfortably
const maxResponse = 64 << 20

// ErrWorker marks an error the sidecar reported for one call. The sidecar
// itself is still healthy and can take the next frame.
var ErrWorker = errors.New("python worker error")

// ErrSidecarDied means the exchange itself failed: the process exited, was
// killed by the read timeout, or closed its pipes. No further calls can work.
var ErrSidecarDied = errors.New("detector sidecar died")

// Config controls how the detection sidecar is launched
type Config struct {
	Python string
	Script string
	// Models lists the detection types to load at startup
	Models                 []types.Kind
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
	MaxPeople              int
	// ReadTimeout bounds one request/response exchange; the sidecar is killed
	// when it is exceeded
	ReadTimeout time.Duration
	// StartupTimeout bounds the wait for the ready frame, which covers the
	// Python imports and model loading
	StartupTimeout time.Duration
}

// StartupError is returned when the sidecar never became ready. Cmd holds the
// exited process so its stderr can be shown.
type StartupError struct {
	Err error
	Cmd *utils.SafeCommand
}

func (e *StartupError) Error() string { return "detector sidecar failed to start: " + e.Err.Error() }
func (e *StartupError) Unwrap() error { return e.Err }

// DefaultConfig mirrors the tracking settings the servers have always used
func DefaultConfig() Config {
	return Config{
		Python:                 "python3",
		Script:                 "python/detector.py",
		Models:                 types.AllKinds,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.7,
		MaxPeople:              1,
		ReadTimeout:            5 * time.Second,
		StartupTimeout:         60 * time.Second,
	}
}

// Args returns the sidecar command line after the interpreter
func (c Config) Args() []string {
	models := make([]string, len(c.Models))
	for i, k := range c.Models {
		models[i] = k.String()
	}

	return []string{"-u", c.Script,
		"--models", strings.Join(models, ","),
		"--min-detection-confidence", fmt.Sprintf("%g", c.MinDetectionConfidence),
		"--min-tracking-confidence", fmt.Sprintf("%g", c.MinTrackingConfidence),
		"--max-people", fmt.Sprintf("%d", c.MaxPeople),
	}
}

// PythonWorker hosts the detection models in a Python process. Requests go
// over stdin, responses come back over a side pipe so that library chatter on
// stdout cannot corrupt the protocol.
type PythonWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout   time.Duration
	closeOnce sync.Once
}

func NewPythonWorker(ctx context.Context, cfg Config) (*PythonWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, cfg.Args()...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("detector sidecar failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}

	if err := pw.WaitReady(cfg.StartupTimeout); err != nil {
		pw.Close() // Reap the process so its stderr is complete
		return nil, &StartupError{Err: err, Cmd: py}
	}
	return pw, nil
}

// WaitReady blocks until the sidecar reports that its models are loaded.
// Response: [Status:2][JSON model list] or [Status:1][MsgLen][Msg].
func (w *PythonWorker) WaitReady(timeout time.Duration) error {
	defer w.killAfter(timeout)()

	resp, err := w.readFrame()
	if err != nil {
		return fmt.Errorf("%w before ready: %v", ErrSidecarDied, err)
	}
	if len(resp) == 0 {
		return fmt.Errorf("%w: empty ready frame", ErrWorker)
	}

	switch resp[0] {
	case statusReady:
		return nil
	case statusError:
		return decodeError(resp)
	default:
		return fmt.Errorf("%w: expected ready frame, got status byte %d", ErrWorker, resp[0])
	}
}

// killAfter kills the process if the returned stop func is not called within d
func (w *PythonWorker) killAfter(d time.Duration) (stop func()) {
	if d <= 0 || w.Cmd == nil || w.Cmd.Process == nil {
		return func() {}
	}
	timer := time.AfterFunc(d, func() { w.Cmd.Process.Kill() })
	return func() { timer.Stop() }
}

// Communicate performs one framed exchange.
// Protocol: [Length][Data] in both directions, Length is a big-endian uint32.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	defer w.killAfter(w.timeout)()

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	return w.readFrame()
}

func (w *PythonWorker) readFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import error or a killed sidecar
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect runs one detection type on a JPEG encoded image.
// Request: [Kind][JPEG]. Response: [Status:0][JSON] or [Status:1][MsgLen][Msg].
func (w *PythonWorker) Detect(ctx context.Context, kind types.Kind, img []byte) (*types.DetectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := make([]byte, 0, len(img)+1)
	req = append(req, byte(kind))
	req = append(req, img...)

	resp, err := w.Communicate(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSidecarDied, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrWorker)
	}

	switch resp[0] {
	case statusOK:
		var res types.DetectResult
		if err := json.Unmarshal(resp[1:], &res); err != nil {
			return nil, fmt.Errorf("%w: malformed %s result: %v", ErrWorker, kind, err)
		}
		return &res, nil
	case statusError:
		return nil, decodeError(resp)
	default:
		return nil, fmt.Errorf("%w: unknown status byte %d", ErrWorker, resp[0])
	}
}

// decodeError unpacks [Status:1][MsgLen][Msg]
func decodeError(resp []byte) error {
	if len(resp) < 5 {
		return fmt.Errorf("%w: truncated error response", ErrWorker)
	}
	msgLen := binary.BigEndian.Uint32(resp[1:5])
	if int(msgLen) > len(resp)-5 {
		return fmt.Errorf("%w: truncated error response", ErrWorker)
	}
	return fmt.Errorf("%w: %s", ErrWorker, resp[5:5+msgLen])
}

// Close shuts the sidecar down by closing its stdin and waits for it to exit
func (w *PythonWorker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			err = w.Cmd.Wait()
		}
	})
	return err
}

package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/sonifyv1/posebridge/internal/utils"
)

const megabyte = 1024 * 1024

// StreamSource decodes a stream of concatenated JPEG images, such as the
// MJPEG pipe produced by ffmpeg
type StreamSource struct {
	r       io.ReadCloser
	scanner *bufio.Scanner
	index   int

	cmd    *exec.Cmd
	stderr *utils.SyncBuffer

	closeOnce sync.Once
	closeErr  error
}

// NewStreamSource reads frames from r. Closing the source closes r.
func NewStreamSource(r io.ReadCloser) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &StreamSource{r: r, scanner: scanner}
}

// OpenFFmpeg starts ffmpeg on cfg.Input (or the platform camera for cfg.Device)
// and reads its MJPEG output
func OpenFFmpeg(ctx context.Context, cfg Config) (*StreamSource, error) {
	args := captureArgs(cfg)
	ffmpeg := utils.NewFFmpegCaptureCmd(ctx, args)

	stderrBuf := &utils.SyncBuffer{}
	ffmpeg.Stderr = stderrBuf

	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := NewStreamSource(out)
	s.cmd = ffmpeg
	s.stderr = stderrBuf
	return s, nil
}

func captureArgs(cfg Config) utils.CaptureArgs {
	a := utils.CaptureArgs{
		Input:  cfg.Input,
		Format: cfg.Format,
		Width:  cfg.Width,
		Height: cfg.Height,
		FPS:    cfg.FPS,
	}
	if a.Input != "" {
		// Files are paced at their native rate so they behave like a camera
		if a.Format == "" && !strings.Contains(a.Input, "://") && !strings.HasPrefix(a.Input, "/dev/") {
			a.Realtime = true
			a.Width, a.Height, a.FPS = 0, 0, 0
		}
		return a
	}

	switch runtime.GOOS {
	case "darwin":
		a.Format = "avfoundation"
		a.Input = fmt.Sprintf("%d", cfg.Device)
	case "windows":
		a.Format = "dshow"
		a.Input = "video=" + fmt.Sprint(cfg.Device)
	default:
		a.Format = "v4l2"
		a.Input = fmt.Sprintf("/dev/video%d", cfg.Device)
	}
	return a
}

func (s *StreamSource) Read() (Frame, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
		if s.stderr != nil && s.stderr.Len() > 0 {
			return Frame{}, fmt.Errorf("%w: %s", ErrNoFrame, strings.TrimSpace(s.stderr.String()))
		}
		return Frame{}, ErrNoFrame
	}

	img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame %d: %w", s.index, err)
	}

	f := newFrame(img, s.index)
	s.index++
	return f, nil
}

// Close stops the stream and reaps ffmpeg if it was started here
func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.r.Close()
		if s.cmd != nil {
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			// A killed ffmpeg always exits non-zero
			var exitErr *exec.ExitError
			if err := s.cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
				s.closeErr = errors.Join(s.closeErr, err)
			}
		}
	})
	return s.closeErr
}

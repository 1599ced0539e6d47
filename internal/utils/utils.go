package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if the sidecar dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *SyncBuffer
}

// SyncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
// exec copies a child's stderr from its own goroutine while the process runs.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *SyncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &SyncBuffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps sidecar logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 POSEBRIDGE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSIDECAR LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit status 1
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Frame Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureArgs describes an ffmpeg input for live capture
type CaptureArgs struct {
	// Input is a device path, file or URL ("/dev/video0", "0" on avfoundation, "clip.mp4")
	Input string
	// Format is passed as -f before the input when set (v4l2, avfoundation, dshow)
	Format string
	Width  int
	Height int
	FPS    int
	// Realtime paces file inputs at their native frame rate
	Realtime bool
}

// NewFFmpegCaptureCmd creates a decoder pipe for a camera or file
// It configures FFmpeg to output raw MJPEG frames to Stdout for ingestion.
func NewFFmpegCaptureCmd(ctx context.Context, a CaptureArgs) *exec.Cmd {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if a.Realtime {
		args = append(args, "-re")
	}
	if a.Format != "" {
		args = append(args, "-f", a.Format)
		// Device demuxers take the capture mode as input options
		if a.Width > 0 && a.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", a.Width, a.Height))
		}
		if a.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(a.FPS))
		}
	}
	args = append(args, "-i", a.Input, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-")
	return exec.CommandContext(ctx, "ffmpeg", args...)
}

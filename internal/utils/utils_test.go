package utils

import (
	"bufio"
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegBackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, append([]byte(nil), scanner.Bytes()...))
	}

	if len(frames) != 2 || !bytes.Equal(frames[0], a) || !bytes.Equal(frames[1], b) {
		t.Errorf("Expected two frames %X and %X, got %X", a, b, frames)
	}
}

func TestNewFFmpegCaptureCmd(t *testing.T) {
	cmd := NewFFmpegCaptureCmd(context.Background(), CaptureArgs{
		Input:  "/dev/video0",
		Format: "v4l2",
		Width:  640,
		Height: 480,
		FPS:    30,
	})

	want := []string{"ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "v4l2",
		"-video_size", "640x480", "-framerate", "30",
		"-i", "/dev/video0", "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-"}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("Args = %q, want %q", cmd.Args, want)
	}

	file := NewFFmpegCaptureCmd(context.Background(), CaptureArgs{Input: "clip.mp4", Realtime: true})
	if !slices.Contains(file.Args, "-re") || slices.Contains(file.Args, "-video_size") {
		t.Errorf("unexpected file args %q", file.Args)
	}
}

func TestSyncBufferConcurrentAccess(t *testing.T) {
	var buf SyncBuffer
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			buf.Write([]byte("x"))
		}
	}()

	// Readers poll while the writer is still running
	for i := 0; i < 1000; i++ {
		_ = buf.Len()
		_ = buf.String()
	}
	wg.Wait()

	if buf.Len() != 1000 || buf.String() != strings.Repeat("x", 1000) {
		t.Errorf("Expected 1000 bytes, got %d", buf.Len())
	}
}

func TestNewSafeCommandCapturesStderr(t *testing.T) {
	s := NewSafeCommand(context.Background(), "sh", "-c", "echo boom >&2")
	if s.Cmd.Stderr != s.Stderr {
		t.Fatal("Expected the command to write stderr into the SafeCommand buffer")
	}
	if err := s.Run(); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	if got := strings.TrimSpace(s.Stderr.String()); got != "boom" {
		t.Errorf("Stderr = %q, want %q", got, "boom")
	}
}

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrNoFrame is returned by Read when the device or stream produced nothing
var ErrNoFrame = errors.New("no frame available")

// Frame is one captured image. It belongs to the caller until the next Read.
type Frame struct {
	Image      image.Image
	Width      int
	Height     int
	CapturedAt time.Time
	Index      int
}

// Source produces frames from a camera or stream
type Source interface {
	Read() (Frame, error)
	Close() error
}

// Backend names a Source implementation
type Backend string

const (
	BackendGoCV   Backend = "gocv"
	BackendFFmpeg Backend = "ffmpeg"
)

// Config describes the device to open and the capture mode to request
type Config struct {
	Backend Backend
	// Device is the camera index used by the gocv backend
	Device int
	// Input is the ffmpeg input (file, URL or device path). When empty the
	// platform default for Device is used.
	Input string
	// Format is the ffmpeg input format (e.g. v4l2, avfoundation)
	Format string
	Width  int
	Height int
	FPS    int
}

// DefaultConfig requests the 640x480@30 mode both servers use
func DefaultConfig() Config {
	return Config{
		Backend: BackendGoCV,
		Width:   640,
		Height:  480,
		FPS:     30,
	}
}

// Open creates the Source selected by cfg.Backend
func Open(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Backend {
	case BackendGoCV, "":
		return OpenDevice(cfg)
	case BackendFFmpeg:
		return OpenFFmpeg(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown frame source %q (want gocv or ffmpeg)", cfg.Backend)
	}
}

func newFrame(img image.Image, index int) Frame {
	b := img.Bounds()
	return Frame{
		Image:      img,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
		Index:      index,
	}
}

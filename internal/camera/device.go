package camera

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// DeviceSource reads from a local camera through OpenCV
type DeviceSource struct {
	cap   *gocv.VideoCapture
	mat   gocv.Mat
	index int

	closeOnce sync.Once
	closeErr  error
}

// OpenDevice opens camera cfg.Device and requests the configured mode.
// The driver may pick a different mode; frames report their real size.
func OpenDevice(cfg Config) (*DeviceSource, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %d is not available", cfg.Device)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	return &DeviceSource{cap: vc, mat: gocv.NewMat()}, nil
}

// Mode reports the resolution and frame rate the driver settled on
func (d *DeviceSource) Mode() (width, height int, fps float64) {
	return int(d.cap.Get(gocv.VideoCaptureFrameWidth)),
		int(d.cap.Get(gocv.VideoCaptureFrameHeight)),
		d.cap.Get(gocv.VideoCaptureFPS)
}

func (d *DeviceSource) Read() (Frame, error) {
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return Frame{}, ErrNoFrame
	}

	img, err := d.mat.ToImage()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to convert frame: %w", err)
	}

	f := newFrame(img, d.index)
	d.index++
	return f, nil
}

// Close releases the device. Safe to call more than once.
func (d *DeviceSource) Close() error {
	d.closeOnce.Do(func() {
		d.mat.Close()
		d.closeErr = d.cap.Close()
	})
	return d.closeErr
}

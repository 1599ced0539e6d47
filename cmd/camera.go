package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sonifyv1/posebridge/internal/camera"
	"github.com/sonifyv1/posebridge/internal/geometry"
	"github.com/spf13/cobra"
)

var (
	camTestOpts  StreamOptions
	camTestCount int
	camProbeMax  int
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Camera smoke tests",
}

var cameraTestCmd = &cobra.Command{
	Use:          "test",
	Short:        "Open the camera and read a number of frames",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if camTestCount < 1 {
			return fmt.Errorf("invalid frame count: must be >= 1, got %d", camTestCount)
		}

		if camTestOpts.Input != "" {
			camTestOpts.Source = string(camera.BackendFFmpeg)
		}
		cfg := camTestOpts.cameraConfig()
		fmt.Fprintf(os.Stderr, "📷 Opening %s (%s)...\n", camTestOpts.sourceLabel(), cfg.Backend)

		src, err := camera.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer src.Close()

		res, err := readFrames(src, camTestCount)
		if err != nil {
			return err
		}

		crop, _ := geometry.Crop(res.Width, res.Height)
		fmt.Printf("✅ Read %d frames at %dx%d (%.1f FPS)\n", res.Frames, res.Width, res.Height, res.FPS)
		fmt.Printf("   square crop: %dx%d at offset (%d,%d)\n", crop.Size, crop.Size, crop.OffsetX, crop.OffsetY)
		return nil
	},
}

var cameraProbeCmd = &cobra.Command{
	Use:          "probe",
	Short:        "Try camera indices and report which ones deliver frames",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		found := 0
		for id := 0; id < camProbeMax; id++ {
			cfg := camera.DefaultConfig()
			cfg.Device = id

			src, err := camera.OpenDevice(cfg)
			if err != nil {
				fmt.Printf("❌ camera %d: not available\n", id)
				continue
			}

			f, err := src.Read()
			w, h, fps := src.Mode()
			src.Close()
			if err != nil {
				fmt.Printf("⚠️  camera %d: opened but no frame (%v)\n", id, err)
				continue
			}

			found++
			fmt.Printf("✅ camera %d: %dx%d frames, driver mode %dx%d @ %.0f FPS\n", id, f.Width, f.Height, w, h, fps)
		}

		if found == 0 {
			return errors.New("no working camera found")
		}
		return nil
	},
}

func init() {
	f := cameraTestCmd.Flags()
	f.IntVarP(&camTestOpts.Camera, "camera", "c", 0, "Camera device index")
	f.StringVar(&camTestOpts.Source, "source", string(camera.BackendGoCV), "Frame source: gocv or ffmpeg")
	f.StringVar(&camTestOpts.Input, "input", "", "ffmpeg input (file, URL or device)")
	f.StringVar(&camTestOpts.Format, "format", "", "ffmpeg input format")
	f.IntVar(&camTestOpts.Width, "width", 640, "Requested capture width")
	f.IntVar(&camTestOpts.Height, "height", 480, "Requested capture height")
	f.IntVar(&camTestOpts.FPS, "fps", 30, "Requested capture frame rate")
	f.IntVarP(&camTestCount, "frames", "n", 30, "Number of frames to read")

	cameraProbeCmd.Flags().IntVar(&camProbeMax, "max", 5, "Number of camera indices to try")

	cameraCmd.AddCommand(cameraTestCmd, cameraProbeCmd)
	rootCmd.AddCommand(cameraCmd)
}

type readResult struct {
	Frames int
	Width  int
	Height int
	FPS    float64
}

// readFrames reads n frames from src with a progress bar and measures the rate
func readFrames(src camera.Source, n int) (readResult, error) {
	bar := progressbar.NewOptions(n,
		progressbar.OptionSetDescription("📷 Reading frames"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var res readResult
	start := time.Now()
	for i := 0; i < n; i++ {
		f, err := src.Read()
		if err != nil {
			bar.Exit()
			fmt.Fprintln(os.Stderr)
			return res, fmt.Errorf("frame %d of %d: %w", i+1, n, err)
		}
		res.Frames++
		res.Width, res.Height = f.Width, f.Height
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if elapsed := time.Since(start); elapsed > 0 {
		res.FPS = float64(res.Frames) / elapsed.Seconds()
	}
	return res, nil
}

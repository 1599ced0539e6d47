package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sonifyv1/posebridge/internal/camera"
	"github.com/sonifyv1/posebridge/internal/publish"
	"github.com/sonifyv1/posebridge/internal/utils"
	"github.com/spf13/cobra"
)

var (
	doctorPython string
	doctorScript string
	doctorCamera int
	doctorNoCam  bool
)

var doctorCmd = &cobra.Command{
	Use:          "doctor",
	Short:        "Check that the detection environment is usable",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := []check{
			{"python", func(ctx context.Context) (string, error) {
				return runOutput(ctx, doctorPython, "--version")
			}},
			{"mediapipe", pythonImport(doctorPython, "mediapipe")},
			{"opencv (cv2)", pythonImport(doctorPython, "cv2")},
			{"numpy", pythonImport(doctorPython, "numpy")},
			{"sidecar script", func(context.Context) (string, error) {
				if _, err := os.Stat(doctorScript); err != nil {
					return "", err
				}
				return doctorScript, nil
			}},
			{"ffmpeg", func(ctx context.Context) (string, error) {
				out, err := runOutput(ctx, "ffmpeg", "-hide_banner", "-version")
				if err != nil {
					return "", err
				}
				return strings.SplitN(out, "\n", 2)[0], nil
			}},
			{"udp socket", func(context.Context) (string, error) {
				p, err := publish.Dial("127.0.0.1", 8888)
				if err != nil {
					return "", err
				}
				defer p.Close()
				return p.Addr(), nil
			}},
		}
		if !doctorNoCam {
			checks = append(checks, check{fmt.Sprintf("camera %d", doctorCamera), func(context.Context) (string, error) {
				cfg := camera.DefaultConfig()
				cfg.Device = doctorCamera
				src, err := camera.OpenDevice(cfg)
				if err != nil {
					return "", err
				}
				defer src.Close()
				f, err := src.Read()
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%dx%d", f.Width, f.Height), nil
			}})
		}

		if failed := runChecks(cmd.Context(), os.Stdout, checks); failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(checks))
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorPython, "python", "python3", "Python interpreter used for the detector sidecar")
	doctorCmd.Flags().StringVar(&doctorScript, "worker-script", "python/detector.py", "Path to the detector sidecar script")
	doctorCmd.Flags().IntVarP(&doctorCamera, "camera", "c", 0, "Camera device index to test")
	doctorCmd.Flags().BoolVar(&doctorNoCam, "skip-camera", false, "Do not open the camera")
	rootCmd.AddCommand(doctorCmd)
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// runChecks runs every check, printing one pass/fail line each, and returns
// the number of failures
func runChecks(ctx context.Context, w io.Writer, checks []check) int {
	failed := 0
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		detail, err := c.run(cctx)
		cancel()

		if err != nil {
			failed++
			fmt.Fprintf(w, "❌ %-16s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "✅ %-16s %s\n", c.name, detail)
	}

	if failed == 0 {
		fmt.Fprintf(w, "\n✨ All %d checks passed\n", len(checks))
	} else {
		fmt.Fprintf(w, "\n🚨 %d of %d checks failed\n", failed, len(checks))
	}
	return failed
}

func pythonImport(python, module string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		script := fmt.Sprintf("import %s; print(getattr(%s, '__version__', 'ok'))", module, module)
		return runOutput(ctx, python, "-c", script)
	}
}

// runOutput runs a command and returns its trimmed stdout. On failure the
// last line of stderr is returned as the error.
func runOutput(ctx context.Context, name string, args ...string) (string, error) {
	if _, err := exec.LookPath(name); err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}

	c := utils.NewSafeCommand(ctx, name, args...)
	out, err := c.Output()
	if err != nil {
		lines := strings.Split(strings.TrimSpace(c.Stderr.String()), "\n")
		if last := lines[len(lines)-1]; last != "" {
			return "", errors.New(last)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

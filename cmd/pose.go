package cmd

import (
	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/spf13/cobra"
)

var poseOpts StreamOptions

var poseCmd = &cobra.Command{
	Use:   "pose",
	Short: "Stream body pose landmarks (default port 8080)",
	Long: `Captures frames, crops them to a centered square, runs pose detection and
sends one JSON record per frame with at least one visible landmark. Coordinates
are mapped into a fixed 640x640 space.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStream(cmd.Context(), "pose", []types.Kind{types.KindPose}, false, poseOpts)
	},
}

func init() {
	addStreamFlags(poseCmd, &poseOpts, 8080)
	rootCmd.AddCommand(poseCmd)
}

package cmd

import (
	"github.com/sonifyv1/posebridge/internal/types"
	"github.com/spf13/cobra"
)

var (
	multiOpts StreamOptions

	enablePose         bool
	enableHands        bool
	enableFace         bool
	enableSegmentation bool
)

var multiCmd = &cobra.Command{
	Use:   "multi",
	Short: "Stream pose, hands, face and segmentation (default port 8888)",
	Long: `Runs every enabled detection type on each frame, in the order pose, hands,
face, segmentation, and sends one record per type that detected something.
Keys 1-4 toggle the types while streaming.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStream(cmd.Context(), "multi", multiKinds(enablePose, enableHands, enableFace, enableSegmentation), true, multiOpts)
	},
}

func init() {
	addStreamFlags(multiCmd, &multiOpts, 8888)
	multiCmd.Flags().BoolVar(&enablePose, "enable-pose", true, "Enable pose detection")
	multiCmd.Flags().BoolVar(&enableHands, "enable-hands", true, "Enable hand detection")
	multiCmd.Flags().BoolVar(&enableFace, "enable-face", true, "Enable face detection")
	multiCmd.Flags().BoolVar(&enableSegmentation, "enable-segmentation", true, "Enable person segmentation")
	rootCmd.AddCommand(multiCmd)
}

func multiKinds(pose, hands, face, segmentation bool) []types.Kind {
	var kinds []types.Kind
	for i, on := range []bool{pose, hands, face, segmentation} {
		if on {
			kinds = append(kinds, types.AllKinds[i])
		}
	}
	return kinds
}

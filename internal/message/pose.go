package message

import (
	"fmt"
	"time"

	"github.com/sonifyv1/posebridge/internal/geometry"
	"github.com/sonifyv1/posebridge/internal/types"
)

const (
	// PoseInclusionFloor is the visibility a landmark must exceed to be sent
	PoseInclusionFloor = 0.1
	// VisibleThreshold is the visibility above which a landmark is flagged visible
	VisibleThreshold = 0.5
	// PoseLandmarkCount is the number of landmarks in the body model
	PoseLandmarkCount = 33
)

var jointNames = [PoseLandmarkCount]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// JointName returns the human-readable name of a pose landmark id
func JointName(id int) string {
	if id >= 0 && id < len(jointNames) {
		return jointNames[id]
	}
	return fmt.Sprintf("joint_%d", id)
}

// FormatPose builds the pose record for one frame. It returns nil when the
// detector found no body or no landmark cleared the inclusion floor.
func FormatPose(res *types.PoseResult, crop geometry.CropContext, at time.Time) *PoseRecord {
	if res == nil || len(res.Landmarks) == 0 {
		return nil
	}

	landmarks := make([]PoseLandmark, 0, len(res.Landmarks))
	var sum float64

	for id, lm := range res.Landmarks {
		if lm.Visibility <= PoseInclusionFloor {
			continue
		}

		p := crop.Map(lm.X, lm.Y, lm.Z)
		landmarks = append(landmarks, PoseLandmark{
			ID:         id,
			X:          p.X,
			Y:          p.Y,
			Z:          p.Z,
			Confidence: lm.Visibility,
			Visibility: lm.Visibility > VisibleThreshold,
			JointName:  JointName(id),
		})
		sum += lm.Visibility
	}

	if len(landmarks) == 0 {
		return nil
	}

	return &PoseRecord{
		DetectionType: types.KindPose.String(),
		Timestamp:     Timestamp(at),
		FrameSize:     FrameSize{Width: geometry.OutputSize, Height: geometry.OutputSize},
		Poses: []Person{{
			PersonID:   0,
			Confidence: sum / float64(len(landmarks)),
			Landmarks:  landmarks,
		}},
	}
}

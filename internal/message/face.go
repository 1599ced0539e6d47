package message

import (
	"time"

	"github.com/sonifyv1/posebridge/internal/geometry"
	"github.com/sonifyv1/posebridge/internal/types"
)

// FaceConfidence is reported for every face; the face mesh model gives no
// per-face score once a face is being tracked
const FaceConfidence = 0.9

// faceKeyLandmarks is the subset of the 468 point face mesh that is sent:
// oval outline, eye corners and lids, nose bridge and tip, mouth outline.
var faceKeyLandmarks = []int{
	// oval
	10, 338, 297, 284, 389, 454, 323, 361, 397, 378, 152, 176, 150, 172, 132, 93, 162, 21, 54, 67,
	// left eye
	33, 133, 159, 145,
	// right eye
	362, 263, 386, 374,
	// nose
	1, 2, 19, 94,
	// mouth
	61, 291, 13, 14, 12, 15,
}

// FaceKeyLandmarks returns a copy of the curated face landmark indices
func FaceKeyLandmarks() []int {
	return append([]int(nil), faceKeyLandmarks...)
}

// FormatFaces builds the face record for one frame, or nil if no face
// produced any of the curated landmarks
func FormatFaces(faces []types.FaceResult, crop geometry.CropContext, at time.Time) *FaceRecord {
	out := make([]Face, 0, len(faces))

	for idx, f := range faces {
		landmarks := make([][3]float64, 0, len(faceKeyLandmarks))
		for _, i := range faceKeyLandmarks {
			if i >= len(f.Landmarks) {
				continue
			}
			lm := f.Landmarks[i]
			landmarks = append(landmarks, crop.Map(lm.X, lm.Y, lm.Z).Triple())
		}

		if len(landmarks) == 0 {
			continue
		}

		out = append(out, Face{
			FaceID:     idx,
			Confidence: FaceConfidence,
			Landmarks:  landmarks,
		})
	}

	if len(out) == 0 {
		return nil
	}

	return &FaceRecord{
		DetectionType: types.KindFace.String(),
		Timestamp:     Timestamp(at),
		Faces:         out,
	}
}

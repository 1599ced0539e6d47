package message

import (
	"time"

	"github.com/sonifyv1/posebridge/internal/geometry"
	"github.com/sonifyv1/posebridge/internal/types"
)

// FormatHands builds the hands record for one frame, or nil if no hand
// carried any landmarks
func FormatHands(hands []types.HandResult, crop geometry.CropContext, at time.Time) *HandsRecord {
	out := make([]Hand, 0, len(hands))

	for idx, h := range hands {
		if len(h.Landmarks) == 0 {
			continue
		}

		out = append(out, Hand{
			HandID:     idx,
			Handedness: h.Handedness,
			Confidence: h.Score,
			Landmarks:  mapTriples(h.Landmarks, crop),
		})
	}

	if len(out) == 0 {
		return nil
	}

	return &HandsRecord{
		DetectionType: types.KindHands.String(),
		Timestamp:     Timestamp(at),
		Hands:         out,
	}
}

func mapTriples(lms []types.RawLandmark, crop geometry.CropContext) [][3]float64 {
	out := make([][3]float64, len(lms))
	for i, lm := range lms {
		out[i] = crop.Map(lm.X, lm.Y, lm.Z).Triple()
	}
	return out
}

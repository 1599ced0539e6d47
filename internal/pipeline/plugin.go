package pipeline

import (
	"context"
	"time"

	"github.com/sonifyv1/posebridge/internal/geometry"
	"github.com/sonifyv1/posebridge/internal/message"
	"github.com/sonifyv1/posebridge/internal/types"
)

// Detector is the detection capability the loop depends on. The image is a
// JPEG encoded square crop; a nil result or empty fields mean nothing was found.
type Detector interface {
	Detect(ctx context.Context, kind types.Kind, img []byte) (*types.DetectResult, error)
	Close() error
}

// Plugin turns one detection type's result into records
type Plugin struct {
	Kind   types.Kind
	Format func(res *types.DetectResult, crop geometry.CropContext, at time.Time) ([]message.Record, error)
}

// Run asks det for p.Kind on img and formats the result. Zero records means
// nothing worth sending was detected.
func (p Plugin) Run(ctx context.Context, det Detector, img []byte, crop geometry.CropContext, at time.Time) ([]message.Record, error) {
	res, err := det.Detect(ctx, p.Kind, img)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return p.Format(res, crop, at)
}

func PosePlugin() Plugin {
	return Plugin{Kind: types.KindPose, Format: func(res *types.DetectResult, crop geometry.CropContext, at time.Time) ([]message.Record, error) {
		if rec := message.FormatPose(res.Pose, crop, at); rec != nil {
			return []message.Record{rec}, nil
		}
		return nil, nil
	}}
}

func HandsPlugin() Plugin {
	return Plugin{Kind: types.KindHands, Format: func(res *types.DetectResult, crop geometry.CropContext, at time.Time) ([]message.Record, error) {
		if rec := message.FormatHands(res.Hands, crop, at); rec != nil {
			return []message.Record{rec}, nil
		}
		return nil, nil
	}}
}

func FacePlugin() Plugin {
	return Plugin{Kind: types.KindFace, Format: func(res *types.DetectResult, crop geometry.CropContext, at time.Time) ([]message.Record, error) {
		if rec := message.FormatFaces(res.Faces, crop, at); rec != nil {
			return []message.Record{rec}, nil
		}
		return nil, nil
	}}
}

// SegmentationPlugin ignores the crop: the mask is published in its own
// normalized grid
func SegmentationPlugin() Plugin {
	return Plugin{Kind: types.KindSegmentation, Format: func(res *types.DetectResult, _ geometry.CropContext, at time.Time) ([]message.Record, error) {
		rec, err := message.FormatMask(res.Mask, at)
		if err != nil || rec == nil {
			return nil, err
		}
		return []message.Record{rec}, nil
	}}
}

// Plugins returns the plugins for kinds, in the fixed pose, hands, face,
// segmentation order regardless of the order given
func Plugins(kinds ...types.Kind) []Plugin {
	want := make(map[types.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	all := []Plugin{PosePlugin(), HandsPlugin(), FacePlugin(), SegmentationPlugin()}
	out := make([]Plugin, 0, len(all))
	for _, p := range all {
		if want[p.Kind] {
			out = append(out, p)
		}
	}
	return out
}

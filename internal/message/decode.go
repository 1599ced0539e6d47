package message

import (
	"encoding/json"
	"fmt"

	"github.com/sonifyv1/posebridge/internal/types"
)

// Decode parses one datagram payload back into its record type. Pose records
// without a detection_type field, as sent by older pose-only servers, are
// accepted as pose.
func Decode(payload []byte) (Record, error) {
	var head struct {
		DetectionType string          `json:"detection_type"`
		Poses         json.RawMessage `json:"poses"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}

	kind := head.DetectionType
	if kind == "" && head.Poses != nil {
		kind = types.KindPose.String()
	}

	k, err := types.ParseKind(kind)
	if err != nil {
		return nil, err
	}

	var rec Record
	switch k {
	case types.KindPose:
		rec = &PoseRecord{}
	case types.KindHands:
		rec = &HandsRecord{}
	case types.KindFace:
		rec = &FaceRecord{}
	case types.KindSegmentation:
		rec = &SegmentationRecord{}
	}

	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("malformed %s record: %w", k, err)
	}

	return rec, nil
}

// Summary returns a one line description of a record for operator output
func Summary(rec Record) string {
	switch r := rec.(type) {
	case *PoseRecord:
		n := 0
		for _, p := range r.Poses {
			n += len(p.Landmarks)
		}
		return fmt.Sprintf("pose: %d people, %d landmarks", len(r.Poses), n)
	case *HandsRecord:
		return fmt.Sprintf("hands: %d hands", len(r.Hands))
	case *FaceRecord:
		n := 0
		for _, f := range r.Faces {
			n += len(f.Landmarks)
		}
		return fmt.Sprintf("face: %d faces, %d landmarks", len(r.Faces), n)
	case *SegmentationRecord:
		return fmt.Sprintf("segmentation: %dx%d mask, %d values", r.Mask.Width, r.Mask.Height, len(r.Mask.Data))
	default:
		return "unknown record"
	}
}

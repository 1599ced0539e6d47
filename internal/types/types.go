package types

import "fmt"

// Kind identifies one of the detection types the sidecar can run
type Kind uint8

const (
	KindPose Kind = iota
	KindHands
	KindFace
	KindSegmentation
)

// AllKinds lists every detection type in the order the frame loop runs them
var AllKinds = []Kind{KindPose, KindHands, KindFace, KindSegmentation}

// String returns the wire name used in the "detection_type" field
func (k Kind) String() string {
	switch k {
	case KindPose:
		return "pose"
	case KindHands:
		return "hands"
	case KindFace:
		return "face"
	case KindSegmentation:
		return "segmentation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown detection type %q", s)
}

// RawLandmark is a normalized crop-space landmark as reported by the detector.
// X and Y are in [0,1] for points inside the crop, Z is relative depth.
type RawLandmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// PoseResult holds the landmarks of the single tracked body
type PoseResult struct {
	Landmarks []RawLandmark `json:"landmarks"`
}

// HandResult holds one detected hand and its classification
type HandResult struct {
	Handedness string        `json:"handedness"` // "Left" or "Right"
	Score      float64       `json:"score"`
	Landmarks  []RawLandmark `json:"landmarks"`
}

// FaceResult holds the full face mesh of one face
type FaceResult struct {
	Landmarks []RawLandmark `json:"landmarks"`
}

// MaskResult is a per-pixel person probability map, row-major
type MaskResult struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float32 `json:"data"`
}

// DetectResult matches the JSON envelope coming back from the Python sidecar.
// Only the field for the requested Kind is populated; a nil or empty field
// means nothing was detected.
type DetectResult struct {
	Pose  *PoseResult  `json:"pose,omitempty"`
	Hands []HandResult `json:"hands,omitempty"`
	Faces []FaceResult `json:"faces,omitempty"`
	Mask  *MaskResult  `json:"mask,omitempty"`
}

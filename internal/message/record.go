// Package message turns raw detector output into the JSON records published
// to the downstream application. Every record type is self-contained: one
// record describes all detections of one type for one frame.
package message

import (
	"time"

	"github.com/sonifyv1/posebridge/internal/types"
)

// Record is implemented by every publishable detection record
type Record interface {
	Kind() types.Kind
}

// FrameSize is the logical size of the coordinate space landmarks are in
type FrameSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PoseLandmark is a single named body joint in output space
type PoseLandmark struct {
	ID         int     `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
	Visibility bool    `json:"visibility"`
	JointName  string  `json:"joint_name"`
}

// Person groups the landmarks of one detected body
type Person struct {
	PersonID   int            `json:"person_id"`
	Confidence float64        `json:"confidence"`
	Landmarks  []PoseLandmark `json:"landmarks"`
}

// PoseRecord keeps named per-landmark fields; at most 33 points fit easily in
// one datagram and the joint names are used downstream.
type PoseRecord struct {
	DetectionType string    `json:"detection_type"`
	Timestamp     float64   `json:"timestamp"`
	FrameSize     FrameSize `json:"frame_size"`
	Poses         []Person  `json:"poses"`
}

func (*PoseRecord) Kind() types.Kind { return types.KindPose }

// Hand uses compact [x, y, z] triples to bound the datagram size
type Hand struct {
	HandID     int          `json:"hand_id"`
	Handedness string       `json:"handedness"`
	Confidence float64      `json:"confidence"`
	Landmarks  [][3]float64 `json:"landmarks"`
}

type HandsRecord struct {
	DetectionType string  `json:"detection_type"`
	Timestamp     float64 `json:"timestamp"`
	Hands         []Hand  `json:"hands"`
}

func (*HandsRecord) Kind() types.Kind { return types.KindHands }

// Face carries only the curated landmark subset, never the full mesh
type Face struct {
	FaceID     int          `json:"face_id"`
	Confidence float64      `json:"confidence"`
	Landmarks  [][3]float64 `json:"landmarks"`
}

type FaceRecord struct {
	DetectionType string  `json:"detection_type"`
	Timestamp     float64 `json:"timestamp"`
	Faces         []Face  `json:"faces"`
}

func (*FaceRecord) Kind() types.Kind { return types.KindFace }

// Mask is a fixed size probability grid, row-major
type Mask struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Threshold float64   `json:"threshold"`
	Data      []float32 `json:"data"`
}

type SegmentationRecord struct {
	DetectionType string  `json:"detection_type"`
	Timestamp     float64 `json:"timestamp"`
	Mask          Mask    `json:"mask"`
}

func (*SegmentationRecord) Kind() types.Kind { return types.KindSegmentation }

// Timestamp converts t to fractional seconds since the Unix epoch
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

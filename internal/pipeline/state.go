package pipeline

import (
	"fmt"
	"strings"

	"github.com/sonifyv1/posebridge/internal/types"
)

// Phase is the lifecycle state of the frame loop
type Phase int

const (
	Initializing Phase = iota
	Running
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "INITIALIZING"
	case Running:
		return "RUNNING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State holds the per-type enable flags. Only the loop goroutine touches it.
type State struct {
	enabled [numKinds]bool
}

const numKinds = int(types.KindSegmentation) + 1

// NewState enables exactly the given kinds
func NewState(kinds ...types.Kind) State {
	var s State
	for _, k := range kinds {
		s.Set(k, true)
	}
	return s
}

func (s *State) Enabled(k types.Kind) bool {
	return int(k) < len(s.enabled) && s.enabled[k]
}

func (s *State) Set(k types.Kind, on bool) {
	if int(k) < len(s.enabled) {
		s.enabled[k] = on
	}
}

// Toggle flips k and returns the new value
func (s *State) Toggle(k types.Kind) bool {
	s.Set(k, !s.Enabled(k))
	return s.Enabled(k)
}

func (s *State) String() string {
	parts := make([]string, 0, numKinds)
	for _, k := range types.AllKinds {
		mark := "off"
		if s.Enabled(k) {
			mark = "on"
		}
		parts = append(parts, k.String()+"="+mark)
	}
	return strings.Join(parts, " ")
}

// Counters are cumulative for the life of the process
type Counters struct {
	Frames         int
	Detections     [numKinds]int
	RecordsSent    int
	BytesSent      int
	SendErrors     int
	DetectorErrors int
}

func (c *Counters) addDetection(k types.Kind) {
	if int(k) < len(c.Detections) {
		c.Detections[k]++
	}
}

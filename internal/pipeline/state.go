package pipeline

import "fmt"

// State is the lifecycle position of a Pipeline.
type State int

const (
	Uninitialized State = iota
	LoadingSegmentation
	LoadingPose
	Ready
	Processing
	Done
	Failed
)

var stateNames = [...]string{
	Uninitialized:       "uninitialized",
	LoadingSegmentation: "loading-segmentation",
	LoadingPose:         "loading-pose",
	Ready:               "ready",
	Processing:          "processing",
	Done:                "done",
	Failed:              "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// transitions lists every legal edge of the lifecycle.
var transitions = map[State][]State{
	Uninitialized:       {LoadingSegmentation},
	LoadingSegmentation: {LoadingPose, Failed},
	LoadingPose:         {Ready, Failed},
	Ready:               {Processing},
	Processing:          {Done, Failed},
	Done:                {Processing},
	Failed:              {Processing},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

package sidecar

// State is the lifecycle state of a Bridge.
//
//	Starting -> Ready -> (Unavailable | Stopped)
//	Starting -> Unavailable
//
// No transition leaves Unavailable or Stopped; recovery is an explicit
// Registry.Restart, which builds a new bridge.
type State int

const (
	Starting State = iota
	Ready
	Unavailable
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Unavailable:
		return "unavailable"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// terminal reports whether s admits no further transitions.
func (s State) terminal() bool {
	return s == Unavailable || s == Stopped
}

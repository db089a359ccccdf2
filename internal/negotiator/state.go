package negotiator

// State is where a negotiator is in its lifecycle.
type State int32

const (
	Idle State = iota
	AcquiringMedia
	Connecting
	Negotiating
	Connected
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AcquiringMedia:
		return "acquiring-media"
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// terminal reports whether no further transition is possible.
func (s State) terminal() bool {
	return s == Closed || s == Failed
}

package client

// State is the lifecycle state of a Client.
type State int

const (
	Disconnected State = iota
	Negotiated
	Authenticated
	TreeConnected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Negotiated:
		return "Negotiated"
	case Authenticated:
		return "Authenticated"
	case TreeConnected:
		return "TreeConnected"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

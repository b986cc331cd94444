// internal/feed/state.go
package feed

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Reconnecting
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Open:         "open",
	Reconnecting: "reconnecting",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Status is a point-in-time view of the feed.
type Status struct {
	State             State  `json:"-"`
	StateName         string `json:"state"`
	Visible           bool   `json:"visible"`
	Online            bool   `json:"online"`
	Processing        bool   `json:"processing"`
	ReconnectPending  bool   `json:"reconnect_pending"`
	ConnectInFlight   bool   `json:"connect_in_flight"`
	Topics            int    `json:"topics"`
	WireSubscriptions int    `json:"wire_subscriptions"`
}

package supervisor

// State is a platform's connection state
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// MarshalText encodes the state as its lower-case name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger is an input to the state machine
type Trigger int

const (
	RequestConnect Trigger = iota
	RequestDisconnect
	AdapterConnected
	AdapterDisconnected
	AdapterFailed
	ConnectTimeout
)

func (t Trigger) String() string {
	switch t {
	case RequestConnect:
		return "requestConnect"
	case RequestDisconnect:
		return "requestDisconnect"
	case AdapterConnected:
		return "adapterConnected"
	case AdapterDisconnected:
		return "adapterDisconnected"
	case AdapterFailed:
		return "adapterFailed"
	case ConnectTimeout:
		return "timeout"
	}
	return "unknown"
}

type edge struct {
	from    State
	trigger Trigger
}

var transitions = map[edge]State{
	{Disconnected, RequestConnect}:       Connecting,
	{Connecting, AdapterConnected}:       Connected,
	{Connecting, AdapterFailed}:          Disconnected,
	{Connecting, ConnectTimeout}:         Disconnected,
	{Connecting, RequestDisconnect}:      Disconnected,
	{Connected, RequestDisconnect}:       Disconnecting,
	{Disconnecting, AdapterDisconnected}: Disconnected,
}

// Transition returns the state reached from "from" on trigger. ok is false
// when the trigger does not apply in that state.
func Transition(from State, trigger Trigger) (to State, ok bool) {
	to, ok = transitions[edge{from, trigger}]
	return to, ok
}

package sla

// State is a call state machine state. The string value doubles as the
// device-state label pushed to the platform, which is why IDLE reads
// NOT_INUSE on the wire.
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateIdle    State = "NOT_INUSE"
	StateRinging State = "RINGING"
	StateInUse   State = "INUSE"
	StateBusy    State = "BUSY"
)

// ParseState maps a stored device-state label to a State. Labels the state
// machine never produces itself (ONHOLD, UNAVAILABLE, ...) map to
// StateUnknown.
func ParseState(label string) State {
	switch State(label) {
	case StateIdle, StateRinging, StateInUse, StateBusy:
		return State(label)
	default:
		return StateUnknown
	}
}

// SharedExtension is one externally-visible extension shared by several
// stations and backed by one or more trunks. Loaded once per extension and
// immutable for the lifetime of any state machine instance using it.
type SharedExtension struct {
	// Name is the extension name callers dial.
	Name string

	// Stations are the station address patterns, in configured order. Each
	// may carry an optional "@server" qualifier which is ignored when
	// matching channel identities.
	Stations []string

	// Trunks are the trunk addresses, in configured order. The first entry
	// is the default outbound trunk for digit-collected dialing.
	Trunks []string
}

// member is one tracked channel: the handle, its classification (resolved
// once and never recomputed), and the event subscriptions owned for it.
// cancelled marks a member whose listeners were detached; an event already
// in flight when Cancel ran can still reach a handler, and the flag turns
// it into a no-op there.
type member struct {
	channel   ChannelHandle
	station   bool
	cancelled bool
	subs      []Subscription
}

func (m *member) cancelSubs() {
	m.cancelled = true
	for _, s := range m.subs {
		s.Cancel()
	}
	m.subs = nil
}

// SessionSnapshot is a point-in-time view of one live call state machine,
// for the admin API and metrics.
type SessionSnapshot struct {
	SessionID    string `json:"session_id"`
	Extension    string `json:"extension"`
	State        State  `json:"state"`
	Incoming     int    `json:"incoming"`
	Participants int    `json:"participants"`
	Bridged      bool   `json:"bridged"`
	AllowDTMF    bool   `json:"allow_dtmf"`
	DialDigits   int    `json:"dial_digits"`
}

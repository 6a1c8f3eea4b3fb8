package sla

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// deviceStateTimeout bounds the best-effort device-state push.
const deviceStateTimeout = 5 * time.Second

// Deps are the external collaborators one call state machine needs. All of
// them are mechanism, not policy: the machine owns every decision.
type Deps struct {
	Platform Platform
	Devices  DeviceStates
	Recorder Recorder
	Logger   *slog.Logger
}

// CallStateMachine is the per-extension call-control core. One instance
// exists per active shared extension; it owns channel and participant
// bookkeeping, state transitions, DTMF accumulation, and teardown.
//
// Event callbacks arrive on platform goroutines. Every handler locks mu for
// its full body, so handlers run to completion relative to one another —
// the "answer the winner, cancel the rest" pass in onParticipantAnswerable
// is atomic with respect to all other notifications. Cancelling a
// subscription cannot recall an event already in flight, so detachment is
// tracked twice: the closed flag makes teardown idempotent and turns any
// late callback into a no-op, and a per-member cancelled flag does the
// same for members detached while the session lives (race losers).
type CallStateMachine struct {
	mu     sync.Mutex
	closed bool

	ext       *SharedExtension
	sessionID string

	platform Platform
	devices  DeviceStates
	recorder Recorder
	logger   *slog.Logger

	states *fsm.FSM

	// A channel id is tracked in at most one of incoming/participants.
	incoming     map[string]*member
	participants map[string]*member

	bridge     BridgeHandle
	bridgeSub  Subscription
	originator *Originator

	dialString      string
	allowDTMF       bool
	trunkAnswerable bool
	answered        bool

	// pushCh serializes device-state pushes so labels land in transition
	// order. Closed exactly once by exitLocked.
	pushCh chan State

	exitHook func()
}

// New creates a call state machine for the given shared extension. The
// instance is inert until Init is called with the first inbound channel.
func New(ext *SharedExtension, deps Deps) *CallStateMachine {
	sessionID := uuid.NewString()

	s := &CallStateMachine{
		ext:          ext,
		sessionID:    sessionID,
		platform:     deps.Platform,
		devices:      deps.Devices,
		recorder:     deps.Recorder,
		logger:       deps.Logger.With("extension", ext.Name, "session_id", sessionID),
		incoming:     make(map[string]*member),
		participants: make(map[string]*member),
		allowDTMF:    true,
		pushCh:       make(chan State, 16),
	}
	if s.recorder == nil {
		s.recorder = NopRecorder{}
	}

	all := []string{
		string(StateUnknown),
		string(StateIdle),
		string(StateRinging),
		string(StateInUse),
		string(StateBusy),
	}
	s.states = fsm.NewFSM(
		string(StateUnknown),
		fsm.Events{
			{Name: "ring", Src: all, Dst: string(StateRinging)},
			{Name: "seize", Src: all, Dst: string(StateInUse)},
			{Name: "release", Src: all, Dst: string(StateIdle)},
			{Name: "reject", Src: all, Dst: string(StateBusy)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				// Queue the label for the device-state store without
				// holding up call progress. Failures are logged, never
				// fatal.
				s.enqueueDeviceStateLocked(State(e.Dst))
			},
		},
	)

	go s.devicePushLoop()

	return s
}

// OnExit registers the one-shot teardown hook. The registry uses it to
// release the extension's slot.
func (s *CallStateMachine) OnExit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitHook = fn
}

// SessionID returns the instance's unique session id.
func (s *CallStateMachine) SessionID() string {
	return s.sessionID
}

// State returns the current call state.
func (s *CallStateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.states.Current())
}

// IsStation resolves the classification of a tracked channel id, checking
// the incoming set and then the participant set. An id tracked in neither
// fails with *UnknownChannelError; it never silently reports false.
func (s *CallStateMachine) IsStation(channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStationLocked(channelID)
}

func (s *CallStateMachine) isStationLocked(channelID string) (bool, error) {
	if m, ok := s.incoming[channelID]; ok {
		return m.station, nil
	}
	if m, ok := s.participants[channelID]; ok {
		return m.station, nil
	}
	return false, &UnknownChannelError{ID: channelID}
}

// Snapshot returns a point-in-time view of the session.
func (s *CallStateMachine) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		SessionID:    s.sessionID,
		Extension:    s.ext.Name,
		State:        State(s.states.Current()),
		Incoming:     len(s.incoming),
		Participants: len(s.participants),
		Bridged:      s.bridge != nil,
		AllowDTMF:    s.allowDTMF,
		DialDigits:   len(s.dialString),
	}
}

// Init takes ownership of an inbound channel: classifies it, registers it
// in the incoming set, answers it, and reads the stored device state. A
// stored BUSY rejects the call back to normal routing without creating a
// bridge; anything else proceeds to bridge resolution. A second inbound leg
// arriving while the session is live joins the existing bridge.
func (s *CallStateMachine) Init(ctx context.Context, ch ChannelHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	id := ch.ID()
	m := &member{
		channel: ch,
		station: IsStationAddress(ch.Name(), s.ext),
	}
	s.incoming[id] = m

	s.logger.Info("inbound channel",
		"channel_id", id,
		"channel", ch.Name(),
		"caller", ch.CallerNumber(),
		"is_station", m.station,
	)

	if len(s.incoming) == 1 && len(s.participants) == 0 {
		s.recorder.Begin(s.sessionID, s.ext.Name, ch.CallerName(), ch.CallerNumber())
	}

	if err := ch.Answer(); err != nil {
		s.logger.Error("failed to answer inbound channel", "channel_id", id, "error", err)
	}

	stored, err := s.devices.Get(ctx, s.ext.Name)
	if err != nil {
		s.logger.Warn("failed to read device state", "error", err)
		stored = string(StateUnknown)
	}

	if ParseState(stored) == StateBusy {
		s.busyLocked(m)
		return nil
	}
	s.states.SetState(string(ParseState(stored)))

	return s.getBridgeLocked(m)
}

// busyLocked signals the caller to continue normal routing and exits
// without side effects on the bridge or participants.
func (s *CallStateMachine) busyLocked(m *member) {
	s.logger.Info("extension busy, continuing in dialplan", "channel_id", m.channel.ID())
	s.states.SetState(string(StateBusy))
	if err := m.channel.ContinueInDialplan(); err != nil {
		s.logger.Error("failed to continue channel in dialplan",
			"channel_id", m.channel.ID(),
			"error", err,
		)
	}
	s.exitLocked(nil)
}

// getBridgeLocked resolves the instance's mixing bridge. The bridge is
// created at most once per instance lifetime; later inbound legs reuse it.
func (s *CallStateMachine) getBridgeLocked(m *member) error {
	if s.bridge != nil {
		s.watchIncomingLocked(m)
		if err := s.bridge.AddChannel(m.channel.ID()); err != nil {
			s.logger.Error("failed to add channel to bridge",
				"channel_id", m.channel.ID(),
				"error", err,
			)
		}
		s.getDtmfLocked(m.channel)
		return nil
	}

	bridge, err := s.platform.GetOrCreateBridge(s.ext.Name)
	if err != nil {
		s.logger.Error("failed to get or create bridge", "error", err)
		s.exitLocked(err)
		return err
	}

	s.bridgeLoadedLocked(bridge, m)
	return nil
}

// bridgeLoadedLocked stores the bridge handle, subscribes to its
// membership-left notifications, constructs the session-bound originator,
// and fans out originations to the configured stations.
func (s *CallStateMachine) bridgeLoadedLocked(bridge BridgeHandle, m *member) {
	s.bridge = bridge
	s.bridgeSub = bridge.OnChannelLeft(s.onChannelLeftBridge)
	s.originator = newOriginator(s)
	s.watchIncomingLocked(m)

	s.logger.Info("bridge loaded", "bridge_id", bridge.ID())

	s.stationsReadyLocked()
}

// watchIncomingLocked subscribes an incoming channel for hangup requests.
func (s *CallStateMachine) watchIncomingLocked(m *member) {
	id := m.channel.ID()
	m.subs = append(m.subs, m.channel.OnHangupRequest(func() {
		s.onChannelHangup(id)
	}))
}

// stationsReadyLocked starts one outbound origination per configured
// station address. Attempts run concurrently with no ordering guarantee.
func (s *CallStateMachine) stationsReadyLocked() {
	for _, station := range s.ext.Stations {
		s.originator.originateLocked(station, true)
	}
}

// addParticipantLocked registers a channel this instance originated and
// subscribes it for answerable-state and destroyed notifications.
func (s *CallStateMachine) addParticipantLocked(ch ChannelHandle, station bool) {
	id := ch.ID()
	m := &member{channel: ch, station: station}
	s.participants[id] = m
	m.subs = append(m.subs,
		ch.OnAnswerable(func() { s.onParticipantAnswerable(id) }),
		ch.OnDestroyed(func() { s.onParticipantHangup(id) }),
	)
}

// onParticipantAnswerable enforces first-responder-wins: the first
// participant to reach an answerable state is answered, every other tracked
// participant is issued exactly one hangup with its listeners detached, and
// the winner is joined into the bridge with the incoming leg(s). The whole
// pass runs under the instance mutex, so it is atomic with respect to other
// participant notifications. A race loser's event that was already in
// flight when its subscriptions were cancelled can still land here; the
// member's cancelled flag rejects it, so a loser can never steal the call
// from the winner.
func (s *CallStateMachine) onParticipantAnswerable(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	winner, ok := s.participants[channelID]
	if !ok || winner.cancelled {
		return
	}

	if !winner.station {
		s.trunkAnswerable = true
	}

	if err := winner.channel.Answer(); err != nil {
		s.logger.Error("failed to answer participant", "channel_id", channelID, "error", err)
	}

	for otherID, other := range s.participants {
		if otherID == channelID {
			continue
		}
		if err := s.platform.Hangup(otherID); err != nil {
			s.logger.Debug("failed to hang up losing participant",
				"channel_id", otherID,
				"error", err,
			)
		}
		other.cancelSubs()
	}

	s.logger.Info("participant answered",
		"channel_id", channelID,
		"channel", winner.channel.Name(),
		"is_station", winner.station,
	)

	s.answered = true
	if winner.station {
		s.recorder.Answered(s.sessionID, winner.channel.Name())
	}

	s.updateStateLocked(StateInUse)
	s.joinBridgeLocked(winner.channel)
	s.getDtmfLocked(winner.channel)
	for _, m := range s.incoming {
		s.getDtmfLocked(m.channel)
	}
}

// joinBridgeLocked issues bridge-membership-add requests for every incoming
// channel and, if given, the participant. Fire-and-forget: membership
// changes are reported back through bridge events.
func (s *CallStateMachine) joinBridgeLocked(participant ChannelHandle) {
	for id := range s.incoming {
		if err := s.bridge.AddChannel(id); err != nil {
			s.logger.Error("failed to add channel to bridge", "channel_id", id, "error", err)
		}
	}
	if participant != nil {
		if err := s.bridge.AddChannel(participant.ID()); err != nil {
			s.logger.Error("failed to add participant to bridge",
				"channel_id", participant.ID(),
				"error", err,
			)
		}
	}
}

// getDtmfLocked (re)starts digit collection on a bridged party: the dial
// string resets to empty and the channel is subscribed for digits.
func (s *CallStateMachine) getDtmfLocked(ch ChannelHandle) {
	s.dialString = ""
	s.allowDTMF = true
	id := ch.ID()
	sub := ch.OnDigit(func(digit string) { s.onDigit(id, digit) })
	if m, ok := s.incoming[id]; ok {
		m.subs = append(m.subs, sub)
	} else if m, ok := s.participants[id]; ok {
		m.subs = append(m.subs, sub)
	} else {
		sub.Cancel()
	}
}

// onDigit accumulates dialed digits. '#' terminates collection and
// originates dialString@trunks[0] as a plain trunk leg; every other symbol
// is appended as-is. Digits from a channel whose member was cancelled (or
// is no longer tracked) are dropped: its subscription may already have had
// the event in flight when it was detached.
func (s *CallStateMachine) onDigit(channelID, digit string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.allowDTMF {
		return
	}

	m, ok := s.incoming[channelID]
	if !ok {
		m, ok = s.participants[channelID]
	}
	if !ok || m.cancelled {
		return
	}

	if digit != "#" {
		s.dialString += digit
		return
	}

	s.updateStateLocked(StateRinging)
	s.allowDTMF = false

	address := s.dialString + "@" + s.ext.Trunks[0]
	s.logger.Info("dialing collected number",
		"channel_id", channelID,
		"address", address,
	)
	s.recorder.Dialed(s.sessionID, s.dialString)
	s.originator.originateLocked(address, false)
}

// onParticipantHangup removes a destroyed participant. An empty participant
// set with no outbound-dial attempt ever reaching an answerable state means
// nobody answered: the session resets to IDLE and exits.
func (s *CallStateMachine) onParticipantHangup(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	m, ok := s.participants[channelID]
	if !ok {
		return
	}
	m.cancelSubs()
	delete(s.participants, channelID)

	s.logger.Debug("participant hung up", "channel_id", channelID)

	if len(s.participants) == 0 && !s.trunkAnswerable {
		s.updateStateLocked(StateIdle)
		s.exitLocked(nil)
	}
}

// onChannelHangup handles an incoming leg hanging up. The hangup always
// cascades to every remaining tracked participant.
//
// Requirement asymmetry, kept on purpose: stated intent is that all
// stations hanging up ends the call for the caller, but the behavior here
// is the reverse (caller hangup tears down the stations). Flagged to
// stakeholders; do not "fix" silently.
func (s *CallStateMachine) onChannelHangup(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	m, ok := s.incoming[channelID]
	if !ok {
		return
	}
	m.cancelSubs()
	delete(s.incoming, channelID)

	s.logger.Info("incoming channel hung up", "channel_id", channelID)

	if len(s.participants) == 0 {
		s.exitLocked(nil)
	}

	for id := range s.participants {
		if err := s.platform.Hangup(id); err != nil {
			s.logger.Debug("failed to hang up participant", "channel_id", id, "error", err)
		}
	}
}

// onChannelLeftBridge classifies the leaving channel. A station leaving a
// bridge that retains no station means the call is abandoned: every
// remaining member is hung up. Independently, membership reaching zero
// resets the session to IDLE and tears it down.
func (s *CallStateMachine) onChannelLeftBridge(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	station, err := s.isStationLocked(channelID)
	if err != nil {
		s.logger.Error("cannot classify channel leaving bridge",
			"channel_id", channelID,
			"error", err,
		)
	}

	remaining, derr := s.bridge.ChannelIDs()
	if derr != nil {
		s.logger.Error("failed to read bridge membership", "error", derr)
		return
	}

	if err == nil && station {
		nonStations := 0
		classified := true
		for _, id := range remaining {
			st, cerr := s.isStationLocked(id)
			if cerr != nil {
				s.logger.Error("cannot classify bridge member", "channel_id", id, "error", cerr)
				classified = false
				break
			}
			if !st {
				nonStations++
			}
		}

		// No station left in the bridge: the call is abandoned.
		if classified && nonStations == len(remaining) {
			s.logger.Info("no stations remain in bridge, hanging up members",
				"members", len(remaining),
			)
			for _, id := range remaining {
				if herr := s.platform.Hangup(id); herr != nil {
					s.logger.Debug("failed to hang up bridge member", "channel_id", id, "error", herr)
				}
			}
		}
	}

	if len(remaining) == 0 {
		s.updateStateLocked(StateIdle)
		s.exitLocked(nil)
	}
}

// Exit tears the session down: see exitLocked.
func (s *CallStateMachine) Exit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLocked(err)
}

// exitLocked is the idempotent teardown path. Listeners are detached before
// any hangup the teardown itself issues and before the exit hook runs, so a
// late notification can never reach a torn-down instance. A non-nil err
// escalates to forced hangups of every tracked incoming channel.
func (s *CallStateMachine) exitLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true

	close(s.pushCh)

	if s.bridgeSub != nil {
		s.bridgeSub.Cancel()
		s.bridgeSub = nil
	}
	for _, m := range s.incoming {
		m.cancelSubs()
	}
	for _, m := range s.participants {
		m.cancelSubs()
	}

	if err != nil {
		for id := range s.incoming {
			if herr := s.platform.Hangup(id); herr != nil {
				s.logger.Debug("failed to hang up incoming channel", "channel_id", id, "error", herr)
			}
		}
	}

	s.recorder.End(s.sessionID, s.dispositionLocked(err))

	s.logger.Info("session exited", "state", s.states.Current(), "error", err)

	if hook := s.exitHook; hook != nil {
		s.exitHook = nil
		hook()
	}
}

func (s *CallStateMachine) dispositionLocked(err error) string {
	switch {
	case err != nil:
		return "failed"
	case State(s.states.Current()) == StateBusy:
		return "busy"
	case s.answered:
		return "answered"
	default:
		return "no_answer"
	}
}

// updateStateLocked drives a state transition; the enter-state callback
// pushes the new label to the device-state store asynchronously.
func (s *CallStateMachine) updateStateLocked(target State) {
	var event string
	switch target {
	case StateRinging:
		event = "ring"
	case StateInUse:
		event = "seize"
	case StateIdle:
		event = "release"
	case StateBusy:
		event = "reject"
	default:
		return
	}
	if err := s.states.Event(context.Background(), event); err != nil {
		s.logger.Debug("state transition skipped", "event", event, "error", err)
	}
}

// enqueueDeviceStateLocked hands a state label to the push loop. The
// transition callbacks only run under the instance mutex, so a send can
// never race the channel close in exitLocked. A full queue drops the label
// rather than stall call progress.
func (s *CallStateMachine) enqueueDeviceStateLocked(state State) {
	select {
	case s.pushCh <- state:
	default:
		s.logger.Warn("device state push dropped", "state", state)
	}
}

// devicePushLoop pushes queued state labels in order. It drains whatever is
// left after teardown, so the final IDLE still reaches the store.
func (s *CallStateMachine) devicePushLoop() {
	for state := range s.pushCh {
		s.pushDeviceState(state)
	}
}

// pushDeviceState pushes a state label to the device-state store,
// best-effort.
func (s *CallStateMachine) pushDeviceState(state State) {
	ctx, cancel := context.WithTimeout(context.Background(), deviceStateTimeout)
	defer cancel()

	if err := s.devices.Update(ctx, s.ext.Name, string(state)); err != nil {
		s.logger.Warn("failed to update device state", "state", state, "error", err)
	}
}

package sla

// Originator starts outbound call attempts on behalf of one session. It is
// constructed when the session's bridge loads and lives for the rest of the
// instance lifetime.
type Originator struct {
	sm *CallStateMachine
}

func newOriginator(sm *CallStateMachine) *Originator {
	return &Originator{sm: sm}
}

// originateLocked starts one outbound attempt and registers the resulting
// channel as a participant. The caller holds the state machine mutex.
// Origination failures are logged and skipped: the attempt simply never
// produces a participant, the same outcome as a station that never answers.
func (o *Originator) originateLocked(address string, station bool) {
	s := o.sm

	ch, err := s.platform.Originate(address, station)
	if err != nil {
		s.logger.Error("origination failed",
			"address", address,
			"is_station", station,
			"error", err,
		)
		return
	}

	s.logger.Debug("originated channel",
		"channel_id", ch.ID(),
		"address", address,
		"is_station", station,
	)

	s.addParticipantLocked(ch, station)
}

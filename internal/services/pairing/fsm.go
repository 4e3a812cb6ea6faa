package pairing

import (
	"fmt"
	"slices"

	"tether/internal/domain"
)

// transitions lists the legal moves out of each state.
var transitions = map[domain.LinkState][]domain.LinkState{
	domain.LinkIdle:      {domain.LinkPending},
	domain.LinkPending:   {domain.LinkConfirmed, domain.LinkExpired, domain.LinkRejected, domain.LinkIdle},
	domain.LinkConfirmed: {domain.LinkIdle},
	domain.LinkExpired:   {domain.LinkIdle},
	domain.LinkRejected:  {domain.LinkIdle},
}

// canTransition reports whether from -> to is legal.
func canTransition(from, to domain.LinkState) bool {
	return slices.Contains(transitions[from], to)
}

// transition moves m to state to; m.mu must be held.
func (m *Manager) transition(to domain.LinkState) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("pairing: illegal transition %s -> %s", m.state, to)
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", to).Msg("link state")
	m.state = to
	return nil
}

package inbound

import (
	"sync"

	"tether/internal/domain"
)

// Roster is a mutable set of known conversations and senders. Every
// conversation is checked; senders are checked only once the sender list
// is non-empty.
type Roster struct {
	mu      sync.RWMutex
	targets map[domain.Target]struct{}
	senders map[string]struct{}
}

// NewRoster returns a roster seeded with targets and senders.
func NewRoster(targets []domain.Target, senders []string) *Roster {
	r := &Roster{
		targets: make(map[domain.Target]struct{}, len(targets)),
		senders: make(map[string]struct{}, len(senders)),
	}
	for _, t := range targets {
		r.targets[t] = struct{}{}
	}
	for _, s := range senders {
		r.senders[s] = struct{}{}
	}
	return r
}

// AddTarget marks t as known.
func (r *Roster) AddTarget(t domain.Target) {
	r.mu.Lock()
	r.targets[t] = struct{}{}
	r.mu.Unlock()
}

// AddSender marks sender as known.
func (r *Roster) AddSender(sender string) {
	r.mu.Lock()
	r.senders[sender] = struct{}{}
	r.mu.Unlock()
}

func (r *Roster) KnownTarget(t domain.Target) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.targets[t]
	return ok
}

func (r *Roster) KnownSender(sender string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.senders) == 0 {
		return true
	}
	_, ok := r.senders[sender]
	return ok
}

var _ domain.Roster = (*Roster)(nil)

package health

import "sync"

// Store is the in-memory health/anomaly state shared between the monitor
// and recovery workers. One lock, short critical sections; no worker ever
// blocks on another through it.
type Store struct {
	mu      sync.Mutex
	latest  Snapshot
	active  map[Category]Anomaly
	pending []Anomaly
}

func NewStore() *Store {
	return &Store{active: make(map[Category]Anomaly)}
}

// SetSnapshot records the latest sample.
func (s *Store) SetSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

// Latest returns the most recent snapshot.
func (s *Store) Latest() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Raise records an anomaly and queues it for the recovery orchestrator.
// A category already active is not re-queued; one episode, one entry.
func (s *Store) Raise(a Anomaly) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[a.Category]; exists {
		return false
	}
	s.active[a.Category] = a
	s.pending = append(s.pending, a)
	return true
}

// Resolve clears an active anomaly once a snapshot shows recovery.
func (s *Store) Resolve(c Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[c]; !exists {
		return false
	}
	delete(s.active, c)
	return true
}

// Active lists currently open anomalies.
func (s *Store) Active() []Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Anomaly, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a)
	}
	return out
}

// PopPending drains anomalies awaiting a recovery decision.
func (s *Store) PopPending() []Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

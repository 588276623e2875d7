// Package progress tracks per-session enrichment state for polling
// clients and the live stream endpoint.
package progress

import (
	"sync"
)

// Enrichment phases, in order. A session only ever moves forward.
const (
	PhaseSummarizing = "summarizing"
	PhaseClustering  = "clustering"
	PhaseDone        = "done"
)

var phaseRank = map[string]int{
	PhaseSummarizing: 1,
	PhaseClustering:  2,
	PhaseDone:        3,
}

// Snapshot is the externally visible progress of one session.
type Snapshot struct {
	Phase     string `json:"phase"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Clusters  int    `json:"clusters"`
}

// Tracker holds progress for all sessions seen since startup. Terminal
// snapshots are kept so late pollers still see the final state; a
// session the tracker never saw reads as already done.
type Tracker struct {
	mu       sync.Mutex
	sessions map[int64]Snapshot
	subs     map[int64][]chan Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[int64]Snapshot),
		subs:     make(map[int64][]chan Snapshot),
	}
}

// Start registers a session entering the summarizing phase.
func (t *Tracker) Start(sessionID int64, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(sessionID, Snapshot{Phase: PhaseSummarizing, Total: total})
}

// Step records one more completed tab. Progress never moves backwards:
// stale updates after a phase change are dropped.
func (t *Tracker) Step(sessionID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok || s.Phase != PhaseSummarizing {
		return
	}
	if s.Completed < s.Total {
		s.Completed++
	}
	t.set(sessionID, s)
}

// Clustering moves a session into the clustering phase with all tabs
// accounted for.
func (t *Tracker) Clustering(sessionID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok || phaseRank[s.Phase] >= phaseRank[PhaseClustering] {
		return
	}
	s.Phase = PhaseClustering
	s.Completed = s.Total
	t.set(sessionID, s)
}

// Done marks a session finished, recording its final cluster count.
func (t *Tracker) Done(sessionID int64, clusters int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sessions[sessionID]
	s.Phase = PhaseDone
	s.Completed = s.Total
	s.Clusters = clusters
	t.set(sessionID, s)
}

// Get returns the current snapshot. Unknown sessions read as done so
// clients that poll after a restart terminate instead of spinning.
func (t *Tracker) Get(sessionID int64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[sessionID]; ok {
		return s
	}
	return Snapshot{Phase: PhaseDone}
}

// Subscribe returns a channel that receives every snapshot change for
// the session, starting with the current state, and a cancel func.
// The channel is closed when the session reaches done or the caller
// cancels.
func (t *Tracker) Subscribe(sessionID int64) (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Snapshot, 16)
	current := t.getLocked(sessionID)
	ch <- current
	if current.Phase == PhaseDone {
		close(ch)
		return ch, func() {}
	}

	t.subs[sessionID] = append(t.subs[sessionID], ch)
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.drop(sessionID, ch)
	}
	return ch, cancel
}

// getLocked is Get for callers already holding mu.
func (t *Tracker) getLocked(sessionID int64) Snapshot {
	if s, ok := t.sessions[sessionID]; ok {
		return s
	}
	return Snapshot{Phase: PhaseDone}
}

// set stores a snapshot and fans it out to subscribers. Slow
// subscribers lose intermediate snapshots rather than blocking the
// pipeline.
func (t *Tracker) set(sessionID int64, s Snapshot) {
	t.sessions[sessionID] = s
	for _, ch := range t.subs[sessionID] {
		select {
		case ch <- s:
		default:
		}
	}
	if s.Phase == PhaseDone {
		for _, ch := range t.subs[sessionID] {
			close(ch)
		}
		delete(t.subs, sessionID)
	}
}

func (t *Tracker) drop(sessionID int64, ch chan Snapshot) {
	subs := t.subs[sessionID]
	for i, c := range subs {
		if c == ch {
			t.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(c)
			return
		}
	}
}

package config

import "sync"

// Store holds the current Config and notifies subscribers when it is
// replaced. Components keep a *Store and call Get on each operation
// rather than caching settings.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	subs []chan Config
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration and notifies subscribers. Slow
// subscribers miss intermediate values but always see the latest one
// on their next receive.
func (s *Store) Set(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	subs := make([]chan Config, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
			// Drain the stale value, then deliver the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving configuration updates.
func (s *Store) Subscribe() <-chan Config {
	ch := make(chan Config, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

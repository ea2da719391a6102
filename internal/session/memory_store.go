package session

import (
	"sync"
	"time"

	"rdeskd/internal/constants"
)

// MemoryStore is the default in-process resumption cache. A background
// janitor evicts stale records so they do not pile up between lookups.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore() *MemoryStore {
	st := &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go st.janitor()
	return st
}

func (st *MemoryStore) janitor() {
	t := time.NewTicker(constants.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			st.evictStale()
		case <-st.stop:
			return
		}
	}
}

func (st *MemoryStore) evictStale() {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := st.now().Add(-constants.SessionStaleAfter)
	for id, s := range st.sessions {
		if s.LastActive.Before(cutoff) {
			delete(st.sessions, id)
		}
	}
}

func (st *MemoryStore) Save(peerID string, s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s.LastActive.IsZero() {
		s.LastActive = st.now()
	}
	st.sessions[peerID] = s
}

// Get evicts stale entries first, then looks up peerID.
func (st *MemoryStore) Get(peerID string) (*Session, bool) {
	st.evictStale()
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[peerID]
	return s, ok
}

func (st *MemoryStore) Delete(peerID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, peerID)
}

func (st *MemoryStore) Touch(peerID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[peerID]; ok {
		s.LastActive = st.now()
	}
}

func (st *MemoryStore) Close() error {
	st.stopOnce.Do(func() { close(st.stop) })
	return nil
}

package session

import "time"

// Session is one resumption record: proof that a peer recently validated the
// temporary password, so a quick reconnect may skip the password prompt.
type Session struct {
	Name           string    `json:"name"`
	SessionID      uint64    `json:"session_id"`
	RandomPassword string    `json:"random_password"`
	LastActive     time.Time `json:"last_active"`
}

// Matches reports whether a resumption attempt matches this record. The
// password itself is re-validated against the fresh challenge by the caller.
func (s *Session) Matches(name string, sessionID uint64) bool {
	return s.Name == name && s.SessionID == sessionID
}

// Store is the shared resumption registry, keyed by peer-declared id.
// Entries whose liveness stamp exceeds the staleness window are evicted
// lazily on lookup.
type Store interface {
	Save(peerID string, s *Session)
	Get(peerID string) (*Session, bool)
	Delete(peerID string)
	// Touch refreshes the liveness stamp of the record owned by peerID.
	Touch(peerID string)
	Close() error
}

package client

import "sync"

// Identity holds the current user id as seen by the sync engine. Ownership of
// messages is always derived against this value at read time, so a re-login
// only needs to swap the id here, never a data refetch.
type Identity struct {
	mu     sync.RWMutex
	userID string
}

// NewIdentity builds an Identity for userID.
func NewIdentity(userID string) *Identity {
	return &Identity{userID: userID}
}

// UserID returns the current user id.
func (i *Identity) UserID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userID
}

// Set replaces the current user id.
func (i *Identity) Set(userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.userID = userID
}

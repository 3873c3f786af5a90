package client

import (
	"sort"
	"sync"
	"time"

	"chat-sync/internal/models"
)

// DefaultTypingTimeout clears a typing indicator that never received an
// explicit stop event. The upstream protocol does not guarantee one on every
// code path, so a stuck indicator expires on its own.
const DefaultTypingTimeout = 5 * time.Second

// PresenceTracker keeps the ephemeral online-user snapshot and the
// per-conversation typing sets. Nothing here survives a disconnect; the
// reconciler resets the tracker when the channel drops.
type PresenceTracker struct {
	mu       sync.Mutex
	identity *Identity
	timeout  time.Duration
	online   map[string]struct{}
	typing   map[string]map[string]*time.Timer
}

// NewPresenceTracker builds a tracker. A non-positive timeout disables the
// typing expiry timers.
func NewPresenceTracker(identity *Identity, timeout time.Duration) *PresenceTracker {
	return &PresenceTracker{
		identity: identity,
		timeout:  timeout,
		online:   make(map[string]struct{}),
		typing:   make(map[string]map[string]*time.Timer),
	}
}

// SetOnlineUsers replaces the online set with the pushed snapshot. The event
// is a full snapshot, not a diff.
func (p *PresenceTracker) SetOnlineUsers(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.online[id] = struct{}{}
	}
}

// IsOnline reports whether the user is in the current snapshot.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// OnlineUsers returns the current snapshot, sorted for stable output.
func (p *PresenceTracker) OnlineUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetTyping adds or removes userID from the conversation's typing set. An
// active entry expires after the tracker timeout unless refreshed.
func (p *PresenceTracker) SetTyping(conversationID, userID string, isTyping bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.typing[conversationID]
	if !isTyping {
		if set == nil {
			return
		}
		if timer, ok := set[userID]; ok && timer != nil {
			timer.Stop()
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(p.typing, conversationID)
		}
		return
	}

	if set == nil {
		set = make(map[string]*time.Timer)
		p.typing[conversationID] = set
	}
	if timer, ok := set[userID]; ok && timer != nil {
		timer.Reset(p.timeout)
		return
	}
	var timer *time.Timer
	if p.timeout > 0 {
		timer = time.AfterFunc(p.timeout, func() {
			p.SetTyping(conversationID, userID, false)
		})
	}
	set[userID] = timer
}

// TypingUsers returns who is typing in the conversation. The local user is
// always excluded: a client's own typing signal is for other clients, never
// reflected back to itself.
func (p *PresenceTracker) TypingUsers(conversationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	me := p.identity.UserID()
	out := make([]string, 0, len(p.typing[conversationID]))
	for id := range p.typing[conversationID] {
		if id == me {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset clears both maps, used on disconnect and logout.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, set := range p.typing {
		for _, timer := range set {
			if timer != nil {
				timer.Stop()
			}
		}
	}
	p.online = make(map[string]struct{})
	p.typing = make(map[string]map[string]*time.Timer)
}

// typingEvent builds the wire payload emitted for the local user.
func typingEvent(conversationID string, isTyping bool) models.TypingEvent {
	return models.TypingEvent{ConversationID: conversationID, IsTyping: isTyping}
}

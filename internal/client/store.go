package client

import (
	"sort"
	"sync"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// View is a message as exposed to readers. IsOwn is computed against the
// current identity on every read and never persisted; Pending marks a locally
// optimistic entry that has not been confirmed by the server yet.
type View struct {
	models.Message
	IsOwn   bool
	Pending bool
}

// Page is the cached pagination state of one conversation.
type Page struct {
	Items      []View
	HasMore    bool
	NextCursor *string
}

type page struct {
	items      []models.Message
	pending    map[string]struct{}
	hasMore    bool
	nextCursor *string
	loaded     bool
}

// MessageStore keeps the per-conversation ordered, deduplicated message
// collections. Items are sorted by createdAt ascending (ties broken by id)
// after every merge, regardless of the arrival order of fetches and live
// events; all merge operations are idempotent.
type MessageStore struct {
	mu       sync.RWMutex
	identity *Identity
	pages    map[string]*page
}

// NewMessageStore builds an empty store bound to identity.
func NewMessageStore(identity *Identity) *MessageStore {
	return &MessageStore{identity: identity, pages: make(map[string]*page)}
}

func (s *MessageStore) getPage(conversationID string) *page {
	p, ok := s.pages[conversationID]
	if !ok {
		p = &page{pending: make(map[string]struct{}), hasMore: true}
		s.pages[conversationID] = p
	}
	return p
}

// Loaded reports whether the conversation has had at least one history fetch
// merged. Live events for unloaded conversations should trigger a fetch first.
func (s *MessageStore) Loaded(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[conversationID]
	return ok && p.loaded
}

// Page returns the current cached page state, empty defaults if the
// conversation has not been loaded.
func (s *MessageStore) Page(conversationID string) Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me := s.identity.UserID()
	p, ok := s.pages[conversationID]
	if !ok {
		return Page{HasMore: true}
	}

	items := make([]View, 0, len(p.items))
	for _, m := range p.items {
		_, pending := p.pending[m.ID]
		items = append(items, View{Message: m, IsOwn: m.SenderID == me, Pending: pending})
	}
	return Page{Items: items, HasMore: p.hasMore, NextCursor: p.nextCursor}
}

// AppendPage merges a history fetch result. Fetched messages belong to an
// older page and land before the cached ones; duplicates are dropped by id.
// A nil nextCursor means there are no further pages.
func (s *MessageStore) AppendPage(conversationID string, fetched []models.Message, nextCursor *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getPage(conversationID)
	for _, m := range fetched {
		p.merge(m)
	}
	p.sort()
	p.loaded = true
	p.nextCursor = nextCursor
	p.hasMore = nextCursor != nil
}

// AppendLive merges a single pushed or confirmed message. A message whose id
// is already present replaces the existing entry in place (last write wins)
// rather than duplicating it.
func (s *MessageStore) AppendLive(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getPage(conversationID)
	if p.merge(msg) {
		observability.IncSyncDuplicate()
	}
	delete(p.pending, msg.ID)
	p.sort()
}

// AppendProvisional inserts a locally optimistic message awaiting server
// confirmation.
func (s *MessageStore) AppendProvisional(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getPage(conversationID)
	p.merge(msg)
	p.pending[msg.ID] = struct{}{}
	p.sort()
}

// ResolveProvisional replaces the provisional entry with the authoritative
// server record. If the record already arrived through a push echo, the
// provisional entry is simply dropped and no duplicate is created.
func (s *MessageStore) ResolveProvisional(conversationID, provisionalID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getPage(conversationID)
	p.remove(provisionalID)
	delete(p.pending, provisionalID)
	p.merge(msg)
	delete(p.pending, msg.ID)
	p.sort()
}

// Remove deletes a message, used to roll back a failed optimistic send.
func (s *MessageStore) Remove(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[conversationID]
	if !ok {
		return
	}
	p.remove(messageID)
	delete(p.pending, messageID)
}

// Reset drops all cached pages, for logout.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = make(map[string]*page)
}

// merge inserts or replaces msg by id and reports whether the id was already
// present.
func (p *page) merge(msg models.Message) bool {
	for i, existing := range p.items {
		if existing.ID == msg.ID {
			p.items[i] = msg
			return true
		}
	}
	p.items = append(p.items, msg)
	return false
}

func (p *page) remove(messageID string) {
	for i, existing := range p.items {
		if existing.ID == messageID {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return
		}
	}
}

func (p *page) sort() {
	sort.SliceStable(p.items, func(i, j int) bool {
		return p.items[i].Before(p.items[j])
	})
}

package client

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Options configures a Client. API, Channel and Identity are required.
type Options struct {
	API      API
	Channel  Channel
	Identity *Identity
	Cache    SnapshotCache
	Notifier Notifier

	PageLimit     int
	TypingTimeout time.Duration
}

// Client is the sync engine facade: it owns the stores, the reconciler and
// the send coordinator, and exposes the operations the UI layer calls.
// Construct one per application process and Reset it on logout.
type Client struct {
	Store       *MessageStore
	Index       *ConversationIndex
	Presence    *PresenceTracker
	Coordinator *Coordinator

	api        API
	channel    Channel
	identity   *Identity
	cache      SnapshotCache
	reconciler *Reconciler
	pageLimit  int

	// generation increments on every active-conversation switch; in-flight
	// pagination fetches tagged with an older generation discard their result
	// unless their conversation is still the active one.
	generation atomic.Int64
}

// New wires a Client from options.
func New(opts Options) *Client {
	if opts.Identity == nil {
		opts.Identity = NewIdentity("")
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	if opts.TypingTimeout == 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}

	store := NewMessageStore(opts.Identity)
	index := NewConversationIndex(opts.Identity)
	presence := NewPresenceTracker(opts.Identity, opts.TypingTimeout)
	coordinator := NewCoordinator(opts.API, store, index, opts.Identity, opts.Channel)
	reconciler := NewReconciler(opts.API, opts.Channel, store, index, presence,
		coordinator, opts.Identity, opts.Notifier, opts.PageLimit)

	return &Client{
		Store:       store,
		Index:       index,
		Presence:    presence,
		Coordinator: coordinator,
		api:         opts.API,
		channel:     opts.Channel,
		identity:    opts.Identity,
		cache:       opts.Cache,
		reconciler:  reconciler,
		pageLimit:   opts.PageLimit,
	}
}

// Run rehydrates the snapshot cache, starts the channel and blocks in the
// reconciler loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.rehydrate()
	go c.channel.Run(ctx)
	return c.reconciler.Run(ctx)
}

// FetchMessages loads the next (older) history page for the conversation.
// Once the server reports no further pages the call becomes a no-op until a
// reset; a response superseded by a conversation switch is discarded.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) error {
	page := c.Store.Page(conversationID)
	if c.Store.Loaded(conversationID) && !page.HasMore {
		return nil
	}

	cursor := ""
	if page.NextCursor != nil {
		cursor = *page.NextCursor
	}
	generation := c.generation.Load()

	msgs, next, err := c.api.FetchMessages(ctx, conversationID, cursor, c.pageLimit)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	if c.generation.Load() != generation && c.Index.ActiveID() != conversationID {
		// Superseded by a newer conversation switch; not an error.
		return nil
	}

	c.Store.AppendPage(conversationID, msgs, next)
	return nil
}

// SetActiveConversation switches the open conversation. The previous one gets
// a stopped-typing emission, the new one is fetched if needed and marked seen.
// Pass an empty id when no conversation is open.
func (c *Client) SetActiveConversation(ctx context.Context, conversationID string) {
	prev := c.Index.ActiveID()
	if prev == conversationID {
		return
	}
	c.Coordinator.StopTyping(prev)
	c.Index.SetActive(conversationID)
	c.generation.Add(1)

	if conversationID == "" {
		return
	}
	if err := c.FetchMessages(ctx, conversationID); err != nil {
		log.Printf("fetch messages conversation=%s failed: %v", conversationID, err)
	}
	if err := c.Coordinator.MarkSeen(ctx, conversationID); err != nil {
		log.Printf("mark seen conversation=%s failed: %v", conversationID, err)
	}
}

// SetIdentity swaps the current user after a re-login. Message ownership is
// derived at read time, so no refetch is required; the caller is expected to
// Reset first when switching to a different account's data.
func (c *Client) SetIdentity(userID string) {
	c.identity.Set(userID)
}

// Reset clears all local state, for logout.
func (c *Client) Reset() {
	c.Store.Reset()
	c.Index.Reset()
	c.Presence.Reset()
	c.generation.Add(1)
}

// SaveSnapshot persists the conversation list to the cache, if configured.
func (c *Client) SaveSnapshot() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Save(c.Index.Conversations())
}

// rehydrate preloads cached conversations. The reconciler's connect resync
// always revalidates them against the server.
func (c *Client) rehydrate() {
	if c.cache == nil {
		return
	}
	conversations, err := c.cache.Load()
	if err != nil {
		log.Printf("snapshot rehydrate failed: %v", err)
		return
	}
	if len(conversations) > 0 {
		c.Index.ReplaceAll(conversations)
	}
}

package client

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// ErrAlreadyRunning guards against a second dispatch loop: the channel is
// subscribed exactly once per logical session, so reconnects can never stack
// duplicate handlers.
var ErrAlreadyRunning = errors.New("reconciler already running")

// Notifier receives the local side effect for a message authored by someone
// else (notification sound and the like). It never fires for the current
// user's own echoed messages.
type Notifier interface {
	MessageReceived(msg models.Message)
}

// NoopNotifier discards received-message side effects.
type NoopNotifier struct{}

// MessageReceived implements Notifier.
func (NoopNotifier) MessageReceived(models.Message) {}

// Reconciler subscribes to the push channel and applies each event's merge
// rule into the message store, conversation index and presence tracker. The
// channel offers no gap-filling guarantee, so every reconnect triggers a full
// conversation resync.
type Reconciler struct {
	api         API
	channel     Channel
	store       *MessageStore
	index       *ConversationIndex
	presence    *PresenceTracker
	coordinator *Coordinator
	identity    *Identity
	notifier    Notifier
	pageLimit   int

	running atomic.Bool
	state   atomic.Int32
}

// NewReconciler builds a Reconciler.
func NewReconciler(api API, channel Channel, store *MessageStore, index *ConversationIndex,
	presence *PresenceTracker, coordinator *Coordinator, identity *Identity, notifier Notifier, pageLimit int) *Reconciler {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	return &Reconciler{
		api:         api,
		channel:     channel,
		store:       store,
		index:       index,
		presence:    presence,
		coordinator: coordinator,
		identity:    identity,
		notifier:    notifier,
		pageLimit:   pageLimit,
	}
}

// Run consumes channel events and state transitions until ctx is cancelled.
// It is the only goroutine that applies push events, which serializes all
// merge operations.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state := <-r.channel.States():
			r.transition(ctx, state)
		case envelope := <-r.channel.Events():
			r.dispatch(ctx, envelope)
		}
	}
}

// State returns the last observed channel state. Safe to call from any
// goroutine.
func (r *Reconciler) State() ConnState { return ConnState(r.state.Load()) }

func (r *Reconciler) transition(ctx context.Context, state ConnState) {
	prev := ConnState(r.state.Swap(int32(state)))

	switch state {
	case StateDisconnected:
		// Presence and typing are meaningless while disconnected; message and
		// conversation caches stay stale-but-available.
		r.presence.Reset()
	case StateConnected:
		if prev != StateConnected {
			r.resync(ctx)
		}
	}
}

// resync refetches the conversation list and refreshes the active
// conversation after a (re)connect, since missed events are not replayed.
func (r *Reconciler) resync(ctx context.Context) {
	observability.IncSyncResync()

	conversations, err := r.api.FetchConversations(ctx)
	if err != nil {
		log.Printf("resync fetch conversations failed: %v", err)
		return
	}
	r.index.ReplaceAll(conversations)

	for _, conv := range conversations {
		r.join(conv.ID)
	}

	if active := r.index.ActiveID(); active != "" {
		if err := r.refreshMessages(ctx, active); err != nil {
			log.Printf("resync refresh messages conversation=%s failed: %v", active, err)
		}
	}
}

func (r *Reconciler) dispatch(ctx context.Context, envelope models.Envelope) {
	observability.IncSyncEvent(envelope.Event)

	switch envelope.Event {
	case models.EventOnlineUsers:
		ids, err := decode[[]string](envelope.Data)
		if err != nil {
			r.dropEvent(envelope.Event, err)
			return
		}
		r.presence.SetOnlineUsers(ids)

	case models.EventUserTyping:
		ev, err := decode[models.TypingEvent](envelope.Data)
		if err != nil || ev.ConversationID == "" || ev.UserID == "" {
			r.dropEvent(envelope.Event, err)
			return
		}
		r.presence.SetTyping(ev.ConversationID, ev.UserID, ev.IsTyping)

	case models.EventNewMessage:
		ev, err := decode[models.NewMessageEvent](envelope.Data)
		if err != nil || ev.Message.ID == "" || ev.Message.ConversationID == "" {
			r.dropEvent(envelope.Event, err)
			return
		}
		r.applyNewMessage(ctx, ev)

	case models.EventReadMessage:
		ev, err := decode[models.ReadMessageEvent](envelope.Data)
		if err != nil || ev.Conversation.ID == "" {
			r.dropEvent(envelope.Event, err)
			return
		}
		r.applyReadMessage(ev)

	case models.EventNewGroup:
		conv, err := decode[models.Conversation](envelope.Data)
		if err != nil || conv.ID == "" {
			r.dropEvent(envelope.Event, err)
			return
		}
		r.index.Insert(conv)
		r.join(conv.ID)

	default:
		log.Printf("ignoring unknown event %q", envelope.Event)
	}
}

func (r *Reconciler) applyNewMessage(ctx context.Context, ev models.NewMessageEvent) {
	conversationID := ev.Message.ConversationID

	// A live message for a never-loaded conversation pulls the history first
	// so the page state stays coherent.
	if !r.store.Loaded(conversationID) {
		if err := r.refreshMessages(ctx, conversationID); err != nil {
			log.Printf("fetch history conversation=%s failed: %v", conversationID, err)
		}
	}
	r.store.AppendLive(conversationID, ev.Message)

	if ev.Message.SenderID != r.identity.UserID() {
		r.notifier.MessageReceived(ev.Message)
	}

	applied := r.index.Upsert(ConversationPatch{
		ID:           conversationID,
		Participants: ev.Conversation.Participants,
		Group:        ev.Conversation.Group,
		LastMessage:  ev.Message.Summary(),
		UnreadCounts: ev.UnreadCounts,
		SeenBy:       &ev.Conversation.SeenBy,
	})
	if !applied {
		// First message of a server-created direct conversation: the event
		// carries the full document, treat it as an insert.
		r.index.Insert(ev.Conversation)
		r.join(conversationID)
	}

	if r.index.ActiveID() == conversationID {
		if err := r.coordinator.MarkSeen(ctx, conversationID); err != nil {
			log.Printf("mark seen conversation=%s failed: %v", conversationID, err)
		}
	}
}

func (r *Reconciler) applyReadMessage(ev models.ReadMessageEvent) {
	patch := ConversationPatch{
		ID:           ev.Conversation.ID,
		UnreadCounts: ev.Conversation.UnreadCounts,
		SeenBy:       &ev.Conversation.SeenBy,
	}
	if ev.LastMessage != nil {
		patch.LastMessageAt = &ev.LastMessage.CreatedAt
	}
	r.index.Upsert(patch)
}

func (r *Reconciler) refreshMessages(ctx context.Context, conversationID string) error {
	msgs, cursor, err := r.api.FetchMessages(ctx, conversationID, "", r.pageLimit)
	if err != nil {
		return err
	}
	r.store.AppendPage(conversationID, msgs, cursor)
	return nil
}

func (r *Reconciler) join(conversationID string) {
	if err := r.channel.Emit(models.EventJoinConversation, models.JoinEvent{ConversationID: conversationID}); err != nil {
		log.Printf("join conversation=%s failed: %v", conversationID, err)
	}
}

func (r *Reconciler) dropEvent(event string, err error) {
	observability.IncSyncEventDropped(event)
	if err != nil {
		log.Printf("malformed %s event dropped: %v", event, err)
	} else {
		log.Printf("incomplete %s event dropped", event)
	}
}

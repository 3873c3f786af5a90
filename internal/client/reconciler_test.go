package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

type apiMock struct {
	mock.Mock
}

func (m *apiMock) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var conversations []models.Conversation
	if val := args.Get(0); val != nil {
		conversations = val.([]models.Conversation)
	}
	return conversations, args.Error(1)
}

func (m *apiMock) FetchMessages(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, *string, error) {
	args := m.Called(ctx, conversationID, cursor, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	var next *string
	if val := args.Get(1); val != nil {
		next = val.(*string)
	}
	return msgs, next, args.Error(2)
}

func (m *apiMock) SendDirect(ctx context.Context, req SendDirectRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *apiMock) SendGroup(ctx context.Context, req SendGroupRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *apiMock) MarkSeen(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type fakeChannel struct {
	events chan models.Envelope
	states chan ConnState

	mu      sync.Mutex
	emitted []models.Envelope
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan models.Envelope, 16),
		states: make(chan ConnState, 16),
	}
}

func (f *fakeChannel) Run(ctx context.Context)           {}
func (f *fakeChannel) Events() <-chan models.Envelope    { return f.events }
func (f *fakeChannel) States() <-chan ConnState          { return f.states }

func (f *fakeChannel) Emit(event string, payload any) error {
	envelope, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.emitted = append(f.emitted, envelope)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) emittedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emitted))
	for _, e := range f.emitted {
		out = append(out, e.Event)
	}
	return out
}

func (f *fakeChannel) push(t *testing.T, event string, payload any) {
	t.Helper()
	envelope, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	f.events <- envelope
}

type recordingNotifier struct {
	mu       sync.Mutex
	received []string
}

func (n *recordingNotifier) MessageReceived(msg models.Message) {
	n.mu.Lock()
	n.received = append(n.received, msg.ID)
	n.mu.Unlock()
}

func (n *recordingNotifier) ids() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.received...)
}

type harness struct {
	api      *apiMock
	channel  *fakeChannel
	notifier *recordingNotifier
	client   *Client
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	api := new(apiMock)
	channel := newFakeChannel()
	notifier := &recordingNotifier{}
	c := New(Options{
		API:           api,
		Channel:       channel,
		Identity:      NewIdentity(userID),
		Notifier:      notifier,
		TypingTimeout: -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.reconciler.Run(ctx) }()
	t.Cleanup(cancel)

	return &harness{api: api, channel: channel, notifier: notifier, client: c, cancel: cancel}
}

func TestReconnectResyncIssuedOncePerConnect(t *testing.T) {
	h := newHarness(t, "u1")
	h.api.On("FetchConversations", mock.Anything).Return([]models.Conversation{direct("c1", "u1", "u2")}, nil)

	h.channel.states <- StateConnecting
	h.channel.states <- StateConnected
	require.Eventually(t, func() bool {
		_, ok := h.client.Index.Get("c1")
		return ok
	}, time.Second, 5*time.Millisecond)
	h.api.AssertNumberOfCalls(t, "FetchConversations", 1)

	h.client.Presence.SetOnlineUsers([]string{"u2"})
	h.channel.states <- StateDisconnected
	require.Eventually(t, func() bool {
		return len(h.client.Presence.OnlineUsers()) == 0
	}, time.Second, 5*time.Millisecond)

	// Stores keep stale-but-available data while disconnected.
	_, ok := h.client.Index.Get("c1")
	assert.True(t, ok)

	h.channel.states <- StateConnecting
	h.channel.states <- StateConnected
	require.Eventually(t, func() bool {
		return len(h.api.Calls) >= 2
	}, time.Second, 5*time.Millisecond)
	h.api.AssertNumberOfCalls(t, "FetchConversations", 2)

	// Conversations are joined on each resync.
	assert.Contains(t, h.channel.emittedEvents(), models.EventJoinConversation)
}

func TestNewMessageFromOtherUserNotifiesAndCounts(t *testing.T) {
	h := newHarness(t, "u1")
	h.client.Index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})
	h.api.On("FetchMessages", mock.Anything, "c1", "", DefaultPageLimit).Return([]models.Message(nil), nil, nil).Once()

	incoming := msg("m1", "c1", "u2", time.Now())
	h.channel.push(t, models.EventNewMessage, models.NewMessageEvent{
		Message:      incoming,
		Conversation: direct("c1", "u1", "u2"),
		UnreadCounts: map[string]int{"u1": 1},
	})

	require.Eventually(t, func() bool {
		return len(h.client.Store.Page("c1").Items) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m1"}, h.notifier.ids())
	got, _ := h.client.Index.Get("c1")
	assert.Equal(t, 1, got.UnreadCounts["u1"])
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m1", got.LastMessage.ID)
	h.api.AssertExpectations(t)
}

func TestOwnEchoedMessageDoesNotNotify(t *testing.T) {
	h := newHarness(t, "u1")
	h.client.Index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})
	h.api.On("FetchMessages", mock.Anything, "c1", "", DefaultPageLimit).Return([]models.Message(nil), nil, nil).Once()

	h.channel.push(t, models.EventNewMessage, models.NewMessageEvent{
		Message:      msg("m1", "c1", "u1", time.Now()),
		Conversation: direct("c1", "u1", "u2"),
		UnreadCounts: map[string]int{},
	})

	require.Eventually(t, func() bool {
		return len(h.client.Store.Page("c1").Items) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.notifier.ids())
}

func TestNewMessageInActiveConversationMarksSeen(t *testing.T) {
	h := newHarness(t, "u1")
	h.client.Index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})
	h.client.Index.SetActive("c1")
	h.api.On("FetchMessages", mock.Anything, "c1", "", DefaultPageLimit).Return([]models.Message(nil), nil, nil).Once()
	h.api.On("MarkSeen", mock.Anything, "c1").Return(nil).Once()

	h.channel.push(t, models.EventNewMessage, models.NewMessageEvent{
		Message:      msg("m1", "c1", "u2", time.Now()),
		Conversation: direct("c1", "u1", "u2"),
		UnreadCounts: map[string]int{"u1": 1},
	})

	require.Eventually(t, func() bool {
		got, ok := h.client.Index.Get("c1")
		return ok && got.UnreadCounts["u1"] == 0
	}, time.Second, 5*time.Millisecond)
	h.api.AssertExpectations(t)
}

func TestReadMessageEventAppliesServerCounts(t *testing.T) {
	h := newHarness(t, "u1")
	conv := direct("c1", "u1", "u2")
	conv.UnreadCounts = map[string]int{"u1": 3}
	h.client.Index.ReplaceAll([]models.Conversation{conv})

	updated := direct("c1", "u1", "u2")
	updated.UnreadCounts = map[string]int{"u1": 0}
	updated.SeenBy = []string{"u1", "u2"}
	h.channel.push(t, models.EventReadMessage, models.ReadMessageEvent{
		Conversation: updated,
		LastMessage:  &models.LastMessage{ID: "m9", SenderID: "u2", CreatedAt: time.Now()},
	})

	require.Eventually(t, func() bool {
		got, _ := h.client.Index.Get("c1")
		return got.UnreadCounts["u1"] == 0 && len(got.SeenBy) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNewGroupInsertedAndJoined(t *testing.T) {
	h := newHarness(t, "u1")

	group := direct("g1", "u1", "u2", "u3")
	group.Type = models.ConversationGroup
	group.Group = &models.Group{Name: "team", CreatedBy: "u2"}
	h.channel.push(t, models.EventNewGroup, group)

	require.Eventually(t, func() bool {
		_, ok := h.client.Index.Get("g1")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.channel.emittedEvents(), models.EventJoinConversation)
}

func TestMalformedEventDoesNotBreakDispatch(t *testing.T) {
	h := newHarness(t, "u1")

	h.channel.events <- models.Envelope{Event: models.EventNewMessage, Data: json.RawMessage(`{`)}
	h.channel.events <- models.Envelope{Event: models.EventUserTyping, Data: json.RawMessage(`42`)}
	h.channel.push(t, models.EventOnlineUsers, []string{"u2"})

	require.Eventually(t, func() bool {
		return h.client.Presence.IsOnline("u2")
	}, time.Second, 5*time.Millisecond)
}

func TestTypingEventTracked(t *testing.T) {
	h := newHarness(t, "u1")

	h.channel.push(t, models.EventUserTyping, models.TypingEvent{ConversationID: "c1", UserID: "u2", IsTyping: true})

	require.Eventually(t, func() bool {
		return len(h.client.Presence.TypingUsers("c1")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStateTracksChannelTransitions(t *testing.T) {
	h := newHarness(t, "u1")
	h.api.On("FetchConversations", mock.Anything).Return([]models.Conversation(nil), nil)

	assert.Equal(t, StateDisconnected, h.client.reconciler.State())

	h.channel.states <- StateConnecting
	h.channel.states <- StateConnected
	require.Eventually(t, func() bool {
		return h.client.reconciler.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	h.channel.states <- StateDisconnected
	require.Eventually(t, func() bool {
		return h.client.reconciler.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestReconcilerRunsOncePerSession(t *testing.T) {
	h := newHarness(t, "u1")

	require.Eventually(t, func() bool {
		return h.client.reconciler.running.Load()
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.client.reconciler.Run(context.Background()), ErrAlreadyRunning)
}

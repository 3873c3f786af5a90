package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func newCoordinatorFixture(userID string) (*apiMock, *fakeChannel, *MessageStore, *ConversationIndex, *Coordinator) {
	api := new(apiMock)
	channel := newFakeChannel()
	identity := NewIdentity(userID)
	store := NewMessageStore(identity)
	index := NewConversationIndex(identity)
	coordinator := NewCoordinator(api, store, index, identity, channel)
	return api, channel, store, index, coordinator
}

func TestSendDirectResolvesProvisional(t *testing.T) {
	api, _, store, index, coordinator := newCoordinatorFixture("u1")
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	server := msg("srv-1", "c1", "u1", time.Now())
	api.On("SendDirect", mock.Anything, mock.MatchedBy(func(req SendDirectRequest) bool {
		return req.RecipientID == "u2" && req.ConversationID == "c1" && req.Content == "hi"
	})).Return(server, nil).Once()

	got, err := coordinator.SendDirect(context.Background(), "u2", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ID)

	page := store.Page("c1")
	require.Len(t, page.Items, 1)
	assert.Equal(t, "srv-1", page.Items[0].ID)
	assert.False(t, page.Items[0].Pending)
	api.AssertExpectations(t)
}

func TestSendDirectShowsProvisionalUntilResolved(t *testing.T) {
	api, _, store, index, coordinator := newCoordinatorFixture("u1")
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	api.On("SendDirect", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		page := store.Page("c1")
		require.Len(t, page.Items, 1)
		assert.True(t, page.Items[0].Pending)
		assert.True(t, strings.HasPrefix(page.Items[0].ID, "tmp-"))
	}).Return(msg("srv-1", "c1", "u1", time.Now()), nil).Once()

	_, err := coordinator.SendDirect(context.Background(), "u2", "hi", "")
	require.NoError(t, err)
}

func TestSendDirectRollsBackOnFailure(t *testing.T) {
	api, _, store, index, coordinator := newCoordinatorFixture("u1")
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	api.On("SendDirect", mock.Anything, mock.Anything).Return(models.Message{}, errors.New("boom")).Once()

	_, err := coordinator.SendDirect(context.Background(), "u2", "hi", "")
	require.Error(t, err)
	assert.Empty(t, store.Page("c1").Items)
}

func TestSendDirectWithoutExistingConversation(t *testing.T) {
	api, _, store, _, coordinator := newCoordinatorFixture("u1")

	// First message to a new contact: the server creates the conversation, so
	// there is nowhere to insert a provisional entry beforehand.
	server := msg("srv-1", "c-new", "u1", time.Now())
	api.On("SendDirect", mock.Anything, mock.MatchedBy(func(req SendDirectRequest) bool {
		return req.ConversationID == ""
	})).Return(server, nil).Once()

	got, err := coordinator.SendDirect(context.Background(), "u9", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "c-new", got.ConversationID)
	require.Len(t, store.Page("c-new").Items, 1)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	_, _, _, _, coordinator := newCoordinatorFixture("u1")

	_, err := coordinator.SendDirect(context.Background(), "u2", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = coordinator.SendGroup(context.Background(), "g1", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendImageOnlyMessageAllowed(t *testing.T) {
	api, _, _, index, coordinator := newCoordinatorFixture("u1")
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	server := msg("srv-1", "c1", "u1", time.Now())
	server.ImgURL = "https://cdn.example/pic.png"
	api.On("SendDirect", mock.Anything, mock.Anything).Return(server, nil).Once()

	_, err := coordinator.SendDirect(context.Background(), "u2", "", "https://cdn.example/pic.png")
	require.NoError(t, err)
}

func TestSendGroupRollsBackOnFailure(t *testing.T) {
	api, _, store, _, coordinator := newCoordinatorFixture("u1")

	api.On("SendGroup", mock.Anything, mock.Anything).Return(models.Message{}, errors.New("boom")).Once()

	_, err := coordinator.SendGroup(context.Background(), "g1", "hi", "")
	require.Error(t, err)
	assert.Empty(t, store.Page("g1").Items)
}

func TestMarkSeenClearsOptimistically(t *testing.T) {
	api, _, _, index, coordinator := newCoordinatorFixture("u1")
	conv := direct("c1", "u1", "u2")
	conv.UnreadCounts = map[string]int{"u1": 4}
	index.ReplaceAll([]models.Conversation{conv})

	api.On("MarkSeen", mock.Anything, "c1").Return(nil).Once()

	require.NoError(t, coordinator.MarkSeen(context.Background(), "c1"))
	got, _ := index.Get("c1")
	assert.Zero(t, got.UnreadCounts["u1"])
	api.AssertExpectations(t)
}

func TestTypingEmitsOnlyTransitions(t *testing.T) {
	_, channel, _, _, coordinator := newCoordinatorFixture("u1")

	coordinator.InputChanged("c1", "h")
	coordinator.InputChanged("c1", "he")
	coordinator.InputChanged("c1", "hel")
	coordinator.InputChanged("c1", "")
	coordinator.InputChanged("c1", "")

	events := channel.emittedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTyping, events[0])
	assert.Equal(t, models.EventTyping, events[1])
}

func TestSuccessfulSendStopsTyping(t *testing.T) {
	api, channel, _, index, coordinator := newCoordinatorFixture("u1")
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	coordinator.InputChanged("c1", "hi")
	api.On("SendDirect", mock.Anything, mock.Anything).Return(msg("srv-1", "c1", "u1", time.Now()), nil).Once()

	_, err := coordinator.SendDirect(context.Background(), "u2", "hi", "")
	require.NoError(t, err)

	// One started-typing emission, one stopped-typing after the send.
	assert.Len(t, channel.emittedEvents(), 2)
}

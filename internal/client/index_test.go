package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func direct(id string, participants ...string) models.Conversation {
	conv := models.Conversation{
		ID:           id,
		Type:         models.ConversationDirect,
		UnreadCounts: map[string]int{},
	}
	for _, p := range participants {
		conv.Participants = append(conv.Participants, models.Participant{ID: p})
	}
	return conv
}

func TestUpsertIgnoresUnknownConversation(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))

	applied := index.Upsert(ConversationPatch{ID: "missing", UnreadCounts: map[string]int{"u1": 1}})

	assert.False(t, applied)
	assert.Empty(t, index.Conversations())
}

func TestUpsertLeavesUnspecifiedFieldsUntouched(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	conv := direct("c1", "u1", "u2")
	conv.SeenBy = []string{"u2"}
	index.ReplaceAll([]models.Conversation{conv})

	at := time.Now()
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessageAt: &at}))

	got, ok := index.Get("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, got.SeenBy)
	assert.Len(t, got.Participants, 2)
}

func TestUnreadFallbackIncrementForInactiveConversation(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})
	index.SetActive("other")

	last := &models.LastMessage{ID: "m1", SenderID: "u2", CreatedAt: time.Now()}
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: last}))
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: last}))

	got, _ := index.Get("c1")
	assert.Equal(t, 2, got.UnreadCounts["u1"])
	assert.Equal(t, last.CreatedAt, got.LastMessageAt)
}

func TestUpsertKeepsNewestLastMessageUnderReordering(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	now := time.Now()
	newer := &models.LastMessage{ID: "m2", SenderID: "u2", CreatedAt: now}
	older := &models.LastMessage{ID: "m1", SenderID: "u2", CreatedAt: now.Add(-time.Hour)}

	// The older message is delivered after the newer one; lastMessage must
	// not move backwards.
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: newer}))
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: older}))

	got, ok := index.Get("c1")
	require.True(t, ok)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m2", got.LastMessage.ID)
	assert.True(t, got.LastMessageAt.Equal(now))
	// Both messages still count as unread, whatever their arrival order.
	assert.Equal(t, 2, got.UnreadCounts["u1"])

	// Reversed interleaving converges on the same state.
	reversed := NewConversationIndex(NewIdentity("u1"))
	reversed.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})
	require.True(t, reversed.Upsert(ConversationPatch{ID: "c1", LastMessage: older}))
	require.True(t, reversed.Upsert(ConversationPatch{ID: "c1", LastMessage: newer}))
	alt, _ := reversed.Get("c1")
	assert.Equal(t, got.LastMessage, alt.LastMessage)
	assert.True(t, got.LastMessageAt.Equal(alt.LastMessageAt))
}

func TestUpsertTieBreaksEqualTimestampsByID(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	at := time.Now()
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: &models.LastMessage{ID: "m2", SenderID: "u2", CreatedAt: at}}))
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: &models.LastMessage{ID: "m1", SenderID: "u2", CreatedAt: at}}))

	got, _ := index.Get("c1")
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m2", got.LastMessage.ID)
}

func TestUpsertIgnoresStaleLastMessageAt(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2")})

	now := time.Now()
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessage: &models.LastMessage{ID: "m2", SenderID: "u2", CreatedAt: now}}))

	stale := now.Add(-time.Minute)
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", LastMessageAt: &stale}))

	got, _ := index.Get("c1")
	assert.True(t, got.LastMessageAt.Equal(now))
}

func TestUnreadServerValueWins(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	conv := direct("c1", "u1", "u2")
	conv.UnreadCounts = map[string]int{"u1": 3}
	index.ReplaceAll([]models.Conversation{conv})

	// Seen flow: optimistic clear, then the authoritative read-message counts.
	index.ClearUnread("c1")
	require.True(t, index.Upsert(ConversationPatch{ID: "c1", UnreadCounts: map[string]int{"u1": 0, "u2": 1}}))

	got, _ := index.Get("c1")
	assert.Equal(t, 0, got.UnreadCounts["u1"])
	assert.Equal(t, 1, got.UnreadCounts["u2"])
}

func TestNoUnreadIncrementForOwnOrActiveMessages(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	index.ReplaceAll([]models.Conversation{direct("c1", "u1", "u2"), direct("c2", "u1", "u3")})
	index.SetActive("c1")

	// Active conversation: no increment even for a foreign sender.
	index.Upsert(ConversationPatch{ID: "c1", LastMessage: &models.LastMessage{ID: "m1", SenderID: "u2", CreatedAt: time.Now()}})
	// Own message in an inactive conversation: no increment either.
	index.Upsert(ConversationPatch{ID: "c2", LastMessage: &models.LastMessage{ID: "m2", SenderID: "u1", CreatedAt: time.Now()}})

	c1, _ := index.Get("c1")
	c2, _ := index.Get("c2")
	assert.Zero(t, c1.UnreadCounts["u1"])
	assert.Zero(t, c2.UnreadCounts["u1"])
}

func TestClearUnreadAddsSelfToSeenByOnce(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	conv := direct("c1", "u1", "u2")
	conv.UnreadCounts = map[string]int{"u1": 2}
	index.ReplaceAll([]models.Conversation{conv})

	index.ClearUnread("c1")
	index.ClearUnread("c1")

	got, _ := index.Get("c1")
	assert.Zero(t, got.UnreadCounts["u1"])
	assert.Equal(t, []string{"u1"}, got.SeenBy)
}

func TestConversationsSortedByLastMessageAt(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	old := direct("old", "u1", "u2")
	old.LastMessageAt = time.Now().Add(-time.Hour)
	recent := direct("recent", "u1", "u3")
	recent.LastMessageAt = time.Now()
	index.ReplaceAll([]models.Conversation{old, recent})

	got := index.Conversations()
	require.Len(t, got, 2)
	assert.Equal(t, "recent", got[0].ID)
}

func TestDirectConversationWith(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	group := direct("g1", "u1", "u2")
	group.Type = models.ConversationGroup
	index.ReplaceAll([]models.Conversation{group, direct("c1", "u1", "u2")})

	got, ok := index.DirectConversationWith("u2")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID)

	_, ok = index.DirectConversationWith("stranger")
	assert.False(t, ok)
}

func TestInsertReplacesWholesale(t *testing.T) {
	index := NewConversationIndex(NewIdentity("u1"))
	conv := direct("c1", "u1", "u2")
	conv.UnreadCounts = map[string]int{"u1": 5}
	index.ReplaceAll([]models.Conversation{conv})

	index.Insert(direct("c1", "u1", "u2"))

	got, _ := index.Get("c1")
	assert.Zero(t, got.UnreadCounts["u1"])
}

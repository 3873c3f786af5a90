package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOnlineUsersSnapshotReplaced(t *testing.T) {
	presence := NewPresenceTracker(NewIdentity("u1"), 0)

	presence.SetOnlineUsers([]string{"u2", "u3"})
	presence.SetOnlineUsers([]string{"u4"})

	assert.Equal(t, []string{"u4"}, presence.OnlineUsers())
	assert.False(t, presence.IsOnline("u2"))
}

func TestTypingSelfExclusion(t *testing.T) {
	presence := NewPresenceTracker(NewIdentity("u1"), 0)

	// The local user's own signal must never render back to themselves.
	presence.SetTyping("c1", "u1", true)
	presence.SetTyping("c1", "u2", true)

	assert.Equal(t, []string{"u2"}, presence.TypingUsers("c1"))
}

func TestTypingStopRemovesUser(t *testing.T) {
	presence := NewPresenceTracker(NewIdentity("u1"), 0)

	presence.SetTyping("c1", "u2", true)
	presence.SetTyping("c1", "u2", false)

	assert.Empty(t, presence.TypingUsers("c1"))
}

func TestTypingExpiresWithoutStopEvent(t *testing.T) {
	presence := NewPresenceTracker(NewIdentity("u1"), 20*time.Millisecond)

	presence.SetTyping("c1", "u2", true)
	assert.Eventually(t, func() bool {
		return len(presence.TypingUsers("c1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestResetClearsEphemeralState(t *testing.T) {
	presence := NewPresenceTracker(NewIdentity("u1"), time.Minute)
	presence.SetOnlineUsers([]string{"u2"})
	presence.SetTyping("c1", "u2", true)

	presence.Reset()

	assert.Empty(t, presence.OnlineUsers())
	assert.Empty(t, presence.TypingUsers("c1"))
}

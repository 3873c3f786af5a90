package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC)

	cursor := encodeCursor(at, "m42")
	gotAt, gotID, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, "m42", gotID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"not-base64!!", "bm9wZQ==", ""} {
		_, _, err := decodeCursor(cursor)
		assert.ErrorIs(t, err, ErrBadCursor, "cursor %q", cursor)
	}
}

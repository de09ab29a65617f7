package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()
	assert.True(t, strings.HasPrefix(id, "msg-"))

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSortMessagesByTimestamp(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", Timestamp: base.Add(2 * time.Second)},
		{ID: "a", Timestamp: base},
		{ID: "b", Timestamp: base.Add(time.Second)},
	}
	SortMessages(msgs)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, "c", msgs[2].ID)
}

func TestSortMessagesBreaksTiesByID(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "msg-2", Timestamp: ts},
		{ID: "msg-1", Timestamp: ts},
		{ID: "msg-3", Timestamp: ts},
	}
	SortMessages(msgs)
	assert.Equal(t, []string{"msg-1", "msg-2", "msg-3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestTitleFromContent(t *testing.T) {
	assert.Equal(t, "short question", TitleFromContent("short question"))

	long := strings.Repeat("a", 31)
	got := TitleFromContent(long)
	assert.Equal(t, strings.Repeat("a", 30)+"...", got)

	// Truncation counts runes, not bytes.
	arabic := strings.Repeat("س", 31)
	got = TitleFromContent(arabic)
	assert.Equal(t, strings.Repeat("س", 30)+"...", got)

	exact := strings.Repeat("b", 30)
	assert.Equal(t, exact, TitleFromContent(exact))
}

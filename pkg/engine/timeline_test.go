package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chat-sync/pkg/model"
)

func msg(id, sender, content string) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: "dm:me:other",
		SenderID:       sender,
		Content:        content,
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
		Provisional:    model.IsProvisionalID(id),
	}
}

func TestTimelineAppendIdempotent(t *testing.T) {
	tl := NewTimeline()
	require.True(t, tl.Append(msg("1", "other", "hi")))
	assert.False(t, tl.Append(msg("1", "other", "hi")))
	assert.Equal(t, 1, tl.Len())
}

func TestTimelinePromoteKeepsPosition(t *testing.T) {
	tl := NewTimeline()
	tl.Append(msg("1", "other", "a"))
	tl.Append(msg("tmp-7", "me", "b"))
	tl.Append(msg("2", "other", "c"))

	confirmed := msg("42", "me", "b")
	require.True(t, tl.Promote("tmp-7", confirmed))

	got := tl.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, "42", got[1].ID)
	assert.Equal(t, "b", got[1].Content)
	assert.False(t, got[1].Provisional)
}

func TestTimelinePromoteAfterBroadcastDuplicate(t *testing.T) {
	tl := NewTimeline()
	tl.Append(msg("tmp-7", "me", "hello"))

	// The broadcast copy of the confirmation lands before the durable
	// write's response.
	require.True(t, tl.Reconcile(msg("42", "me", "hello")))
	require.Equal(t, 1, tl.Len())

	// The late confirmation must not produce a second entry.
	require.True(t, tl.Promote("tmp-7", msg("42", "me", "hello")))
	got := tl.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "42", got[0].ID)
}

func TestTimelineReconcilePromotesProvisionalTwin(t *testing.T) {
	tl := NewTimeline()
	tl.Append(msg("tmp-3", "other", "ping"))

	require.True(t, tl.Reconcile(msg("9", "other", "ping")))
	got := tl.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "9", got[0].ID)
	assert.False(t, got[0].Provisional)

	// Re-delivery of the same id is a no-op.
	assert.False(t, tl.Reconcile(msg("9", "other", "ping")))
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineRemove(t *testing.T) {
	tl := NewTimeline()
	tl.Append(msg("1", "other", "a"))
	tl.Append(msg("tmp-2", "me", "b"))

	require.True(t, tl.Remove("tmp-2"))
	assert.False(t, tl.Remove("tmp-2"))
	got := tl.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestTimelineUnreadAccounting(t *testing.T) {
	tl := NewTimeline()
	tl.Append(msg("1", "other", "a"))
	tl.Append(msg("2", "other", "b"))
	read := msg("3", "other", "c")
	read.Read = true
	tl.Append(read)
	tl.Append(msg("4", "me", "d"))
	tl.Append(msg("tmp-5", "other", "e"))

	assert.Equal(t, []string{"1", "2"}, tl.UnreadIDsNotFrom("me"))
	assert.Equal(t, 2, tl.CountUnreadNotFrom("me"))

	tl.MarkRead([]string{"1", "2"})
	assert.Equal(t, 0, tl.CountUnreadNotFrom("me"))
}

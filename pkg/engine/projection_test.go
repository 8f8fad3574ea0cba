package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chat-sync/pkg/model"
)

func conv(id string, unread int, activity time.Time) model.Conversation {
	a, b, _ := model.Participants(id)
	return model.Conversation{
		ID:             id,
		ParticipantA:   a,
		ParticipantB:   b,
		UnreadCount:    unread,
		LastActivityAt: activity,
	}
}

func TestProjectionOrdering(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	p := NewProjection()
	p.Upsert(conv("dm:me:a", 0, base.Add(4*time.Hour)))
	p.Upsert(conv("dm:me:b", 2, base.Add(1*time.Hour)))
	p.Upsert(conv("dm:me:c", 0, base.Add(3*time.Hour)))
	p.Upsert(conv("dm:me:d", 1, base.Add(2*time.Hour)))

	got := p.Ordered()
	require.Len(t, got, 4)

	// Unread conversations strictly before read ones, each group in
	// non-increasing activity order.
	ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	assert.Equal(t, []string{"dm:me:d", "dm:me:b", "dm:me:a", "dm:me:c"}, ids)

	seenRead := false
	for i, c := range got {
		if c.UnreadCount == 0 {
			seenRead = true
		} else {
			assert.False(t, seenRead, "unread conversation at %d after a read one", i)
		}
	}
}

func TestProjectionUnreadClamp(t *testing.T) {
	p := NewProjection()
	p.Upsert(conv("dm:me:a", 1, time.Unix(1700000000, 0)))

	p.IncrementUnread("dm:me:a", -5)
	c, ok := p.Get("dm:me:a")
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount)

	p.SetUnread("dm:me:a", -1)
	c, _ = p.Get("dm:me:a")
	assert.Equal(t, 0, c.UnreadCount)

	p.IncrementUnread("dm:me:a", 3)
	p.SetUnread("dm:me:a", 2)
	assert.Equal(t, 2, p.UnreadTotal())
}

func TestProjectionPatchAndRestoreLastMessage(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	p := NewProjection()
	p.Upsert(conv("dm:me:a", 0, base))

	m1 := &model.Message{ID: "1", ConversationID: "dm:me:a", SenderID: "a", Content: "old", CreatedAt: base}
	p.PatchLastMessage("dm:me:a", m1, m1.CreatedAt)

	prev, prevAt := p.LastMessage("dm:me:a")
	require.NotNil(t, prev)

	tmp := &model.Message{ID: "tmp-9", ConversationID: "dm:me:a", SenderID: "me", Content: "new", CreatedAt: base.Add(time.Minute), Provisional: true}
	p.PatchLastMessage("dm:me:a", tmp, tmp.CreatedAt)

	// Rollback restores the exact pre-send value.
	p.PatchLastMessage("dm:me:a", prev, prevAt)
	c, _ := p.Get("dm:me:a")
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "1", c.LastMessage.ID)
	assert.True(t, c.LastActivityAt.Equal(base))
}

func TestProjectionRestoreNilLastMessage(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	p := NewProjection()
	p.Upsert(conv("dm:me:a", 0, base))

	prev, prevAt := p.LastMessage("dm:me:a")
	require.Nil(t, prev)

	tmp := &model.Message{ID: "tmp-9", Content: "x", CreatedAt: base.Add(time.Minute)}
	p.PatchLastMessage("dm:me:a", tmp, tmp.CreatedAt)
	p.PatchLastMessage("dm:me:a", prev, prevAt)

	c, _ := p.Get("dm:me:a")
	assert.Nil(t, c.LastMessage)
	assert.True(t, c.LastActivityAt.Equal(base))
}

func TestProjectionCopiesOnRead(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	p := NewProjection()
	c := conv("dm:me:a", 1, base)
	c.LastMessage = &model.Message{ID: "1", Content: "x"}
	p.Upsert(c)

	got := p.Ordered()
	got[0].LastMessage.Content = "mutated"
	got[0].UnreadCount = 99

	again, _ := p.Get("dm:me:a")
	assert.Equal(t, "x", again.LastMessage.Content)
	assert.Equal(t, 1, again.UnreadCount)
}

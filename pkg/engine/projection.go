package engine

import (
	"sort"
	"time"

	"github.com/mahaj/chat-sync/pkg/model"
)

// Projection is the authoritative in-memory mapping of conversation id to
// conversation state. All conversation mutations funnel through it; no other
// component holds a second copy. It is not safe for concurrent use — the
// engine serializes access behind its own mutex.
type Projection struct {
	conversations map[string]*model.Conversation
}

func NewProjection() *Projection {
	return &Projection{conversations: make(map[string]*model.Conversation)}
}

// Upsert inserts or replaces a conversation. The stored value is a copy.
func (p *Projection) Upsert(c model.Conversation) {
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	p.conversations[c.ID] = &c
}

// Get returns a copy of the conversation, if known.
func (p *Projection) Get(id string) (model.Conversation, bool) {
	c, ok := p.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	out := *c
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out, true
}

// LastMessage returns the conversation's last message and activity timestamp.
// The returned message is a copy suitable for capturing a rollback snapshot.
func (p *Projection) LastMessage(id string) (*model.Message, time.Time) {
	c, ok := p.conversations[id]
	if !ok || c.LastMessage == nil {
		var at time.Time
		if ok {
			at = c.LastActivityAt
		}
		return nil, at
	}
	m := *c.LastMessage
	return &m, c.LastActivityAt
}

// PatchLastMessage sets the conversation's last message preview and activity
// timestamp. A nil message clears the preview (used to restore a pre-send
// snapshot of a conversation that had no messages).
func (p *Projection) PatchLastMessage(id string, msg *model.Message, at time.Time) {
	c, ok := p.conversations[id]
	if !ok {
		return
	}
	if msg == nil {
		c.LastMessage = nil
	} else {
		m := *msg
		c.LastMessage = &m
	}
	c.LastActivityAt = at
}

// SetLastMessageRead flips the read flag on the preview if it matches msgID.
func (p *Projection) SetLastMessageRead(id, msgID string, read bool) {
	c, ok := p.conversations[id]
	if !ok || c.LastMessage == nil || c.LastMessage.ID != msgID {
		return
	}
	c.LastMessage.Read = read
}

// IncrementUnread adjusts the unread counter by the given delta, clamped at
// zero. Negative deltas are how successful acknowledgement flushes settle.
func (p *Projection) IncrementUnread(id string, by int) {
	c, ok := p.conversations[id]
	if !ok {
		return
	}
	c.UnreadCount += by
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
}

// SetUnread overwrites the unread counter, used for defensive recomputation
// from the currently-known message set.
func (p *Projection) SetUnread(id string, n int) {
	c, ok := p.conversations[id]
	if !ok {
		return
	}
	if n < 0 {
		n = 0
	}
	c.UnreadCount = n
}

// UnreadTotal sums unread counters across all known conversations.
func (p *Projection) UnreadTotal() int {
	total := 0
	for _, c := range p.conversations {
		total += c.UnreadCount
	}
	return total
}

// Ordered returns all conversations in display order: unread conversations
// first, then descending last activity, ties broken by id. The ordering is
// recomputed on every call rather than incrementally maintained.
func (p *Projection) Ordered() []model.Conversation {
	out := make([]model.Conversation, 0, len(p.conversations))
	for _, c := range p.conversations {
		cp := *c
		if c.LastMessage != nil {
			m := *c.LastMessage
			cp.LastMessage = &m
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ui, uj := out[i].UnreadCount > 0, out[j].UnreadCount > 0
		if ui != uj {
			return ui
		}
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *Projection) Len() int { return len(p.conversations) }

// Reset drops all conversations, used when pagination reloads from offset 0.
func (p *Projection) Reset() {
	p.conversations = make(map[string]*model.Conversation)
}

package engine

import "github.com/mahaj/chat-sync/pkg/model"

// Timeline is the ordered per-conversation message list. Messages are kept in
// arrival order, not created-at order, because provisional messages carry
// client-side timestamps that may race server timestamps. At most one entry
// exists per message id; a provisional entry and its confirmed counterpart
// are reconciled into a single entry. Not safe for concurrent use.
type Timeline struct {
	msgs []*model.Message
	byID map[string]*model.Message
}

func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]*model.Message)}
}

// NewTimelineFrom builds a timeline from a full history load, deduplicating
// by id while keeping the given order.
func NewTimelineFrom(history []model.Message) *Timeline {
	t := NewTimeline()
	for i := range history {
		m := history[i]
		t.Append(&m)
	}
	return t
}

// Append adds a message at the tail. It is a no-op returning false if a
// message with the same id is already present.
func (t *Timeline) Append(m *model.Message) bool {
	if _, ok := t.byID[m.ID]; ok {
		return false
	}
	cp := *m
	t.msgs = append(t.msgs, &cp)
	t.byID[cp.ID] = &cp
	return true
}

// Reconcile merges an inbound message. A known id is a no-op. A confirmed
// message whose provisional twin (same sender, same content, provisional
// flag set) is still present promotes that twin in place instead of
// appending, so a broadcast preview and its durable write never coexist.
// Returns true when the timeline changed.
func (t *Timeline) Reconcile(m *model.Message) bool {
	if _, ok := t.byID[m.ID]; ok {
		return false
	}
	if !m.Provisional {
		for _, existing := range t.msgs {
			if existing.Provisional && existing.SenderID == m.SenderID && existing.Content == m.Content {
				delete(t.byID, existing.ID)
				*existing = *m
				t.byID[m.ID] = existing
				return true
			}
		}
	}
	return t.Append(m)
}

// Promote replaces the provisional entry identified by tmpID with the
// confirmed message, keeping its position. If the confirmed id already
// arrived through a broadcast duplicate, the provisional entry is dropped
// instead. Returns false if neither id is known.
func (t *Timeline) Promote(tmpID string, confirmed *model.Message) bool {
	if _, ok := t.byID[confirmed.ID]; ok {
		t.Remove(tmpID)
		return true
	}
	entry, ok := t.byID[tmpID]
	if !ok {
		return false
	}
	delete(t.byID, tmpID)
	*entry = *confirmed
	t.byID[confirmed.ID] = entry
	return true
}

// Remove deletes the entry with the given id, if present.
func (t *Timeline) Remove(id string) bool {
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	for i, m := range t.msgs {
		if m.ID == id {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			break
		}
	}
	return true
}

// SetRead updates the read flag of a single message.
func (t *Timeline) SetRead(id string, read bool) bool {
	m, ok := t.byID[id]
	if !ok {
		return false
	}
	m.Read = read
	return true
}

// MarkRead flips the read flag on every listed id that is present.
func (t *Timeline) MarkRead(ids []string) {
	for _, id := range ids {
		t.SetRead(id, true)
	}
}

// Last returns a copy of the tail message, or nil for an empty timeline.
func (t *Timeline) Last() *model.Message {
	if len(t.msgs) == 0 {
		return nil
	}
	m := *t.msgs[len(t.msgs)-1]
	return &m
}

// Messages returns a copy of the timeline in order.
func (t *Timeline) Messages() []model.Message {
	out := make([]model.Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = *m
	}
	return out
}

func (t *Timeline) Len() int { return len(t.msgs) }

// UnreadIDsNotFrom returns ids of unread, non-provisional messages authored
// by anyone other than userID, in timeline order.
func (t *Timeline) UnreadIDsNotFrom(userID string) []string {
	var ids []string
	for _, m := range t.msgs {
		if !m.Read && !m.Provisional && m.SenderID != userID {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// CountUnreadNotFrom counts unread messages authored by anyone other than
// userID among the currently-known set.
func (t *Timeline) CountUnreadNotFrom(userID string) int {
	n := 0
	for _, m := range t.msgs {
		if !m.Read && !m.Provisional && m.SenderID != userID {
			n++
		}
	}
	return n
}

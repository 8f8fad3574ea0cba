package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/mahaj/chat-sync/pkg/model"
	"github.com/mahaj/chat-sync/pkg/snowflake"
)

// ResourceAPI is the request/response surface the engine consumes for
// durable writes and reads.
type ResourceAPI interface {
	CreateMessage(ctx context.Context, conversationID, content string) (model.Message, error)
	MarkRead(ctx context.Context, messageIDs []string) error
	Conversations(ctx context.Context, offset, limit int) ([]model.Conversation, int, error)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// BroadcastChannel is one live per-conversation channel. Publish is
// best-effort; delivery to the counterpart's open UI is a latency
// optimization, not the durability path.
type BroadcastChannel interface {
	Publish(msg model.Message) error
	Close() error
}

// BroadcastDialer establishes per-conversation channels. Subscribe returns
// only after the gateway acknowledges the subscription, so a non-nil channel
// is ready for publishing.
type BroadcastDialer interface {
	Subscribe(ctx context.Context, conversationID string, onEvent func(model.Message)) (BroadcastChannel, error)
}

// GlobalFeed is the session-scoped change feed delivering insert/update
// notifications for every message addressed to the user.
type GlobalFeed interface {
	Subscribe(ctx context.Context, userID string, onInsert, onUpdate func(model.Message)) (io.Closer, error)
}

// Config wires an Engine.
type Config struct {
	UserID string
	API    ResourceAPI
	Dialer BroadcastDialer
	Feed   GlobalFeed

	// Clock defaults to SystemClock.
	Clock Clock
	// NodeID seeds the provisional id generator. Defaults to 1.
	NodeID int64
	// OnUnreadTotal, if set, is notified with the session-wide unread total
	// after every successful acknowledgement flush.
	OnUnreadTotal func(total int)
	// OnInbound, if set, is notified after an inbound message has been
	// applied to the stores. Called off the caller's lock; intended for UI
	// redraws.
	OnInbound func(msg model.Message)
}

// Engine keeps a consistent view of the user's conversations and messages
// across optimistic local sends, durable backend writes, and the two
// asynchronous push channels. All store mutations are serialized behind one
// mutex; network calls happen outside the critical section, so inbound
// events are still applied while a send is in flight.
type Engine struct {
	userID string
	api    ResourceAPI
	dialer BroadcastDialer
	feed   GlobalFeed
	clock  Clock
	ids    *snowflake.Node

	acker *Acker
	pager *Pager

	onUnreadTotal func(int)
	onInbound     func(model.Message)

	mu            sync.Mutex
	conversations *Projection
	timelines     map[string]*Timeline
	active        string
	channel       BroadcastChannel
	ready         bool
	feedHandle    io.Closer
	tally         int
}

func New(cfg Config) (*Engine, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("engine: user id is required")
	}
	if cfg.API == nil || cfg.Dialer == nil || cfg.Feed == nil {
		return nil, fmt.Errorf("engine: api, dialer and feed are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	nodeID := cfg.NodeID
	if nodeID == 0 {
		nodeID = 1
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		userID:        cfg.UserID,
		api:           cfg.API,
		dialer:        cfg.Dialer,
		feed:          cfg.Feed,
		clock:         clock,
		ids:           node,
		onUnreadTotal: cfg.OnUnreadTotal,
		onInbound:     cfg.OnInbound,
		conversations: NewProjection(),
		timelines:     make(map[string]*Timeline),
	}
	e.acker = NewAcker(clock, cfg.API.MarkRead, e.ackFlushed)
	e.pager = NewPager(cfg.API)
	return e, nil
}

// Start opens the session-scoped global feed and loads the first page of
// conversations.
func (e *Engine) Start(ctx context.Context) error {
	h, err := e.feed.Subscribe(ctx, e.userID, e.handleInsert, e.handleUpdate)
	if err != nil {
		return fmt.Errorf("subscribe global feed: %w", err)
	}
	e.mu.Lock()
	e.feedHandle = h
	e.mu.Unlock()

	if _, err := e.LoadConversations(ctx, true); err != nil {
		return err
	}
	return nil
}

// Close tears down both subscription paths and the acknowledger. In-flight
// requests are left to finish; their results reconcile by conversation id.
func (e *Engine) Close() error {
	e.acker.Close()
	e.mu.Lock()
	ch := e.channel
	fh := e.feedHandle
	e.channel = nil
	e.feedHandle = nil
	e.ready = false
	e.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	if fh != nil {
		fh.Close()
	}
	return nil
}

// SelectConversation makes id the open conversation: the previous broadcast
// handle is torn down, a new one is established (sends stay blocked until
// its subscribe acknowledgement returns), and the full history is loaded and
// reconciled. Unread counterpart messages in the history are queued for
// acknowledgement.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	e.mu.Lock()
	prev := e.channel
	e.channel = nil
	e.ready = false
	e.active = id
	e.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	ch, err := e.dialer.Subscribe(ctx, id, e.handleBroadcast)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}

	e.mu.Lock()
	if e.active != id {
		// user moved on while we were subscribing
		e.mu.Unlock()
		ch.Close()
		return nil
	}
	e.channel = ch
	e.ready = true
	e.mu.Unlock()

	history, err := e.api.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Merge the snapshot rather than replace: events applied through either
	// feed while the fetch was in flight must survive, even when the
	// snapshot predates them.
	tl := NewTimelineFrom(history)
	if existing, ok := e.timelines[id]; ok {
		for _, m := range existing.Messages() {
			mm := m
			if !tl.Reconcile(&mm) && mm.Read {
				tl.SetRead(mm.ID, true)
			}
		}
	}
	e.timelines[id] = tl
	e.ensureConversation(id, "")

	// Reconcile the unread mirror against server truth.
	unread := tl.UnreadIDsNotFrom(e.userID)
	e.conversations.SetUnread(id, len(unread))
	if last := tl.Last(); last != nil {
		e.conversations.PatchLastMessage(id, last, last.CreatedAt)
	}
	if e.active == id {
		for _, mid := range unread {
			e.acker.Enqueue(mid, id)
		}
	}
	return nil
}

// Send runs the optimistic send pipeline for the open conversation: the text
// becomes an immediately visible provisional message, is offered on the
// broadcast channel, then durably written. Success promotes the provisional
// entry to the canonical message; failure rolls the stores back to their
// pre-send state and returns the error. Sends are never retried.
func (e *Engine) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.active == "" {
		e.mu.Unlock()
		return ErrNoConversation
	}
	if !e.ready || e.channel == nil {
		e.mu.Unlock()
		return ErrChannelNotReady
	}
	convID := e.active
	ch := e.channel
	provisional := &model.Message{
		ID:             e.ids.GenerateProvisional(),
		ConversationID: convID,
		SenderID:       e.userID,
		Content:        text,
		CreatedAt:      e.clock.Now(),
		Provisional:    true,
	}
	// Snapshot before mutating so rollback is exact.
	prevLast, prevAt := e.conversations.LastMessage(convID)
	e.timelineFor(convID).Append(provisional)
	e.conversations.PatchLastMessage(convID, provisional, provisional.CreatedAt)
	e.mu.Unlock()

	if err := ch.Publish(*provisional); err != nil {
		log.Printf("broadcast publish on %s failed: %v", convID, err)
	}

	confirmed, err := e.api.CreateMessage(ctx, convID, text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.timelineFor(convID).Remove(provisional.ID)
		e.conversations.PatchLastMessage(convID, prevLast, prevAt)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	e.timelineFor(convID).Promote(provisional.ID, &confirmed)
	if cur, _ := e.conversations.LastMessage(convID); cur != nil && cur.ID == provisional.ID {
		e.conversations.PatchLastMessage(convID, &confirmed, confirmed.CreatedAt)
	}
	return nil
}

// LoadConversations fetches a page of the conversation list into the
// projection. reset reloads from the beginning.
func (e *Engine) LoadConversations(ctx context.Context, reset bool) ([]model.Conversation, error) {
	items, tally, err := e.pager.LoadPage(ctx, reset)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	e.mu.Lock()
	if reset {
		e.conversations.Reset()
	}
	for _, c := range items {
		e.conversations.Upsert(c)
	}
	e.tally = tally
	e.mu.Unlock()
	return items, nil
}

// LoadMoreConversations appends the next page.
func (e *Engine) LoadMoreConversations(ctx context.Context) ([]model.Conversation, error) {
	return e.LoadConversations(ctx, false)
}

// HasMoreConversations reports the pagination heuristic.
func (e *Engine) HasMoreConversations() bool { return e.pager.HasMore() }

// OrderedConversations returns the display-ordered conversation list.
func (e *Engine) OrderedConversations() []model.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversations.Ordered()
}

// ActiveTimeline returns the open conversation's timeline in order.
func (e *Engine) ActiveTimeline() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.timelines[e.active]
	if !ok {
		return nil
	}
	return tl.Messages()
}

// ActiveConversation returns the open conversation id, or "".
func (e *Engine) ActiveConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Ready reports whether the open conversation's broadcast channel has been
// acknowledged; sends are blocked while false.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// UnreadTotal sums unread counters across known conversations.
func (e *Engine) UnreadTotal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversations.UnreadTotal()
}

// Tally returns the server-reported conversation total from the last page
// fetch.
func (e *Engine) Tally() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tally
}

// handleBroadcast and handleInsert feed the same reducer: the two paths may
// deliver the same logical event and the merge is idempotent by message id.
func (e *Engine) handleBroadcast(msg model.Message) { e.applyIncoming(msg) }
func (e *Engine) handleInsert(msg model.Message)    { e.applyIncoming(msg) }

func (e *Engine) applyIncoming(msg model.Message) {
	e.mu.Lock()
	changed := e.applyIncomingLocked(msg)
	cb := e.onInbound
	e.mu.Unlock()
	if changed && cb != nil {
		cb(msg)
	}
}

func (e *Engine) applyIncomingLocked(msg model.Message) bool {
	if msg.SenderID == e.userID {
		// Own publish echoed back. The send pipeline owns reconciliation;
		// merging here only collapses a broadcast duplicate that beat the
		// durable write's response.
		if tl, ok := e.timelines[msg.ConversationID]; ok && !msg.Provisional {
			return tl.Reconcile(&msg)
		}
		return false
	}

	if msg.ConversationID == e.active {
		tl := e.timelineFor(msg.ConversationID)
		changed := tl.Reconcile(&msg)
		if changed {
			e.ensureConversation(msg.ConversationID, msg.SenderID)
			e.conversations.PatchLastMessage(msg.ConversationID, &msg, msg.CreatedAt)
			// The user is looking at this conversation: acknowledge instead
			// of counting it unread.
			if !msg.Provisional && !msg.Read {
				e.acker.Enqueue(msg.ID, msg.ConversationID)
			}
		}
		return changed
	}

	// Conversation not open: a counterpart preview with a temporary id is
	// skipped, the canonical insert follows on the feed.
	if msg.Provisional {
		return false
	}
	if c, ok := e.conversations.Get(msg.ConversationID); ok && c.LastMessage != nil && c.LastMessage.ID == msg.ID {
		return false // re-delivery
	}
	e.ensureConversation(msg.ConversationID, msg.SenderID)
	e.conversations.PatchLastMessage(msg.ConversationID, &msg, msg.CreatedAt)
	e.conversations.IncrementUnread(msg.ConversationID, 1)
	return true
}

// handleUpdate reacts to a message's read flag changing. The unread counter
// is recomputed from the currently-known message set rather than
// decremented, tolerating missed or duplicate events.
func (e *Engine) handleUpdate(msg model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tl, ok := e.timelines[msg.ConversationID]; ok {
		tl.SetRead(msg.ID, msg.Read)
		e.conversations.SetUnread(msg.ConversationID, tl.CountUnreadNotFrom(e.userID))
	}
	e.conversations.SetLastMessageRead(msg.ConversationID, msg.ID, msg.Read)
}

// ackFlushed settles successfully acknowledged ids: the affected messages
// flip to read locally and each conversation's unread counter drops by the
// number of drained ids, clamped at zero.
func (e *Engine) ackFlushed(byConversation map[string][]string) {
	e.mu.Lock()
	for convID, ids := range byConversation {
		if tl, ok := e.timelines[convID]; ok {
			tl.MarkRead(ids)
		}
		e.conversations.IncrementUnread(convID, -len(ids))
	}
	total := e.conversations.UnreadTotal()
	cb := e.onUnreadTotal
	e.mu.Unlock()
	if cb != nil {
		cb(total)
	}
}

func (e *Engine) timelineFor(id string) *Timeline {
	tl, ok := e.timelines[id]
	if !ok {
		tl = NewTimeline()
		e.timelines[id] = tl
	}
	return tl
}

// ensureConversation registers a conversation first seen through a push
// event, before pagination has delivered its row.
func (e *Engine) ensureConversation(id, senderID string) {
	if _, ok := e.conversations.Get(id); ok {
		return
	}
	a, b, _ := model.Participants(id)
	counterpart := senderID
	if counterpart == "" {
		counterpart = model.CounterpartID(id, e.userID)
	}
	e.conversations.Upsert(model.Conversation{
		ID:           id,
		ParticipantA: a,
		ParticipantB: b,
		Counterpart:  model.ParticipantSummary{ID: counterpart, Name: counterpart},
	})
}

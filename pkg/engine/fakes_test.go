package engine

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/mahaj/chat-sync/pkg/model"
)

type fakeAPI struct {
	mu sync.Mutex

	convs     []model.Conversation
	histories map[string][]model.Message

	nextID      int64
	createErr   error
	markReadErr error

	created       []model.Message
	markReadCalls [][]string

	// onCreate, if set, runs after the canonical message is built but before
	// CreateMessage returns, simulating a broadcast duplicate racing the
	// durable write's response.
	onCreate func(model.Message)

	// onMessages, if set, runs after the history snapshot is taken but before
	// Messages returns, simulating an event delivered while the fetch is in
	// flight.
	onMessages func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{histories: make(map[string][]model.Message), nextID: 100}
}

func (f *fakeAPI) CreateMessage(_ context.Context, conversationID, content string) (model.Message, error) {
	f.mu.Lock()
	if f.createErr != nil {
		err := f.createErr
		f.mu.Unlock()
		return model.Message{}, err
	}
	f.nextID++
	m := model.Message{
		ID:             strconv.FormatInt(f.nextID, 10),
		ConversationID: conversationID,
		SenderID:       "me",
		Content:        content,
		CreatedAt:      time.Unix(1700000100, 0).UTC(),
	}
	f.created = append(f.created, m)
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return m, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	ids := append([]string(nil), messageIDs...)
	f.markReadCalls = append(f.markReadCalls, ids)
	return nil
}

func (f *fakeAPI) Conversations(_ context.Context, offset, limit int) ([]model.Conversation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tally := len(f.convs)
	if offset > tally {
		offset = tally
	}
	end := offset + limit
	if end > tally {
		end = tally
	}
	return append([]model.Conversation(nil), f.convs[offset:end]...), tally, nil
}

func (f *fakeAPI) Messages(_ context.Context, conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	snapshot := append([]model.Message(nil), f.histories[conversationID]...)
	hook := f.onMessages
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return snapshot, nil
}

func (f *fakeAPI) readCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.markReadCalls))
	copy(out, f.markReadCalls)
	return out
}

type fakeChannel struct {
	mu             sync.Mutex
	conversationID string
	onEvent        func(model.Message)
	published      []model.Message
	closed         bool
}

func (c *fakeChannel) Publish(msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// deliver injects an inbound broadcast event, as the gateway would.
func (c *fakeChannel) deliver(msg model.Message) {
	c.onEvent(msg)
}

func (c *fakeChannel) publishedMsgs() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.published...)
}

type fakeDialer struct {
	mu   sync.Mutex
	err  error
	subs []*fakeChannel
}

func (d *fakeDialer) Subscribe(_ context.Context, conversationID string, onEvent func(model.Message)) (BroadcastChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{conversationID: conversationID, onEvent: onEvent}
	d.subs = append(d.subs, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.subs) == 0 {
		return nil
	}
	return d.subs[len(d.subs)-1]
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakeFeed struct {
	mu       sync.Mutex
	onInsert func(model.Message)
	onUpdate func(model.Message)
	closed   bool
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string, onInsert, onUpdate func(model.Message)) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onInsert = onInsert
	f.onUpdate = onUpdate
	return closerFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = true
		return nil
	}), nil
}

func (f *fakeFeed) insert(msg model.Message) { f.onInsert(msg) }
func (f *fakeFeed) update(msg model.Message) { f.onUpdate(msg) }

package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/chat-sync/pkg/model"
)

const (
	ackDebounce   = 1000 * time.Millisecond
	ackRetryDelay = 2000 * time.Millisecond
)

type ackState int

const (
	ackIdle ackState = iota
	ackPending
	ackFlushing
)

// Acker batches "mark read" acknowledgements. Enqueued ids accumulate and a
// trailing-edge debounce timer drains them into a single request; a failed
// request pushes the drained ids back and retries on a fixed delay.
// Acknowledgements are idempotent on the server, so the retry loop is
// unbounded. Provisional ids are never admitted.
//
// State machine: idle -> pending(timer) -> flushing -> idle | pending.
type Acker struct {
	debounce   time.Duration
	retryDelay time.Duration
	clock      Clock

	send func(ctx context.Context, ids []string) error
	// onFlushed reports successfully acknowledged ids grouped by
	// conversation. Called with the internal lock released.
	onFlushed func(byConversation map[string][]string)

	mu      sync.Mutex
	pending map[string]string // message id -> conversation id
	state   ackState
	timer   Timer
	closed  bool
}

// NewAcker wires the batched acknowledger. send performs the network call;
// onFlushed may be nil.
func NewAcker(clock Clock, send func(ctx context.Context, ids []string) error, onFlushed func(map[string][]string)) *Acker {
	return &Acker{
		debounce:   ackDebounce,
		retryDelay: ackRetryDelay,
		clock:      clock,
		send:       send,
		onFlushed:  onFlushed,
		pending:    make(map[string]string),
	}
}

// Enqueue adds a message id awaiting acknowledgement and resets the debounce
// timer. Provisional ids are dropped; acknowledgement of such a message is
// deferred until promotion assigns its real id.
func (a *Acker) Enqueue(messageID, conversationID string) {
	if model.IsProvisionalID(messageID) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending[messageID] = conversationID
	if a.state == ackFlushing {
		// picked up by the post-flush check
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.AfterFunc(a.debounce, a.flush)
	a.state = ackPending
}

// PendingLen reports how many ids await acknowledgement.
func (a *Acker) PendingLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Acker) flush() {
	a.mu.Lock()
	if a.closed || len(a.pending) == 0 {
		a.state = ackIdle
		a.mu.Unlock()
		return
	}
	drained := a.pending
	a.pending = make(map[string]string)
	a.state = ackFlushing
	a.mu.Unlock()

	ids := make([]string, 0, len(drained))
	for id := range drained {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err := a.send(context.Background(), ids)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if err != nil {
		// Requeue without clobbering ids enqueued during the flush.
		for id, conv := range drained {
			if _, ok := a.pending[id]; !ok {
				a.pending[id] = conv
			}
		}
		a.timer = a.clock.AfterFunc(a.retryDelay, a.flush)
		a.state = ackPending
		a.mu.Unlock()
		log.Printf("mark read failed for %d ids, retrying in %s: %v", len(ids), a.retryDelay, err)
		return
	}
	if len(a.pending) > 0 {
		a.timer = a.clock.AfterFunc(a.debounce, a.flush)
		a.state = ackPending
	} else {
		a.state = ackIdle
	}
	cb := a.onFlushed
	a.mu.Unlock()

	if cb != nil {
		byConv := make(map[string][]string)
		for id, conv := range drained {
			byConv[conv] = append(byConv[conv], id)
		}
		for _, list := range byConv {
			sort.Strings(list)
		}
		cb(byConv)
	}
}

// Close stops the timer and drops any queued ids. Further enqueues no-op.
func (a *Acker) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = make(map[string]string)
	a.state = ackIdle
}

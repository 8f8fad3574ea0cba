package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecorder struct {
	mu      sync.Mutex
	err     error
	calls   [][]string
	flushed []map[string][]string
}

func (r *ackRecorder) send(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, append([]string(nil), ids...))
	return nil
}

func (r *ackRecorder) onFlushed(byConv map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed = append(r.flushed, byConv)
}

func (r *ackRecorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func TestAckerDebounceCoalescing(t *testing.T) {
	clock := newFakeClock()
	rec := &ackRecorder{}
	a := NewAcker(clock, rec.send, rec.onFlushed)

	// Three enqueues inside one debounce window; each resets the timer.
	a.Enqueue("1", "dm:me:a")
	clock.Advance(600 * time.Millisecond)
	a.Enqueue("2", "dm:me:a")
	clock.Advance(600 * time.Millisecond)
	a.Enqueue("3", "dm:me:b")
	require.Empty(t, rec.calls)

	clock.Advance(1000 * time.Millisecond)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"1", "2", "3"}, rec.calls[0])
	assert.Equal(t, 0, a.PendingLen())

	require.Len(t, rec.flushed, 1)
	assert.Equal(t, []string{"1", "2"}, rec.flushed[0]["dm:me:a"])
	assert.Equal(t, []string{"3"}, rec.flushed[0]["dm:me:b"])
}

func TestAckerRetryRequeues(t *testing.T) {
	clock := newFakeClock()
	rec := &ackRecorder{}
	rec.setErr(errors.New("backend down"))
	a := NewAcker(clock, rec.send, rec.onFlushed)

	a.Enqueue("7", "dm:me:a")
	clock.Advance(1000 * time.Millisecond)

	// First attempt failed; ids are back in the queue awaiting the fixed
	// retry delay.
	assert.Empty(t, rec.calls)
	assert.Equal(t, 1, a.PendingLen())

	// Still failing after one retry.
	clock.Advance(2000 * time.Millisecond)
	assert.Empty(t, rec.calls)
	assert.Equal(t, 1, a.PendingLen())

	rec.setErr(nil)
	clock.Advance(2000 * time.Millisecond)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"7"}, rec.calls[0])
	assert.Equal(t, 0, a.PendingLen())
	require.Len(t, rec.flushed, 1)
}

func TestAckerRejectsProvisionalIDs(t *testing.T) {
	clock := newFakeClock()
	rec := &ackRecorder{}
	a := NewAcker(clock, rec.send, rec.onFlushed)

	a.Enqueue("tmp-123", "dm:me:a")
	assert.Equal(t, 0, a.PendingLen())

	clock.Advance(5 * time.Second)
	assert.Empty(t, rec.calls)
}

func TestAckerDeduplicatesIDs(t *testing.T) {
	clock := newFakeClock()
	rec := &ackRecorder{}
	a := NewAcker(clock, rec.send, rec.onFlushed)

	a.Enqueue("9", "dm:me:a")
	a.Enqueue("9", "dm:me:a")
	clock.Advance(1000 * time.Millisecond)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"9"}, rec.calls[0])
}

func TestAckerCloseStopsRetries(t *testing.T) {
	clock := newFakeClock()
	rec := &ackRecorder{}
	rec.setErr(errors.New("backend down"))
	a := NewAcker(clock, rec.send, rec.onFlushed)

	a.Enqueue("5", "dm:me:a")
	clock.Advance(1000 * time.Millisecond)
	a.Close()

	rec.setErr(nil)
	clock.Advance(10 * time.Second)
	assert.Empty(t, rec.calls)

	a.Enqueue("6", "dm:me:a")
	assert.Equal(t, 0, a.PendingLen())
}

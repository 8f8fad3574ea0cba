package engine

import (
	"context"
	"sync"

	"github.com/mahaj/chat-sync/pkg/model"
)

// PageSize is the conversation-list page size.
const PageSize = 20

// Pager loads the conversation list incrementally by offset. HasMore is a
// heuristic: the last page being full implies more may exist. That can cost
// one empty trailing fetch but never misses rows.
type Pager struct {
	api  ResourceAPI
	size int

	mu      sync.Mutex
	offset  int
	hasMore bool
	tally   int
}

func NewPager(api ResourceAPI) *Pager {
	return &Pager{api: api, size: PageSize, hasMore: true}
}

// LoadPage fetches the next page. reset restarts from offset 0 (initial load
// or filter change); otherwise the fetched page extends what came before.
// Returns the fetched items only, never previously loaded ones.
func (p *Pager) LoadPage(ctx context.Context, reset bool) ([]model.Conversation, int, error) {
	p.mu.Lock()
	if reset {
		p.offset = 0
		p.hasMore = true
	}
	if !p.hasMore {
		tally := p.tally
		p.mu.Unlock()
		return nil, tally, nil
	}
	offset := p.offset
	p.mu.Unlock()

	items, tally, err := p.api.Conversations(ctx, offset, p.size)
	if err != nil {
		return nil, 0, err
	}

	p.mu.Lock()
	p.offset = offset + len(items)
	p.hasMore = len(items) == p.size
	p.tally = tally
	p.mu.Unlock()
	return items, tally, nil
}

func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

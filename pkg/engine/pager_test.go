package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chat-sync/pkg/model"
)

func manyConvs(n int) []model.Conversation {
	base := time.Unix(1700000000, 0).UTC()
	out := make([]model.Conversation, n)
	for i := 0; i < n; i++ {
		out[i] = conv(fmt.Sprintf("dm:me:u%03d", i), 0, base.Add(-time.Duration(i)*time.Hour))
	}
	return out
}

func TestPagerFullThenPartialPage(t *testing.T) {
	api := newFakeAPI()
	api.convs = manyConvs(25)
	p := NewPager(api)

	items, tally, err := p.LoadPage(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, items, 20)
	assert.Equal(t, 25, tally)
	assert.True(t, p.HasMore(), "a full page implies more may exist")

	items, _, err = p.LoadPage(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.False(t, p.HasMore())

	// Exhausted: no further fetches, no duplicates.
	items, _, err = p.LoadPage(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPagerExactMultipleCostsOneEmptyFetch(t *testing.T) {
	api := newFakeAPI()
	api.convs = manyConvs(20)
	p := NewPager(api)

	items, _, err := p.LoadPage(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, items, 20)
	assert.True(t, p.HasMore(), "heuristic cannot tell a full last page from more rows")

	items, _, err = p.LoadPage(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, p.HasMore())
}

func TestPagerReset(t *testing.T) {
	api := newFakeAPI()
	api.convs = manyConvs(30)
	p := NewPager(api)

	first, _, err := p.LoadPage(context.Background(), true)
	require.NoError(t, err)
	_, _, err = p.LoadPage(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, p.HasMore())

	again, _, err := p.LoadPage(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, first, again, "reset restarts from offset 0")
	assert.True(t, p.HasMore())
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/set-night/evochat/internal/domain"
	"github.com/stretchr/testify/require"
)

func feed(events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func frag(text string, urls ...string) StreamEvent {
	return StreamEvent{Fragment: &Fragment{Text: text, Citations: urls}}
}

func TestAggregator_ConcatenatesInOrder(t *testing.T) {
	var published []string
	var agg Aggregator
	err := agg.Run(context.Background(), feed(frag("Hel"), frag("lo, "), frag("world"), StreamEvent{Done: true}), func(s Snapshot) {
		published = append(published, s.Content)
	})

	require.NoError(t, err)
	require.Equal(t, "Hello, world", agg.Content())
	require.Equal(t, []string{"Hel", "Hello, ", "Hello, world"}, published)
	require.Equal(t, 3, agg.Fragments())
}

func TestAggregator_DeduplicatesCitations(t *testing.T) {
	var agg Aggregator
	err := agg.Run(context.Background(), feed(frag("a", "A", "B"), frag("b", "B", "C"), StreamEvent{Done: true}), nil)

	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, agg.Citations())
}

func TestAggregator_EmptyFragmentsKeepText(t *testing.T) {
	var agg Aggregator
	agg.Add(Fragment{Text: "x"})
	agg.Add(Fragment{})
	agg.Add(Fragment{Queries: []string{"q", "q"}})

	snap := agg.Snapshot()
	require.Equal(t, "x", snap.Content)
	require.Equal(t, []string{"q"}, snap.Grounding.Queries)
}

func TestAggregator_UsageFromLastFragment(t *testing.T) {
	var agg Aggregator
	agg.Add(Fragment{Usage: &domain.Usage{TotalTokens: 1}})
	agg.Add(Fragment{Usage: &domain.Usage{TotalTokens: 9}})
	require.Equal(t, 9, agg.Snapshot().Usage.TotalTokens)
}

func TestAggregator_ReturnsStreamError(t *testing.T) {
	boom := errors.New("boom")
	var agg Aggregator
	err := agg.Run(context.Background(), feed(frag("partial"), StreamEvent{Err: boom}), nil)

	require.ErrorIs(t, err, boom)
	require.Equal(t, "partial", agg.Content())
}

func TestAggregator_ClosedWithoutTerminal(t *testing.T) {
	var agg Aggregator
	err := agg.Run(context.Background(), feed(frag("x")), nil)
	require.Error(t, err)
}

func TestAggregator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var agg Aggregator
	err := agg.Run(ctx, make(chan StreamEvent), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMergeOrdered(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, mergeOrdered([]string{"a", "b"}, "b", "c", "a", ""))
	require.Empty(t, mergeOrdered(nil))
}

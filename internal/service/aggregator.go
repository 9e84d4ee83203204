package service

import (
	"context"
	"errors"
	"strings"

	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/metrics"
)

// Snapshot is the aggregated state of a reply after a fragment.
type Snapshot struct {
	Content   string
	Grounding domain.Grounding
	Usage     *domain.Usage
}

// Aggregator folds streamed fragments into a growing text buffer and a
// deduplicated set of citations.
type Aggregator struct {
	buf       strings.Builder
	urls      orderedSet
	queries   orderedSet
	usage     *domain.Usage
	fragments int
}

// Add appends the fragment's text delta and unions its citations.
func (a *Aggregator) Add(f Fragment) {
	a.buf.WriteString(f.Text)
	a.urls.add(f.Citations...)
	a.queries.add(f.Queries...)
	if f.Usage != nil {
		u := *f.Usage
		a.usage = &u
	}
	a.fragments++
}

func (a *Aggregator) Content() string {
	return a.buf.String()
}

func (a *Aggregator) Citations() []string {
	return a.urls.list()
}

func (a *Aggregator) Fragments() int {
	return a.fragments
}

func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Content: a.Content(),
		Grounding: domain.Grounding{
			URLs:    a.urls.list(),
			Queries: a.queries.list(),
		},
		Usage: a.usage,
	}
}

// Run consumes events until the terminal event, publishing the aggregated
// state after every fragment. It returns nil when the stream completed, the
// stream's error when it failed, and ctx.Err() when cancelled.
func (a *Aggregator) Run(ctx context.Context, events <-chan StreamEvent, publish func(Snapshot)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return errors.New("stream closed without a terminal event")
			}
			if ev.Err != nil {
				return ev.Err
			}
			if ev.Fragment != nil {
				a.Add(*ev.Fragment)
				metrics.StreamFragments.Inc()
				if publish != nil {
					publish(a.Snapshot())
				}
			}
			if ev.Done {
				return nil
			}
		}
	}
}

// orderedSet keeps strings in first-appearance order without duplicates.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *orderedSet) add(items ...string) {
	for _, it := range items {
		if it == "" {
			continue
		}
		if s.seen == nil {
			s.seen = make(map[string]struct{})
		}
		if _, ok := s.seen[it]; ok {
			continue
		}
		s.seen[it] = struct{}{}
		s.items = append(s.items, it)
	}
}

func (s *orderedSet) list() []string {
	return append([]string(nil), s.items...)
}

// mergeOrdered unions b into a, keeping first-appearance order.
func mergeOrdered(a []string, b ...string) []string {
	var s orderedSet
	s.add(a...)
	s.add(b...)
	return s.list()
}

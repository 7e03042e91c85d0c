package storage

import (
	"context"
	"slices"
	"sync"
)

// Table names a group of buckets that live queries can watch.
type Table string

const (
	TableChats        Table = "chats"
	TableParticipants Table = "participants"
	TableMessages     Table = "messages"
	TableSession      Table = "session"
	TableMedia        Table = "media"
)

type watchers struct {
	mu   sync.Mutex
	subs map[chan struct{}][]Table
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[chan struct{}][]Table)}
}

func (w *watchers) notify(tables ...Table) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch, watched := range w.subs {
		if !slices.ContainsFunc(tables, func(t Table) bool { return slices.Contains(watched, t) }) {
			continue
		}
		select {
		case ch <- struct{}{}:
		default:
			// A notification is already pending.
		}
	}
}

// Watch returns a channel that fires once immediately and then after every
// committed write touching one of the tables. Bursts of writes coalesce into a
// single pending notification. The channel is closed once ctx is done.
func (s *BboltStorage) Watch(ctx context.Context, tables ...Table) <-chan struct{} {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	s.watchers.mu.Lock()
	s.watchers.subs[ch] = tables
	s.watchers.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchers.mu.Lock()
		delete(s.watchers.subs, ch)
		close(ch)
		s.watchers.mu.Unlock()
	}()

	return ch
}

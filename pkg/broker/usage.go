package broker

import (
	"log/slog"

	"github.com/contextkit/contextd/pkg/keyset"
)

// edgeListener receives the subscribe and unsubscribe edges detected by the
// usage counter.
type edgeListener interface {
	firstSubscribed(keys *keyset.Set)
	lastUnsubscribed(keys, remaining *keyset.Set)
}

// usageCounter counts subscribers per key across all clients.
//
// Keys stay in counts once seen, so a count of zero is distinguishable from
// a key that was never subscribed.
type usageCounter struct {
	counts     map[keyset.Handle]int
	subscribed *keyset.Set
	edges      edgeListener
	logger     *slog.Logger
}

func newUsageCounter(edges edgeListener, logger *slog.Logger) *usageCounter {
	return &usageCounter{
		counts:     make(map[keyset.Handle]int),
		subscribed: &keyset.Set{},
		edges:      edges,
		logger:     logger,
	}
}

// add increments the count of every key and returns the keys that went
// from zero to one.
func (u *usageCounter) add(keys *keyset.Set) *keyset.Set {
	first := &keyset.Set{}
	for h := range keys.Handles() {
		old := u.counts[h]
		u.counts[h] = old + 1
		if old == 0 {
			first.AddHandle(h)
		}
		u.logger.Debug("subscriber count changed", "key", h.Name(), "count", old+1)
	}

	if !first.IsEmpty() {
		u.edges.firstSubscribed(first)
		u.subscribed = keyset.Union(u.subscribed, first)
	}
	return first
}

// remove decrements the count of every key and returns the keys whose count
// was at most one before. Counts never go below zero.
func (u *usageCounter) remove(keys *keyset.Set) *keyset.Set {
	last := &keyset.Set{}
	for h := range keys.Handles() {
		old, ok := u.counts[h]
		if !ok {
			u.logger.Warn("decreasing subscriber count of unknown key", "key", h.Name())
			continue
		}
		if old == 0 {
			u.logger.Warn("decreasing subscriber count below zero", "key", h.Name())
		} else {
			u.counts[h] = old - 1
		}
		if old <= 1 {
			last.AddHandle(h)
		}
		u.logger.Debug("subscriber count changed", "key", h.Name(), "count", max(old-1, 0))
	}

	if !last.IsEmpty() {
		u.subscribed = keyset.Difference(u.subscribed, last)
		u.edges.lastUnsubscribed(last, u.subscribed)
	}
	return last
}

func (u *usageCounter) numberOfSubscribers(key string) int {
	h, ok := keyset.Lookup(key)
	if !ok {
		return 0
	}
	return u.counts[h]
}

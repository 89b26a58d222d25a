package broker

import (
	"context"
	"slices"
	"sync"

	"github.com/contextkit/contextd/pkg/value"
)

// ChangeSet is a batch of value updates from a provider. It is applied to the
// cache as a whole when committed, or discarded when cancelled. A ChangeSet
// is used by one goroutine and only once.
type ChangeSet struct {
	manager      *Manager
	values       map[string]value.Value
	undetermined []string
	done         bool
}

// NewChangeSet starts an empty change set.
func (m *Manager) NewChangeSet() *ChangeSet {
	return &ChangeSet{
		manager: m,
		values:  make(map[string]value.Value),
	}
}

// AddInt sets key to an integer.
func (cs *ChangeSet) AddInt(key string, v int64) *ChangeSet {
	return cs.AddValue(key, value.Int(v))
}

// AddDouble sets key to a double.
func (cs *ChangeSet) AddDouble(key string, v float64) *ChangeSet {
	return cs.AddValue(key, value.Double(v))
}

// AddBool sets key to a boolean.
func (cs *ChangeSet) AddBool(key string, v bool) *ChangeSet {
	return cs.AddValue(key, value.Bool(v))
}

// AddString sets key to a string.
func (cs *ChangeSet) AddString(key string, v string) *ChangeSet {
	return cs.AddValue(key, value.String(v))
}

// AddValue sets key to v. An absent v marks the key undetermined. A later
// Add for the same key replaces the earlier one. Adds after Commit or
// Cancel are ignored.
func (cs *ChangeSet) AddValue(key string, v value.Value) *ChangeSet {
	if cs.done {
		return cs
	}
	if v.IsAbsent() {
		return cs.AddUndetermined(key)
	}
	cs.undetermined = slices.DeleteFunc(cs.undetermined, func(k string) bool { return k == key })
	cs.values[key] = v
	return cs
}

// AddUndetermined marks key as having no determinable value.
func (cs *ChangeSet) AddUndetermined(key string) *ChangeSet {
	if cs.done {
		return cs
	}
	delete(cs.values, key)
	if !slices.Contains(cs.undetermined, key) {
		cs.undetermined = append(cs.undetermined, key)
	}
	return cs
}

// Len returns the number of keys in the change set.
func (cs *ChangeSet) Len() int {
	return len(cs.values) + len(cs.undetermined)
}

// Commit validates the change set and queues it for the manager's
// coordination loop. If any key is not owned by a registered provider the
// whole change set is rejected with an *InvalidKeysError. Commit never
// blocks, so providers may call it from inside their callbacks.
func (cs *ChangeSet) Commit() error {
	if cs.done {
		return ErrChangeSetDone
	}
	cs.done = true

	m := cs.manager
	if err := m.validate(m.valid.Load(), cs.values, cs.undetermined); err != nil {
		m.metrics.commit(false)
		m.logger.Error("rejecting change set", "error", err)
		return err
	}
	return m.queue.push(pendingCommit{values: cs.values, undetermined: cs.undetermined})
}

// Cancel discards the change set.
func (cs *ChangeSet) Cancel() error {
	if cs.done {
		return ErrChangeSetDone
	}
	cs.done = true
	cs.values = nil
	cs.undetermined = nil
	return nil
}

type pendingCommit struct {
	values       map[string]value.Value
	undetermined []string
}

// commitQueue is an unbounded FIFO of committed change sets.
type commitQueue struct {
	mu      sync.Mutex
	pending []pendingCommit
	stopped bool

	// notify has capacity one; a pending signal means the queue may be
	// non-empty.
	notify chan struct{}
}

func newCommitQueue() *commitQueue {
	return &commitQueue{notify: make(chan struct{}, 1)}
}

func (q *commitQueue) push(c pendingCommit) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrManagerStopped
	}
	q.pending = append(q.pending, c)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *commitQueue) take() []pendingCommit {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

// stop rejects further pushes and returns how many commits were discarded.
func (q *commitQueue) stop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	n := len(q.pending)
	q.pending = nil
	return n
}

// Run applies committed change sets in commit order until ctx is done.
// Commits made after Run returns fail with ErrManagerStopped.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.Flush()
			if n := m.queue.stop(); n > 0 {
				m.logger.Warn("discarding change sets committed during shutdown", "count", n)
			}
			return ctx.Err()

		case <-m.queue.notify:
			m.Flush()
		}
	}
}

// Flush applies every queued change set now and returns how many were
// accepted. Change sets that became invalid because a provider was
// unregistered after they were committed are rejected and logged.
func (m *Manager) Flush() int {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	applied := 0
	for {
		batch := m.queue.take()
		if len(batch) == 0 {
			return applied
		}
		for _, c := range batch {
			if m.PropertyValuesChanged(c.values, c.undetermined) == nil {
				applied++
			}
		}
	}
}

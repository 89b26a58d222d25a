package keyset

import "sync"

// Handle is the interned form of a key name.
//
// Handles are dense, start at zero and are never reused: once a name has been
// interned its handle stays valid for the lifetime of the process.
type Handle uint32

// internTable maps key names to handles and back. It only ever grows.
type internTable struct {
	mu    sync.RWMutex
	ids   map[string]Handle
	names []string
}

var table = &internTable{ids: make(map[string]Handle)}

// Intern returns the handle for name, allocating a new one on first use.
func Intern(name string) Handle {
	table.mu.RLock()
	h, ok := table.ids[name]
	table.mu.RUnlock()
	if ok {
		return h
	}

	table.mu.Lock()
	defer table.mu.Unlock()

	// Another goroutine may have interned it between the two locks.
	if h, ok := table.ids[name]; ok {
		return h
	}
	h = Handle(len(table.names))
	table.names = append(table.names, name)
	table.ids[name] = h
	return h
}

// Lookup returns the handle for name without interning it.
func Lookup(name string) (Handle, bool) {
	table.mu.RLock()
	defer table.mu.RUnlock()
	h, ok := table.ids[name]
	return h, ok
}

// Name returns the key name for h. It returns an empty string for a handle
// that was never issued.
func (h Handle) Name() string {
	table.mu.RLock()
	defer table.mu.RUnlock()
	if int(h) >= len(table.names) {
		return ""
	}
	return table.names[h]
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return h.Name()
}

// Interned returns the number of distinct names interned so far.
func Interned() int {
	table.mu.RLock()
	defer table.mu.RUnlock()
	return len(table.names)
}

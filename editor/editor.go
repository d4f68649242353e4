// Package editor tracks plugin editor windows by handle.
//
// Windows are keyed by chain entry ID, so an editor follows its plugin across
// reorders and rebuilds. Closing a window only marks it; Dispose removes marked
// windows at a point the owner chooses, after the operation that closed them.
package editor

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaban/fxhost/plugins"
)

// Handle is an opaque reference to a window. A stale handle simply misses.
type Handle string

// Window is the registry's view of one editor window.
type Window struct {
	Handle   Handle      `json:"handle"`
	EntryID  string      `json:"entryId"`
	Key      plugins.Key `json:"key"`
	Title    string      `json:"title"`
	OpenedAt time.Time   `json:"openedAt"`
	Closing  bool        `json:"closing,omitempty"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	windows map[Handle]*Window
	byEntry map[string]Handle
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		windows: make(map[Handle]*Window),
		byEntry: make(map[string]Handle),
		now:     time.Now,
	}
}

// Open returns the handle of the entry's window, creating one if none is open.
// A window marked for disposal is revived.
func (r *Registry) Open(entryID string, key plugins.Key, title string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byEntry[entryID]; ok {
		w := r.windows[h]
		w.Closing = false
		w.Title = title
		return h
	}
	h := Handle(uuid.NewString())
	r.windows[h] = &Window{Handle: h, EntryID: entryID, Key: key, Title: title, OpenedAt: r.now()}
	r.byEntry[entryID] = h
	return h
}

// Get returns the window for h.
func (r *Registry) Get(h Handle) (Window, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[h]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Lookup returns the handle of the entry's window.
func (r *Registry) Lookup(entryID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byEntry[entryID]
	return h, ok
}

// Close marks h for disposal. It reports whether h was open.
func (r *Registry) Close(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[h]
	if !ok {
		return false
	}
	w.Closing = true
	return true
}

// RetainLive marks every window whose entry is not in ids. It returns the number marked.
func (r *Registry) RetainLive(ids []string) int {
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.windows {
		if !live[w.EntryID] && !w.Closing {
			w.Closing = true
			n++
		}
	}
	return n
}

// Dispose removes every marked window and returns how many were removed.
func (r *Registry) Dispose() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h, w := range r.windows {
		if w.Closing {
			delete(r.windows, h)
			delete(r.byEntry, w.EntryID)
			n++
		}
	}
	return n
}

// Windows returns every window, including ones awaiting disposal, oldest first.
func (r *Registry) Windows() []Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Len returns the number of windows, including ones awaiting disposal.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Package store holds the client-side notification state: an upsert-by-id
// collection that merges live pushes with paginated history and derives the
// unread count on read.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/domain"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRead     ChangeKind = "read"
	ChangeCleared  ChangeKind = "cleared"
)

// Change describes one applied mutation. Notifications holds the records as
// they are after the mutation (empty for ChangeCleared).
type Change struct {
	Kind          ChangeKind            `json:"kind"`
	Notifications []domain.Notification `json:"notifications,omitempty"`
	UnreadCount   int                   `json:"unread_count"`
	Total         int                   `json:"total"`
}

// Snapshot is an ordered, read-only copy of the store.
type Snapshot struct {
	Notifications []domain.Notification `json:"data"`
	UnreadCount   int                   `json:"unread_count"`
}

type entry struct {
	n    domain.Notification
	seen uint64 // observation sequence, breaks CreatedAt ties
}

// Store is safe for concurrent use. Listeners registered with Subscribe are
// called after the state lock is released, one change at a time and in the
// order the changes were applied. A listener must not mutate the store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64

	// notifyMu serializes mutate+notify so listeners see changes in order.
	notifyMu    sync.Mutex
	listenersMu sync.Mutex
	listeners   map[int]func(Change)
	nextID      int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entries:   make(map[string]*entry),
		listeners: make(map[int]func(Change)),
	}
}

// Ingest upserts records by ID and returns how many of them changed the store.
// A record already read locally stays read: IsRead only moves false -> true here.
func (s *Store) Ingest(records ...domain.Notification) int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	var changed []domain.Notification
	for _, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			log.Warn().Str("title", r.Title).Msg("store: dropping notification without id")
			continue
		}
		s.seq++
		e, ok := s.entries[r.ID]
		if !ok {
			s.entries[r.ID] = &entry{n: r, seen: s.seq}
			changed = append(changed, r)
			continue
		}
		e.seen = s.seq
		if e.n.IsRead {
			r.IsRead = true
		}
		if e.n.Equal(r) {
			continue
		}
		e.n = r
		changed = append(changed, r)
	}
	unread, total := s.countLocked()
	s.mu.Unlock()

	if len(changed) > 0 {
		s.emit(Change{Kind: ChangeUpserted, Notifications: changed, UnreadCount: unread, Total: total})
	}
	return len(changed)
}

// MarkRead marks a single notification as read. It reports whether the record
// changed and returns domain.ErrNotFound when the id is not held.
func (s *Store) MarkRead(id string) (bool, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrNotFound
	}
	if e.n.IsRead {
		s.mu.Unlock()
		return false, nil
	}
	e.n.IsRead = true
	n := e.n
	unread, total := s.countLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeRead, Notifications: []domain.Notification{n}, UnreadCount: unread, Total: total})
	return true, nil
}

// MarkAllRead marks every held notification as read and returns the ones that changed.
func (s *Store) MarkAllRead() []domain.Notification {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	var changed []domain.Notification
	for _, e := range s.entries {
		if e.n.IsRead {
			continue
		}
		e.n.IsRead = true
		changed = append(changed, e.n)
	}
	unread, total := s.countLocked()
	s.mu.Unlock()

	if len(changed) > 0 {
		s.emit(Change{Kind: ChangeRead, Notifications: changed, UnreadCount: unread, Total: total})
	}
	return changed
}

// Clear empties the store and returns the number of removed records.
func (s *Store) Clear() int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	removed := len(s.entries)
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeCleared})
	return removed
}

// Get returns the notification held for id.
func (s *Store) Get(id string) (domain.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.Notification{}, false
	}
	return e.n, true
}

// Len returns the number of held notifications.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// UnreadCount counts unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unread, _ := s.countLocked()
	return unread
}

// Snapshot returns the notifications ordered by CreatedAt descending, most
// recently observed first on ties.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	ordered := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	unread, _ := s.countLocked()
	s.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.n.CreatedAt.Equal(b.n.CreatedAt) {
			return a.n.CreatedAt.After(b.n.CreatedAt)
		}
		return a.seen > b.seen
	})

	out := make([]domain.Notification, len(ordered))
	for i, e := range ordered {
		out[i] = e.n
	}
	return Snapshot{Notifications: out, UnreadCount: unread}
}

// Subscribe registers fn for every future change and returns a func that removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) countLocked() (unread, total int) {
	for _, e := range s.entries {
		if !e.n.IsRead {
			unread++
		}
	}
	return unread, len(s.entries)
}

// emit must be called with notifyMu held and mu released.
func (s *Store) emit(c Change) {
	s.listenersMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		s.safeCall(fn, c)
	}
}

func (s *Store) safeCall(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", string(c.Kind)).Msg("store: change listener panicked")
		}
	}()
	fn(c)
}

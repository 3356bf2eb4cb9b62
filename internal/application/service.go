package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/domain"
	"vn.io.arda/notification-agent/internal/store"
)

// ErrInvalidID is returned for a blank notification id.
var ErrInvalidID = errors.New("invalid notification id")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service holds all consumer-facing notification use-cases.
type Service struct {
	store    *store.Store
	remote   Remote
	conn     Connection
	pageSize int
}

// NewService creates a new application Service. conn may be nil when the
// agent runs without a live socket.
func NewService(st *store.Store, remote Remote, conn Connection, pageSize int) *Service {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return &Service{store: st, remote: remote, conn: conn, pageSize: pageSize}
}

// Notifications returns the ordered list, newest first.
func (s *Service) Notifications() []domain.Notification {
	return s.store.Snapshot().Notifications
}

// UnreadCount returns the unread badge count.
func (s *Service) UnreadCount() int {
	return s.store.UnreadCount()
}

// IsConnected reports whether the live socket is open.
func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Snapshot returns the whole consumer-facing view in one consistent read of the store.
func (s *Service) Snapshot() View {
	snap := s.store.Snapshot()
	return View{
		Notifications: snap.Notifications,
		UnreadCount:   snap.UnreadCount,
		IsConnected:   s.IsConnected(),
	}
}

// FetchPage loads one page of history and merges it into the store.
// It is safe to run concurrently with socket ingest.
func (s *Service) FetchPage(ctx context.Context, p PageParams) (domain.Page, error) {
	if p.Page <= 0 {
		p.Page = 1
	}
	switch {
	case p.Limit <= 0:
		p.Limit = s.pageSize
	case p.Limit > maxPageSize:
		p.Limit = maxPageSize
	}

	page, err := s.remote.FetchNotifications(ctx, p.Page, p.Limit)
	if err != nil {
		return domain.Page{}, fmt.Errorf("fetch page %d: %w", p.Page, err)
	}
	changed := s.store.Ingest(page.Notifications...)

	log.Debug().
		Int("page", p.Page).
		Int("limit", p.Limit).
		Int("received", len(page.Notifications)).
		Int("changed", changed).
		Msg("notification history merged")

	return page, nil
}

// RefetchNotifications reloads the first page of history.
func (s *Service) RefetchNotifications(ctx context.Context) error {
	_, err := s.FetchPage(ctx, PageParams{Page: 1, Limit: s.pageSize})
	return err
}

// MarkAsRead marks one notification read locally, then asks the backend to
// confirm. A failed confirmation is logged and returned; the local state stays read.
func (s *Service) MarkAsRead(ctx context.Context, id string) (MarkResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return MarkResult{}, ErrInvalidID
	}

	var res MarkResult
	changed, err := s.store.MarkRead(id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Not held locally (e.g. beyond the fetched pages); the backend still owns it.
		log.Debug().Str("id", id).Msg("mark read for notification not held locally")
	case changed:
		res.Changed = 1
	}

	if err := s.remote.MarkRead(ctx, id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("read receipt not confirmed")
		res.Error = err.Error()
		return res, fmt.Errorf("confirm read %s: %w", id, err)
	}
	res.Confirmed = true
	return res, nil
}

// MarkAllAsRead marks every held notification read, then issues the bulk
// confirmation with the same best-effort policy as MarkAsRead.
func (s *Service) MarkAllAsRead(ctx context.Context) (MarkResult, error) {
	changed := s.store.MarkAllRead()
	res := MarkResult{Changed: len(changed)}

	if err := s.remote.MarkAllRead(ctx); err != nil {
		log.Warn().Err(err).Int("changed", len(changed)).Msg("bulk read receipt not confirmed")
		res.Error = err.Error()
		return res, fmt.Errorf("confirm read all: %w", err)
	}
	res.Confirmed = true

	log.Info().Int("changed", len(changed)).Msg("all notifications marked read")
	return res, nil
}

// ClearNotifications empties the store. Only called on explicit user action.
func (s *Service) ClearNotifications() int {
	removed := s.store.Clear()
	log.Info().Int("removed", removed).Msg("notifications cleared")
	return removed
}

// RefreshConnection reopens the live socket without backoff.
func (s *Service) RefreshConnection() {
	if s.conn == nil {
		return
	}
	s.conn.Refresh()
}

// Hydrate loads the archived copy into the store at start-up.
func (s *Service) Hydrate(ctx context.Context, archive domain.Archive, limit int) (int, error) {
	records, err := archive.Load(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load archive: %w", err)
	}
	changed := s.store.Ingest(records...)
	log.Info().Int("loaded", len(records)).Int("changed", changed).Msg("notifications hydrated from archive")
	return changed, nil
}

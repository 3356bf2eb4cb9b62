package application

import (
	"context"

	"vn.io.arda/notification-agent/internal/domain"
)

// Remote is the backend notification API.
// The default implementation is bridge.Client; tests use an in-memory fake.
type Remote interface {
	// FetchNotifications returns one page of history.
	FetchNotifications(ctx context.Context, page, limit int) (domain.Page, error)

	// MarkRead confirms a single read receipt.
	MarkRead(ctx context.Context, id string) error

	// MarkAllRead confirms that every notification is read.
	MarkAllRead(ctx context.Context) error
}

// Connection is the part of the socket manager consumers may drive.
type Connection interface {
	IsConnected() bool
	Refresh()
}

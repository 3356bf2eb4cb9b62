package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a notification id is not held locally.
var ErrNotFound = errors.New("notification not found")

// Archive defines the port for the local durable copy of the notification store.
// Implementations live in infrastructure/postgres.
type Archive interface {
	// Load returns up to limit archived notifications, newest first.
	Load(ctx context.Context, limit int) ([]Notification, error)

	// Upsert inserts or replaces notifications by ID.
	Upsert(ctx context.Context, notifications []Notification) error

	// MarkRead marks the given notifications as read.
	MarkRead(ctx context.Context, ids []string) error

	// Clear removes every archived notification.
	Clear(ctx context.Context) (int64, error)
}

package application

import "vn.io.arda/notification-agent/internal/domain"

// PageParams is the pagination input of FetchPage.
// This is a type alias for domain.PageParams for convenience.
type PageParams = domain.PageParams

// View is the consumer-facing state: the ordered list, the unread badge and
// whether the live socket is open.
type View struct {
	Notifications []domain.Notification `json:"data"`
	UnreadCount   int                   `json:"unread_count"`
	IsConnected   bool                  `json:"is_connected"`
}

// MarkResult reports a mutation that was applied locally and whether the
// backend confirmed it.
type MarkResult struct {
	Changed   int    `json:"changed"`
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

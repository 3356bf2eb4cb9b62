package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category is the closed set of notification kinds sent by the backend.
// It drives the icon/color shown next to a notification.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryRequest    Category = "request"
	CategoryAcceptance Category = "acceptance"
	CategoryRejection  Category = "rejection"
	CategoryReview     Category = "review"
	CategoryAuth       Category = "auth"
	CategorySystem     Category = "system"
)

// Style is the fixed presentation entry for a Category.
type Style struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

var categoryStyles = map[Category]Style{
	CategoryGeneral:    {Icon: "notifications", Color: "#607D8B"},
	CategoryRequest:    {Icon: "water-drop", Color: "#E53935"},
	CategoryAcceptance: {Icon: "check-circle", Color: "#43A047"},
	CategoryRejection:  {Icon: "cancel", Color: "#757575"},
	CategoryReview:     {Icon: "star", Color: "#FFB300"},
	CategoryAuth:       {Icon: "lock", Color: "#1E88E5"},
	CategorySystem:     {Icon: "info", Color: "#546E7A"},
}

// ParseCategory maps a wire value onto a known Category.
// Unknown or empty values fall back to CategoryGeneral.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryStyles[c]; ok {
		return c
	}
	return CategoryGeneral
}

// Style returns the presentation entry for c, falling back to the general entry.
func (c Category) Style() Style {
	if s, ok := categoryStyles[c]; ok {
		return s
	}
	return categoryStyles[CategoryGeneral]
}

// UnmarshalJSON never fails on an unrecognised category.
func (c *Category) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// Non-string categories (null, numbers) are treated as unknown.
		*c = CategoryGeneral
		return nil
	}
	*c = ParseCategory(raw)
	return nil
}

// Notification is a single notification record as observed by the client.
// The same ID is used by the socket push and the HTTP history.
type Notification struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalJSON decodes a wire record, reading created_at with ParseTimestamp.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"created_at"`
	}{plain: (*plain)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.CreatedAt)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		n.CreatedAt = time.Time{}
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		at, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		n.CreatedAt = at
	default:
		secs, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		n.CreatedAt = fromEpoch(secs)
	}
	return nil
}

// Zoned layouts first; the rest are read as UTC.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02 15:04:05.999999999Z0700",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
)

// ParseTimestamp reads an RFC 3339 timestamp, an ISO 8601 timestamp without
// zone (taken as UTC) or a numeric unix time in seconds or milliseconds.
// An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(secs), nil
	}
	return time.Time{}, fmt.Errorf("created_at: unrecognised timestamp %q", s)
}

func fromEpoch(v float64) time.Time {
	// Anything past year 33658 in seconds is a millisecond value.
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*1e9)).UTC()
}

// Equal reports whether two records carry the same field values.
func (n Notification) Equal(o Notification) bool {
	return n.ID == o.ID &&
		n.Category == o.Category &&
		n.Title == o.Title &&
		n.Message == o.Message &&
		n.Link == o.Link &&
		n.IsRead == o.IsRead &&
		n.CreatedAt.Equal(o.CreatedAt)
}

// PageParams selects one page of notification history.
type PageParams struct {
	Page  int
	Limit int
}

// Page is one page of notification history returned by the backend.
type Page struct {
	Notifications []Notification `json:"data"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	Total         int            `json:"total"`
}

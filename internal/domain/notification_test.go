package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/notification-agent/internal/domain"
)

func TestParseCategory(t *testing.T) {
	cases := map[string]domain.Category{
		"request":     domain.CategoryRequest,
		" Acceptance": domain.CategoryAcceptance,
		"REVIEW":      domain.CategoryReview,
		"":            domain.CategoryGeneral,
		"donation":    domain.CategoryGeneral,
	}
	for in, want := range cases {
		assert.Equal(t, want, domain.ParseCategory(in), "input %q", in)
	}
}

func TestCategoryStyleFallsBackToGeneral(t *testing.T) {
	general := domain.CategoryGeneral.Style()
	assert.Equal(t, general, domain.Category("bogus").Style())
	assert.NotEqual(t, general, domain.CategoryRequest.Style())
}

func TestNotificationUnmarshalUnknownCategory(t *testing.T) {
	var n domain.Notification
	err := json.Unmarshal([]byte(`{"id":"n1","category":"mystery","title":"t","is_read":true,"created_at":"2024-05-01T10:00:00Z"}`), &n)
	require.NoError(t, err)

	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, domain.CategoryGeneral, n.Category)
	assert.True(t, n.IsRead)
	assert.True(t, n.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestNotificationUnmarshalNullCategory(t *testing.T) {
	var n domain.Notification
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","category":null}`), &n))
	assert.Equal(t, domain.CategoryGeneral, n.Category)
}

func TestNotificationEqual(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := domain.Notification{ID: "n1", Title: "Blood request", CreatedAt: at}
	b := a
	b.CreatedAt = at.In(time.FixedZone("ICT", 7*3600))
	assert.True(t, a.Equal(b))

	b.IsRead = true
	assert.False(t, a.Equal(b))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:00:00Z", want},
		{"2024-05-01T12:00:00+02:00", want},
		{"2024-05-01T10:00:00.123456", want.Add(123456 * time.Microsecond)},
		{"2024-05-01 10:00:00", want},
		{"2024-05-01", want.Add(-10 * time.Hour)},
		{"1714557600", want},
		{"1714557600000", want},
		{"", time.Time{}},
	}
	for _, tc := range cases {
		got, err := domain.ParseTimestamp(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.True(t, tc.want.Equal(got), "input %q: got %v", tc.in, got)
	}

	_, err := domain.ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestNotificationUnmarshalTimestampForms(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, raw := range []string{`"2024-05-01 10:00:00"`, `1714557600`, `null`} {
		var n domain.Notification
		require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","created_at":`+raw+`}`), &n), raw)
		assert.Equal(t, "n1", n.ID)
		if raw == `null` {
			assert.True(t, n.CreatedAt.IsZero())
			continue
		}
		assert.True(t, want.Equal(n.CreatedAt), "%s: got %v", raw, n.CreatedAt)
	}

	var n domain.Notification
	assert.Error(t, json.Unmarshal([]byte(`{"id":"n1","created_at":true}`), &n))
}

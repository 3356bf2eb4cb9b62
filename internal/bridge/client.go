package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/domain"
)

// TokenSource resolves the current bearer token. An empty token means
// "not signed in" and is not an error.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client performs the authenticated HTTP calls of the notification API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a Client for the API rooted at baseURL.
// tokens may be nil, in which case every call is unauthenticated.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, maxRetries int) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// FetchNotifications loads one page of history.
func (c *Client) FetchNotifications(ctx context.Context, page, limit int) (domain.Page, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return domain.Page{}, fmt.Errorf("fetch notifications: %w", err)
	}
	out, err := decodePage(body, page, limit)
	if err != nil {
		return domain.Page{}, fmt.Errorf("decode notifications page: %w", err)
	}
	return out, nil
}

// MarkRead confirms a single read receipt.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read"); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead confirms that every notification of the user is read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodPatch, "/notifications/read-all"); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, requestPath string) ([]byte, error) {
	token := c.token(ctx)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}

		if retryable(resp.StatusCode) && attempt < c.maxRetries {
			log.Debug().
				Str("method", method).
				Str("path", requestPath).
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Msg("retrying notification api call")
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		msg := errPayload.Message
		if msg == "" {
			msg = errPayload.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    msg,
		}
	}
}

// token resolves the bearer once per call. A lookup failure degrades to an
// unauthenticated request; the backend answers 401 and the caller sees it.
func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("resolve bearer token for notification api")
		return ""
	}
	return strings.TrimSpace(token)
}

// --- Helpers ---

// decodePage accepts a bare array or a {data|notifications, page, limit, total} envelope.
// Records are decoded one at a time; a malformed record is logged and skipped.
func decodePage(body []byte, page, limit int) (domain.Page, error) {
	out := domain.Page{Page: page, Limit: limit}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return out, nil
	}
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return domain.Page{}, err
		}
		out.Notifications = decodeRecords(raw)
		out.Total = len(out.Notifications)
		return out, nil
	}

	var env struct {
		Data          []json.RawMessage `json:"data"`
		Notifications []json.RawMessage `json:"notifications"`
		Page          int               `json:"page"`
		Limit         int               `json:"limit"`
		Total         int               `json:"total"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return domain.Page{}, err
	}
	raw := env.Data
	if raw == nil {
		raw = env.Notifications
	}
	out.Notifications = decodeRecords(raw)
	if env.Page > 0 {
		out.Page = env.Page
	}
	if env.Limit > 0 {
		out.Limit = env.Limit
	}
	out.Total = env.Total
	return out, nil
}

func decodeRecords(raw []json.RawMessage) []domain.Notification {
	out := make([]domain.Notification, 0, len(raw))
	for i, r := range raw {
		var n domain.Notification
		if err := json.Unmarshal(r, &n); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping malformed notification record")
			continue
		}
		if strings.TrimSpace(n.ID) == "" {
			log.Warn().Int("index", i).Msg("skipping notification record without id")
			continue
		}
		out = append(out, n)
	}
	return out
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/99designs/keyring"
)

// Default item keys written by the host application after sign-in.
const (
	DefaultTokenKey  = "access_token"
	DefaultUserIDKey = "user_id"
)

// ItemGetter is the read side of keyring.Keyring.
type ItemGetter interface {
	Get(key string) (keyring.Item, error)
}

// KeyringConfig selects the OS keyring to read from.
type KeyringConfig struct {
	ServiceName string
	FileDir     string
	TokenKey    string
	UserIDKey   string
	CacheTTL    time.Duration
}

// Keyring reads credentials from the OS keyring with a short in-memory cache
// so every reconnect attempt and API call does not hit the keychain.
type Keyring struct {
	ring      ItemGetter
	tokenKey  string
	userIDKey string

	mu        sync.RWMutex
	cacheTTL  time.Duration
	cacheData map[string]cacheEntry
	now       func() time.Time
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// OpenKeyring opens the configured OS keyring.
func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "arda-notification-agent"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	k := NewKeyring(ring, cfg.CacheTTL)
	if cfg.TokenKey != "" {
		k.tokenKey = cfg.TokenKey
	}
	if cfg.UserIDKey != "" {
		k.userIDKey = cfg.UserIDKey
	}
	return k, nil
}

// NewKeyring wraps an already opened keyring. A non-positive ttl disables caching.
func NewKeyring(ring ItemGetter, ttl time.Duration) *Keyring {
	return &Keyring{
		ring:      ring,
		tokenKey:  DefaultTokenKey,
		userIDKey: DefaultUserIDKey,
		cacheTTL:  ttl,
		cacheData: make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// Token returns the stored access token, or "" when none is stored.
func (k *Keyring) Token(context.Context) (string, error) {
	return k.lookup(k.tokenKey)
}

// UserID returns the stored user id, falling back to the token's subject.
func (k *Keyring) UserID(ctx context.Context) (string, error) {
	id, err := k.lookup(k.userIDKey)
	if err != nil || id != "" {
		return id, err
	}
	token, err := k.Token(ctx)
	if err != nil {
		return "", err
	}
	return SubjectFromToken(token), nil
}

// Invalidate drops cached values so the next lookup reads the keyring.
func (k *Keyring) Invalidate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cacheData = make(map[string]cacheEntry)
}

func (k *Keyring) lookup(key string) (string, error) {
	if v, ok := k.fromCache(key); ok {
		return v, nil
	}
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		k.toCache(key, "")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	v := strings.TrimSpace(string(item.Data))
	k.toCache(key, v)
	return v, nil
}

// --- internal helpers ---

func (k *Keyring) fromCache(key string) (string, bool) {
	if k.cacheTTL <= 0 {
		return "", false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry, ok := k.cacheData[key]
	if !ok || k.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (k *Keyring) toCache(key, value string) {
	if k.cacheTTL <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cacheData[key] = cacheEntry{value: value, expiresAt: k.now().Add(k.cacheTTL)}
}

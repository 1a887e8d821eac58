// Package cooldown pauses a marketplace after it starts serving anti-bot pages.
package cooldown

import (
	"errors"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "pricewatch:cooldown:"

// Cooldown records and answers whether a platform is paused
type Cooldown interface {
	Active(platform string) (bool, error)
	Trip(platform string, ttl time.Duration) error
	Clear(platform string) error
}

// MemcacheClient is the subset of *memcache.Client used here (for testing)
type MemcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

// MemcacheCooldown keeps cooldown flags in memcache so they survive restarts
// and are shared by every process scraping through the same egress.
type MemcacheCooldown struct {
	client MemcacheClient
}

func NewMemcache(serverAddr string) *MemcacheCooldown {
	return &MemcacheCooldown{client: memcache.New(serverAddr)}
}

func NewMemcacheWithClient(client MemcacheClient) *MemcacheCooldown {
	return &MemcacheCooldown{client: client}
}

func (m *MemcacheCooldown) Active(platform string) (bool, error) {
	_, err := m.client.Get(keyPrefix + platform)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	return false, err
}

func (m *MemcacheCooldown) Trip(platform string, ttl time.Duration) error {
	seconds := int32(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return m.client.Set(&memcache.Item{
		Key:        keyPrefix + platform,
		Value:      []byte(time.Now().UTC().Format(time.RFC3339)),
		Expiration: seconds,
	})
}

func (m *MemcacheCooldown) Clear(platform string) error {
	err := m.client.Delete(keyPrefix + platform)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Memory is the in-process fallback used when no memcache address is configured
type Memory struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (m *Memory) Active(platform string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.until[platform]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.until, platform)
		return false, nil
	}
	return true, nil
}

func (m *Memory) Trip(platform string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.until[platform] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Clear(platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.until, platform)
	return nil
}

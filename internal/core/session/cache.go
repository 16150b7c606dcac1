package session

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"xscraper/internal/logger"
	"xscraper/internal/platform/xapi"
)

// KV is the key-value store backing the cache. Satisfied by the redis
// platform service; tests substitute an in-memory map.
type KV interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error
	CacheDel(ctx context.Context, key string) error
}

// Cache stores one live session per platform account so repeated jobs skip
// re-authentication. Concurrent requests for the same account share a
// single login via singleflight; unrelated accounts never serialize.
type Cache struct {
	kv      KV
	gateway xapi.Gateway
	ttl     time.Duration
	group   singleflight.Group
	log     *logger.Logger
}

func NewCache(kv KV, gateway xapi.Gateway, ttl time.Duration) *Cache {
	return &Cache{
		kv:      kv,
		gateway: gateway,
		ttl:     ttl,
		log:     logger.New("SessionCache"),
	}
}

func key(accountID string) string { return "session:" + accountID }

// GetOrCreate returns the cached session for the credential's account, or
// authenticates and caches a fresh one. Authentication failures surface as
// an auth-kind error.
func (c *Cache) GetOrCreate(ctx context.Context, cred xapi.Credential) (*xapi.Session, error) {
	v, err, _ := c.group.Do(cred.AccountID, func() (interface{}, error) {
		var cached xapi.Session
		if err := c.kv.CacheGet(ctx, key(cred.AccountID), &cached); err == nil && len(cached.Cookies) > 0 {
			c.log.LogDebugf("session cache hit for %s", cred.AccountID)
			return &cached, nil
		}

		fresh, err := c.gateway.Authenticate(ctx, cred)
		if err != nil {
			return nil, err
		}
		if err := c.kv.CacheSet(ctx, key(cred.AccountID), fresh, c.ttl); err != nil {
			// The session is still usable for this job; only reuse is lost.
			c.log.LogWarnf("failed to cache session for %s: %v", cred.AccountID, err)
		}
		c.log.LogInfof("cached fresh session for %s", cred.AccountID)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*xapi.Session), nil
}

// Invalidate drops the cached session so the next GetOrCreate performs a
// fresh login. Callers invoke this when a cached session starts producing
// authorization failures mid-job.
func (c *Cache) Invalidate(ctx context.Context, accountID string) error {
	c.log.LogInfof("invalidating session for %s", accountID)
	return c.kv.CacheDel(ctx, key(accountID))
}

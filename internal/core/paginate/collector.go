package paginate

import (
	"context"
	"time"

	"xscraper/internal/logger"
	"xscraper/internal/platform/xapi"
)

// Config tunes the fetch loop. Zero values fall back to the defaults from
// DefaultConfig.
type Config struct {
	PageSize   int // max items requested per platform call
	MaxPages   int // safety cap against platform misbehavior
	MaxRetries int // rate-limit retries per page before giving up

	Backoff ExponentialBackoff
}

func DefaultConfig() Config {
	return Config{
		PageSize:   20,
		MaxPages:   50,
		MaxRetries: 3,
		Backoff:    DefaultExponentialBackoff(),
	}
}

// SessionSource provides authenticated sessions and lets the collector
// force a re-login when a session goes stale mid-job.
type SessionSource interface {
	GetOrCreate(ctx context.Context, cred xapi.Credential) (*xapi.Session, error)
	Invalidate(ctx context.Context, accountID string) error
}

// ProgressFunc receives the running item count after each recorded page.
type ProgressFunc func(collected int)

// Collector drives repeated page fetches until the target count is reached
// or the platform signals exhaustion. It owns all throttling and
// transient-failure handling so callers see at most one error per job.
type Collector struct {
	gateway  xapi.Gateway
	sessions SessionSource
	cfg      Config
	log      *logger.Logger
}

func NewCollector(gateway xapi.Gateway, sessions SessionSource, cfg Config) *Collector {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff = DefaultExponentialBackoff()
	}
	return &Collector{gateway: gateway, sessions: sessions, cfg: cfg, log: logger.New("Collector")}
}

// Collect fetches pages in strict sequence until target items are gathered.
// Items are deduplicated by id since overlapping pages are possible at
// cursor boundaries. Cancellation is observed at page boundaries only.
func (c *Collector) Collect(ctx context.Context, cred xapi.Credential, spec xapi.FetchSpec, target int, onProgress ProgressFunc) ([]xapi.Post, error) {
	sess, err := c.sessions.GetOrCreate(ctx, cred)
	if err != nil {
		return nil, err
	}

	items := make([]xapi.Post, 0, target)
	seen := make(map[string]struct{}, target)
	cursor := ""

	for page := 0; page < c.cfg.MaxPages && len(items) < target; page++ {
		select {
		case <-ctx.Done():
			return items, xapi.WrapError(xapi.KindCancelled, "scrape cancelled", ctx.Err())
		default:
		}

		batch := target - len(items)
		if batch > c.cfg.PageSize {
			batch = c.cfg.PageSize
		}

		pg, err := c.fetchPage(ctx, cred, &sess, spec, cursor, batch)
		if err != nil {
			return items, err
		}

		for _, p := range pg.Posts {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			items = append(items, p)
			if len(items) >= target {
				break
			}
		}
		if onProgress != nil {
			onProgress(len(items))
		}
		c.log.LogDebugf("page %d: %d posts (%d/%d collected)", page+1, len(pg.Posts), len(items), target)

		if len(pg.Posts) == 0 || pg.NextCursor == "" {
			c.log.LogInfof("platform exhausted after %d items (target %d)", len(items), target)
			break
		}
		cursor = pg.NextCursor
	}

	return items, nil
}

// fetchPage issues one page fetch, retrying transient throttling with
// capped exponential backoff and recovering from a stale session exactly
// once by re-authenticating.
func (c *Collector) fetchPage(ctx context.Context, cred xapi.Credential, sess **xapi.Session, spec xapi.FetchSpec, cursor string, count int) (xapi.Page, error) {
	attempts := 0
	reauthed := false

	for {
		pg, err := c.gateway.FetchPage(ctx, *sess, spec, cursor, count)
		if err == nil {
			return pg, nil
		}

		kind := xapi.KindOf(err)
		switch {
		case xapi.Retryable(kind):
			attempts++
			if attempts > c.cfg.MaxRetries {
				c.log.LogWarnf("giving up after %d retries: %v", c.cfg.MaxRetries, err)
				return xapi.Page{}, err
			}
			delay := c.cfg.Backoff.NextDelay(attempts)
			c.log.LogWarnf("throttled, waiting %v (attempt %d/%d)", delay.Round(time.Millisecond), attempts, c.cfg.MaxRetries)
			if serr := sleep(ctx, delay); serr != nil {
				return xapi.Page{}, xapi.WrapError(xapi.KindCancelled, "scrape cancelled", serr)
			}

		case kind == xapi.KindAuth && !reauthed:
			reauthed = true
			c.log.LogWarnf("session rejected mid-fetch for %s, re-authenticating once", cred.AccountID)
			if ierr := c.sessions.Invalidate(ctx, cred.AccountID); ierr != nil {
				c.log.LogWarnf("session invalidate failed for %s: %v", cred.AccountID, ierr)
			}
			fresh, aerr := c.sessions.GetOrCreate(ctx, cred)
			if aerr != nil {
				return xapi.Page{}, aerr
			}
			*sess = fresh

		default:
			return xapi.Page{}, err
		}
	}
}

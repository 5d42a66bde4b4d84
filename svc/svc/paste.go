package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"quickbin/cfg"
	"quickbin/metrics"
	"quickbin/pkg/clock"
	"quickbin/pkg/domain"
	"quickbin/svc/cache"
	"quickbin/svc/db"
	"quickbin/svc/util"
)

// Paste is the lifecycle engine: slug allocation, expiry computation, the
// availability decision on every read, and the atomic view consumption.
// SQLite is the source of truth; the LRU and Redis layers are look-aside
// caches whose staleness can only undercount views, never overcount.
type Paste struct {
	db       *db.SQLite
	lru      *cache.LRU
	rdb      *db.Redis
	clock    clock.Clock
	cfg      *cfg.Cfg
	sf       singleflight.Group
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, clk clock.Clock, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, lru, or cfg)")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Paste{
		db:    sqlDB,
		lru:   lru,
		rdb:   rdb,
		clock: clk,
		cfg:   c,
	}
}

func (s *Paste) Shutdown() {
	s.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		s.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("in-flight paste operations didn't drain in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

// at resolves the effective time for an operation. A zero now falls back to
// the injected clock, so tests can drive expiry without sleeping.
func (s *Paste) at(now time.Time) time.Time {
	if now.IsZero() {
		return s.clock.Now()
	}
	return now
}

func (s *Paste) Create(ctx context.Context, params domain.CreateParams, now time.Time) (*domain.Paste, error) {
	if s.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	s.opWg.Add(1)
	defer s.opWg.Done()

	if strings.TrimSpace(params.Content) == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Content)) > s.cfg.MaxContentSize {
		return nil, domain.ErrPasteTooLarge
	}
	if params.TTL < 0 {
		return nil, domain.ErrInvalidTTL
	}
	if params.MaxViews < 0 {
		return nil, domain.ErrInvalidMaxViews
	}

	slug, err := util.GenSlug(ctx, s.db.SlugExists)
	if err != nil {
		if errors.Is(err, util.ErrSlugExhausted) {
			return nil, domain.ErrSlugGeneration
		}
		return nil, errors.Wrap(err, "gen slug")
	}

	now = s.at(now)
	syntax := params.Syntax
	if syntax == "" {
		syntax = "plaintext"
	}
	paste := &domain.Paste{
		Slug:      slug,
		Content:   params.Content,
		Title:     params.Title,
		Syntax:    syntax,
		CreatedAt: now,
		ViewCount: 0,
	}
	if params.TTL > 0 {
		expiresAt := now.Add(params.TTL)
		paste.ExpiresAt = &expiresAt
	}
	if params.MaxViews > 0 {
		maxViews := params.MaxViews
		paste.MaxViews = &maxViews
	}

	if err := s.db.Create(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	s.cacheFill(ctx, paste)
	metrics.PasteCreated.Inc()
	return paste, nil
}

// Consume is the view-consuming read. Availability is pre-checked against the
// snapshot (an already-unavailable paste is burned and never served again),
// then the increment happens as one conditional UPDATE in SQLite, so the Nth
// allowed view is still served and request N+1 is refused regardless of how
// requests interleave.
func (s *Paste) Consume(ctx context.Context, slug string, now time.Time) (*domain.PasteView, error) {
	if s.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	s.opWg.Add(1)
	defer s.opWg.Done()
	now = s.at(now)

	p, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if reason := p.BurnReason(now); reason != "" {
		s.burn(ctx, slug, reason)
		return nil, domain.GoneErr(reason)
	}

	fresh, err := s.db.ConsumeView(ctx, slug, now)
	if errors.Is(err, domain.ErrPasteNotFound) {
		// Lost a race: the guard saw the row deleted, at its view limit, or
		// past expiry. Re-read to tell the cases apart.
		s.purge(ctx, slug)
		current, getErr := s.db.GetBySlug(ctx, slug)
		if errors.Is(getErr, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		if getErr != nil {
			return nil, errors.Wrap(getErr, "re-read after rejected consume")
		}
		if reason := current.BurnReason(now); reason != "" {
			s.burn(ctx, slug, reason)
			return nil, domain.GoneErr(reason)
		}
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "consume view")
	}

	s.cacheFill(ctx, fresh)
	metrics.PasteViewed.Inc()
	return fresh.View(), nil
}

// Stat is the availability check: same lookup and burn-on-detect decision as
// Consume, but no view is spent and no content is returned.
func (s *Paste) Stat(ctx context.Context, slug string, now time.Time) (*domain.Paste, error) {
	now = s.at(now)
	p, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if reason := p.BurnReason(now); reason != "" {
		s.burn(ctx, slug, reason)
		return nil, domain.GoneErr(reason)
	}
	return p, nil
}

func (s *Paste) Delete(ctx context.Context, slug string) error {
	s.opWg.Add(1)
	defer s.opWg.Done()
	deleted, err := s.db.DeleteBySlug(ctx, slug)
	s.purge(ctx, slug)
	if err != nil {
		return errors.Wrap(err, "delete from db")
	}
	if !deleted {
		return domain.ErrPasteNotFound
	}
	metrics.PasteDeleted.Inc()
	util.Info().Str("slug", slug).Msg("paste deleted")
	return nil
}

func (s *Paste) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// lookup resolves a snapshot through LRU, Redis, then SQLite. Concurrent
// cache-miss reads of the same slug collapse into one database query.
func (s *Paste) lookup(ctx context.Context, slug string) (*domain.Paste, error) {
	if p := s.lru.Get(ctx, slug); p != nil {
		metrics.CacheHits.Inc()
		return p, nil
	}
	if s.rdb != nil {
		if p, err := s.rdb.GetPaste(ctx, slug); err == nil && p != nil {
			metrics.CacheHits.Inc()
			s.lru.Set(ctx, p, s.cacheTTL(p))
			return p, nil
		}
	}
	metrics.CacheMisses.Inc()
	v, err, _ := s.sf.Do(slug, func() (interface{}, error) {
		p, err := s.db.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		s.cacheFill(ctx, p)
		return p, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	return v.(*domain.Paste), nil
}

func (s *Paste) cacheTTL(p *domain.Paste) time.Duration {
	if p.ExpiresAt != nil {
		ttl := time.Until(*p.ExpiresAt)
		if ttl <= 0 {
			return time.Second
		}
		if ttl < s.cfg.CacheTTL {
			return ttl
		}
	}
	return s.cfg.CacheTTL
}

func (s *Paste) cacheFill(ctx context.Context, p *domain.Paste) {
	ttl := s.cacheTTL(p)
	s.lru.Set(ctx, p, ttl)
	if s.rdb != nil {
		if err := s.rdb.CachePaste(ctx, p, ttl); err != nil {
			util.Warn().Err(err).Str("slug", p.Slug).Msg("failed to cache in Redis")
		}
	}
}

func (s *Paste) purge(ctx context.Context, slug string) {
	s.lru.Delete(slug)
	if s.rdb != nil {
		if err := s.rdb.Delete(ctx, slug); err != nil {
			util.Warn().Err(err).Str("slug", slug).Msg("failed to delete from redis")
		}
	}
}

// burn hard-deletes an unavailable paste the moment it is detected (lazy
// deletion, no background sweeper). Irreversible from the client's view:
// the detecting request reports the reason, later requests see not found.
func (s *Paste) burn(ctx context.Context, slug, reason string) {
	if _, err := s.db.DeleteBySlug(ctx, slug); err != nil {
		util.Warn().Err(err).Str("slug", slug).Msg("failed to burn paste")
	}
	s.purge(ctx, slug)
	metrics.PasteBurned.WithLabelValues(reason).Inc()
	util.Info().Str("slug", slug).Str("reason", reason).Msg("paste burned")
}

package svc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"quickbin/cfg"
	"quickbin/pkg/clock"
	"quickbin/pkg/domain"
	"quickbin/svc/cache"
	"quickbin/svc/db"
	"quickbin/svc/util"
)

func TestMain(m *testing.M) {
	util.InitLog("error", false)
	os.Exit(m.Run())
}

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		LogLevel:       "error",
		MaxContentSize: 500000,
		CacheTTL:       time.Hour,
		LRUCacheSize:   1000,
	}
}

func newTestService(t *testing.T, clk clock.Clock) *Paste {
	t.Helper()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "quickbin_test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lru, err := cache.NewLRU(1000)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	return NewPaste(sqlDB, lru, nil, clk, testCfg())
}

func TestCreateValidation(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		params domain.CreateParams
		want   error
	}{
		{"empty content", domain.CreateParams{Content: ""}, domain.ErrContentRequired},
		{"whitespace content", domain.CreateParams{Content: "  \n\t "}, domain.ErrContentRequired},
		{"negative ttl", domain.CreateParams{Content: "x", TTL: -time.Second}, domain.ErrInvalidTTL},
		{"negative max views", domain.CreateParams{Content: "x", MaxViews: -1}, domain.ErrInvalidMaxViews},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Create(ctx, tc.params, time.Time{}); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateRejectsOversizedContent(t *testing.T) {
	s := newTestService(t, nil)
	big := make([]byte, 500001)
	for i := range big {
		big[i] = 'a'
	}
	_, err := s.Create(context.Background(), domain.CreateParams{Content: string(big)}, time.Time{})
	if !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Errorf("err = %v, want ErrPasteTooLarge", err)
	}
}

func TestCreateDefaults(t *testing.T) {
	now := time.Now()
	s := newTestService(t, clock.Fixed{T: now})
	p, err := s.Create(context.Background(), domain.CreateParams{Content: "hello"}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(p.Slug) != util.SlugLength {
		t.Errorf("slug %q, want %d chars", p.Slug, util.SlugLength)
	}
	if p.Syntax != "plaintext" {
		t.Errorf("syntax = %q, want plaintext default", p.Syntax)
	}
	if p.ExpiresAt != nil || p.MaxViews != nil {
		t.Errorf("expected no limits, got expires=%v max=%v", p.ExpiresAt, p.MaxViews)
	}
	if p.ViewCount != 0 {
		t.Errorf("view_count = %d, want 0", p.ViewCount)
	}
}

func TestCreateComputesExpiry(t *testing.T) {
	s := newTestService(t, nil)
	now := time.Now()
	p, err := s.Create(context.Background(), domain.CreateParams{Content: "x", TTL: 60 * time.Second}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(now.Add(60*time.Second)) {
		t.Errorf("expires_at = %v, want %v", p.ExpiresAt, now.Add(60*time.Second))
	}
}

func TestRoundTrip(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	content := "hello\r\nwindows line endings, nulls escaped \\0, unicode héllo 世界"
	p, err := s.Create(ctx, domain.CreateParams{Content: content, Title: "t", Syntax: "go"}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	view, err := s.Consume(ctx, p.Slug, time.Time{})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if view.Content != content {
		t.Errorf("content round trip mismatch:\n got %q\nwant %q", view.Content, content)
	}
	if view.Title != "t" || view.Syntax != "go" {
		t.Errorf("metadata round trip: title=%q syntax=%q", view.Title, view.Syntax)
	}
	if view.ViewCount != 1 {
		t.Errorf("view_count = %d, want 1", view.ViewCount)
	}
	if view.RemainingViews != nil {
		t.Errorf("unlimited paste reported remaining views %v", *view.RemainingViews)
	}
}

func TestSlugsPairwiseDistinct(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p, err := s.Create(ctx, domain.CreateParams{Content: "x"}, time.Time{})
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if seen[p.Slug] {
			t.Fatalf("duplicate slug %q", p.Slug)
		}
		seen[p.Slug] = true
	}
}

func TestBurnAfterSingleView(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "hello", MaxViews: 1}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	view, err := s.Consume(ctx, p.Slug, time.Time{})
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if view.Content != "hello" {
		t.Errorf("content = %q", view.Content)
	}
	if view.RemainingViews == nil || *view.RemainingViews != 0 {
		t.Errorf("remaining = %v, want 0", view.RemainingViews)
	}
	if !view.WillExpireAfterView {
		t.Error("the limit-reaching view should be flagged as the last one")
	}

	// The detecting request sees Gone with the reason; afterwards the row
	// is hard-deleted and every later request sees plain not found.
	_, err = s.Consume(ctx, p.Slug, time.Time{})
	if !domain.IsGone(err) {
		t.Fatalf("second consume = %v, want gone", err)
	}
	if reason := domain.ToResp(err).Error.Meta["reason"]; reason != domain.ReasonViews {
		t.Errorf("reason = %v, want views", reason)
	}
	_, err = s.Consume(ctx, p.Slug, time.Time{})
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("third consume = %v, want not found", err)
	}
}

func TestTimeExpiry(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x", TTL: 60 * time.Second}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Consume(ctx, p.Slug, now.Add(59*time.Second)); err != nil {
		t.Fatalf("consume at T+59s: %v", err)
	}
	_, err = s.Consume(ctx, p.Slug, now.Add(61*time.Second))
	if !domain.IsGone(err) {
		t.Fatalf("consume at T+61s = %v, want gone", err)
	}
	if reason := domain.ToResp(err).Error.Meta["reason"]; reason != domain.ReasonTime {
		t.Errorf("reason = %v, want time", reason)
	}
	_, err = s.Consume(ctx, p.Slug, now.Add(62*time.Second))
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("consume after burn = %v, want not found", err)
	}
}

func TestMonotonicViewCounts(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x"}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for want := 1; want <= 10; want++ {
		view, err := s.Consume(ctx, p.Slug, time.Time{})
		if err != nil {
			t.Fatalf("consume #%d: %v", want, err)
		}
		if view.ViewCount != want {
			t.Errorf("view_count = %d, want %d", view.ViewCount, want)
		}
	}
}

func TestStatDoesNotConsume(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x", MaxViews: 1}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := s.Stat(ctx, p.Slug, time.Time{})
		if err != nil {
			t.Fatalf("Stat #%d: %v", i, err)
		}
		if got.ViewCount != 0 {
			t.Errorf("Stat consumed a view: count = %d", got.ViewCount)
		}
	}
	if _, err := s.Consume(ctx, p.Slug, time.Time{}); err != nil {
		t.Fatalf("consume after stats: %v", err)
	}
	if _, err := s.Stat(ctx, p.Slug, time.Time{}); !domain.IsGone(err) {
		t.Errorf("stat of exhausted paste = %v, want gone", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x"}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, p.Slug); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete(ctx, p.Slug); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("second delete = %v, want not found", err)
	}
	if err := s.Delete(ctx, "neverWas"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("delete of unknown slug = %v, want not found", err)
	}
	if _, err := s.Consume(ctx, p.Slug, time.Time{}); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("consume after delete = %v, want not found", err)
	}
}

func TestConcurrentViewBoundary(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x", MaxViews: 5}, time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	var served int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, p.Slug, time.Time{}); err == nil {
				atomic.AddInt64(&served, 1)
			}
		}()
	}
	wg.Wait()
	if served != 5 {
		t.Errorf("served %d views, want exactly 5", served)
	}
}

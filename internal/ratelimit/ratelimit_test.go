package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(cfg)
	l.now = clk.now
	return l, clk
}

func TestAllow_RequestBucket(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(Config{RequestsPerMinute: 2})

	for i := range 2 {
		if ok, _ := l.Allow("acme"); !ok {
			t.Fatalf("request %d refused", i)
		}
	}
	ok, retry := l.Allow("acme")
	if ok {
		t.Fatal("third request admitted")
	}
	if retry != 30*time.Second {
		t.Errorf("retry = %v, want 30s", retry)
	}

	if ok, _ := l.Allow("other"); !ok {
		t.Error("tenants share a bucket")
	}

	clk.advance(30 * time.Second)
	if ok, _ := l.Allow("acme"); !ok {
		t.Error("bucket did not refill")
	}
}

func TestConsume_TokenDebtBlocksRequests(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(Config{TokensPerMinute: 600})

	l.Consume("acme", 900)
	if ok, _ := l.Allow("acme"); ok {
		t.Fatal("request admitted while tokens are in debt")
	}

	// 300 tokens of debt plus at least one more at 10 tokens/s.
	clk.advance(31 * time.Second)
	if ok, _ := l.Allow("acme"); !ok {
		t.Error("request refused after debt was repaid")
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(Config{RequestsPerMinute: 60, TokensPerMinute: 6000})

	l.Allow("acme")
	l.Consume("acme", 600)

	got := l.Snapshot("acme")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	want := []Bucket{
		{Name: BucketRequests, Limit: 60, Remaining: 59, Reset: time.Second},
		{Name: BucketTokens, Limit: 6000, Remaining: 5400, Reset: 6 * time.Second},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDisabledBuckets(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(Config{})

	for range 100 {
		if ok, _ := l.Allow("acme"); !ok {
			t.Fatal("unlimited limiter refused a request")
		}
	}
	l.Consume("acme", 1_000_000)
	if got := l.Snapshot("acme"); len(got) != 0 {
		t.Errorf("Snapshot = %+v, want no buckets", got)
	}
}

func TestEvictsIdleTenants(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(Config{RequestsPerMinute: 1, MaxEntries: 1, EntryTTL: time.Minute})

	l.Allow("a")
	clk.advance(2 * time.Minute)
	l.Allow("b")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m["a"]; ok {
		t.Error("idle tenant kept past its TTL")
	}
}

func TestSetLimits(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(Config{RequestsPerMinute: 1})

	if ok, _ := l.Allow("acme"); !ok {
		t.Fatal("first request refused")
	}
	if ok, _ := l.Allow("acme"); ok {
		t.Fatal("second request admitted")
	}

	l.SetLimits(3, 0)
	for i := range 3 {
		if ok, _ := l.Allow("acme"); !ok {
			t.Fatalf("request %d refused after raising the limit", i)
		}
	}
	if got := l.Snapshot("acme"); len(got) != 1 || got[0].Limit != 3 {
		t.Errorf("Snapshot = %+v, want one requests bucket with limit 3", got)
	}
}

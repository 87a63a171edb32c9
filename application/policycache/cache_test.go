package policycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"designgraph/domain/policy"
	"designgraph/infrastructure/cache"
	pkgerrors "designgraph/pkg/errors"
)

type fakeSource struct {
	mu    sync.Mutex
	docs  map[string]policy.Document
	err   error
	delay time.Duration
	calls atomic.Int64

	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: make(map[string]policy.Document)}
}

func (s *fakeSource) put(doc policy.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.TenantID] = doc
}

func (s *fakeSource) Load(ctx context.Context, tenantID string) (policy.Document, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return policy.Document{}, s.err
	}
	doc, ok := s.docs[tenantID]
	if !ok {
		return policy.Document{}, pkgerrors.NewNotFoundError("policy", tenantID)
	}
	return doc, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(src *fakeSource, shared *cache.MemoryCache, clk *clock, cfg Config) *Cache {
	// a nil *MemoryCache must not become a non-nil interface
	if shared == nil {
		return New(cache.NewMemoryCache(0, nil), nil, src, cfg, nil, zap.NewNop(), WithClock(clk.Now))
	}
	return New(cache.NewMemoryCache(0, nil), shared, src, cfg, nil, zap.NewNop(), WithClock(clk.Now))
}

func tenantDoc(tenant string) policy.Document {
	return policy.Document{
		TenantID:             tenant,
		AutoApproveEnabled:   true,
		RiskThresholdDefault: 0.7,
		ActionBlacklist:      []string{"risky_action"},
		Version:              3,
	}
}

func TestCache_LocalHitAndTTL(t *testing.T) {
	src := newFakeSource()
	src.put(tenantDoc("t1"))
	clk := &clock{now: time.Now()}
	c := newCache(src, nil, clk, DefaultConfig())
	ctx := context.Background()

	first := c.Get(ctx, "t1")
	assert.Equal(t, TierSource, first.Tier)
	assert.Equal(t, 3, first.Document.Version)

	second := c.Get(ctx, "t1")
	assert.Equal(t, TierLocal, second.Tier)
	assert.Equal(t, int64(1), src.calls.Load())

	clk.Advance(DefaultTTL + time.Second)
	third := c.Get(ctx, "t1")
	assert.Equal(t, TierSource, third.Tier)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestCache_SharedTierPopulatesLocal(t *testing.T) {
	src := newFakeSource()
	src.put(tenantDoc("t1"))
	clk := &clock{now: time.Now()}
	shared := cache.NewMemoryCache(0, nil)
	ctx := context.Background()

	a := newCache(src, shared, clk, DefaultConfig())
	b := newCache(src, shared, clk, DefaultConfig())

	require.Equal(t, TierSource, a.Get(ctx, "t1").Tier)

	clk.Advance(30 * time.Second)
	res := b.Get(ctx, "t1")
	assert.Equal(t, TierShared, res.Tier)
	assert.Equal(t, int64(1), src.calls.Load())
	assert.Equal(t, TierLocal, b.Get(ctx, "t1").Tier)

	// the local copy expires with the shared entry, not a fresh TTL
	clk.Advance(31 * time.Second)
	assert.Equal(t, TierSource, b.Get(ctx, "t1").Tier)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestCache_UnknownTenantGetsCachedDefaults(t *testing.T) {
	src := newFakeSource()
	c := newCache(src, nil, &clock{now: time.Now()}, DefaultConfig())
	ctx := context.Background()

	res := c.Get(ctx, "nobody")
	assert.False(t, res.FailClosed)
	assert.Equal(t, policy.Defaults("nobody"), res.Document)

	assert.Equal(t, TierLocal, c.Get(ctx, "nobody").Tier)
}

func TestCache_FailClosed(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		delay  time.Duration
		config Config
	}{
		{"source error", errors.New("connection refused"), 0, DefaultConfig()},
		{"source timeout", nil, 200 * time.Millisecond, Config{TTL: time.Minute, SourceTimeout: 20 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			doc := tenantDoc("t1")
			doc.ActionWhitelist = []string{"anything"}
			src.put(doc)
			src.err = tt.err
			src.delay = tt.delay
			c := newCache(src, nil, &clock{now: time.Now()}, tt.config)
			ctx := context.Background()

			res := c.Get(ctx, "t1")
			assert.True(t, res.FailClosed)
			assert.Equal(t, TierFallback, res.Tier)
			assert.False(t, res.Document.AutoApproveEnabled)

			decision, _ := c.Decide(ctx, "t1", "add_panel", 1.0)
			assert.Equal(t, policy.Deny, decision.Result)

			// fallbacks are never cached
			assert.Equal(t, int64(2), src.calls.Load())
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	src := newFakeSource()
	src.put(tenantDoc("t1"))
	src.put(tenantDoc("t2"))
	shared := cache.NewMemoryCache(0, nil)
	c := newCache(src, shared, &clock{now: time.Now()}, DefaultConfig())
	ctx := context.Background()

	c.Get(ctx, "t1")
	c.Get(ctx, "t2")

	updated := tenantDoc("t1")
	updated.Version = 4
	src.put(updated)

	require.NoError(t, c.Invalidate(ctx, "t1"))
	assert.Equal(t, 4, c.Get(ctx, "t1").Document.Version)
	assert.Equal(t, TierLocal, c.Get(ctx, "t2").Tier)

	require.NoError(t, c.InvalidateAll(ctx))
	assert.Equal(t, TierSource, c.Get(ctx, "t2").Tier)
	assert.Equal(t, 1, shared.Len())
}

func TestCache_DogpileIsCountedNotSerialized(t *testing.T) {
	src := newFakeSource()
	src.put(tenantDoc("t1"))
	src.entered = make(chan struct{}, 3)
	src.release = make(chan struct{})
	c := newCache(src, nil, &clock{now: time.Now()}, Config{TTL: time.Minute, SourceTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "t1")
		}()
	}

	// all three loads reach the source at the same time
	for i := 0; i < 3; i++ {
		select {
		case <-src.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("loads were serialized")
		}
	}
	assert.Equal(t, int64(3), c.InflightLoads())
	close(src.release)
	wg.Wait()

	assert.Equal(t, int64(2), c.DogpileCount())
	assert.Equal(t, int64(3), src.calls.Load())
	assert.Equal(t, int64(0), c.InflightLoads())
}

func TestCache_Decide(t *testing.T) {
	src := newFakeSource()
	src.put(tenantDoc("t1"))
	c := newCache(src, nil, &clock{now: time.Now()}, DefaultConfig())

	decision, res := c.Decide(context.Background(), "t1", "risky_action", 0.99)
	assert.Equal(t, policy.Decision{Result: policy.Deny, Reason: policy.ReasonBlacklist}, decision)
	assert.False(t, res.FailClosed)

	decision, _ = c.Decide(context.Background(), "t1", "add_panel", 0.75)
	assert.Equal(t, policy.Decision{Result: policy.Allow, Reason: policy.ReasonThreshold}, decision)
}

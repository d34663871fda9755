package contextmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPrefixCacheRendersOnceAndReusesOnHit(t *testing.T) {
	c := NewPrefixCache(8)
	var renders int32

	render := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&renders, 1)
		return "rendered-prefix", nil
	}

	v1, err := c.Get(context.Background(), "persona-a", render)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v2, err := c.Get(context.Background(), "persona-a", render)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v1 != v2 || v1 != "rendered-prefix" {
		t.Fatalf("expected stable cached value, got %q and %q", v1, v2)
	}
	if atomic.LoadInt32(&renders) != 1 {
		t.Fatalf("expected exactly one render for two cache hits, got %d", renders)
	}
}

func TestPrefixCacheDedupesConcurrentMisses(t *testing.T) {
	c := NewPrefixCache(8)
	var renders int32
	start := make(chan struct{})

	render := func(ctx context.Context) (string, error) {
		<-start
		atomic.AddInt32(&renders, 1)
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "persona-b", render)
		}()
	}
	close(start)
	wg.Wait()

	if atomic.LoadInt32(&renders) != 1 {
		t.Fatalf("expected singleflight to collapse concurrent misses into one render, got %d", renders)
	}
}

func TestPrefixCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPrefixCache(2)
	noop := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) { return v, nil }
	}

	c.Get(context.Background(), "a", noop("va"))
	c.Get(context.Background(), "b", noop("vb"))
	c.Get(context.Background(), "a", noop("va")) // touch a, b becomes LRU
	c.Get(context.Background(), "c", noop("vc")) // evicts b

	if c.Len() != 2 {
		t.Fatalf("expected capacity to stay at 2, got %d", c.Len())
	}

	var renders int32
	c.Get(context.Background(), "b", func(context.Context) (string, error) {
		atomic.AddInt32(&renders, 1)
		return "vb2", nil
	})
	if renders != 1 {
		t.Fatalf("expected b to have been evicted and re-rendered")
	}
}

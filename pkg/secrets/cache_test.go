package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCache_PutAndGet(t *testing.T) {
	cache := NewCache[string](2 * time.Second)
	key := "dev/oneself-console/rsa"

	if _, ok := cache.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Put(key, "MIIB")

	if v, ok := cache.Get(key); !ok {
		t.Fatal("expected cache hit")
	} else if v != "MIIB" {
		t.Errorf("expected MIIB, got %s", v)
	}
}

func TestCache_Expiration(t *testing.T) {
	cache := NewCache[string](100 * time.Millisecond)
	cache.Put("k", "v")

	time.Sleep(150 * time.Millisecond)

	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected expired cache entry")
	}
}

func TestCache_Bust(t *testing.T) {
	cache := NewCache[string](5 * time.Second)
	cache.Put("k", "v")
	cache.Bust("k")
	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected miss after bust")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	cache := NewCache[int](time.Minute)
	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := cache.GetOrLoad("k", load)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	}
	if calls != 1 {
		t.Errorf("expected loader to run once, ran %d times", calls)
	}
}

func TestCache_GetOrLoad_ErrorNotCached(t *testing.T) {
	cache := NewCache[int](time.Minute)
	_, err := cache.GetOrLoad("k", func() (int, error) { return 0, errors.New("boom") })
	if err == nil {
		t.Fatal("expected loader error")
	}
	if _, ok := cache.Get("k"); ok {
		t.Fatal("failed load must not be cached")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cache.Put("k", n)
			cache.Get("k")
		}(i)
	}
	wg.Wait()
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("expected value after concurrent writes")
	}
}

func TestCache_StartCleanerNonPositiveIntervalReturns(t *testing.T) {
	cache := NewCache[string](time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, interval := range []time.Duration{0, -time.Second} {
		done := make(chan struct{})
		go func() {
			cache.StartCleaner(ctx, interval)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("StartCleaner(%v) should return immediately", interval)
		}
	}
}

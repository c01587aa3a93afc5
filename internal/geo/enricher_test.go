package geo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubProvider struct {
	calls atomic.Int32
	loc   Location
	err   error
	delay time.Duration
}

func (s *stubProvider) Lookup(_ context.Context, _ string) (Location, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.loc, s.err
}

var berlin = Location{Lat: 52.52, Lon: 13.405, Country: "Germany", City: "Berlin", ISP: "Example ISP"}

func TestEnricherPrivateRangesSkipProvider(t *testing.T) {
	provider := &stubProvider{loc: berlin}
	enricher := NewEnricher(provider)

	for _, ip := range []string{"192.168.1.5", "10.0.0.8", "127.0.0.1"} {
		if got := enricher.Lookup(context.Background(), ip); got != PrivateLocation {
			t.Fatalf("Lookup(%s) = %+v, want PrivateLocation", ip, got)
		}
	}
	if calls := provider.calls.Load(); calls != 0 {
		t.Fatalf("provider called %d times for private addresses", calls)
	}
}

func TestEnricherFallsBackToUnknown(t *testing.T) {
	provider := &stubProvider{err: errors.New("network down")}
	enricher := NewEnricher(provider)

	if got := enricher.Lookup(context.Background(), "203.0.113.9"); got != UnknownLocation {
		t.Fatalf("Lookup = %+v, want UnknownLocation", got)
	}
	if enricher.Len() != 0 {
		t.Fatal("failed lookups must not be cached")
	}

	enricher.Lookup(context.Background(), "203.0.113.9")
	if calls := provider.calls.Load(); calls != 2 {
		t.Fatalf("provider calls = %d, want 2", calls)
	}
}

func TestEnricherCachesSuccess(t *testing.T) {
	provider := &stubProvider{loc: berlin}
	enricher := NewEnricher(provider, WithCacheSize(8), WithCacheTTL(time.Minute))

	for i := 0; i < 3; i++ {
		if got := enricher.Lookup(context.Background(), "8.8.4.4"); got != berlin {
			t.Fatalf("Lookup = %+v", got)
		}
	}
	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
}

func TestEnricherCollapsesConcurrentMisses(t *testing.T) {
	provider := &stubProvider{loc: berlin, delay: 50 * time.Millisecond}
	enricher := NewEnricher(provider)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enricher.Lookup(context.Background(), "8.8.8.8")
		}()
	}
	wg.Wait()

	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
}

func TestEnricherNilProvider(t *testing.T) {
	enricher := NewEnricher(nil)
	if got := enricher.Lookup(context.Background(), "8.8.8.8"); got != UnknownLocation {
		t.Fatalf("Lookup = %+v", got)
	}
}

func TestEnricherSharedRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	provider := &stubProvider{loc: berlin}
	first := NewEnricher(provider, WithRedis(client), WithCacheTTL(time.Minute))
	first.Lookup(context.Background(), "8.8.8.8")

	raw, err := mr.Get(redisKeyPrefix + "8.8.8.8")
	if err != nil {
		t.Fatalf("expected shared cache entry: %v", err)
	}
	var stored Location
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored != berlin {
		t.Fatalf("stored entry = %q (%v)", raw, err)
	}
	if ttl := mr.TTL(redisKeyPrefix + "8.8.8.8"); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}

	second := NewEnricher(provider, WithRedis(client))
	if got := second.Lookup(context.Background(), "8.8.8.8"); got != berlin {
		t.Fatalf("Lookup = %+v", got)
	}
	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
}

func TestIsPrivate(t *testing.T) {
	cases := map[string]bool{
		"192.168.0.1": true,
		"10.1.1.1":    true,
		"127.0.0.1":   true,
		"172.16.0.1":  false,
		"8.8.8.8":     false,
	}
	for ip, want := range cases {
		if got := IsPrivate(ip); got != want {
			t.Fatalf("IsPrivate(%s) = %v, want %v", ip, got, want)
		}
	}
}

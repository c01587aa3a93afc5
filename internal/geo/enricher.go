package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"socwatch/internal/metrics"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = time.Hour

	redisKeyPrefix = "socwatch:geo:"
)

// Enricher resolves IP addresses to locations. Lookups never fail: private
// ranges get PrivateLocation and provider errors get UnknownLocation.
type Enricher struct {
	provider Provider
	cache    *expirable.LRU[string, Location]
	group    singleflight.Group
	redis    *redis.Client
	ttl      time.Duration
	metrics  *metrics.Metrics
}

type options struct {
	cacheSize int
	ttl       time.Duration
	redis     *redis.Client
	metrics   *metrics.Metrics
}

type Option func(*options)

func WithCacheSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithRedis enables a shared second-level cache. A nil client is ignored.
func WithRedis(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func NewEnricher(provider Provider, opts ...Option) *Enricher {
	o := options{cacheSize: DefaultCacheSize, ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}

	return &Enricher{
		provider: provider,
		cache:    expirable.NewLRU[string, Location](o.cacheSize, nil, o.ttl),
		redis:    o.redis,
		ttl:      o.ttl,
		metrics:  o.metrics,
	}
}

func (e *Enricher) Lookup(ctx context.Context, ip string) Location {
	if IsPrivate(ip) {
		e.metrics.IncGeoLookup("private")
		return PrivateLocation
	}

	if loc, ok := e.cache.Get(ip); ok {
		e.metrics.IncGeoLookup("cache")
		return loc
	}

	result, _, _ := e.group.Do(ip, func() (any, error) {
		if loc, ok := e.readShared(ctx, ip); ok {
			e.cache.Add(ip, loc)
			e.metrics.IncGeoLookup("shared_cache")
			return loc, nil
		}

		if e.provider == nil {
			e.metrics.IncGeoLookup("error")
			return UnknownLocation, nil
		}

		loc, err := e.provider.Lookup(ctx, ip)
		if err != nil {
			log.Warn("Geolocation lookup failed", "ip", ip, "error", err)
			e.metrics.IncGeoLookup("error")
			return UnknownLocation, nil
		}

		e.cache.Add(ip, loc)
		e.writeShared(ctx, ip, loc)
		e.metrics.IncGeoLookup("provider")
		return loc, nil
	})

	return result.(Location)
}

// Len reports the number of in-process cache entries.
func (e *Enricher) Len() int {
	return e.cache.Len()
}

func (e *Enricher) readShared(ctx context.Context, ip string) (Location, bool) {
	if e.redis == nil {
		return Location{}, false
	}

	raw, err := e.redis.Get(ctx, redisKeyPrefix+ip).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug("Geo cache read failed", "ip", ip, "error", err)
		}
		return Location{}, false
	}

	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		log.Debug("Geo cache entry unreadable", "ip", ip, "error", err)
		return Location{}, false
	}
	return loc, true
}

func (e *Enricher) writeShared(ctx context.Context, ip string, loc Location) {
	if e.redis == nil {
		return
	}

	payload, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, redisKeyPrefix+ip, payload, e.ttl).Err(); err != nil {
		log.Debug("Geo cache write failed", "ip", ip, "error", err)
	}
}

package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leaseRetryDelay      = time.Second
	leaseOpTimeout       = 5 * time.Second
	minExtendInterval    = time.Second
)

// ErrLeaseLost means the key expired or another holder took it over.
var ErrLeaseLost = errors.New("support: lease lost")

var (
	leaseCounter atomic.Uint64

	// Both scripts only touch the key while it still carries our holder value.
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])`)
)

// Lease is a Redis key owned by a single holder for ttl at a time.
type Lease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

func NewLease(client *redis.Client, key string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}
	return &Lease{
		client: client,
		key:    key,
		holder: fmt.Sprintf("%s-%d", instanceID, leaseCounter.Add(1)),
		ttl:    ttl,
	}
}

func (l *Lease) Holder() string { return l.holder }

// TryAcquire claims the key when nobody holds it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
}

// Extend pushes the expiry out by ttl, or returns ErrLeaseLost.
func (l *Lease) Extend(ctx context.Context) error {
	extended, err := extendScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if extended == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the key if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// hold runs fn while extending the lease in the background. fn's context ends
// when ctx does or when an extension fails.
func (l *Lease) hold(ctx context.Context, fn func(context.Context)) {
	heldCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval := l.ttl / 3
	if interval < minExtendInterval {
		interval = minExtendInterval
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-heldCtx.Done():
				return
			case <-ticker.C:
			}

			opCtx, opCancel := context.WithTimeout(context.Background(), leaseOpTimeout)
			err := l.Extend(opCtx)
			opCancel()
			if err != nil {
				log.Warn("leader lock: extension failed, stepping down", "key", l.key, "error", err)
				cancel()
				return
			}
		}
	}()

	fn(heldCtx)
	cancel()
	<-stopped
}

// RunWithLeader runs fn whenever this process holds the lease on key, and
// keeps competing for it until ctx ends. fn's context is cancelled when the
// lease is lost. The lease is released each time fn returns.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, fn func(context.Context)) error {
	if fn == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if client == nil {
		return errors.New("support: leader lock requires a redis client")
	}

	for {
		lease := NewLease(client, key, ttl)
		if err := waitForLease(ctx, lease); err != nil {
			return err
		}

		log.Info("leader lock: acquired", "key", key, "holder", lease.Holder())
		lease.hold(ctx, fn)

		releaseCtx, cancel := context.WithTimeout(context.Background(), leaseOpTimeout)
		if err := lease.Release(releaseCtx); err != nil {
			log.Warn("leader lock: release failed", "key", key, "error", err)
		}
		cancel()
		log.Info("leader lock: released", "key", key)

		if err := sleepCtx(ctx, leaseRetryDelay); err != nil {
			return err
		}
	}
}

func waitForLease(ctx context.Context, lease *Lease) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		acquired, err := lease.TryAcquire(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("leader lock: acquire failed", "key", lease.key, "error", err)
		case acquired:
			return nil
		}

		if err := sleepCtx(ctx, leaseRetryDelay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// InstanceID identifies this process in lease values and heartbeat keys.
func InstanceID() string {
	return instanceID
}

var instanceID = func() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}()

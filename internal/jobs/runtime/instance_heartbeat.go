package runtime

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"socwatch/internal/support"
)

const (
	InstanceHeartbeatKeyPrefix = "socwatch:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

// StartInstanceHeartbeat refreshes this instance's presence key until ctx ends.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, keyPrefix string, interval, ttl time.Duration) {
	heartbeatKey := keyPrefix + support.InstanceID()

	sendHeartbeat := func() {
		if err := client.SetEx(ctx, heartbeatKey, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update instance heartbeat", "key", heartbeatKey, "error", err)
		}
	}

	sendHeartbeat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendHeartbeat()
		}
	}
}

func LaunchInstanceHeartbeat(parent context.Context, client *redis.Client) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	if client == nil {
		return cancel
	}
	go StartInstanceHeartbeat(ctx, client, InstanceHeartbeatKeyPrefix, DefaultHeartbeatInterval, DefaultHeartbeatTTL)
	return cancel
}

// CountActiveInstances reports how many instances refreshed their heartbeat
// within the TTL.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, InstanceHeartbeatKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

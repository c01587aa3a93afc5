package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"socwatch/internal/support"
)

const (
	redisConfigKey     = "socwatch:config:settings"
	redisConfigChannel = "socwatch:config:updates"
	redisOpTimeout     = 5 * time.Second
)

// configUpdate is the shared form of a configuration change. Credentials are
// never part of it: Config drops them from JSON.
type configUpdate struct {
	Origin   string `json:"origin"`
	Settings Config `json:"settings"`
}

type redisSyncState struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
}

var globalRedisSync redisSyncState

// EnableRedisSync makes settings changes visible to every instance: the
// shared copy in Redis is loaded now (or seeded from this instance when
// absent), and later updates published by other instances are applied as they
// arrive. The returned function stops the subscription.
func EnableRedisSync(ctx context.Context, client *redis.Client) (func(), error) {
	if client == nil {
		return func() {}, errors.New("config: redis sync requires a client")
	}

	syncCtx, cancel := context.WithCancel(ctx)

	globalRedisSync.mu.Lock()
	if globalRedisSync.client != nil {
		globalRedisSync.mu.Unlock()
		cancel()
		return func() {}, errors.New("config: redis sync already enabled")
	}
	globalRedisSync.client = client
	globalRedisSync.ctx = syncCtx
	globalRedisSync.mu.Unlock()

	stop := func() {
		cancel()
		globalRedisSync.mu.Lock()
		globalRedisSync.client = nil
		globalRedisSync.ctx = nil
		globalRedisSync.mu.Unlock()
	}

	pubsub := client.Subscribe(syncCtx, redisConfigChannel)
	if _, err := pubsub.Receive(syncCtx); err != nil {
		_ = pubsub.Close()
		stop()
		return func() {}, fmt.Errorf("config: subscribe %s: %w", redisConfigChannel, err)
	}

	loaded, err := loadConfigFromRedis(syncCtx, client)
	if err != nil {
		log.Error("Config sync: failed to load shared settings", "error", err)
	}
	if !loaded {
		if err := broadcastConfigUpdate(GetConfig()); err != nil {
			log.Error("Config sync: failed to seed shared settings", "error", err)
		}
	}

	go receiveConfigUpdates(syncCtx, pubsub)
	log.Info("Config sync enabled", "channel", redisConfigChannel)
	return stop, nil
}

func loadConfigFromRedis(ctx context.Context, client *redis.Client) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisConfigKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var update configUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return true, fmt.Errorf("config: decode shared settings: %w", err)
	}
	return true, applyRemoteUpdate(update)
}

func receiveConfigUpdates(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var update configUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			log.Error("Config sync: invalid payload", "error", err)
			continue
		}
		if update.Origin == support.InstanceID() {
			continue
		}
		if err := applyRemoteUpdate(update); err != nil {
			log.Error("Config sync: failed to apply remote update", "origin", update.Origin, "error", err)
			continue
		}
		log.Info("Config sync: applied remote update", "origin", update.Origin)
	}
}

func applyRemoteUpdate(update configUpdate) error {
	return applyConfigUpdate(update.Settings, configUpdateOptions{
		persistToFile:    true,
		keepLocalSecrets: true,
		source:           "redis",
	})
}

// broadcastConfigUpdate stores cfg as the shared copy and announces it. It is
// a no-op while sync is disabled.
func broadcastConfigUpdate(cfg Config) error {
	globalRedisSync.mu.RLock()
	client := globalRedisSync.client
	baseCtx := globalRedisSync.ctx
	globalRedisSync.mu.RUnlock()

	if client == nil {
		return nil
	}
	if baseCtx == nil || baseCtx.Err() != nil {
		baseCtx = context.Background()
	}

	payload, err := json.Marshal(configUpdate{Origin: support.InstanceID(), Settings: cfg})
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(baseCtx, redisOpTimeout)
	defer cancel()

	if err := client.Set(opCtx, redisConfigKey, payload, 0).Err(); err != nil {
		return err
	}
	return client.Publish(opCtx, redisConfigChannel, payload).Err()
}

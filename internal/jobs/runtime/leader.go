package runtime

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"socwatch/internal/support"
)

const coordinatorLockKey = "socwatch:leader:coordinator"

// StartCoordinator runs coord until ctx ends. With a Redis client the loop only
// runs while this instance holds the coordinator lock, so a single instance
// writes alerts at a time.
func StartCoordinator(ctx context.Context, coord *Coordinator, client *redis.Client) error {
	if client == nil {
		return coord.Run(ctx)
	}

	var runErr error
	err := support.RunWithLeader(ctx, client, coordinatorLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runErr = coord.Run(leaderCtx)
	})
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return runErr
	}
	if err != nil {
		log.Error("Coordinator leadership ended", "error", err)
		return err
	}
	return runErr
}

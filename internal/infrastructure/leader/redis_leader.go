package leader

import (
	"auction-engine/pkg/logger"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLeaderElection holds a lease key; the holder refreshes it at a third of the TTL.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logger.Logger

	mu      sync.Mutex
	stopHB  context.CancelFunc
	holding bool
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *RedisLeaderElection {
	return &RedisLeaderElection{
		client: client,
		key:    key,
		ttl:    ttl,
		log:    log,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopHB != nil {
		r.stopHB()
	}
	hbCtx, cancel := context.WithCancel(context.Background())
	r.stopHB = cancel
	r.holding = true
	go r.maintainLeadership(hbCtx, instanceID)

	return true, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return currentLeader == instanceID, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	if r.stopHB != nil {
		r.stopHB()
		r.stopHB = nil
	}
	r.holding = false
	r.mu.Unlock()

	return releaseScript.Run(ctx, r.client, []string{r.key}, instanceID).Err()
}

// Campaign keeps trying to acquire the lease until ctx is done.
func (r *RedisLeaderElection) Campaign(ctx context.Context, instanceID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		holding := r.holding
		r.mu.Unlock()

		if !holding {
			became, err := r.BecomeLeader(ctx, instanceID)
			if err != nil {
				r.log.Error("Failed to attempt leadership", "error", err)
			} else if became {
				r.log.Info("Became leader", "instance_id", instanceID, "key", r.key)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *RedisLeaderElection) maintainLeadership(ctx context.Context, instanceID string) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		kept, err := refreshScript.Run(opCtx, r.client, []string{r.key}, instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || kept == 0 {
			r.log.Warn("Lost leadership", "instance_id", instanceID, "error", err)
			r.mu.Lock()
			r.holding = false
			r.stopHB = nil
			r.mu.Unlock()
			return
		}
	}
}

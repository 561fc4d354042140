package leader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKey holds the instance ID of the current auction service leader.
const DefaultKey = "auction_leader"

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`

// RedisLeaderElection elects the single instance allowed to mutate engines,
// advance the block clock and run finalize jobs.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func NewRedisLeaderElection(client *redis.Client, ttl time.Duration) *RedisLeaderElection {
	return &RedisLeaderElection{
		client: client,
		key:    DefaultKey,
		ttl:    ttl,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		// a restarted leader keeps its own lock and must renew it again
		owner, err := r.IsLeader(ctx, instanceID)
		if err != nil || !owner {
			return false, err
		}
	}

	r.startHeartbeat(instanceID)
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
	r.stopHeartbeat()
	return r.client.Eval(ctx, releaseScript, []string{r.key}, instanceID).Err()
}

func (r *RedisLeaderElection) startHeartbeat(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		r.stop = make(chan struct{})
		go r.maintainLeadership(instanceID, r.stop)
	}
}

func (r *RedisLeaderElection) heartbeatRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

func (r *RedisLeaderElection) stopHeartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

func (r *RedisLeaderElection) maintainLeadership(instanceID string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		result, err := r.client.Eval(ctx, renewScript, []string{r.key},
			instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || result == 0 {
			r.mu.Lock()
			if r.stop == stop {
				r.stop = nil
			}
			r.mu.Unlock()
			return
		}
	}
}

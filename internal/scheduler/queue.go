package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWakeList is the Redis list name the API and worker share unless
// DISPATCH_WAKE_LIST overrides it.
const DefaultWakeList = "sharewear:dispatch"

// WakeQueue is a Redis list the API pushes job ids onto when a job becomes
// dispatchable. It only shortens dispatch latency: Postgres remains the
// source of truth and the poll loop finds everything eventually, so a lost
// wake signal costs at most one poll interval.
type WakeQueue struct {
	rdb      *redis.Client
	listName string
}

func NewWakeQueue(rdb *redis.Client, listName string) *WakeQueue {
	return &WakeQueue{rdb: rdb, listName: listName}
}

// Push enqueues a wake signal for the given job.
func (q *WakeQueue) Push(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.listName, jobID).Err()
}

// Pop blocks up to timeout for a wake signal. Returns empty string on
// timeout.
func (q *WakeQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.listName).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "tvlink:pending:"

var markAckedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'device') == ARGV[1] then
  redis.call('HSET', KEYS[1], 'acked', '1')
  return 1
end
return 0
`)

var takeIfAckedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'acked') == '1' then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// RedisTable is a PendingTable shared by every replica pointed at the same
// Redis. Records expire after the horizon through PEXPIRE.
type RedisTable struct {
	client  redis.UniversalClient
	horizon time.Duration
}

func NewRedisTable(client redis.UniversalClient, horizon time.Duration) *RedisTable {
	return &RedisTable{client: client, horizon: horizon}
}

func pendingKey(commandID string) string {
	return pendingKeyPrefix + commandID
}

func (t *RedisTable) Insert(ctx context.Context, commandID, deviceID string) error {
	key := pendingKey(commandID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "device", deviceID, "acked", "0")
		pipe.PExpire(ctx, key, t.horizon)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis insert pending: %w", err)
	}
	return nil
}

func (t *RedisTable) MarkAcked(ctx context.Context, commandID, deviceID string) (bool, error) {
	n, err := markAckedScript.Run(ctx, t.client, []string{pendingKey(commandID)}, deviceID).Int()
	if err != nil {
		return false, fmt.Errorf("redis mark acked: %w", err)
	}
	return n == 1, nil
}

func (t *RedisTable) TakeIfAcked(ctx context.Context, commandID string) (bool, error) {
	n, err := takeIfAckedScript.Run(ctx, t.client, []string{pendingKey(commandID)}).Int()
	if err != nil {
		return false, fmt.Errorf("redis take acked: %w", err)
	}
	return n == 1, nil
}

func (t *RedisTable) Remove(ctx context.Context, commandID string) error {
	if err := t.client.Del(ctx, pendingKey(commandID)).Err(); err != nil {
		return fmt.Errorf("redis remove pending: %w", err)
	}
	return nil
}

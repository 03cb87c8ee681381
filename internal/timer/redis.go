package timer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// claimScript removes a member only if its score still matches the one that
// was read, so an entry re-armed in between is not consumed.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	redis.call('ZREM', KEYS[1], ARGV[1])
	local payload = redis.call('HGET', KEYS[2], ARGV[1])
	redis.call('HDEL', KEYS[2], ARGV[1])
	return payload or ''
end
return false
`)

// RedisQueue keeps timers in a sorted set scored by due time in unix milliseconds
type RedisQueue struct {
	client     *redis.Client
	dueKey     string
	payloadKey string
}

// NewRedisQueue creates a queue using keys under prefix
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "chat-tasks"
	}
	return &RedisQueue{
		client:     client,
		dueKey:     prefix + ":timers:due",
		payloadKey: prefix + ":timers:payload",
	}
}

// Ping checks if the Redis connection is alive
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Put(ctx context.Context, e Entry) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.dueKey, &redis.Z{Score: float64(e.DueAt.UnixMilli()), Member: e.Key})
		pipe.HSet(ctx, q.payloadKey, e.Key, e.Payload)
		return nil
	})
	return err
}

func (q *RedisQueue) Remove(ctx context.Context, key string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.dueKey, key)
		pipe.HDel(ctx, q.payloadKey, key)
		return nil
	})
	return err
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	due, err := q.client.ZRangeByScoreWithScores(ctx, q.dueKey, opt).Result()
	if err != nil {
		return nil, err
	}

	var claimed []Entry
	for _, z := range due {
		key, _ := z.Member.(string)
		ms := int64(z.Score)
		payload, err := claimScript.Run(ctx, q.client, []string{q.dueKey, q.payloadKey}, key, strconv.FormatInt(ms, 10)).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, Entry{Key: key, DueAt: time.UnixMilli(ms), Payload: payload})
	}
	return claimed, nil
}

func (q *RedisQueue) Get(ctx context.Context, key string) (*Entry, error) {
	score, err := q.client.ZScore(ctx, q.dueKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotArmed
	}
	if err != nil {
		return nil, err
	}
	payload, err := q.client.HGet(ctx, q.payloadKey, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return &Entry{Key: key, DueAt: time.UnixMilli(int64(score)), Payload: payload}, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]Entry, error) {
	zs, err := q.client.ZRangeWithScores(ctx, q.dueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	payloads, err := q.client.HGetAll(ctx, q.payloadKey).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		key, _ := z.Member.(string)
		entries = append(entries, Entry{Key: key, DueAt: time.UnixMilli(int64(z.Score)), Payload: payloads[key]})
	}
	return entries, nil
}

// Package ratelimit throttles analysis submissions per user with a
// Redis-backed token bucket, so the limit holds across service replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmissionLimiter grants one token per analysis submission. Buckets refill
// continuously at refill tokens/second up to capacity and expire from Redis
// after a period of inactivity.
type SubmissionLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64
	idleTTL  time.Duration
}

// New constructs a limiter with the provided capacity and refill rate.
func New(client *redis.Client, capacity int, refillPerSecond float64) *SubmissionLimiter {
	return &SubmissionLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		idleTTL:  24 * time.Hour,
	}
}

// Allow consumes one token from the user's bucket if available, returning
// whether the submission may proceed and how many tokens remain.
func (l *SubmissionLimiter) Allow(ctx context.Context, userID string) (bool, float64, error) {
	key := "ratelimit:analysis:" + userID
	res, err := bucketScript.Run(ctx, l.client, []string{key},
		l.capacity, l.refill, time.Now().UnixMilli(), l.idleTTL.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run bucket script: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return false, 0, fmt.Errorf("unexpected bucket script reply: %v", res)
	}
	granted, _ := arr[0].(int64)
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return granted == 1, remaining, nil
}

// The script is the single writer of bucket state, so refill and consume are
// atomic per key. Time comes from the caller, not from Redis.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local idle_ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'stamp_ms')
local tokens = tonumber(state[1])
local stamp = tonumber(state[2])
if tokens == nil then tokens = capacity end
if stamp == nil then stamp = now end

local elapsed = math.max(0, now - stamp)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local granted = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'stamp_ms', now)
if idle_ttl > 0 then redis.call('PEXPIRE', key, idle_ttl) end
return {granted, tokens}
`)

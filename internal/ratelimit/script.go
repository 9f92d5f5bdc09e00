package ratelimit

import "github.com/redis/go-redis/v9"

// tokenBucket replenishes and debits one bucket in a single server-side step,
// which keeps concurrent checks for the same key from double-spending.
//
// KEYS[1] = bucket key
// ARGV[1] = now (unix seconds, fractional)
// ARGV[2] = window in seconds
// ARGV[3] = max requests per window
// ARGV[4] = burst allowance
//
// The bucket is a hash {tokens, last_update}. A missing or corrupt hash is
// treated as a full bucket. State is written back only when the request is
// admitted; denials leave the hash exactly as found. Every write refreshes
// the key TTL to one window, so idle buckets expire and later reads see a
// full bucket again.
//
// Returns 1 when the request is admitted, 0 when it is denied.
var tokenBucket = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])

local capacity = max_requests + burst

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_update')
local tokens = tonumber(state[1])
local last_update = tonumber(state[2])
if not tokens or not last_update then
    tokens = capacity
    last_update = now
end

local elapsed = now - last_update
if elapsed < 0 then
    elapsed = 0
end

tokens = math.min(capacity, tokens + elapsed * (max_requests / window))

if tokens >= 1 then
    redis.call('HSET', KEYS[1], 'tokens', tokens - 1, 'last_update', now)
    redis.call('EXPIRE', KEYS[1], math.ceil(window))
    return 1
end

return 0
`)

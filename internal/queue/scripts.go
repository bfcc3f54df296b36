package queue

import "github.com/redis/go-redis/v9"

// Every state change runs as one Lua script so that a job id is in exactly one
// of wait, delayed, active, completed or failed at any time. The per-job hash
// records that state plus the attempt counter and the current lease token.

// trimFn drops terminal entries older than a cutoff (exclusive) and then any
// beyond the newest keep entries, deleting their job hashes.
const trimFn = `
local function trim(set, cutoff, keep, prefix)
  local old = redis.call('ZRANGEBYSCORE', set, '-inf', '(' .. cutoff, 'LIMIT', 0, 1000)
  for _, id in ipairs(old) do
    redis.call('DEL', prefix .. id)
    redis.call('ZREM', set, id)
  end
  keep = tonumber(keep)
  local n = redis.call('ZCARD', set)
  if n > keep then
    local extra = redis.call('ZRANGE', set, 0, n - keep - 1)
    for _, id in ipairs(extra) do
      redis.call('DEL', prefix .. id)
    end
    redis.call('ZREMRANGEBYRANK', set, 0, n - keep - 1)
  end
end
`

// KEYS: job hash, wait. ARGV: id, now.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'state', 'waiting', 'attempts_made', 0, 'created_at', ARGV[2])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS: wait, delayed, active. ARGV: now, lease expiry, token, job key prefix.
// Returns {id, attempts_made} or nil when nothing is ready.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
  redis.call('HSET', ARGV[4] .. id, 'state', 'waiting')
end
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
local jk = ARGV[4] .. id
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HSET', jk, 'state', 'active', 'lease_token', ARGV[3], 'processed_at', ARGV[1])
local attempts = tonumber(redis.call('HGET', jk, 'attempts_made') or '0')
return {id, attempts}
`)

// KEYS: job hash, active. ARGV: token, new expiry, id.
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then
  return 0
end
redis.call('ZADD', KEYS[2], 'XX', ARGV[2], ARGV[3])
return 1
`)

// KEYS: job hash, active, completed. ARGV: token, id, now, cutoff, keep, job key prefix.
var completeScript = redis.NewScript(trimFn + `
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_token')
redis.call('HINCRBY', KEYS[1], 'attempts_made', 1)
redis.call('HSET', KEYS[1], 'state', 'completed', 'finished_at', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
trim(KEYS[3], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

// KEYS: job hash, active, delayed, failed.
// ARGV: token, id, now, max attempts, backoff base ms, permanent (0|1), reason, cutoff, keep, job key prefix.
// Returns -1 when the lease is lost, 0 when the job failed terminally, or the retry delay in ms.
var failScript = redis.NewScript(trimFn + `
if redis.call('HGET', KEYS[1], 'lease_token') ~= ARGV[1] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_token')
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts_made', 1)
redis.call('HSET', KEYS[1], 'failed_reason', ARGV[7])
if ARGV[6] == '0' and attempts < tonumber(ARGV[4]) then
  local delay = tonumber(ARGV[5]) * (2 ^ (attempts - 1))
  redis.call('ZADD', KEYS[3], tonumber(ARGV[3]) + delay, ARGV[2])
  redis.call('HSET', KEYS[1], 'state', 'delayed')
  return math.max(1, math.floor(delay))
end
redis.call('HSET', KEYS[1], 'state', 'failed', 'finished_at', ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[2])
trim(KEYS[4], ARGV[8], ARGV[9], ARGV[10])
return 0
`)

// KEYS: job hash, active, wait. ARGV: id, now.
// Moves an expired lease back to the head of the wait list without consuming an attempt.
// Returns the expired lease token, or nil when the lease is live or the job is not active.
var requeueScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return false
end
local token = redis.call('HGET', KEYS[1], 'lease_token') or ''
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], 'lease_token')
redis.call('HINCRBY', KEYS[1], 'stalled_count', 1)
redis.call('HSET', KEYS[1], 'state', 'waiting')
redis.call('RPUSH', KEYS[3], ARGV[1])
return token
`)

// KEYS: job hash, wait, completed, failed. ARGV: id, now, attempts already made.
// Adds a missing entry or revives a terminal one. The attempt counter never goes
// below ARGV[3] nor below what the entry already recorded. Waiting, delayed and
// active entries are left alone.
var redeliverScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
local made = tonumber(ARGV[3])
if not state then
  redis.call('HSET', KEYS[1], 'id', ARGV[1], 'state', 'waiting', 'attempts_made', made, 'created_at', ARGV[2])
  redis.call('LPUSH', KEYS[2], ARGV[1])
  return 1
end
if state == 'completed' or state == 'failed' then
  local recorded = tonumber(redis.call('HGET', KEYS[1], 'attempts_made') or '0')
  if recorded > made then
    made = recorded
  end
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('ZREM', KEYS[4], ARGV[1])
  redis.call('HDEL', KEYS[1], 'finished_at', 'failed_reason')
  redis.call('HSET', KEYS[1], 'state', 'waiting', 'attempts_made', made)
  redis.call('LPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

package queue

import "github.com/redis/go-redis/v9"

// The state machine lives in these scripts. Each script moves a job ID
// between state structures and updates the hash in one atomic step, so a
// crash or a concurrent worker can never observe an ID in two structures.

// leaseScript marks a freshly popped ID as active.
// KEYS: job hash, active set, events stream
// ARGV: id, now (ms), events maxlen
var leaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'active', 'processedOn', ARGV[2])
redis.call('XADD', KEYS[3], 'MAXLEN', '~', ARGV[3], '*',
  'event', 'active', 'jobId', ARGV[1], 'ts', ARGV[2])
return 1
`)

// completeScript finishes a job successfully.
// KEYS: job hash, active set, completed zset, stalled-check set, events stream
// ARGV: id, now (ms), result JSON, events maxlen
var completeScript = redis.NewScript(`
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed', 'finishedOn', ARGV[2], 'result', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
redis.call('XADD', KEYS[5], 'MAXLEN', '~', ARGV[4], '*',
  'event', 'completed', 'jobId', ARGV[1], 'ts', ARGV[2])
return 1
`)

// failScript records a failed attempt and decides retry vs terminal fail.
// The backoff is base * 2^(attempts-1) ms, capped.
// KEYS: job hash, active set, delayed zset, failed zset, stalled-check set,
//       events stream
// ARGV: id, now (ms), reason, backoff base (ms), backoff cap (ms),
//       events maxlen
// Returns {terminal(0|1), attemptsMade, runAt}.
var failScript = redis.NewScript(`
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[5], ARGV[1])
local attempts = redis.call('HINCRBY', KEYS[1], 'attemptsMade', 1)
local max = tonumber(redis.call('HGET', KEYS[1], 'maxAttempts')) or 0
redis.call('HSET', KEYS[1], 'failedReason', ARGV[3])
if attempts < max then
  local delay = tonumber(ARGV[4]) * 2 ^ (attempts - 1)
  local cap = tonumber(ARGV[5])
  if delay > cap then delay = cap end
  local runAt = tonumber(ARGV[2]) + delay
  redis.call('ZADD', KEYS[3], runAt, ARGV[1])
  redis.call('HSET', KEYS[1], 'state', 'delayed')
  redis.call('XADD', KEYS[6], 'MAXLEN', '~', ARGV[6], '*',
    'event', 'retrying', 'jobId', ARGV[1], 'ts', ARGV[2], 'reason', ARGV[3])
  return {0, attempts, runAt}
end
redis.call('HSET', KEYS[1], 'state', 'failed', 'finishedOn', ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
redis.call('XADD', KEYS[6], 'MAXLEN', '~', ARGV[6], '*',
  'event', 'failed', 'jobId', ARGV[1], 'ts', ARGV[2], 'reason', ARGV[3])
return {1, attempts, 0}
`)

// promoteScript moves due delayed jobs back onto the waiting list. They
// are pushed like fresh jobs, so a retried job runs after everything that
// is already waiting.
// KEYS: delayed zset, waiting list, events stream
// ARGV: now (ms), limit, job key prefix, events maxlen
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[3] .. id, 'state', 'waiting')
  redis.call('XADD', KEYS[3], 'MAXLEN', '~', ARGV[4], '*',
    'event', 'waiting', 'jobId', id, 'ts', ARGV[1])
end
return #due
`)

// requeueStalledScript returns a stalled active job to the waiting list.
// A no-op when the job is no longer active (it finished between the sweep
// reading the set and this script running).
// KEYS: job hash, active set, waiting list, stalled-check set, events stream
// ARGV: id, now (ms), events maxlen
var requeueStalledScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'waiting')
redis.call('XADD', KEYS[5], 'MAXLEN', '~', ARGV[3], '*',
  'event', 'stalled', 'jobId', ARGV[1], 'ts', ARGV[2])
return 1
`)

// retryScript promotes a terminally failed job back to waiting, keeping
// attemptsMade. Only valid from the failed state.
// KEYS: job hash, failed zset, waiting list, events stream
// ARGV: id, now (ms), events maxlen
var retryScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'failed' then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'waiting')
redis.call('HDEL', KEYS[1], 'finishedOn')
redis.call('XADD', KEYS[4], 'MAXLEN', '~', ARGV[3], '*',
  'event', 'waiting', 'jobId', ARGV[1], 'ts', ARGV[2])
return 1
`)

package queue

import "github.com/go-redis/redis/v8"

// 所有状态变更都在单个 Lua 脚本内完成，保证入队去重与租约的原子性。

// KEYS: job, ready  ARGV: id, chat_id, user_id, message, file_id, request_id, now_ms
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'chat_id', ARGV[2], 'user_id', ARGV[3], 'message', ARGV[4],
  'file_id', ARGV[5], 'request_id', ARGV[6], 'attempt', 0, 'state', 'queued',
  'created_at', ARGV[7], 'updated_at', ARGV[7])
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
return 1
`)

// KEYS: ready, active, dead
// ARGV: now_ms, lease_ms, lease_token, job_key_prefix, max_attempts, dead_ttl_s
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  local jk = ARGV[4] .. id
  if redis.call('EXISTS', jk) == 1 then
    local attempt = tonumber(redis.call('HGET', jk, 'attempt') or '0')
    if attempt >= tonumber(ARGV[5]) then
      redis.call('HSET', jk, 'state', 'dead', 'lease', '', 'last_error', 'lease expired', 'updated_at', ARGV[1])
      redis.call('ZADD', KEYS[3], now, id)
      redis.call('EXPIRE', jk, ARGV[6])
    else
      redis.call('HSET', jk, 'state', 'queued', 'lease', '', 'updated_at', ARGV[1])
      redis.call('ZADD', KEYS[1], now, id)
    end
  end
end
local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #ready == 0 then
  return false
end
local id = ready[1]
redis.call('ZREM', KEYS[1], id)
local jk = ARGV[4] .. id
if redis.call('EXISTS', jk) == 0 then
  return false
end
local until_ms = now + tonumber(ARGV[2])
redis.call('HINCRBY', jk, 'attempt', 1)
redis.call('HSET', jk, 'state', 'active', 'lease', ARGV[3], 'lease_until', tostring(until_ms), 'updated_at', ARGV[1])
redis.call('ZADD', KEYS[2], until_ms, id)
return redis.call('HGETALL', jk)
`)

// KEYS: job, active  ARGV: id, lease_token, result, now_ms, ttl_s
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed', 'result', ARGV[3], 'lease', '', 'updated_at', ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return 1
`)

// KEYS: job, active, ready, dead
// ARGV: id, lease_token, error, now_ms, retryable, max_attempts, backoff_base_ms, dead_ttl_s
// 返回 -1 租约已失效，1 已重新排队，2 已进入死信
var nackScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
local attempt = tonumber(redis.call('HGET', KEYS[1], 'attempt') or '0')
local now = tonumber(ARGV[4])
if ARGV[5] == '1' and attempt < tonumber(ARGV[6]) then
  local delay = tonumber(ARGV[7]) * (2 ^ (attempt - 1))
  redis.call('HSET', KEYS[1], 'state', 'failed', 'last_error', ARGV[3], 'lease', '', 'updated_at', ARGV[4])
  redis.call('ZADD', KEYS[3], now + delay, ARGV[1])
  return 1
end
redis.call('HSET', KEYS[1], 'state', 'dead', 'last_error', ARGV[3], 'lease', '', 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[4], now, ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[8])
return 2
`)

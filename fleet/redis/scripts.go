package redis

import "github.com/redis/go-redis/v9"

// launchScript reserves capacity and records a dispatch atomically.
//
// KEYS: node, node dispatches, node kind set, node held, record
// ARGV: need, handle, encoded record
// Returns -1 when the node is unknown, 0 when capacity is short, 1 on success.
var launchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
local base = tonumber(redis.call('HGET', KEYS[1], 'base') or '0')
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local need = tonumber(ARGV[1])
if base + used + need > total + 1e-9 then return 0 end
redis.call('HINCRBYFLOAT', KEYS[1], 'used', ARGV[1])
redis.call('SET', KEYS[5], ARGV[3])
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[2], ARGV[1])
return 1
`)

// cancelScript releases every dispatch in a node's kind set.
//
// KEYS: node, node dispatches, node kind set, node held
// ARGV: record key prefix
// Returns the number of dispatches removed.
var cancelScript = redis.NewScript(`
local handles = redis.call('SMEMBERS', KEYS[3])
for _, h in ipairs(handles) do
  local held = redis.call('HGET', KEYS[4], h)
  if held then redis.call('HINCRBYFLOAT', KEYS[1], 'used', '-' .. held) end
  redis.call('HDEL', KEYS[4], h)
  redis.call('SREM', KEYS[2], h)
  redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[3])
return #handles
`)

// releaseScript releases a single dispatch.
//
// KEYS: node, node dispatches, node kind set, node held, record
// ARGV: handle
// Returns 0 if the dispatch was already gone, 1 otherwise.
var releaseScript = redis.NewScript(`
local held = redis.call('HGET', KEYS[4], ARGV[1])
if not held then return 0 end
redis.call('HINCRBYFLOAT', KEYS[1], 'used', '-' .. held)
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[5])
return 1
`)

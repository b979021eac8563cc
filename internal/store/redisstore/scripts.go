package redisstore

import "github.com/redis/go-redis/v9"

// KEYS: room hash, room index set. ARGV: room id, created_at, board json.
var createRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'created_at', ARGV[2], 'board', ARGV[3], 'active', '1', 'winner', '')
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// KEYS: room hash, room seat set, player hash, player index set.
// ARGV: connection id, username, room id, symbol.
var addPlayerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return -1
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
redis.call('HSET', KEYS[3], 'username', ARGV[2], 'room_id', ARGV[3], 'symbol', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`)

// KEYS: player hash, player index set. ARGV: connection id, key prefix.
var removePlayerScript = redis.NewScript(`
local room = redis.call('HGET', KEYS[1], 'room_id')
if room then
  redis.call('SREM', ARGV[2] .. 'room:' .. room .. ':players', ARGV[1])
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS: room hash, room seat set, room index set. ARGV: room id.
var deleteIfEmptyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'not_found'
end
if redis.call('SCARD', KEYS[2]) > 0 then
  return 'retained'
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SREM', KEYS[3], ARGV[1])
return 'deleted'
`)

// KEYS: room hash. ARGV: field/value pairs.
var updateRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// KEYS: player index set. ARGV: key prefix.
var cleanupOrphansScript = redis.NewScript(`
local removed = 0
for _, conn in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local pkey = ARGV[1] .. 'player:' .. conn
  local room = redis.call('HGET', pkey, 'room_id')
  if (not room) or redis.call('EXISTS', ARGV[1] .. 'room:' .. room) == 0 then
    redis.call('DEL', pkey)
    redis.call('SREM', KEYS[1], conn)
    if room then
      redis.call('SREM', ARGV[1] .. 'room:' .. room .. ':players', conn)
    end
    removed = removed + 1
  end
end
return removed
`)

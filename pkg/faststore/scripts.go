package faststore

import "github.com/redis/go-redis/v9"

// The lock key's value doubles as the holder_kind discriminant (invariant
// I1): "readers" means a shared readers record backed by the companion set
// key, any other value is the exclusive holder's agent_id. This keeps a
// single GET able to answer "is this key taken, and by what kind of
// holder" without a second round trip.

var requestReadLockScript = redis.NewScript(`
local kind = redis.call('GET', KEYS[1])
if kind == false then
	redis.call('SET', KEYS[1], 'readers', 'PX', ARGV[2])
	redis.call('SADD', KEYS[2], ARGV[1])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return 1
elseif kind == 'readers' then
	redis.call('SADD', KEYS[2], ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return 1
else
	return 0
end
`)

var requestWriteLockScript = redis.NewScript(`
local kind = redis.call('GET', KEYS[1])
if kind == false then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
else
	return 0
end
`)

var releaseReadLockScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[2], ARGV[1])
if tonumber(removed) == 1 then
	local remaining = redis.call('SCARD', KEYS[2])
	if remaining == 0 then
		redis.call('DEL', KEYS[1])
		redis.call('DEL', KEYS[2])
	end
	return 1
else
	return 0
end
`)

var releaseWriteLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
else
	return 0
end
`)

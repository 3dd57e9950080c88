package redis

const (
	// createUserScript inserts a user hash and claims its unique indexes in
	// one step. Returns the name of the conflicting field, or 'OK'.
	createUserScript = `
local user_key = KEYS[1]       -- labportal:user:{id}
local username_key = KEYS[2]   -- labportal:user:username:{username}
local email_key = KEYS[3]      -- labportal:user:email:{email}

if redis.call('EXISTS', username_key) == 1 then
  return 'username'
end
if redis.call('EXISTS', email_key) == 1 then
  return 'email'
end

redis.call('HSET', user_key,
  'id', ARGV[1],
  'username', ARGV[2],
  'email', ARGV[3],
  'email_visibility', ARGV[4],
  'password_hash', ARGV[5],
  'created', ARGV[6],
  'updated', ARGV[7]
)
redis.call('SET', username_key, ARGV[1])
redis.call('SET', email_key, ARGV[1])

return 'OK'
`
)

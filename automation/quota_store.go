package automation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// consumeScript increments KEYS[1] only while it is below ARGV[1]
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
	return {current, 0}
end
current = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {current, 1}
`)

// RedisQuotaStore keeps daily counters in Redis so a restart does not reset them
type RedisQuotaStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisQuotaStore(client *redis.Client) *RedisQuotaStore {
	return &RedisQuotaStore{
		client: client,
		prefix: "quota",
		ttl:    48 * time.Hour,
	}
}

func (s *RedisQuotaStore) key(sessionID, day string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, sessionID, day)
}

func (s *RedisQuotaStore) Consume(ctx context.Context, sessionID, day string, limit int) (int, bool, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.key(sessionID, day)}, limit, int(s.ttl.Seconds())).Result()
	if err != nil {
		return 0, false, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected quota script reply %v", res)
	}
	count, _ := values[0].(int64)
	allowed, _ := values[1].(int64)
	return int(count), allowed == 1, nil
}

// Count returns the actions recorded for a session on day
func (s *RedisQuotaStore) Count(ctx context.Context, sessionID, day string) (int, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID, day)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

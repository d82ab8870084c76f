package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Redis stores results under <prefix>:result:<fingerprint>
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis backed cache. A zero ttl keeps entries forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) key(fp domain.Fingerprint) string {
	return r.client.Key("result", string(fp))
}

func (r *Redis) Get(ctx context.Context, fp domain.Fingerprint) (json.RawMessage, bool, error) {
	value, err := r.client.GetClient().Get(ctx, r.key(fp)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, domain.NewInfrastructureError("cache get", err)
	}
	return json.RawMessage(value), true, nil
}

func (r *Redis) Set(ctx context.Context, fp domain.Fingerprint, value json.RawMessage) error {
	data, err := compact(value)
	if err != nil {
		return err
	}

	if err := r.client.GetClient().Set(ctx, r.key(fp), data, r.ttl).Err(); err != nil {
		return domain.NewInfrastructureError("cache set", err)
	}
	return nil
}

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisInflight keeps claims under <prefix>:inflight:<fingerprint>
type RedisInflight struct {
	client *redis.Client
}

// NewRedisInflight creates a Redis backed in-flight registry
func NewRedisInflight(client *redis.Client) *RedisInflight {
	return &RedisInflight{client: client}
}

func (r *RedisInflight) key(fp domain.Fingerprint) string {
	return r.client.Key("inflight", string(fp))
}

func (r *RedisInflight) Claim(ctx context.Context, fp domain.Fingerprint, jobID string, ttl time.Duration) (string, bool, error) {
	rdb := r.client.GetClient()
	key := r.key(fp)

	ok, err := rdb.SetNX(ctx, key, jobID, ttl).Result()
	if err != nil {
		return "", false, domain.NewInfrastructureError("inflight claim", err)
	}
	if ok {
		return jobID, true, nil
	}

	owner, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Expired between SETNX and GET; try once more.
			ok, err = rdb.SetNX(ctx, key, jobID, ttl).Result()
			if err != nil {
				return "", false, domain.NewInfrastructureError("inflight claim", err)
			}
			if ok {
				return jobID, true, nil
			}
			owner, err = rdb.Get(ctx, key).Result()
		}
		if err != nil {
			return "", false, domain.NewInfrastructureError("inflight claim", err)
		}
	}
	return owner, owner == jobID, nil
}

func (r *RedisInflight) Release(ctx context.Context, fp domain.Fingerprint, jobID string) error {
	if err := releaseScript.Run(ctx, r.client.GetClient(), []string{r.key(fp)}, jobID).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return domain.NewInfrastructureError("inflight release", err)
	}
	return nil
}

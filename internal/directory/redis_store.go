package directory

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const citiesKey = "biker:cities"

// RedisStore keeps the registry in a Redis hash so multiple broker
// instances can share it.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (s *RedisStore) Get(ctx context.Context, bikerID int64) (string, bool, error) {
	city, err := s.client.HGet(ctx, citiesKey, strconv.FormatInt(bikerID, 10)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return city, true, nil
}

func (s *RedisStore) Set(ctx context.Context, bikerID int64, city string) error {
	return s.client.HSet(ctx, citiesKey, strconv.FormatInt(bikerID, 10), city).Err()
}

func (s *RedisStore) All(ctx context.Context) (map[int64]string, error) {
	raw, err := s.client.HGetAll(ctx, citiesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

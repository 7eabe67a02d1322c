package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-broker/internal/models"
)

// RedisPositions keeps the last known position of every biker in Redis:
// a GEO set for the coordinates and a small hash per biker for metadata.
// The position consumer writes it; the ops API reads it for support
// tooling. It is deliberately not used for matching.
type RedisPositions struct {
	client *redis.Client
	key    string
}

func NewRedisPositions(addr, password, key string) *RedisPositions {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPositions{client: c, key: key}
}

func (r *RedisPositions) Upsert(ctx context.Context, p models.BikerPosition) error {
	name := strconv.FormatInt(p.BikerID, 10)
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: name}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.BikerID), map[string]interface{}{
		"updated": p.Updated.Format(time.RFC3339),
	}).Err()
}

// LastKnown returns the most recent recorded position for a biker, or
// ok=false when none was ever recorded.
func (r *RedisPositions) LastKnown(ctx context.Context, bikerID int64) (models.BikerPosition, bool, error) {
	name := strconv.FormatInt(bikerID, 10)
	pos, err := r.client.GeoPos(ctx, r.key, name).Result()
	if err != nil {
		return models.BikerPosition{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.BikerPosition{}, false, nil
	}
	p := models.BikerPosition{BikerID: bikerID, Loc: models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}}
	if m, err := r.client.HGetAll(ctx, metaKey(bikerID)).Result(); err == nil {
		if v, ok := m["updated"]; ok {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				p.Updated = ts
			}
		}
	}
	return p, true, nil
}

// Ping reports Redis connectivity for readiness probes.
func (r *RedisPositions) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPositions) Close() error { return r.client.Close() }

func metaKey(id int64) string { return "biker:meta:" + strconv.FormatInt(id, 10) }

package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/haul-dispatch/internal/models"
)

// RedisGeo implements Tracker using Redis GEO commands plus a metadata hash per driver.
type RedisGeo struct {
	client  *redis.Client
	key     string
	radiusM float64
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key, radiusM: DefaultRadiusM}
}

func (r *RedisGeo) Upsert(ctx context.Context, p models.Position) error {
	updated := p.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Longitude, Latitude: p.Loc.Latitude, Name: p.DriverID})
		pipe.HSet(ctx, metaKey(p.DriverID), map[string]interface{}{
			"booking_id": p.BookingID,
			"status":     string(p.Status),
			"updated":    updated.UTC().Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis geo upsert %s: %w", p.DriverID, err)
	}
	return nil
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.key, driverID)
		pipe.Del(ctx, metaKey(driverID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis geo remove %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lon float64, limit int) ([]models.Position, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     r.radiusM,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geo search: %w", err)
	}

	metas := make([]*redis.MapStringStringCmd, len(res))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, g := range res {
			metas[i] = pipe.HGetAll(ctx, metaKey(g.Name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis geo meta: %w", err)
	}

	out := make([]models.Position, 0, len(res))
	for i, g := range res {
		p := models.Position{
			DriverID: g.Name,
			Loc:      models.Location{Latitude: g.Latitude, Longitude: g.Longitude},
			Distance: g.Dist,
		}
		m := metas[i].Val()
		p.BookingID = m["booking_id"]
		p.Status = models.TripStatus(m["status"])
		if ts, err := time.Parse(time.RFC3339Nano, m["updated"]); err == nil {
			p.Updated = ts
		}
		out = append(out, p)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }

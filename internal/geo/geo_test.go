package geo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/haul-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is roughly 111.2 km
	d := Haversine(32.0, 76.0, 33.0, 76.0)
	assert.InDelta(t, 111_195, d, 100)
}

func pos(driver, booking string, lat, lon float64) models.Position {
	return models.Position{DriverID: driver, BookingID: booking, Loc: models.Location{Latitude: lat, Longitude: lon}, Status: models.TripInTransit}
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	require.NoError(t, g.Upsert(ctx, pos("far", "B1", 32.30, 76.30)))
	require.NoError(t, g.Upsert(ctx, pos("near", "B2", 32.10, 76.30)))
	require.NoError(t, g.Upsert(ctx, pos("outside", "B3", 40.0, 80.0)))

	got, err := g.Nearby(ctx, 32.10, 76.30, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].DriverID)
	assert.Equal(t, "far", got[1].DriverID)
	assert.Greater(t, got[1].Distance, got[0].Distance)
	assert.False(t, got[0].Updated.IsZero())

	limited, err := g.Nearby(ctx, 32.10, 76.30, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestIndexUpsertReplacesAndRemoveForgets(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	require.NoError(t, g.Upsert(ctx, pos("D1", "B1", 32.0, 76.0)))
	require.NoError(t, g.Upsert(ctx, pos("D1", "B1", 32.1, 76.1)))

	got, err := g.Nearby(ctx, 32.1, 76.1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 32.1, got[0].Loc.Latitude)

	require.NoError(t, g.Remove(ctx, "D1"))
	require.NoError(t, g.Remove(ctx, "D1"))
	got, err = g.Nearby(ctx, 32.1, 76.1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexKeepsReportedTime(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	reported := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	p := pos("D1", "B1", 32.0, 76.0)
	p.Updated = reported
	require.NoError(t, g.Upsert(ctx, p))
	require.NoError(t, g.Upsert(ctx, pos("D2", "B2", 32.0, 76.0)))

	got, err := g.Nearby(ctx, 32.0, 76.0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, q := range got {
		if q.DriverID == "D1" {
			assert.True(t, reported.Equal(q.Updated))
		} else {
			assert.False(t, q.Updated.IsZero())
		}
	}
}

func TestRedisGeoRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	key := "test_drivers_live"
	t.Cleanup(func() { client.Del(ctx, key, metaKey("D1")) })
	r := NewRedisGeo(client, key)

	reported := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	p := pos("D1", "B1", 32.1, 76.3)
	p.Updated = reported
	require.NoError(t, r.Upsert(ctx, p))
	got, err := r.Nearby(ctx, 32.1, 76.3, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, reported.Equal(got[0].Updated))
	assert.Equal(t, "B1", got[0].BookingID)
	assert.Equal(t, models.TripInTransit, got[0].Status)

	require.NoError(t, r.Remove(ctx, "D1"))
	got, err = r.Nearby(ctx, 32.1, 76.3, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/haul-dispatch/internal/models"
)

// DefaultRadiusM bounds Nearby lookups.
const DefaultRadiusM = 50_000.0

// Tracker keeps the last known position of drivers on active trips.
type Tracker interface {
	Upsert(ctx context.Context, p models.Position) error
	Remove(ctx context.Context, driverID string) error
	Nearby(ctx context.Context, lat, lon float64, limit int) ([]models.Position, error)
}

type Index struct {
	mu        sync.RWMutex
	positions map[string]models.Position
	radiusM   float64
	now       func() time.Time
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]models.Position), radiusM: DefaultRadiusM, now: time.Now}
}

func (g *Index) Upsert(_ context.Context, p models.Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = g.now()
	}
	p.Distance = 0
	g.positions[p.DriverID] = p
	return nil
}

func (g *Index) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	delete(g.positions, driverID)
	g.mu.Unlock()
	return nil
}

// naive scan; fine for a single region's active trips
func (g *Index) Nearby(_ context.Context, lat, lon float64, limit int) ([]models.Position, error) {
	g.mu.RLock()
	out := make([]models.Position, 0, len(g.positions))
	for _, p := range g.positions {
		dist := Haversine(lat, lon, p.Loc.Latitude, p.Loc.Longitude)
		if dist > g.radiusM {
			continue
		}
		p.Distance = dist
		out = append(out, p)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

package dispatch

import (
	"fmt"

	"github.com/example/haul-dispatch/internal/models"
)

// Trips holds claimed bookings until delivery.
// It is not safe for concurrent use; the Coordinator serializes access.
type Trips struct {
	active map[string]*models.Trip
}

func NewTrips() *Trips {
	return &Trips{active: make(map[string]*models.Trip)}
}

func (t *Trips) Start(trip *models.Trip) { t.active[trip.BookingID] = trip }

func (t *Trips) Get(id string) (*models.Trip, bool) {
	trip, ok := t.active[id]
	return trip, ok
}

func (t *Trips) Has(id string) bool {
	_, ok := t.active[id]
	return ok
}

// ForDriver returns the active trips assigned to driverID.
func (t *Trips) ForDriver(driverID string) []*models.Trip {
	var out []*models.Trip
	for _, trip := range t.active {
		if trip.DriverID == driverID {
			out = append(out, trip)
		}
	}
	return out
}

func (t *Trips) Evict(id string) { delete(t.active, id) }

func (t *Trips) Len() int { return len(t.active) }

// CanAdvance reports whether a trip in status from may move to status to.
// Forward moves may skip states; staying put is not an advance.
func CanAdvance(from, to models.TripStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if to.Rank() < from.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, from, to)
	}
	return nil
}

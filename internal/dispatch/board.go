package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/haul-dispatch/internal/models"
)

// Board holds bookings that are open for drivers to accept.
// It is not safe for concurrent use; the Coordinator serializes access.
type Board struct {
	open map[string]*models.Booking
}

func NewBoard() *Board {
	return &Board{open: make(map[string]*models.Booking)}
}

// validateBooking checks the fields a driver needs to decide on a booking.
func validateBooking(b models.Booking) error {
	var missing []string
	if b.ID == "" {
		missing = append(missing, "id")
	}
	if b.PickupLocation == "" {
		missing = append(missing, "pickup_location")
	}
	if b.DropLocation == "" {
		missing = append(missing, "drop_location")
	}
	if b.LoadType == "" {
		missing = append(missing, "load_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if b.Fare < 0 {
		return fmt.Errorf("%w: fare must not be negative", ErrValidation)
	}
	return nil
}

// Add puts b on the board. It fails if the identifier is already open.
func (bd *Board) Add(b models.Booking) error {
	if err := validateBooking(b); err != nil {
		return err
	}
	if _, ok := bd.open[b.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBooking, b.ID)
	}
	bd.open[b.ID] = &b
	return nil
}

// Take removes an open booking and hands it to the caller. Exactly one caller
// can take a given booking.
func (bd *Board) Take(id string) (models.Booking, bool) {
	b, ok := bd.open[id]
	if !ok {
		return models.Booking{}, false
	}
	delete(bd.open, id)
	return *b, true
}

// Get returns a copy of an open booking without removing it.
func (bd *Board) Get(id string) (models.Booking, bool) {
	b, ok := bd.open[id]
	if !ok {
		return models.Booking{}, false
	}
	return *b, true
}

func (bd *Board) Has(id string) bool {
	_, ok := bd.open[id]
	return ok
}

func (bd *Board) Len() int { return len(bd.open) }

// Snapshot lists open bookings oldest first.
func (bd *Board) Snapshot() []models.Booking {
	out := make([]models.Booking, 0, len(bd.open))
	for _, b := range bd.open {
		out = append(out, *b)
	}
	sortBookings(out)
	return out
}

// Expire removes and returns bookings created before cutoff.
func (bd *Board) Expire(cutoff time.Time) []models.Booking {
	var out []models.Booking
	for id, b := range bd.open {
		if b.CreatedAt.Before(cutoff) {
			out = append(out, *b)
			delete(bd.open, id)
		}
	}
	sortBookings(out)
	return out
}

func sortBookings(bs []models.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].CreatedAt.Before(bs[j].CreatedAt)
	})
}

package events

import (
	"encoding/json"
	"fmt"

	"github.com/example/haul-dispatch/internal/models"
)

type BookingRef struct {
	BookingID string `json:"bookingId"`
}

type Confirmed struct {
	BookingID       string `json:"bookingId"`
	DriversNotified int    `json:"driversNotified"`
}

type Accepted struct {
	BookingID string               `json:"bookingId"`
	Driver    models.DriverProfile `json:"driver"`
}

type LocationRelay struct {
	BookingID string            `json:"bookingId"`
	Location  models.Location   `json:"location"`
	Status    models.TripStatus `json:"status"`
}

type StatusRelay struct {
	BookingID string            `json:"bookingId"`
	Status    models.TripStatus `json:"status"`
}

type ErrorNotice struct {
	BookingID string `json:"bookingId,omitempty"`
	Error     string `json:"error"`
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode renders an outbound frame. Payloads are plain structs so encoding can
// only fail on programmer error; callers log and drop in that case.
func Encode(event string, data any) ([]byte, error) {
	b, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

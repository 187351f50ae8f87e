// Package events defines the frames exchanged with driver and customer clients
// over the real-time channel. Every frame is a JSON object of the form
// {"event": "<name>", "data": <payload>}.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/haul-dispatch/internal/models"
)

// Inbound event names.
const (
	DriverOnline    = "driver:online"
	DriverOffline   = "driver:offline"
	CustomerJoin    = "customer:join"
	BookingNew      = "booking:new"
	BookingAccept   = "booking:accept"
	BookingReject   = "booking:reject"
	BookingCancel   = "booking:cancel"
	DriverLocation  = "driver:location"
	TripStatusEvent = "trip:status"
)

// Outbound-only event names.
const (
	BookingTaken     = "booking:taken"
	BookingCancelled = "booking:cancelled"
	BookingExpired   = "booking:expired"
	BookingConfirmed = "booking:confirmed"
	BookingAccepted  = "booking:accepted"
	BookingError     = "booking:error"
	BookingsList     = "bookings:list"
	TripError        = "trip:error"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed payload")
)

// Envelope is the raw frame as read off the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is any decoded inbound event. The set of implementations is closed.
type Message interface {
	EventName() string
}

type Online struct{ DriverID string }

type Offline struct{ DriverID string }

type Join struct{ CustomerID string }

type NewBooking struct{ Booking models.Booking }

// bookingPayload is what customers send; created_at is assigned server side.
type bookingPayload struct {
	ID             string  `json:"id"`
	PickupLocation string  `json:"pickup_location"`
	DropLocation   string  `json:"drop_location"`
	LoadType       string  `json:"load_type"`
	Fare           float64 `json:"fare"`
	CustomerName   string  `json:"customer_name"`
	CustomerPhone  string  `json:"customer_phone"`
	VehicleType    string  `json:"vehicle_type"`
}

type Accept struct {
	BookingID string               `json:"bookingId"`
	DriverID  string               `json:"driverId"`
	Driver    models.DriverProfile `json:"driverInfo"`
}

type Reject struct {
	BookingID string `json:"bookingId"`
	DriverID  string `json:"driverId"`
}

type Cancel struct{ BookingID string }

type LocationReport struct {
	BookingID string          `json:"bookingId"`
	Location  models.Location `json:"location"`
}

type StatusUpdate struct {
	BookingID string            `json:"bookingId"`
	Status    models.TripStatus `json:"status"`
}

func (Online) EventName() string         { return DriverOnline }
func (Offline) EventName() string        { return DriverOffline }
func (Join) EventName() string           { return CustomerJoin }
func (NewBooking) EventName() string     { return BookingNew }
func (Accept) EventName() string         { return BookingAccept }
func (Reject) EventName() string         { return BookingReject }
func (Cancel) EventName() string         { return BookingCancel }
func (LocationReport) EventName() string { return DriverLocation }
func (StatusUpdate) EventName() string   { return TripStatusEvent }

// Parse splits a raw frame into its envelope.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

// Decode turns an envelope into its typed message.
func Decode(env Envelope) (Message, error) {
	switch env.Event {
	case DriverOnline, DriverOffline, CustomerJoin, BookingCancel:
		id, err := decodeID(env)
		if err != nil {
			return nil, err
		}
		switch env.Event {
		case DriverOnline:
			return Online{DriverID: id}, nil
		case DriverOffline:
			return Offline{DriverID: id}, nil
		case CustomerJoin:
			return Join{CustomerID: id}, nil
		}
		return Cancel{BookingID: id}, nil
	case BookingNew:
		var p bookingPayload
		if err := decodeObject(env, &p); err != nil {
			return nil, err
		}
		return NewBooking{Booking: models.Booking{
			ID:             strings.TrimSpace(p.ID),
			PickupLocation: strings.TrimSpace(p.PickupLocation),
			DropLocation:   strings.TrimSpace(p.DropLocation),
			LoadType:       strings.TrimSpace(p.LoadType),
			Fare:           p.Fare,
			CustomerName:   p.CustomerName,
			CustomerPhone:  p.CustomerPhone,
			VehicleType:    p.VehicleType,
		}}, nil
	case BookingAccept:
		var m Accept
		if err := decodeObject(env, &m); err != nil {
			return nil, err
		}
		if m.BookingID == "" || m.DriverID == "" {
			return nil, fmt.Errorf("%w: %s requires bookingId and driverId", ErrMalformed, env.Event)
		}
		return m, nil
	case BookingReject:
		var m Reject
		if err := decodeObject(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case DriverLocation:
		var m LocationReport
		if err := decodeObject(env, &m); err != nil {
			return nil, err
		}
		if m.BookingID == "" {
			return nil, fmt.Errorf("%w: %s requires bookingId", ErrMalformed, env.Event)
		}
		return m, nil
	case TripStatusEvent:
		var m StatusUpdate
		if err := decodeObject(env, &m); err != nil {
			return nil, err
		}
		if m.BookingID == "" {
			return nil, fmt.Errorf("%w: %s requires bookingId", ErrMalformed, env.Event)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// decodeID reads payloads that are a bare identifier string.
func decodeID(env Envelope) (string, error) {
	var id string
	if err := json.Unmarshal(env.Data, &id); err != nil {
		return "", fmt.Errorf("%w: %s expects a string: %v", ErrMalformed, env.Event, err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s with empty identifier", ErrMalformed, env.Event)
	}
	return id, nil
}

func decodeObject(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return nil
}

package models

import "time"

// Location is a GPS fix reported by a driver's device.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DriverProfile is the snapshot a driver attaches to an accept so the customer
// knows who is coming.
type DriverProfile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicle_number"`
}

// Booking is an open, unassigned delivery request.
type Booking struct {
	ID             string    `json:"id"`
	PickupLocation string    `json:"pickup_location"`
	DropLocation   string    `json:"drop_location"`
	LoadType       string    `json:"load_type"`
	Fare           float64   `json:"fare"`
	CustomerName   string    `json:"customer_name"`
	CustomerPhone  string    `json:"customer_phone"`
	VehicleType    string    `json:"vehicle_type"`
	CreatedAt      time.Time `json:"created_at"`

	// requester bookkeeping, never sent to drivers
	CustomerConn string `json:"-"`
	CustomerID   string `json:"-"`
}

type TripStatus string

const (
	TripAccepted      TripStatus = "accepted"
	TripReachedPickup TripStatus = "reached_pickup"
	TripInTransit     TripStatus = "in_transit"
	TripDelivered     TripStatus = "delivered"
)

var tripOrder = map[TripStatus]int{
	TripAccepted:      0,
	TripReachedPickup: 1,
	TripInTransit:     2,
	TripDelivered:     3,
}

// Rank returns the position of s in the trip sequence, or -1 if s is not a
// known status.
func (s TripStatus) Rank() int {
	r, ok := tripOrder[s]
	if !ok {
		return -1
	}
	return r
}

func (s TripStatus) Valid() bool { return s.Rank() >= 0 }

func (s TripStatus) Terminal() bool { return s == TripDelivered }

// Trip is a booking after a driver has claimed it.
type Trip struct {
	BookingID      string
	DriverID       string
	Driver         DriverProfile
	DriverConn     string
	CustomerConn   string
	CustomerID     string
	PickupLocation string
	DropLocation   string
	LoadType       string
	Fare           float64
	Status         TripStatus
	DriverLocation *Location
	AcceptedAt     time.Time
	UpdatedAt      time.Time
}

// OrderStatus is the lifecycle value persisted in the durable order store.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAccepted  OrderStatus = "accepted"
	OrderInTransit OrderStatus = "in_transit"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderAccepted, OrderInTransit, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// OrderStatusFor maps a trip status onto the coarser persisted order status.
func OrderStatusFor(s TripStatus) OrderStatus {
	switch s {
	case TripInTransit:
		return OrderInTransit
	case TripDelivered:
		return OrderDelivered
	default:
		return OrderAccepted
	}
}

// Order is a persisted delivery record.
type Order struct {
	ID             string      `json:"id"`
	VendorID       string      `json:"vendor_id"`
	DriverID       string      `json:"driver_id,omitempty"`
	PickupLocation string      `json:"pickup_location"`
	DropLocation   string      `json:"drop_location"`
	LoadType       string      `json:"load_type"`
	LoadWeightKg   *float64    `json:"load_weight_kg,omitempty"`
	FareAmount     *float64    `json:"fare_amount,omitempty"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Position is the last known fix of a driver on an active trip.
type Position struct {
	DriverID  string     `json:"driver_id"`
	BookingID string     `json:"booking_id"`
	Loc       Location   `json:"location"`
	Status    TripStatus `json:"status"`
	Updated   time.Time  `json:"updated"`
	Distance  float64    `json:"distance_m,omitempty"`
}

// TripEventType names entries on the trip event stream.
type TripEventType string

const (
	TripEventAccepted  TripEventType = "trip.accepted"
	TripEventLocation  TripEventType = "trip.location"
	TripEventStatus    TripEventType = "trip.status"
	TripEventDelivered TripEventType = "trip.delivered"
)

// TripEvent is published to the broker for downstream projections.
type TripEvent struct {
	Type      TripEventType `json:"type"`
	BookingID string        `json:"booking_id"`
	DriverID  string        `json:"driver_id"`
	Status    TripStatus    `json:"status"`
	Location  *Location     `json:"location,omitempty"`
	At        time.Time     `json:"at"`
}

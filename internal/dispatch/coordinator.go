// Package dispatch coordinates online drivers, open bookings and active trips.
//
// All state lives in a single Coordinator and every inbound event runs to
// completion under its lock, so two accepts for the same booking can never both
// observe it as open. Outbound frames are queued on the transport without
// blocking; durable writes, broker publishes and location index updates are
// handed to a background runner and never roll back in-memory transitions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/haul-dispatch/internal/events"
	"github.com/example/haul-dispatch/internal/models"
	"github.com/example/haul-dispatch/internal/observability"
)

var (
	ErrValidation         = errors.New("invalid booking")
	ErrDuplicateBooking   = errors.New("booking id already in use")
	ErrUnknownStatus      = errors.New("unknown trip status")
	ErrBackwardTransition = errors.New("trip status cannot move backward")
)

const (
	RoleDriver   = "driver"
	RoleCustomer = "customer"
)

// Transport is the slice of the connection registry the coordinator needs.
type Transport interface {
	Bind(connID, role, entityID string) (string, bool)
	Identity(connID string) (role, entityID string, ok bool)
	Subscribe(connID, channel string) bool
	Unsubscribe(connID, channel string)
	Publish(channel string, frame []byte) int
	PublishExcept(channel, exceptID string, frame []byte) int
	SendTo(connID string, frame []byte) bool
}

// OrderWriter persists trip records.
type OrderWriter interface {
	SaveTrip(ctx context.Context, o models.Order) error
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error
}

// LocationTracker keeps the last known position of drivers on trips.
type LocationTracker interface {
	Upsert(ctx context.Context, p models.Position) error
	Remove(ctx context.Context, driverID string) error
}

// EventPublisher ships trip events to the broker.
type EventPublisher interface {
	PublishTripEvent(ctx context.Context, ev models.TripEvent) error
}

type Options struct {
	Orders    OrderWriter
	Locations LocationTracker
	Events    EventPublisher

	// BookingTTL expires open bookings older than this; zero keeps them
	// until claimed or cancelled.
	BookingTTL    time.Duration
	SweepInterval time.Duration

	PersistTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Stats is a point-in-time view of the coordinator's maps.
type Stats struct {
	OnlineDrivers  int `json:"onlineDrivers"`
	ActiveBookings int `json:"activeBookings"`
	ActiveTrips    int `json:"activeTrips"`
}

type Coordinator struct {
	mu       sync.Mutex
	tr       Transport
	presence *Presence
	board    *Board
	trips    *Trips
	closed   bool

	orders    OrderWriter
	locations LocationTracker
	publisher EventPublisher
	runner    *runner

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

func New(tr Transport, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	logger := opts.Logger.With("component", "dispatch")
	return &Coordinator{
		tr:            tr,
		presence:      NewPresence(tr),
		board:         NewBoard(),
		trips:         NewTrips(),
		orders:        opts.Orders,
		locations:     opts.Locations,
		publisher:     opts.Events,
		runner:        newRunner(opts.PersistTimeout, logger),
		ttl:           opts.BookingTTL,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		logger:        logger,
	}
}

// HandleFrame decodes a raw client frame and applies it. Frames that cannot be
// decoded are logged and dropped; the connection stays open.
func (c *Coordinator) HandleFrame(connID string, frame []byte) {
	env, err := events.Parse(frame)
	if err != nil {
		observability.EventsTotal.WithLabelValues("invalid").Inc()
		c.logger.Info("dropping unreadable frame", "conn_id", connID, "error", err)
		return
	}
	msg, err := events.Decode(env)
	if err != nil {
		label := env.Event
		if errors.Is(err, events.ErrUnknownEvent) {
			label = "unknown"
		}
		observability.EventsTotal.WithLabelValues(label).Inc()
		c.logger.Info("dropping frame", "conn_id", connID, "event", env.Event, "error", err)
		return
	}
	observability.EventsTotal.WithLabelValues(env.Event).Inc()
	c.Dispatch(connID, msg)
}

// Dispatch routes a decoded message to its operation after checking that the
// connection's role allows it.
func (c *Coordinator) Dispatch(connID string, msg events.Message) {
	role, entity := roleOf(msg)
	if bound, ok := c.tr.Bind(connID, role, entity); !ok {
		c.logger.Info("event not allowed for connection role",
			"conn_id", connID, "event", msg.EventName(), "role", bound)
		return
	}

	switch m := msg.(type) {
	case events.Online:
		c.GoOnline(connID, m.DriverID)
	case events.Offline:
		c.GoOffline(connID, m.DriverID)
	case events.Join:
		c.JoinCustomer(connID, m.CustomerID)
	case events.NewBooking:
		_ = c.CreateBooking(connID, m.Booking)
	case events.Accept:
		c.Claim(connID, m.BookingID, m.DriverID, m.Driver)
	case events.Reject:
		c.Reject(m.BookingID, m.DriverID)
	case events.Cancel:
		c.Cancel(connID, m.BookingID)
	case events.LocationReport:
		c.ReportLocation(connID, m.BookingID, m.Location)
	case events.StatusUpdate:
		_ = c.UpdateStatus(connID, m.BookingID, m.Status)
	default:
		c.logger.Warn("unhandled message type", "event", msg.EventName())
	}
}

func roleOf(msg events.Message) (role, entity string) {
	switch m := msg.(type) {
	case events.Online:
		return RoleDriver, m.DriverID
	case events.Join:
		return RoleCustomer, m.CustomerID
	case events.NewBooking, events.Cancel:
		return RoleCustomer, ""
	default:
		return RoleDriver, ""
	}
}

// ConnectionClosed removes presence entries bound to a dropped connection.
func (c *Coordinator) ConnectionClosed(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, driverID := range c.presence.ConnectionClosed(connID) {
		c.logger.Info("driver disconnected", "driver_id", driverID, "conn_id", connID)
	}
	c.syncGauges()
}

// GoOnline marks a driver online, replies with the open bookings and returns
// the online driver count. Trips the driver already holds follow it to connID.
func (c *Coordinator) GoOnline(connID, driverID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.presence.MarkOnline(driverID, connID)
	for _, trip := range c.trips.ForDriver(driverID) {
		trip.DriverConn = connID
	}
	c.send(connID, events.BookingsList, c.board.Snapshot())
	c.syncGauges()
	c.logger.Info("driver online", "driver_id", driverID, "conn_id", connID, "drivers_online", n)
	return n
}

// GoOffline removes a driver from presence. Only the connection the driver
// announced itself on may do so; anything else is a no-op.
func (c *Coordinator) GoOffline(connID, driverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.presence.ConnOf(driverID)
	if !ok {
		c.logger.Debug("offline for unknown driver", "driver_id", driverID)
		return
	}
	if owner != connID {
		c.logger.Info("offline from foreign connection", "driver_id", driverID, "conn_id", connID)
		return
	}
	c.presence.MarkOffline(driverID)
	c.syncGauges()
	c.logger.Info("driver offline", "driver_id", driverID, "drivers_online", c.presence.Count())
}

// JoinCustomer subscribes a customer connection to its private channel so
// relays survive a reconnect.
func (c *Coordinator) JoinCustomer(connID, customerID string) {
	c.tr.Subscribe(connID, customerChannel(customerID))
	c.logger.Info("customer joined", "customer_id", customerID, "conn_id", connID)
}

// OnlineCount returns the number of online drivers.
func (c *Coordinator) OnlineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.Count()
}

// CreateBooking opens a booking, broadcasts it to online drivers and confirms
// to the requester how many drivers were notified. Rejections are reported
// to the requester with booking:error.
func (c *Coordinator) CreateBooking(connID string, b models.Booking) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.ID != "" && c.trips.Has(b.ID) {
		err := fmt.Errorf("%w: %s", ErrDuplicateBooking, b.ID)
		c.rejectBooking(connID, b.ID, err)
		return err
	}
	b.CreatedAt = c.now()
	b.CustomerConn = connID
	if _, customerID, ok := c.tr.Identity(connID); ok {
		b.CustomerID = customerID
	}
	if err := c.board.Add(b); err != nil {
		c.rejectBooking(connID, b.ID, err)
		return err
	}

	c.broadcast(events.BookingNew, b)
	notified := c.presence.Count()
	c.send(connID, events.BookingConfirmed, events.Confirmed{BookingID: b.ID, DriversNotified: notified})

	observability.BookingsCreated.Inc()
	c.syncGauges()
	c.logger.Info("booking created", "booking_id", b.ID, "conn_id", connID, "drivers_notified", notified)
	return nil
}

func (c *Coordinator) rejectBooking(connID, bookingID string, err error) {
	c.send(connID, events.BookingError, events.ErrorNotice{BookingID: bookingID, Error: err.Error()})
	c.logger.Info("booking rejected", "booking_id", bookingID, "conn_id", connID, "error", err)
}

// Claim converts an open booking into a trip for driverID. Only the first
// claim for a booking succeeds; later ones are answered with booking:taken
// sent to the late driver alone.
func (c *Coordinator) Claim(connID, bookingID, driverID string, profile models.DriverProfile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.board.Take(bookingID)
	if !ok {
		observability.ClaimsTotal.WithLabelValues("lost").Inc()
		if connID != "" {
			c.send(connID, events.BookingTaken, events.BookingRef{BookingID: bookingID})
		}
		c.logger.Info("claim on unavailable booking", "booking_id", bookingID, "driver_id", driverID)
		return false
	}

	now := c.now()
	if profile.ID == "" {
		profile.ID = driverID
	}
	trip := &models.Trip{
		BookingID:      b.ID,
		DriverID:       driverID,
		Driver:         profile,
		DriverConn:     connID,
		CustomerConn:   b.CustomerConn,
		CustomerID:     b.CustomerID,
		PickupLocation: b.PickupLocation,
		DropLocation:   b.DropLocation,
		LoadType:       b.LoadType,
		Fare:           b.Fare,
		Status:         models.TripAccepted,
		AcceptedAt:     now,
		UpdatedAt:      now,
	}
	c.trips.Start(trip)

	c.toCustomer(trip, events.BookingAccepted, events.Accepted{BookingID: b.ID, Driver: profile})
	frame, err := events.Encode(events.BookingTaken, events.BookingRef{BookingID: b.ID})
	if err == nil {
		c.presence.BroadcastExcept(connID, frame)
	}

	observability.ClaimsTotal.WithLabelValues("won").Inc()
	c.syncGauges()
	c.logger.Info("booking claimed", "booking_id", b.ID, "driver_id", driverID)

	fare := b.Fare
	order := models.Order{
		ID:             b.ID,
		VendorID:       b.CustomerID,
		DriverID:       driverID,
		PickupLocation: b.PickupLocation,
		DropLocation:   b.DropLocation,
		LoadType:       b.LoadType,
		FareAmount:     &fare,
		Status:         models.OrderAccepted,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      now,
	}
	if c.orders != nil {
		c.persist("orders", b.ID, func(ctx context.Context) error {
			return c.orders.SaveTrip(ctx, order)
		})
	}
	c.publish(models.TripEvent{Type: models.TripEventAccepted, BookingID: b.ID, DriverID: driverID, Status: models.TripAccepted, At: now})
	return true
}

// Reject records that a driver passed on a booking. The booking stays open.
func (c *Coordinator) Reject(bookingID, driverID string) {
	c.logger.Info("booking rejected by driver", "booking_id", bookingID, "driver_id", driverID)
}

// Cancel withdraws an open booking on behalf of its requester, matched by
// connection or by joined customer id. Claimed, unknown or foreign bookings
// are left alone.
func (c *Coordinator) Cancel(connID, bookingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.board.Get(bookingID)
	if !ok {
		c.logger.Debug("cancel for booking that is not open", "booking_id", bookingID)
		return false
	}
	if !c.isRequester(connID, b) {
		c.logger.Info("cancel from foreign connection", "booking_id", bookingID, "conn_id", connID)
		return false
	}
	c.board.Take(bookingID)
	c.broadcast(events.BookingCancelled, events.BookingRef{BookingID: bookingID})
	c.syncGauges()
	c.logger.Info("booking cancelled", "booking_id", bookingID)
	return true
}

// ReportLocation stores the driver's position and relays it to the customer.
// Unknown or finished trips, and reports from any connection other than the
// assigned driver's, are ignored.
func (c *Coordinator) ReportLocation(connID, bookingID string, loc models.Location) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	trip, ok := c.trips.Get(bookingID)
	if !ok {
		c.logger.Debug("location for unknown trip", "booking_id", bookingID)
		return false
	}
	if trip.DriverConn != connID {
		c.logger.Debug("location from connection not driving the trip", "booking_id", bookingID, "conn_id", connID)
		return false
	}
	now := c.now()
	l := loc
	trip.DriverLocation = &l
	trip.UpdatedAt = now

	c.toCustomer(trip, events.DriverLocation, events.LocationRelay{BookingID: bookingID, Location: loc, Status: trip.Status})
	c.logger.Debug("driver location", "booking_id", bookingID, "driver_id", trip.DriverID,
		"lat", loc.Latitude, "lon", loc.Longitude)

	pos := models.Position{DriverID: trip.DriverID, BookingID: bookingID, Loc: loc, Status: trip.Status, Updated: now}
	if c.locations != nil {
		c.persist("locations", bookingID, func(ctx context.Context) error {
			return c.locations.Upsert(ctx, pos)
		})
	}
	c.publish(models.TripEvent{Type: models.TripEventLocation, BookingID: bookingID, DriverID: trip.DriverID, Status: trip.Status, Location: &l, At: now})
	return true
}

// UpdateStatus moves a trip forward and relays the new status to the
// customer. Delivered trips are evicted after the relay. Repeating the current
// status is a no-op; unknown or backward statuses are refused with trip:error
// to the sender. Unknown trips and updates from any connection other than the
// assigned driver's are ignored.
func (c *Coordinator) UpdateStatus(connID, bookingID string, status models.TripStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	trip, ok := c.trips.Get(bookingID)
	if !ok {
		c.logger.Debug("status for unknown trip", "booking_id", bookingID, "status", status)
		return nil
	}
	if trip.DriverConn != connID {
		c.logger.Debug("status from connection not driving the trip", "booking_id", bookingID, "conn_id", connID, "status", status)
		return nil
	}
	if err := CanAdvance(trip.Status, status); err != nil {
		c.send(connID, events.TripError, events.ErrorNotice{BookingID: bookingID, Error: err.Error()})
		c.logger.Info("trip status refused", "booking_id", bookingID, "from", trip.Status, "to", status, "error", err)
		return err
	}
	if status == trip.Status {
		c.logger.Debug("repeated trip status", "booking_id", bookingID, "status", status)
		return nil
	}

	now := c.now()
	trip.Status = status
	trip.UpdatedAt = now
	c.toCustomer(trip, events.TripStatusEvent, events.StatusRelay{BookingID: bookingID, Status: status})
	observability.TripStatusTotal.WithLabelValues(string(status)).Inc()
	c.logger.Info("trip status", "booking_id", bookingID, "driver_id", trip.DriverID, "status", status)

	orderStatus := models.OrderStatusFor(status)
	if c.orders != nil {
		c.persist("orders", bookingID, func(ctx context.Context) error {
			return c.orders.UpdateStatus(ctx, bookingID, orderStatus)
		})
	}

	evType := models.TripEventStatus
	if status.Terminal() {
		evType = models.TripEventDelivered
		c.trips.Evict(bookingID)
		driverID := trip.DriverID
		if c.locations != nil {
			c.persist("locations", bookingID, func(ctx context.Context) error {
				return c.locations.Remove(ctx, driverID)
			})
		}
		c.syncGauges()
		c.logger.Info("trip completed", "booking_id", bookingID, "driver_id", trip.DriverID)
	}
	c.publish(models.TripEvent{Type: evType, BookingID: bookingID, DriverID: trip.DriverID, Status: status, At: now})
	return nil
}

// OpenBookings returns the current board, oldest first.
func (c *Coordinator) OpenBookings() []models.Booking {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Snapshot()
}

// Trip returns a copy of an active trip.
func (c *Coordinator) Trip(bookingID string) (models.Trip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trips.Get(bookingID)
	if !ok {
		return models.Trip{}, false
	}
	cp := *t
	if t.DriverLocation != nil {
		l := *t.DriverLocation
		cp.DriverLocation = &l
	}
	return cp, true
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		OnlineDrivers:  c.presence.Count(),
		ActiveBookings: c.board.Len(),
		ActiveTrips:    c.trips.Len(),
	}
}

// Run sweeps expired bookings until ctx is done. It returns immediately when
// no booking TTL is configured.
func (c *Coordinator) Run(ctx context.Context) {
	if c.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepExpired()
		}
	}
}

// SweepExpired drops open bookings older than the TTL and tells drivers and
// the requesters. It returns the number of bookings removed.
func (c *Coordinator) SweepExpired() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	expired := c.board.Expire(c.now().Add(-c.ttl))
	for _, b := range expired {
		ref := events.BookingRef{BookingID: b.ID}
		c.broadcast(events.BookingExpired, ref)
		c.send(b.CustomerConn, events.BookingExpired, ref)
		observability.BookingsExpired.Inc()
		c.logger.Info("booking expired", "booking_id", b.ID, "age", c.now().Sub(b.CreatedAt).String())
	}
	if len(expired) > 0 {
		c.syncGauges()
	}
	return len(expired)
}

// Close stops accepting side effects and waits for queued ones to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.runner.close()
}

// isRequester reports whether connID placed b, directly or as the same joined customer.
func (c *Coordinator) isRequester(connID string, b models.Booking) bool {
	if b.CustomerConn == connID {
		return true
	}
	if b.CustomerID == "" {
		return false
	}
	role, customerID, ok := c.tr.Identity(connID)
	return ok && role == RoleCustomer && customerID == b.CustomerID
}

// send must be called with c.mu held.
func (c *Coordinator) send(connID, event string, data any) bool {
	frame, err := events.Encode(event, data)
	if err != nil {
		c.logger.Error("encode outbound frame", "event", event, "error", err)
		return false
	}
	return c.tr.SendTo(connID, frame)
}

// broadcast must be called with c.mu held.
func (c *Coordinator) broadcast(event string, data any) int {
	frame, err := events.Encode(event, data)
	if err != nil {
		c.logger.Error("encode outbound frame", "event", event, "error", err)
		return 0
	}
	return c.presence.BroadcastToAll(frame)
}

// toCustomer relays to the connection that created the booking, falling back
// to the customer's channel when that connection is gone.
func (c *Coordinator) toCustomer(trip *models.Trip, event string, data any) {
	frame, err := events.Encode(event, data)
	if err != nil {
		c.logger.Error("encode outbound frame", "event", event, "error", err)
		return
	}
	if c.tr.SendTo(trip.CustomerConn, frame) {
		return
	}
	if trip.CustomerID != "" && c.tr.Publish(customerChannel(trip.CustomerID), frame) > 0 {
		return
	}
	c.logger.Debug("customer unreachable", "booking_id", trip.BookingID, "event", event)
}

// persist must be called with c.mu held.
func (c *Coordinator) persist(sink, bookingID string, fn func(ctx context.Context) error) {
	if c.closed {
		return
	}
	c.runner.submit(job{sink: sink, bookingID: bookingID, fn: fn})
}

func (c *Coordinator) publish(ev models.TripEvent) {
	if c.publisher == nil {
		return
	}
	c.persist("events", ev.BookingID, func(ctx context.Context) error {
		return c.publisher.PublishTripEvent(ctx, ev)
	})
}

func (c *Coordinator) syncGauges() {
	observability.DriversOnline.Set(float64(c.presence.Count()))
	observability.BookingsOpen.Set(float64(c.board.Len()))
	observability.TripsActive.Set(float64(c.trips.Len()))
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/haul-dispatch/internal/dispatch"
	"github.com/example/haul-dispatch/internal/events"
	"github.com/example/haul-dispatch/internal/geo"
	"github.com/example/haul-dispatch/internal/hub"
	"github.com/example/haul-dispatch/internal/logging"
	"github.com/example/haul-dispatch/internal/models"
	"github.com/example/haul-dispatch/internal/storage"
)

type stack struct {
	srv    *httptest.Server
	orders *storage.MemoryStore
	index  *geo.Index
	coord  *dispatch.Coordinator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := logging.Discard()
	orders := storage.NewMemoryStore()
	index := geo.NewIndex()
	reg := hub.NewRegistry(32, log)
	coord := dispatch.New(reg, dispatch.Options{Orders: orders, Locations: index, Logger: log})
	s := NewServer(Deps{
		Stats:       coord,
		Orders:      orders,
		Locations:   index,
		WS:          hub.NewWSHandler(reg, coord, []string{"*"}, log),
		CORSOrigins: []string{"*"},
		Logger:      log,
	})
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		srv.Close()
		reg.CloseAll()
		coord.Close()
	})
	return &stack{srv: srv, orders: orders, index: index, coord: coord}
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestStatusAndHealth(t *testing.T) {
	st := newStack(t)

	res, err := http.Get(st.srv.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
	body := decodeBody(t, res)
	assert.Equal(t, "haul-dispatch", body["service"])
	assert.Equal(t, float64(0), body["onlineDrivers"])

	res, err = http.Get(st.srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(st.srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCreateOrderValidation(t *testing.T) {
	st := newStack(t)

	res, err := http.Post(st.srv.URL+"/api/orders", "application/json", strings.NewReader(`{"vendor_id":"V1","pickup_location":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "missing required fields: drop_location, load_type", body["error"])

	res, err = http.Post(st.srv.URL+"/api/orders", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestOrderCreateListGet(t *testing.T) {
	st := newStack(t)

	res, err := http.Post(st.srv.URL+"/api/orders", "application/json",
		strings.NewReader(`{"vendor_id":"V1","pickup_location":"Mandi","drop_location":"Kullu","load_type":"apples","load_weight_kg":120}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody(t, res)
	order := created["order"].(map[string]any)
	id := order["id"].(string)
	assert.Equal(t, "pending", order["status"])

	res, err = http.Get(st.srv.URL + "/api/orders")
	require.NoError(t, err)
	list := decodeBody(t, res)
	assert.Equal(t, float64(1), list["count"])

	res, err = http.Get(st.srv.URL + "/api/orders?status=delivered")
	require.NoError(t, err)
	assert.Equal(t, float64(0), decodeBody(t, res)["count"])

	res, err = http.Get(st.srv.URL + "/api/orders?status=lost")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(st.srv.URL + "/api/orders/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, id, decodeBody(t, res)["order"].(map[string]any)["id"])

	res, err = http.Get(st.srv.URL + "/api/orders/missing")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

type failingStore struct{ storage.OrderStore }

func (failingStore) ListByStatus(context.Context, models.OrderStatus) ([]models.Order, error) {
	return nil, errors.New("db down")
}

func TestListOrdersStoreFailure(t *testing.T) {
	s := NewServer(Deps{Orders: failingStore{storage.NewMemoryStore()}, Locations: geo.NewIndex(), Logger: logging.Discard()})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNearbyDrivers(t *testing.T) {
	st := newStack(t)
	require.NoError(t, st.index.Upsert(context.Background(), models.Position{
		DriverID: "D1", BookingID: "BK1", Loc: models.Location{Latitude: 31.70, Longitude: 76.93}, Status: models.TripInTransit,
	}))

	res, err := http.Get(st.srv.URL + "/api/drivers/nearby?lat=31.71&lon=76.93&limit=5")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, float64(1), body["count"])

	for _, q := range []string{"lat=x&lon=1", "lat=1", "lat=91&lon=0", "lat=1&lon=1&limit=-2"} {
		res, err := http.Get(st.srv.URL + "/api/drivers/nearby?" + q)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, q)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer(Deps{Orders: storage.NewMemoryStore(), Locations: geo.NewIndex(), CORSOrigins: []string{"https://app.example.com"}, Logger: logging.Discard()})
	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, st *stack) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(st.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) emit(event string, data any) {
	c.t.Helper()
	frame, err := events.Encode(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one named event arrives.
func (c *client) expect(event string) events.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(deadline))
		_, msg, err := c.ws.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", event)
		env, err := events.Parse(msg)
		require.NoError(c.t, err)
		if env.Event == event {
			return env
		}
	}
}

func TestWebsocketBookingToDelivery(t *testing.T) {
	st := newStack(t)

	driver := dial(t, st)
	driver.emit(events.DriverOnline, "D1")
	driver.expect(events.BookingsList)

	customer := dial(t, st)
	customer.emit(events.CustomerJoin, "C1")
	customer.emit(events.BookingNew, map[string]any{
		"id": "BK1", "pickup_location": "Mandi", "drop_location": "Kullu", "load_type": "sofa", "fare": 900,
	})
	var confirmed events.Confirmed
	require.NoError(t, json.Unmarshal(customer.expect(events.BookingConfirmed).Data, &confirmed))
	assert.Equal(t, 1, confirmed.DriversNotified)
	driver.expect(events.BookingNew)

	driver.emit(events.BookingAccept, map[string]any{
		"bookingId": "BK1", "driverId": "D1", "driverInfo": map[string]any{"name": "Ravi", "vehicle_number": "HP-33"},
	})
	var accepted events.Accepted
	require.NoError(t, json.Unmarshal(customer.expect(events.BookingAccepted).Data, &accepted))
	assert.Equal(t, "Ravi", accepted.Driver.Name)

	driver.emit(events.DriverLocation, map[string]any{"bookingId": "BK1", "location": map[string]any{"latitude": 31.7, "longitude": 76.9}})
	customer.expect(events.DriverLocation)
	require.Eventually(t, func() bool {
		got, _ := st.index.Nearby(context.Background(), 31.7, 76.9, 1)
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	driver.emit(events.TripStatusEvent, map[string]any{"bookingId": "BK1", "status": "delivered"})
	customer.expect(events.TripStatusEvent)

	require.Eventually(t, func() bool {
		o, err := st.orders.GetByID(context.Background(), "BK1")
		return err == nil && o.Status == models.OrderDelivered && o.DriverID == "D1"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		got, _ := st.index.Nearby(context.Background(), 31.7, 76.9, 1)
		return len(got) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, st.coord.Stats().ActiveTrips)
}

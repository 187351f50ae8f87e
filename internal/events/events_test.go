package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/haul-dispatch/internal/models"
)

func decodeRaw(t *testing.T, raw string) (Message, error) {
	t.Helper()
	env, err := Parse([]byte(raw))
	require.NoError(t, err)
	return Decode(env)
}

func TestDecodeKnownEvents(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Message
	}{
		{"online", `{"event":"driver:online","data":" D1 "}`, Online{DriverID: "D1"}},
		{"offline", `{"event":"driver:offline","data":"D1"}`, Offline{DriverID: "D1"}},
		{"join", `{"event":"customer:join","data":"C7"}`, Join{CustomerID: "C7"}},
		{"cancel", `{"event":"booking:cancel","data":"BK1"}`, Cancel{BookingID: "BK1"}},
		{
			"accept",
			`{"event":"booking:accept","data":{"bookingId":"BK1","driverId":"D2","driverInfo":{"id":"D2","name":"Ravi","phone":"1","vehicle_number":"HP"}}}`,
			Accept{BookingID: "BK1", DriverID: "D2", Driver: models.DriverProfile{ID: "D2", Name: "Ravi", Phone: "1", VehicleNumber: "HP"}},
		},
		{"reject", `{"event":"booking:reject","data":{"bookingId":"BK1","driverId":"D2"}}`, Reject{BookingID: "BK1", DriverID: "D2"}},
		{
			"location",
			`{"event":"driver:location","data":{"bookingId":"BK1","location":{"latitude":32.1,"longitude":76.3}}}`,
			LocationReport{BookingID: "BK1", Location: models.Location{Latitude: 32.1, Longitude: 76.3}},
		},
		{"status", `{"event":"trip:status","data":{"bookingId":"BK1","status":"in_transit"}}`, StatusUpdate{BookingID: "BK1", Status: models.TripInTransit}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeRaw(t, tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeNewBookingIgnoresClientTimestamp(t *testing.T) {
	got, err := decodeRaw(t, `{"event":"booking:new","data":{"id":"BK1","pickup_location":" A ","drop_location":"B","load_type":"sofa","fare":500,"created_at":"yesterday"}}`)
	require.NoError(t, err)
	nb, ok := got.(NewBooking)
	require.True(t, ok)
	assert.Equal(t, "BK1", nb.Booking.ID)
	assert.Equal(t, "A", nb.Booking.PickupLocation)
	assert.Equal(t, 500.0, nb.Booking.Fare)
	assert.True(t, nb.Booking.CreatedAt.IsZero())
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte(`nope`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(`{"data":"x"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = decodeRaw(t, `{"event":"driver:fly","data":"x"}`)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	for _, raw := range []string{
		`{"event":"driver:online","data":""}`,
		`{"event":"driver:online","data":{"id":"D1"}}`,
		`{"event":"booking:accept","data":{"bookingId":"BK1"}}`,
		`{"event":"booking:new"}`,
		`{"event":"trip:status","data":{"status":"delivered"}}`,
		`{"event":"driver:location","data":{"location":{"latitude":1,"longitude":2}}}`,
	} {
		_, err := decodeRaw(t, raw)
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestEncodeFrame(t *testing.T) {
	b, err := Encode(BookingConfirmed, Confirmed{BookingID: "BK1", DriversNotified: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"booking:confirmed","data":{"bookingId":"BK1","driversNotified":3}}`, string(b))

	b, err = Encode(BookingsList, []models.Booking{})
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	assert.JSONEq(t, `[]`, string(env.Data))
}

package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/haul-dispatch/internal/models"
)

func openBooking(id string, at time.Time) models.Booking {
	return models.Booking{ID: id, PickupLocation: "A", DropLocation: "B", LoadType: "boxes", Fare: 300, CreatedAt: at}
}

func TestBoardTakeIsExactlyOnce(t *testing.T) {
	bd := NewBoard()
	require.NoError(t, bd.Add(openBooking("BK1", time.Now())))
	assert.ErrorIs(t, bd.Add(openBooking("BK1", time.Now())), ErrDuplicateBooking)

	b, ok := bd.Take("BK1")
	require.True(t, ok)
	assert.Equal(t, "BK1", b.ID)

	_, ok = bd.Take("BK1")
	assert.False(t, ok)
	assert.Zero(t, bd.Len())
}

func TestBoardValidation(t *testing.T) {
	bd := NewBoard()
	err := bd.Add(models.Booking{ID: "BK1", PickupLocation: "A"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "drop_location, load_type")

	b := openBooking("BK2", time.Now())
	b.Fare = -1
	assert.ErrorIs(t, bd.Add(b), ErrValidation)
	assert.False(t, bd.Has("BK2"))
}

func TestBoardSnapshotAndExpire(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	bd := NewBoard()
	require.NoError(t, bd.Add(openBooking("late", base.Add(2*time.Minute))))
	require.NoError(t, bd.Add(openBooking("early", base)))
	require.NoError(t, bd.Add(openBooking("mid", base.Add(time.Minute))))

	snap := bd.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"early", "mid", "late"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	expired := bd.Expire(base.Add(90 * time.Second))
	require.Len(t, expired, 2)
	assert.Equal(t, "early", expired[0].ID)
	assert.True(t, bd.Has("late"))
	assert.Equal(t, 1, bd.Len())
}

func TestCanAdvance(t *testing.T) {
	assert.NoError(t, CanAdvance(models.TripAccepted, models.TripReachedPickup))
	assert.NoError(t, CanAdvance(models.TripAccepted, models.TripDelivered))
	assert.NoError(t, CanAdvance(models.TripInTransit, models.TripInTransit))
	assert.ErrorIs(t, CanAdvance(models.TripInTransit, models.TripReachedPickup), ErrBackwardTransition)
	assert.ErrorIs(t, CanAdvance(models.TripAccepted, "teleported"), ErrUnknownStatus)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservationStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ReservationStatus
		to      ReservationStatus
		allowed bool
	}{
		{ReservationActive, ReservationCaptured, true},
		{ReservationActive, ReservationReleased, true},
		{ReservationActive, ReservationExpired, true},
		{ReservationCaptured, ReservationReleased, false},
		{ReservationCaptured, ReservationActive, false},
		{ReservationReleased, ReservationActive, false},
		{ReservationReleased, ReservationCaptured, false},
		{ReservationExpired, ReservationActive, false},
		{ReservationExpired, ReservationCaptured, false},
	}
	for _, c := range cases {
		require.Equal(t, c.allowed, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

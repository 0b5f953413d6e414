package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestStateTerminal(t *testing.T) {
	terminal := []RequestState{RequestCompleted, RequestFailed, RequestCancelled, RequestExpired}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "state %s", s)
	}
	assert.False(t, RequestPending.Terminal())
	assert.False(t, RequestProcessing.Terminal())
}

func TestReservationStatusTerminal(t *testing.T) {
	assert.False(t, ReservationActive.Terminal())
	assert.True(t, ReservationConfirmed.Terminal())
	assert.True(t, ReservationExpired.Terminal())
	assert.True(t, ReservationCancelled.Terminal())
}

func TestParsePriority(t *testing.T) {
	cases := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"high", PriorityHigh, false},
		{"normal", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"", PriorityNormal, false},
		{"urgent", "", true},
		{"HIGH", "", true},
	}
	for _, tc := range cases {
		got, err := ParsePriority(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		assert.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestSeatHoldExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&Seat{}).HoldExpired(now), "no hold never expires")
	assert.True(t, (&Seat{ReservedUntil: &past}).HoldExpired(now))
	assert.True(t, (&Seat{ReservedUntil: &now}).HoldExpired(now), "boundary counts as expired")
	assert.False(t, (&Seat{ReservedUntil: &future}).HoldExpired(now))
}

func TestReservationExpired(t *testing.T) {
	now := time.Now().UTC()
	assert.True(t, (&Reservation{ExpiresAt: now.Add(-time.Second)}).Expired(now))
	assert.False(t, (&Reservation{ExpiresAt: now.Add(time.Second)}).Expired(now))
}

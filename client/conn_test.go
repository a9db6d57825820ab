package client

import (
	"testing"
	"time"
)

func TestReconnectDelayGrowsToCap(t *testing.T) {
	base := 5 * time.Second
	ceil := 30 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 7500 * time.Millisecond},
		{3, 11250 * time.Millisecond},
		{4, 16875 * time.Millisecond},
		{5, 25312500 * time.Microsecond},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := reconnectDelay(tc.attempt, base, ceil); got != tc.want {
			t.Errorf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestReconnectDelayClampsAttempt(t *testing.T) {
	base := 5 * time.Second
	ceil := 30 * time.Second
	if got := reconnectDelay(0, base, ceil); got != base {
		t.Errorf("attempt 0 should behave like the first attempt, got %s", got)
	}
	if got := reconnectDelay(-3, base, ceil); got != base {
		t.Errorf("negative attempt should behave like the first attempt, got %s", got)
	}
}

func TestConnStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateConnecting.String() != "connecting" || StateOpen.String() != "open" {
		t.Error("unexpected state names")
	}
}

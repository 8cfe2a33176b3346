package models

import "testing"

func TestCanTransitionTicket(t *testing.T) {
	cases := []struct {
		from, to TicketStatus
		want     bool
	}{
		{TicketStatusOpen, TicketStatusInProgress, true},
		{TicketStatusOpen, TicketStatusResolved, false},
		{TicketStatusInProgress, TicketStatusResolved, true},
		{TicketStatusResolved, TicketStatusInProgress, true},
		{TicketStatusResolved, TicketStatusClosed, true},
		{TicketStatusOpen, TicketStatusClosed, true},
		{TicketStatusClosed, TicketStatusOpen, false},
		{TicketStatusClosed, TicketStatusInProgress, false},
	}
	for _, c := range cases {
		if got := CanTransitionTicket(c.from, c.to); got != c.want {
			t.Fatalf("%s -> %s: got %v want %v", c.from, c.to, got, c.want)
		}
	}
}

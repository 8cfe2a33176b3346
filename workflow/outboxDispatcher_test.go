package workflow

import (
	"testing"
	"time"
)

func TestOutboxRetryDelay(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: 5 * time.Second, MaxBackoff: time.Minute}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{12, time.Minute},
	}
	for _, c := range cases {
		if got := d.retryDelay(c.attempt); got != c.want {
			t.Fatalf("attempt %d: got %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestOutboxExhausted(t *testing.T) {
	d := &OutboxDispatcher{MaxAttempts: 3}
	if d.exhausted(2) || !d.exhausted(3) {
		t.Fatalf("unexpected exhaustion boundary")
	}
	if (&OutboxDispatcher{}).exhausted(100) {
		t.Fatalf("zero MaxAttempts means unlimited")
	}
}

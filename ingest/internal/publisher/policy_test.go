package publisher

import (
	"context"
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"first retry waits base", Policy{BaseDelay: 100 * time.Millisecond}, 1, 100 * time.Millisecond},
		{"second retry doubles", Policy{BaseDelay: 100 * time.Millisecond}, 2, 200 * time.Millisecond},
		{"fourth retry", Policy{BaseDelay: 100 * time.Millisecond}, 4, 800 * time.Millisecond},
		{"capped", Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}, 3, 300 * time.Millisecond},
		{"cap above value", Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, 2, 200 * time.Millisecond},
		{"zero attempt", Policy{BaseDelay: time.Second}, 0, 0},
		{"zero base", Policy{}, 3, 0},
		{"huge attempt capped", Policy{BaseDelay: time.Second, MaxDelay: time.Minute}, 200, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPolicy_DelayDoesNotOverflow(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	if got := p.Delay(200); got <= 0 {
		t.Errorf("Delay(200) overflowed to %v", got)
	}
}

func TestPolicy_DelayStrictlyIncreasesUntilCap(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for n := 1; n < p.MaxAttempts; n++ {
		d := p.Delay(n)
		if d <= prev {
			t.Fatalf("Delay(%d) = %v not greater than %v", n, d, prev)
		}
		prev = d
	}
}

func TestTimerSleeper(t *testing.T) {
	s := timerSleeper{}

	if err := s.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Sleep(ctx, time.Hour); err != context.Canceled {
		t.Errorf("Sleep() on canceled context = %v, want context.Canceled", err)
	}
}

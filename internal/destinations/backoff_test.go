package destinations

import (
	"testing"
	"time"
)

func zeroJitter() time.Duration { return 0 }

func TestBackoff_ExponentialGrowth(t *testing.T) {
	b := NewBackoff()
	b.jitter = zeroJitter

	want := []time.Duration{
		time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	b := NewBackoff()
	b.jitter = zeroJitter

	var last time.Duration
	for i := 0; i < 30; i++ {
		last = b.Next()
	}
	if last != backoffCap {
		t.Errorf("Next() after many failures = %v, want cap %v", last, backoffCap)
	}
}

func TestBackoff_ResetsOnConnect(t *testing.T) {
	b := NewBackoff()
	b.jitter = zeroJitter

	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Connected()

	if got := b.Next(); got != backoffBase {
		t.Errorf("Next() after Connected() = %v, want base %v", got, backoffBase)
	}
}

func TestBackoffRange_CustomBaseAndCap(t *testing.T) {
	b := NewBackoffRange(100*time.Millisecond, 300*time.Millisecond)
	b.jitter = zeroJitter

	want := []time.Duration{
		100 * time.Millisecond,
		150 * time.Millisecond,
		225 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}

	b.Connected()
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("Next() after Connected() = %v, want custom base", got)
	}
}

func TestBackoffRange_DefaultsOnBadValues(t *testing.T) {
	b := NewBackoffRange(0, -time.Second)
	b.jitter = zeroJitter

	if got := b.Next(); got != backoffBase {
		t.Errorf("Next() = %v, want default base %v", got, backoffBase)
	}
}

func TestBackoff_JitterNeverNegative(t *testing.T) {
	b := NewBackoff()
	b.jitter = func() time.Duration { return -2 * time.Second }

	if got := b.Next(); got != 0 {
		t.Errorf("Next() with large negative jitter = %v, want 0", got)
	}
}

func TestBackoff_FailureAccounting(t *testing.T) {
	b := NewBackoff()

	if got := b.Failure(); got != 1 {
		t.Errorf("Failure() = %d, want 1", got)
	}

	// A short-lived connection counts as another failure.
	if got := b.ConnectionEnded(10 * time.Second); got != 2 {
		t.Errorf("ConnectionEnded(short) = %d, want 2", got)
	}

	// A stable connection clears the count.
	if got := b.ConnectionEnded(5 * time.Minute); got != 0 {
		t.Errorf("ConnectionEnded(stable) = %d, want 0", got)
	}
}

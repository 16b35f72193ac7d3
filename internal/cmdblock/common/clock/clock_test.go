package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}

	before := time.Now()
	now := c.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("clock time %v outside [%v, %v]", now, before, after)
	}
}

func TestMockClock_NowAndAdvance(t *testing.T) {
	fixed := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	c := &MockClock{CurrentTime: fixed}

	if got := c.Now(); !got.Equal(fixed) {
		t.Fatalf("Now() = %v, want %v", got, fixed)
	}
	c.Advance(90 * time.Second)
	if got, want := c.Now(), fixed.Add(90*time.Second); !got.Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", got, want)
	}
}

func TestClockInterface(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}

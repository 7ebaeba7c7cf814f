package lifecycle

import (
	"testing"
)

func TestSessionTimestampFormat(t *testing.T) {
	sc := NewSession(1.0)
	if len(sc.Session()) != len("20060102_150405") {
		t.Fatalf("unexpected session id format: %q", sc.Session())
	}
}

func TestStopFlagIdempotent(t *testing.T) {
	sc := NewSession(1.0)
	if sc.Stopped() {
		t.Fatal("expected not stopped initially")
	}
	sc.Stop()
	sc.Stop()
	if !sc.Stopped() {
		t.Fatal("expected stopped after Stop()")
	}
}

func TestCeilingRatchetNeverIncreases(t *testing.T) {
	sc := NewSession(1.0)
	sc.SetCeiling(10.0)

	c1, _ := sc.LowerCeiling(0.98)
	if c1 != 9.8 {
		t.Fatalf("expected 9.8, got %v", c1)
	}

	c2, _ := sc.LowerCeiling(0.98)
	want := 9.8 * 0.98
	if diff := c2 - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %v, got %v", want, c2)
	}

	if c2 >= c1 {
		t.Fatalf("ceiling must be monotonically non-increasing: %v -> %v", c1, c2)
	}
}

func TestCeilingNeverBelowFloor(t *testing.T) {
	sc := NewSession(5.0)
	sc.SetCeiling(5.1)

	c, atFloor := sc.LowerCeiling(0.5)
	if c < 5.0 {
		t.Fatalf("ceiling dropped below floor: %v", c)
	}
	if !atFloor {
		t.Fatal("expected atFloor true once ceiling reaches the floor")
	}
}

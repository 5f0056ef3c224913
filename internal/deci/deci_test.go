package deci

import "testing"

func TestFromFloat_TruncatesTowardZero(t *testing.T) {
	cases := []struct {
		in   float64
		want Amps
	}{
		{6.0, 60},
		{6.15, 61},
		{6.19, 61},
		{0, 0},
		{-2.15, -21},
	}
	for _, c := range cases {
		if got := FromFloat(c.in); got != c.want {
			t.Errorf("FromFloat(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFloat_RoundTrip(t *testing.T) {
	if got := Amps(253).Float(); got != 25.3 {
		t.Errorf("Float() = %v, want 25.3", got)
	}
}

func TestMaxZero(t *testing.T) {
	if got := MaxZero(-10); got != 0 {
		t.Errorf("MaxZero(-10) = %v, want 0", got)
	}
	if got := MaxZero(5); got != 5 {
		t.Errorf("MaxZero(5) = %v, want 5", got)
	}
}

func TestMul(t *testing.T) {
	if got := Amps(60).Mul(3); got != 180 {
		t.Errorf("Mul(3) = %v, want 180", got)
	}
}

func TestSum(t *testing.T) {
	if got := Sum([]Amps{10, 20, 30}); got != 60 {
		t.Errorf("Sum() = %v, want 60", got)
	}
}

package indicator

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestSMAWarmup(t *testing.T) {
	s := SMA([]float64{1, 2, 3, 4, 5}, 3)
	for i := 0; i < 2; i++ {
		if _, ok := s.At(i); ok {
			t.Errorf("SMA At(%d) defined during warmup", i)
		}
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		got, ok := s.At(i + 2)
		if !ok {
			t.Fatalf("SMA At(%d) undefined", i+2)
		}
		if math.Abs(got-w) > eps {
			t.Errorf("SMA At(%d) = %v, want %v", i+2, got, w)
		}
	}
}

func TestSMAShortInput(t *testing.T) {
	s := SMA([]float64{1, 2}, 5)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	for i := 0; i < s.Len(); i++ {
		if s.Valid[i] {
			t.Errorf("Valid[%d] = true with fewer points than the window", i)
		}
	}
}

func TestStdDevSample(t *testing.T) {
	// Sample std of {2,4,4,4,5,5,7,9} is sqrt(32/7).
	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	s := StdDev(x, len(x))
	got, ok := s.At(len(x) - 1)
	if !ok {
		t.Fatal("StdDev undefined at last index")
	}
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-want) > eps {
		t.Errorf("StdDev = %v, want %v", got, want)
	}
	if _, ok := StdDev(x, 1).At(3); ok {
		t.Error("StdDev with window 1 should be undefined")
	}
}

func TestRSI(t *testing.T) {
	// Deltas: +1, -1, +2, -1 -> period 2 windows.
	x := []float64{10, 11, 10, 12, 11}
	s := RSI(x, 2)

	for i := 0; i < 2; i++ {
		if s.Valid[i] {
			t.Errorf("RSI Valid[%d] = true during warmup", i)
		}
	}
	// i=2: gains {1,0}, losses {0,1} -> RS 1 -> 50.
	if got, ok := s.At(2); !ok || math.Abs(got-50) > eps {
		t.Errorf("RSI At(2) = %v (%v), want 50", got, ok)
	}
	// i=3: gains {0,2}, losses {1,0} -> RS 2 -> 66.67.
	if got, ok := s.At(3); !ok || math.Abs(got-200.0/3.0) > eps {
		t.Errorf("RSI At(3) = %v (%v), want %v", got, ok, 200.0/3.0)
	}
}

func TestRSIZeroLossUndefined(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	s := RSI(x, 3)
	for i := range x {
		if v, ok := s.At(i); ok {
			t.Errorf("RSI At(%d) = %v, want undefined for a loss-free window", i, v)
		}
		if math.IsInf(s.Values[i], 0) || math.IsNaN(s.Values[i]) {
			t.Errorf("RSI Values[%d] = %v, must never hold a sentinel", i, s.Values[i])
		}
	}
}

// driftThenPlateau returns n varied points followed by m copies of level.
func driftThenPlateau(n, m int, level float64) []float64 {
	x := make([]float64, 0, n+m)
	for i := 0; i < n; i++ {
		x = append(x, 100+7.3*math.Sin(float64(i)*0.7)+float64(i)*0.013)
	}
	for i := 0; i < m; i++ {
		x = append(x, level)
	}
	return x
}

func TestSMAFlatWindowIsExact(t *testing.T) {
	const window, level = 10, 100.3
	x := driftThenPlateau(200, 40, level)
	sma := SMA(x, window)
	sd := StdDev(x, window)
	for i := 200 + window - 1; i < len(x); i++ {
		if got, ok := sma.At(i); !ok || got != level {
			t.Errorf("SMA At(%d) = %v (%v), want exactly %v", i, got, ok, level)
		}
		if got, ok := sd.At(i); !ok || got != 0 {
			t.Errorf("StdDev At(%d) = %v (%v), want exactly 0", i, got, ok)
		}
	}
}

package sg

import (
	"testing"
	"time"
)

func beijing(hour, min int) time.Time {
	loc := time.FixedZone("CST", 8*60*60)
	return time.Date(2026, 3, 2, hour, min, 0, 0, loc)
}

func TestInHKPreClose(t *testing.T) {
	tests := []struct {
		t    time.Time
		want bool
	}{
		{beijing(15, 30), true},
		{beijing(15, 45), true},
		{beijing(15, 59), true},
		{beijing(16, 0), false},
		{beijing(15, 29), false},
		{beijing(22, 0), false},
	}
	for _, tt := range tests {
		if got := inHKPreClose(tt.t); got != tt.want {
			t.Errorf("inHKPreClose(%s) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

func TestInUSPreClose(t *testing.T) {
	tests := []struct {
		t    time.Time
		want bool
	}{
		{beijing(22, 0), true},
		{beijing(23, 30), true},
		{beijing(23, 59), true},
		{beijing(21, 59), false},
		{beijing(0, 0), false},
		{beijing(15, 45), false},
	}
	for _, tt := range tests {
		if got := inUSPreClose(tt.t); got != tt.want {
			t.Errorf("inUSPreClose(%s) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

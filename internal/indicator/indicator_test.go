package indicator

import "testing"

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		period int
		want   float64
	}{
		{"exact period", []float64{1, 2, 3, 4, 5}, 5, 3},
		{"trailing window", []float64{1, 2, 3, 4, 5}, 3, 4},
		{"insufficient history", []float64{1, 2}, 5, 0},
		{"zero period", []float64{1, 2, 3}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SMA(tt.values, tt.period); got != tt.want {
				t.Errorf("SMA(%v, %d) = %v, want %v", tt.values, tt.period, got, tt.want)
			}
		})
	}
}

func TestRSI_AllGains(t *testing.T) {
	values := []float64{10, 11, 12, 13, 14, 15}
	got := RSI(values, 5)
	if got != 100 {
		t.Errorf("RSI all-gains = %v, want 100", got)
	}
}

func TestRSI_InsufficientHistory(t *testing.T) {
	if got := RSI([]float64{1, 2}, 14); got != 0 {
		t.Errorf("RSI insufficient history = %v, want 0", got)
	}
}

func TestBollingerBands_ConstantSeries(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 100
	}
	upper, middle, lower := BollingerBands(values, 20, 2.0)
	if middle != 100 {
		t.Errorf("middle = %v, want 100", middle)
	}
	if upper != 100 || lower != 100 {
		t.Errorf("upper/lower on constant series = %v/%v, want 100/100", upper, lower)
	}
}

func TestATR_InsufficientHistory(t *testing.T) {
	if got := ATR([]float64{1}, []float64{1}, []float64{1}, 14); got != 0 {
		t.Errorf("ATR insufficient history = %v, want 0", got)
	}
}

func TestVolumeRatio(t *testing.T) {
	volumes := make([]float64, 21)
	for i := 0; i < 20; i++ {
		volumes[i] = 1000
	}
	volumes[20] = 2000
	got := VolumeRatio(volumes, 20)
	if got != 2.0 {
		t.Errorf("VolumeRatio = %v, want 2.0", got)
	}
}

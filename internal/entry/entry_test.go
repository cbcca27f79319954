package entry

import (
	"testing"

	"hkus-trading-core/internal/indicator"
)

func TestScore_SimpleEntryScenario(t *testing.T) {
	// Mirrors spec.md's "Simple entry" end-to-end scenario: RSI=28,
	// touching lower band, golden cross yesterday, volume 2.1x, trend up.
	in := Inputs{
		Snapshot: indicator.Snapshot{
			RSI:         28,
			MACD:        1.2,
			MACDSignal:  1.0,
			BBUpper:     110,
			BBMiddle:    100,
			BBLower:     90,
			SMA20:       102,
			SMA50:       98,
			VolumeRatio: 2.1,
		},
		PrevMACD:       0.9,
		PrevMACDSignal: 1.0,
		PrevHistogram:  -0.1,
		Price:          90.5,
		UpDay:          true,
	}

	score, reasons := Score(in)
	if score < 65 {
		t.Errorf("score = %d, want >= 65 per spec scenario", score)
	}
	if len(reasons) != 5 {
		t.Errorf("len(reasons) = %d, want 5 (one per component)", len(reasons))
	}
}

func TestClassify_Thresholds(t *testing.T) {
	tests := []struct {
		score         int
		enableWeak    bool
		wantType      string
		wantPublished bool
	}{
		{65, false, "STRONG_BUY", true},
		{50, false, "BUY", true},
		{35, false, "", false},
		{35, true, "WEAK_BUY", true},
		{20, true, "", false},
	}
	for _, tt := range tests {
		typ, _, published := Classify(tt.score, tt.enableWeak)
		if published != tt.wantPublished {
			t.Errorf("Classify(%d, %v) published = %v, want %v", tt.score, tt.enableWeak, published, tt.wantPublished)
		}
		if published && string(typ) != tt.wantType {
			t.Errorf("Classify(%d, %v) type = %s, want %s", tt.score, tt.enableWeak, typ, tt.wantType)
		}
	}
}

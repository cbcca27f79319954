package exit

import (
	"testing"

	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/regime"
)

func TestScore_BearishCrossDominates(t *testing.T) {
	in := Inputs{
		Snapshot: indicator.Snapshot{
			RSI: 45, SMA20: 90, SMA50: 98, VolumeRatio: 1.0,
			MACD: -0.5, MACDSignal: 0.1, BBUpper: 120, BBLower: 80,
		},
		PrevSMA20: 90, PrevSMA50: 98,
		PrevMACD: 0.2, PrevMACDSignal: 0.1,
		MACDBearishCrossNow: true,
		Price:               85,
	}
	score, reasons := Score(in, regime.Range)
	if score < 50 {
		t.Errorf("score = %d, want >= 50 with a bearish cross and no bullish confounds", score)
	}
	if len(reasons) == 0 {
		t.Error("expected at least one reason")
	}
}

func TestScore_RegimeOverlay(t *testing.T) {
	base := Inputs{Snapshot: indicator.Snapshot{RSI: 50, SMA20: 100, SMA50: 100}, Price: 100}
	bull, _ := Score(base, regime.Bull)
	bear, _ := Score(base, regime.Bear)
	if bear <= bull {
		t.Errorf("bear score %d should exceed bull score %d for identical inputs", bear, bull)
	}
}

func TestScore_ClampedToRange(t *testing.T) {
	in := Inputs{
		Snapshot: indicator.Snapshot{RSI: 90, SMA20: 50, SMA50: 100},
		PrevSMA20: 100, PrevSMA50: 50,
		MACDBearishCrossNow: true,
		RollingOffUpperBand: true,
		PrevRSI:             95,
		Price:               10,
	}
	score, _ := Score(in, regime.Bear)
	if score > 100 || score < -100 {
		t.Errorf("score = %d, want within [-100, 100]", score)
	}
}

func TestDecideAction_Bands(t *testing.T) {
	cfg := DefaultGradualExitConfig()
	tests := []struct {
		score int
		want  Action
	}{
		{80, ActionTakeProfitNow},
		{55, ActionPartialExit},
		{42, ActionGradualExit},
		{0, ActionNoExit},
		{-50, ActionStrongHold},
	}
	for _, tt := range tests {
		if got := DecideAction(tt.score, cfg); got != tt.want {
			t.Errorf("DecideAction(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCanAddPosition(t *testing.T) {
	cfg := DefaultAddPositionConfig()
	if !CanAddPosition(cfg, regime.Bull, 3.0, -35, 65) {
		t.Error("expected ADD_POSITION to qualify")
	}
	if CanAddPosition(cfg, regime.Bear, 3.0, -35, 65) {
		t.Error("BEAR regime must block ADD_POSITION")
	}
	if CanAddPosition(cfg, regime.Bull, 1.0, -35, 65) {
		t.Error("profit below minimum must block ADD_POSITION")
	}
	if CanAddPosition(cfg, regime.Bull, 3.0, -10, 65) {
		t.Error("exit_score above -30 must block ADD_POSITION")
	}
	if CanAddPosition(cfg, regime.Bull, 3.0, -35, 50) {
		t.Error("fresh buy score below minimum must block ADD_POSITION")
	}
}

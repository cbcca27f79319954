package signal

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestUnmarshal_PreservesOriginalBytes(t *testing.T) {
	raw := []byte(`{"symbol":"0700.HK","type":"BUY","side":"BUY","score":72,"priority":72,"price":"320.5","indicators":{"rsi":"0","macd":"0","macd_signal":"0","bb_upper":"0","bb_middle":"0","bb_lower":"0","sma_20":"0","sma_50":"0","atr":"0","volume_ratio":"0"},"timestamp":"2026-01-01T00:00:00Z","queued_at":"2026-01-01T00:00:00Z","retry_count":0,"account":"acct-1"}`)

	sig, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(sig.OriginalJSON(), raw) {
		t.Errorf("OriginalJSON() = %s, want %s", sig.OriginalJSON(), raw)
	}

	// Mutating a post-consume-only field must not alter OriginalJSON;
	// callers always mark_completed/mark_failed against the bytes the
	// signal arrived with, not a re-marshal.
	sig.RetryCount = 3
	if !bytes.Equal(sig.OriginalJSON(), raw) {
		t.Error("OriginalJSON() changed after mutating RetryCount")
	}

	remarshaled, err := sig.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if bytes.Equal(remarshaled, raw) {
		t.Error("re-marshal after mutation unexpectedly equals the original bytes")
	}
}

func TestWithOriginalJSON(t *testing.T) {
	sig := &Signal{
		Symbol:    "AAPL",
		Type:      TypeStrongBuy,
		Side:      SideBuy,
		Price:     decimal.NewFromFloat(150.25),
		Timestamp: time.Now(),
	}
	raw, err := sig.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	sig.WithOriginalJSON(raw)
	if !bytes.Equal(sig.OriginalJSON(), raw) {
		t.Error("WithOriginalJSON did not attach the expected bytes")
	}
}

func TestType_IsBuyFamily(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{TypeStrongBuy, true},
		{TypeBuy, true},
		{TypeWeakBuy, true},
		{TypeAddPosition, true},
		{TypeSell, false},
		{TypeStopLoss, false},
		{TypeRotationSell, false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsBuyFamily(); got != tt.want {
			t.Errorf("%s.IsBuyFamily() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestType_IsSellFamily(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{TypeSell, true},
		{TypeStopLoss, true},
		{TypeTakeProfit, true},
		{TypeUrgentSell, true},
		{TypeBuy, false},
		{TypeAddPosition, false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsSellFamily(); got != tt.want {
			t.Errorf("%s.IsSellFamily() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

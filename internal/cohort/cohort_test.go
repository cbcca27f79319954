package cohort

import (
	"testing"
	"time"
)

func TestMergeTradedToday_NeverOverwrites(t *testing.T) {
	tr := New()
	tr.MarkTradedToday("AAPL.US") // in-memory addition ahead of DB
	tr.MergeTradedToday([]string{"TSLA.US"})

	if !tr.IsTradedToday("AAPL.US") {
		t.Error("in-memory addition was lost after merge")
	}
	if !tr.IsTradedToday("TSLA.US") {
		t.Error("merged DB result missing")
	}
}

func TestWithinCooldown(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.RecordEmit("AAPL.US", now)

	if !tr.WithinCooldown("AAPL.US", now.Add(100*time.Second), 300*time.Second) {
		t.Error("expected within cooldown at +100s of a 300s window")
	}
	if tr.WithinCooldown("AAPL.US", now.Add(301*time.Second), 300*time.Second) {
		t.Error("expected cooldown expired at +301s of a 300s window")
	}
}

func TestPruneSignalHistory(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.RecordEmit("OLD.US", now.Add(-2*time.Hour))
	tr.RecordEmit("FRESH.US", now)

	tr.PruneSignalHistory(1*time.Hour, now)

	if tr.WithinCooldown("OLD.US", now, 3*time.Hour) {
		t.Error("expected OLD.US to be pruned")
	}
	if !tr.WithinCooldown("FRESH.US", now, 3*time.Hour) {
		t.Error("expected FRESH.US to survive prune")
	}
}

func TestCanAddPosition_CooldownAndDailyCap(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !tr.CanAddPosition("AAPL.US", now, 60*time.Minute, 2) {
		t.Fatal("first add should be allowed")
	}
	tr.RecordAddPosition("AAPL.US", now)

	if tr.CanAddPosition("AAPL.US", now.Add(30*time.Minute), 60*time.Minute, 2) {
		t.Error("should be blocked by 60-min cooldown")
	}
	if !tr.CanAddPosition("AAPL.US", now.Add(61*time.Minute), 60*time.Minute, 2) {
		t.Error("should be allowed after cooldown elapses")
	}

	tr.RecordAddPosition("AAPL.US", now.Add(61*time.Minute))
	if tr.CanAddPosition("AAPL.US", now.Add(200*time.Minute), 60*time.Minute, 2) {
		t.Error("should be blocked by the 2/day ceiling")
	}
}

func TestResetDaily(t *testing.T) {
	tr := New()
	tr.MarkTradedToday("AAPL.US")
	tr.ResetDaily()
	if tr.IsTradedToday("AAPL.US") {
		t.Error("expected traded_today cleared after ResetDaily")
	}
}

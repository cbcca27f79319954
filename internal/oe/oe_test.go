package oe

import (
	"errors"
	"testing"

	"hkus-trading-core/internal/errs"
	"hkus-trading-core/internal/queue"
)

func TestClassifyBrokerError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass queue.ErrorClass
		wantRetry bool
	}{
		{"rate limited", &errs.RateLimitError{Op: "submit_order", RetryAfter: 5}, queue.ClassTransient, true},
		{"transient", &errs.TransientBrokerError{Op: "submit_order", Err: errors.New("timeout")}, queue.ClassTransient, true},
		{"insufficient funds", &errs.InsufficientFundsError{Symbol: "AAPL.US"}, queue.ClassInsufficientFunds, true},
		{"invalid symbol", &errs.InvalidSymbolError{Symbol: "ZZZZ.US"}, queue.ClassRejected, false},
		{"unknown", errors.New("boom"), queue.ClassRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, retry := classifyBrokerError(tt.err)
			if class != tt.wantClass || retry != tt.wantRetry {
				t.Errorf("classifyBrokerError(%v) = (%s, %v), want (%s, %v)", tt.err, class, retry, tt.wantClass, tt.wantRetry)
			}
		})
	}
}

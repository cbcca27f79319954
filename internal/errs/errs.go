// Package errs defines the error taxonomy shared by the signal generator
// and order executor, so retry/backoff decisions can classify a failure by
// type rather than by string-matching the underlying broker/DB error.
package errs

import "fmt"

// ConfigError signals a missing or invalid configuration value. The
// process that encounters one must exit with status 2.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error for %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config error for %s", e.Key)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransientBrokerError wraps a network/5xx/timeout error from the broker.
// Callers retry with backoff; persistent recurrence should escalate via
// notification.
type TransientBrokerError struct {
	Op  string
	Err error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("transient broker error during %s: %v", e.Op, e.Err)
}

func (e *TransientBrokerError) Unwrap() error { return e.Err }

// RateLimitError represents a 429-equivalent response from the broker.
type RateLimitError struct {
	Op         string
	RetryAfter int // seconds, 0 if unspecified
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited during %s (retry_after=%ds)", e.Op, e.RetryAfter)
}

// InsufficientFundsError is non-retryable as a normal failure; the signal
// is held in the delayed-retry band up to FUNDS_RETRY_MAX attempts.
type InsufficientFundsError struct {
	Symbol   string
	Currency string
	Needed   string
	Have     string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s funds for %s: need %s, have %s", e.Currency, e.Symbol, e.Needed, e.Have)
}

// InvalidSymbolError covers unknown or non-entitled symbols. Non-retryable;
// callers should mark the signal complete (not failed) to avoid perpetual
// retries.
type InvalidSymbolError struct {
	Symbol string
	Reason string
}

func (e *InvalidSymbolError) Error() string {
	return fmt.Sprintf("invalid symbol %s: %s", e.Symbol, e.Reason)
}

// DataShortageError is raised when kline history remains below the
// minimum row count after a sync attempt. Not an error in the exceptional
// sense — callers skip the symbol for the current iteration.
type DataShortageError struct {
	Symbol string
	Rows   int
	Need   int
}

func (e *DataShortageError) Error() string {
	return fmt.Sprintf("data shortage for %s: have %d rows, need %d", e.Symbol, e.Rows, e.Need)
}

// StaleCacheError indicates the account cache could not be refreshed and
// no prior good value exists to degrade to.
type StaleCacheError struct {
	AccountID string
}

func (e *StaleCacheError) Error() string {
	return fmt.Sprintf("no usable account cache for %s", e.AccountID)
}

// QueueIntegrityError is logged (warning-level, not fatal) when
// mark_completed removes zero entries from the processing set — another
// worker may already have handled the signal, or zombie recovery will
// eventually reconcile it.
type QueueIntegrityError struct {
	Account string
	Detail  string
}

func (e *QueueIntegrityError) Error() string {
	return fmt.Sprintf("queue integrity warning for account %s: %s", e.Account, e.Detail)
}

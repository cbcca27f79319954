// Package queue implements the Redis-backed per-account priority queue
// described in spec.md §4.1: a `main` sorted set ordered by priority, a
// `processing` sorted set used for zombie recovery, and a `failed` sorted
// set for signals that exhausted retries.
//
// The member stored in each sorted set is always the exact serialized
// bytes of a Signal — never a re-marshaled copy — so identity survives
// round trips through `consume`/`mark_completed`/`mark_failed` exactly as
// spec.md's invariant 1 requires. Grounded on cache/redis.go's
// marshal-before-Set style, generalized to sorted sets, with the
// recover-on-start shape borrowed from trading-core's
// order.PersistentQueue (there a local WAL, here the cross-process source
// of truth Redis already provides).
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"hkus-trading-core/internal/signal"
)

// Config tunes the queue's caps and retry ladder (spec.md §6, §9).
type Config struct {
	MaxMainSize   int64
	MaxRetries    int
	FundsRetryMax int
	ZombieTimeout time.Duration // 0 means "recover everything"
	// RetryDelaysMinutes is the explicit backoff ladder resolved in
	// DESIGN.md ("1, 2, 4, 8, 8 minutes, total <= 25 minutes").
	RetryDelaysMinutes []int
}

// DefaultConfig matches spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxMainSize:        1000,
		MaxRetries:         3,
		FundsRetryMax:      5,
		ZombieTimeout:      5 * time.Minute,
		RetryDelaysMinutes: []int{1, 2, 4, 8, 8},
	}
}

// Queue is one account's view over the shared Redis instance.
type Queue struct {
	rdb     *redis.Client
	account string
	cfg     Config
}

func New(rdb *redis.Client, account string, cfg Config) *Queue {
	return &Queue{rdb: rdb, account: account, cfg: cfg}
}

func (q *Queue) mainKey() string       { return fmt.Sprintf("trading:signals:%s", q.account) }
func (q *Queue) processingKey() string { return fmt.Sprintf("trading:signals:processing:%s", q.account) }
func (q *Queue) failedKey() string     { return fmt.Sprintf("trading:signals:failed:%s", q.account) }

// ErrNoSignal is returned by Consume when nothing is eligible to pop.
var ErrNoSignal = fmt.Errorf("queue: no eligible signal")

// Publish writes sig as a new member of `main` with score = -priority (so
// the lowest raw score pops first on ascending ZRANGE, i.e. highest
// priority wins). Returns (false, nil) if the main set is at capacity —
// callers must not retry blindly, per spec.md's "conservative: no publish
// if unsure" failure model.
func (q *Queue) Publish(ctx context.Context, sig *signal.Signal) (bool, error) {
	size, err := q.rdb.ZCard(ctx, q.mainKey()).Result()
	if err != nil {
		log.Printf("⚠️  queue publish: failed to check size for %s: %v", q.account, err)
		return false, err
	}
	if size >= q.cfg.MaxMainSize {
		log.Printf("⚠️  queue publish rejected: main queue full for account %s (%d/%d)", q.account, size, q.cfg.MaxMainSize)
		return false, nil
	}

	if sig.Priority == 0 {
		sig.Priority = sig.Score
	}
	raw, err := sig.Marshal()
	if err != nil {
		log.Printf("❌ queue publish: signal serialization failed, dropping: %v", err)
		return false, err
	}

	if err := q.rdb.ZAdd(ctx, q.mainKey(), redis.Z{
		Score:  float64(-sig.Priority),
		Member: raw,
	}).Err(); err != nil {
		log.Printf("⚠️  queue publish: ZADD failed for %s: %v", sig.Symbol, err)
		return false, err
	}
	sig.WithOriginalJSON(raw)
	return true, nil
}

// consumeScript atomically pops the highest-priority non-delayed member of
// `main` and moves it into `processing`, scored by the current time so
// zombie recovery can later find it by age. cjson is redis's built-in Lua
// JSON library, used here to read a member's retry_after without a
// round trip back to Go.
var consumeScript = redis.NewScript(`
local mainKey = KEYS[1]
local procKey = KEYS[2]
local now = tonumber(ARGV[1])

local members = redis.call('ZRANGE', mainKey, 0, -1)
for _, member in ipairs(members) do
	local ok, decoded = pcall(cjson.decode, member)
	local eligible = true
	if ok and decoded.retry_after and decoded.retry_after ~= cjson.null then
		if tonumber(decoded.retry_after) > now then
			eligible = false
		end
	end
	if eligible then
		redis.call('ZREM', mainKey, member)
		redis.call('ZADD', procKey, now, member)
		return member
	end
end
return nil
`)

var zombieScript = redis.NewScript(`
local procKey = KEYS[1]
local mainKey = KEYS[2]
local now = tonumber(ARGV[1])
local timeout = tonumber(ARGV[2])

local cutoff = now - timeout
local members
if timeout <= 0 then
	members = redis.call('ZRANGE', procKey, 0, -1)
else
	members = redis.call('ZRANGEBYSCORE', procKey, '-inf', cutoff)
end

local recovered = 0
for _, member in ipairs(members) do
	local ok, decoded = pcall(cjson.decode, member)
	local priority = 0
	if ok and decoded.priority then
		priority = tonumber(decoded.priority)
	end
	redis.call('ZREM', procKey, member)
	redis.call('ZADD', mainKey, -priority, member)
	recovered = recovered + 1
end
return recovered
`)

// RecoverZombies moves entries out of `processing` that are older than
// timeout (0 means "all") back into `main`, preserving their original
// priority. Idempotent: a second call within the same window recovers 0,
// because the entries it would have matched were already moved.
func (q *Queue) RecoverZombies(ctx context.Context, timeout time.Duration) (int, error) {
	now := time.Now().Unix()
	res, err := zombieScript.Run(ctx, q.rdb, []string{q.processingKey(), q.mainKey()}, now, int64(timeout.Seconds())).Result()
	if err != nil {
		log.Printf("⚠️  zombie recovery failed for %s: %v", q.account, err)
		return 0, err
	}
	n, _ := res.(int64)
	if n > 0 {
		log.Printf("🔄 recovered %d zombie signal(s) for account %s", n, q.account)
	}
	return int(n), nil
}

// Consume performs zombie recovery, then atomically pops and reserves the
// highest-priority eligible member, attaching the original bytes to the
// returned Signal as its identity for a later mark_completed/mark_failed.
func (q *Queue) Consume(ctx context.Context) (*signal.Signal, error) {
	if _, err := q.RecoverZombies(ctx, q.cfg.ZombieTimeout); err != nil {
		return nil, err
	}

	res, err := consumeScript.Run(ctx, q.rdb, []string{q.mainKey(), q.processingKey()}, time.Now().Unix()).Result()
	if err == redis.Nil {
		return nil, ErrNoSignal
	}
	if err != nil {
		log.Printf("⚠️  consume failed for account %s: %v", q.account, err)
		return nil, err
	}
	raw, ok := res.(string)
	if !ok || raw == "" {
		return nil, ErrNoSignal
	}
	sig, err := signal.Unmarshal([]byte(raw))
	if err != nil {
		log.Printf("❌ consume: dropping unparseable signal: %v", err)
		return nil, err
	}
	return sig, nil
}

// MarkCompleted removes sig's original bytes from `processing`. Using the
// original bytes (not a re-marshal) is the invariant spec.md §4.1
// requires — re-serializing after mutating a post-consume-only field like
// retry_count would silently fail to match the stored member.
func (q *Queue) MarkCompleted(ctx context.Context, sig *signal.Signal) error {
	raw := sig.OriginalJSON()
	if raw == nil {
		return fmt.Errorf("mark_completed: signal %s has no original bytes", sig.Symbol)
	}
	n, err := q.rdb.ZRem(ctx, q.processingKey(), raw).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		log.Printf("⚠️  mark_completed removed 0 entries for %s — another worker may have handled it; zombie recovery will reconcile", sig.Symbol)
	}
	return nil
}

// ErrorClass distinguishes retry-eligible failures from permanent ones.
type ErrorClass string

const (
	ClassTransient              ErrorClass = "transient"
	ClassInsufficientFunds      ErrorClass = "insufficient-funds"
	ClassInsufficientFundsFinal ErrorClass = "insufficient-funds-permanent"
	ClassRejected               ErrorClass = "rejected"
)

// MarkFailed removes sig from `processing`. If retry is requested, the
// error class isn't permanent, and retry_count hasn't exhausted
// MaxRetries, it is republished to `main` with exponential backoff and a
// reduced priority; otherwise it is moved to `failed`.
func (q *Queue) MarkFailed(ctx context.Context, sig *signal.Signal, class ErrorClass, retry bool) error {
	raw := sig.OriginalJSON()
	if raw != nil {
		if err := q.rdb.ZRem(ctx, q.processingKey(), raw).Err(); err != nil {
			log.Printf("⚠️  mark_failed: ZREM processing failed for %s: %v", sig.Symbol, err)
		}
	}

	if retry && class != ClassInsufficientFundsFinal && sig.RetryCount < q.cfg.MaxRetries {
		delayIdx := sig.RetryCount
		if delayIdx >= len(q.cfg.RetryDelaysMinutes) {
			delayIdx = len(q.cfg.RetryDelaysMinutes) - 1
		}
		delayMin := q.cfg.RetryDelaysMinutes[delayIdx]
		retryAt := time.Now().Add(time.Duration(delayMin) * time.Minute).Unix()

		sig.RetryAfter = &retryAt
		sig.RetryCount++
		sig.Priority -= 10
		if sig.Priority < 0 {
			sig.Priority = 0
		}
		newRaw, err := sig.Marshal()
		if err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, q.mainKey(), redis.Z{Score: float64(-sig.Priority), Member: newRaw}).Err(); err != nil {
			return err
		}
		sig.WithOriginalJSON(newRaw)
		return nil
	}

	now := time.Now()
	sig.FailedAt = &now
	newRaw, err := sig.Marshal()
	if err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(-sig.Priority), Member: newRaw}).Err(); err != nil {
		return err
	}
	sig.WithOriginalJSON(newRaw)
	return nil
}

// RequeueWithDelay sets retry_after, increments retry_count, and
// republishes sig to `main`. Used by the funds-retry path in the order
// executor, which uses its own fixed delay instead of MarkFailed's
// backoff ladder (spec.md §4.3); the retry_count it increments is the
// same one MarkFailed compares with MaxRetries.
func (q *Queue) RequeueWithDelay(ctx context.Context, sig *signal.Signal, minutes int) error {
	retryAt := time.Now().Add(time.Duration(minutes) * time.Minute).Unix()
	sig.RetryAfter = &retryAt
	sig.RetryCount++

	raw := sig.OriginalJSON()
	if raw != nil {
		q.rdb.ZRem(ctx, q.processingKey(), raw)
	}
	newRaw, err := sig.Marshal()
	if err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, q.mainKey(), redis.Z{Score: float64(-sig.Priority), Member: newRaw}).Err(); err != nil {
		return err
	}
	sig.WithOriginalJSON(newRaw)
	return nil
}

func (q *Queue) scanSignals(ctx context.Context, key string) ([]*signal.Signal, error) {
	members, err := q.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*signal.Signal, 0, len(members))
	for _, m := range members {
		sig, err := signal.Unmarshal([]byte(m))
		if err != nil {
			log.Printf("⚠️  skipping unparseable queue member in %s: %v", key, err)
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// HasPending reports whether `main` (optionally excluding delayed
// entries) or `processing` contains an entry for symbol, optionally
// restricted to a single signal type.
func (q *Queue) HasPending(ctx context.Context, symbol string, typ *signal.Type, excludeDelayed bool) (bool, error) {
	now := time.Now().Unix()

	mainSigs, err := q.scanSignals(ctx, q.mainKey())
	if err != nil {
		return false, err
	}
	for _, s := range mainSigs {
		if s.Symbol != symbol {
			continue
		}
		if typ != nil && s.Type != *typ {
			continue
		}
		if excludeDelayed && s.RetryAfter != nil && *s.RetryAfter > now {
			continue
		}
		return true, nil
	}

	procSigs, err := q.scanSignals(ctx, q.processingKey())
	if err != nil {
		return false, err
	}
	for _, s := range procSigs {
		if s.Symbol != symbol {
			continue
		}
		if typ != nil && s.Type != *typ {
			continue
		}
		return true, nil
	}
	return false, nil
}

// HasOppositeDirection reports whether `main` or `processing` contains a
// signal for symbol whose family is the opposite of side (spec.md §4.5.2
// layer 2 / §4.3 "Exit-signal dedup").
func (q *Queue) HasOppositeDirection(ctx context.Context, symbol string, side signal.Side) (bool, error) {
	all, err := q.scanSignals(ctx, q.mainKey())
	if err != nil {
		return false, err
	}
	proc, err := q.scanSignals(ctx, q.processingKey())
	if err != nil {
		return false, err
	}
	all = append(all, proc...)

	for _, s := range all {
		if s.Symbol != symbol {
			continue
		}
		if side == signal.SideBuy && s.Type.IsSellFamily() {
			return true, nil
		}
		if side == signal.SideSell && s.Type.IsBuyFamily() {
			return true, nil
		}
	}
	return false, nil
}

// GetPendingSymbols returns the set of symbols present in `main` or
// `processing`.
func (q *Queue) GetPendingSymbols(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, key := range []string{q.mainKey(), q.processingKey()} {
		sigs, err := q.scanSignals(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			out[s.Symbol] = struct{}{}
		}
	}
	return out, nil
}

// GetDelayedSignals returns `main` entries with a retry_after in the
// future, scored at least minScore (priority), emitted within maxAge.
func (q *Queue) GetDelayedSignals(ctx context.Context, minScore int, maxAge time.Duration) ([]*signal.Signal, error) {
	sigs, err := q.scanSignals(ctx, q.mainKey())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []*signal.Signal
	for _, s := range sigs {
		if s.RetryAfter == nil || *s.RetryAfter <= now.Unix() {
			continue
		}
		if s.Priority < minScore {
			continue
		}
		if maxAge > 0 && now.Sub(s.QueuedAt) > maxAge {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// GetFailedSignals returns `failed` entries scored at least minScore,
// failed within maxAge.
func (q *Queue) GetFailedSignals(ctx context.Context, minScore int, maxAge time.Duration) ([]*signal.Signal, error) {
	sigs, err := q.scanSignals(ctx, q.failedKey())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []*signal.Signal
	for _, s := range sigs {
		if s.Priority < minScore {
			continue
		}
		if s.FailedAt != nil && maxAge > 0 && now.Sub(*s.FailedAt) > maxAge {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// RecoverFailed moves sig from `failed` back to `main`, clearing its
// retry fields. Returns false if sig was not found in `failed`.
func (q *Queue) RecoverFailed(ctx context.Context, sig *signal.Signal) (bool, error) {
	raw := sig.OriginalJSON()
	if raw == nil {
		return false, fmt.Errorf("recover_failed: signal %s has no original bytes", sig.Symbol)
	}
	n, err := q.rdb.ZRem(ctx, q.failedKey(), raw).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	sig.RetryAfter = nil
	sig.RetryCount = 0
	sig.FailedAt = nil
	newRaw, err := sig.Marshal()
	if err != nil {
		return false, err
	}
	if err := q.rdb.ZAdd(ctx, q.mainKey(), redis.Z{Score: float64(-sig.Priority), Member: newRaw}).Err(); err != nil {
		return false, err
	}
	sig.WithOriginalJSON(newRaw)
	return true, nil
}

// WakeUpDelayed strips retry_after from every delayed entry in `main` so
// the next Consume can return one immediately, called right after a
// successful sell per spec.md §4.1/§4.3.
func (q *Queue) WakeUpDelayed(ctx context.Context) (int, error) {
	sigs, err := q.scanSignals(ctx, q.mainKey())
	if err != nil {
		return 0, err
	}

	woken := 0
	for _, s := range sigs {
		if s.RetryAfter == nil {
			continue
		}
		oldRaw := s.OriginalJSON()
		s.RetryAfter = nil
		newRaw, err := s.Marshal()
		if err != nil {
			log.Printf("⚠️  wake_up_delayed: failed to re-marshal %s: %v", s.Symbol, err)
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.mainKey(), oldRaw)
		pipe.ZAdd(ctx, q.mainKey(), redis.Z{Score: float64(-s.Priority), Member: newRaw})
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("⚠️  wake_up_delayed: pipeline failed for %s: %v", s.Symbol, err)
			continue
		}
		woken++
	}
	if woken > 0 {
		log.Printf("⏰ woke %d delayed signal(s) for account %s", woken, q.account)
	}
	return woken, nil
}

// CountDelayed returns the number of `main` entries still carrying a
// future retry_after.
func (q *Queue) CountDelayed(ctx context.Context) (int, error) {
	sigs, err := q.scanSignals(ctx, q.mainKey())
	if err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	n := 0
	for _, s := range sigs {
		if s.RetryAfter != nil && *s.RetryAfter > now {
			n++
		}
	}
	return n, nil
}

// Package policy maps a bank's observation and strategic priority to a
// discrete action, either through Nash best-response reasoning over a 2x2
// lending game or through layered heuristics.
package policy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/systemiq/banknet/internal/bank"
)

// Oracle returns the strategic priority for a bank given its observation.
// Implementations may be remote; the kernel substitutes RuleBasedOracle on
// any error.
type Oracle interface {
	Priority(obs bank.Observation) (bank.Priority, error)
}

// RuleBasedOracle is the deterministic fallback. Banks with healthy
// financials pursue PROFIT; only genuine stress switches them to STABILITY
// or LIQUIDITY.
type RuleBasedOracle struct{}

// Priority applies the fallback decision table. Never returns an error.
func (RuleBasedOracle) Priority(obs bank.Observation) (bank.Priority, error) {
	// Emergency rules first.
	if obs.LocalStress > 0.5 {
		return bank.PriorityStability, nil
	}
	if obs.Equity < 15 || obs.Cash < 15 {
		return bank.PriorityLiquidity, nil
	}
	if obs.Leverage > 5.0 {
		return bank.PriorityStability, nil
	}
	if obs.LiquidityRatio < 0.12 {
		return bank.PriorityLiquidity, nil
	}

	// Normal operation.
	if obs.RiskAppetite > 0.6 {
		return bank.PriorityProfit, nil
	}
	if obs.Cash > 40 && obs.Equity > 30 && obs.Leverage < 3.0 {
		return bank.PriorityProfit, nil
	}
	if obs.LocalStress > 0.3 || obs.Leverage > 3.5 {
		return bank.PriorityStability, nil
	}
	if obs.Cash > 25 && obs.Equity > 20 {
		return bank.PriorityProfit, nil
	}
	return bank.PriorityStability, nil
}

// CachedOracle memoises another oracle behind a bucket-quantised key with a
// short TTL, so near-identical observations within the window get equal
// priorities without repeated upstream calls.
type CachedOracle struct {
	inner Oracle
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPriority
}

type cachedPriority struct {
	priority bank.Priority
	expires  time.Time
}

// NewCachedOracle wraps an oracle with a TTL cache.
func NewCachedOracle(inner Oracle, ttl time.Duration) *CachedOracle {
	return &CachedOracle{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedPriority),
	}
}

// Priority returns the cached priority when a fresh entry exists, otherwise
// consults the inner oracle. Errors are not cached.
func (c *CachedOracle) Priority(obs bank.Observation) (bank.Priority, error) {
	key := quantiseKey(obs)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.priority, nil
	}
	c.mu.Unlock()

	p, err := c.inner.Priority(obs)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[key] = cachedPriority{priority: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}

// quantiseKey buckets the fields the decision tables actually read, so small
// balance-sheet drift between steps hits the same entry.
func quantiseKey(obs bank.Observation) string {
	return fmt.Sprintf("%d|%d|%d|%d|%d|%d|%d",
		obs.BankID,
		bucket(obs.Cash, 10),
		bucket(obs.Equity, 10),
		bucket(obs.Leverage, 0.5),
		bucket(obs.LiquidityRatio, 0.05),
		bucket(obs.LocalStress, 0.1),
		bucket(obs.RiskAppetite, 0.1),
	)
}

func bucket(v, width float64) int {
	return int(math.Floor(v / width))
}

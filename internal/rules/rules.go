// Package rules is the dynamic rule engine (spec.md §4.5): a TTL-cached,
// priority-ordered rule list evaluated first-match-wins against the
// feature bag via internal/rules/expr's sandboxed evaluator.
package rules

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/onebullex/risk-engine/internal/models"
	"github.com/onebullex/risk-engine/internal/rules/expr"
)

const DefaultTTL = 300 * time.Second

// Loader fetches the current ACTIVE rule set from storage, ordered by
// priority ascending then rule_id.
type Loader interface {
	LoadActiveRules(ctx context.Context) ([]models.Rule, error)
}

// Cache holds the in-process rule list, refreshed on expiry. On fetch
// failure the previous cached list is retained; with no prior cache the
// engine behaves as if no rules are defined (spec.md §4.5).
type Cache struct {
	loader Loader
	ttl    time.Duration

	mu        sync.Mutex
	rules     []compiledRule
	fetchedAt time.Time
}

type compiledRule struct {
	rule models.Rule
	expr expr.Expr
}

func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader, ttl: DefaultTTL}
}

// WithTTL overrides the default refresh interval, used by tests.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	c.ttl = ttl
	return c
}

func (c *Cache) refreshLocked(ctx context.Context) {
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) <= c.ttl {
		return
	}

	fetched, err := c.loader.LoadActiveRules(ctx)
	if err != nil {
		log.Printf("[RULES] refresh failed, serving stale cache (%d rules): %v", len(c.rules), err)
		c.fetchedAt = time.Now() // avoid hammering storage every call while it's down
		return
	}

	compiled := make([]compiledRule, 0, len(fetched))
	for _, r := range fetched {
		node, err := expr.Parse(r.LogicExpression)
		if err != nil {
			log.Printf("[RULES] rule %s has unparseable expression, skipping: %v", r.RuleID, err)
			continue
		}
		compiled = append(compiled, compiledRule{rule: r, expr: node})
	}

	c.rules = compiled
	c.fetchedAt = time.Now()
}

// Evaluate runs the cached rules in priority order and returns the first
// one whose expression is satisfied, or nil if none match. Expression
// errors at evaluation time are logged and treated as non-matching.
func (c *Cache) Evaluate(ctx context.Context, bag models.FeatureBag) (*models.Rule, error) {
	c.mu.Lock()
	c.refreshLocked(ctx)
	rules := make([]compiledRule, len(c.rules))
	copy(rules, c.rules)
	c.mu.Unlock()

	scope := expr.MapScope(bag)
	for _, cr := range rules {
		matched, err := expr.Eval(cr.expr, scope)
		if err != nil {
			log.Printf("[RULES] rule %s raised during evaluation, skipping: %v", cr.rule.RuleID, err)
			continue
		}
		if matched {
			r := cr.rule
			return &r, nil
		}
	}
	return nil, nil
}

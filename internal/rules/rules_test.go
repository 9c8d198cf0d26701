package rules

import (
	"context"
	"testing"
	"time"

	"github.com/onebullex/risk-engine/internal/models"
)

type fakeLoader struct {
	calls int
	rules []models.Rule
	err   error
}

func (f *fakeLoader) LoadActiveRules(ctx context.Context) ([]models.Rule, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func TestEvaluate_FirstMatchWinsByPriority(t *testing.T) {
	loader := &fakeLoader{rules: []models.Rule{
		{RuleID: "r2", Priority: 2, Status: models.RuleStatusActive, LogicExpression: "withdrawal_amount > 100", Action: models.ActionHold},
		{RuleID: "r1", Priority: 1, Status: models.RuleStatusActive, LogicExpression: "withdrawal_amount > 10000", Action: models.ActionReject},
	}}
	// Loader is expected to already return priority-ordered rows; the cache
	// trusts that ordering rather than re-sorting.
	loader.rules = []models.Rule{loader.rules[1], loader.rules[0]}

	c := NewCache(loader)
	bag := models.FeatureBag{"withdrawal_amount": 20000.0}

	matched, err := c.Evaluate(context.Background(), bag)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if matched == nil || matched.RuleID != "r1" {
		t.Fatalf("expected r1 (higher priority, lower number) to win, got %+v", matched)
	}
}

func TestEvaluate_TTLServesStaleUntilExpiry(t *testing.T) {
	loader := &fakeLoader{rules: []models.Rule{
		{RuleID: "r1", Priority: 1, Status: models.RuleStatusActive, LogicExpression: "true", Action: models.ActionHold},
	}}
	c := NewCache(loader).WithTTL(50 * time.Millisecond)
	bag := models.FeatureBag{}

	if _, err := c.Evaluate(context.Background(), bag); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if _, err := c.Evaluate(context.Background(), bag); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected 1 load within TTL, got %d", loader.calls)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := c.Evaluate(context.Background(), bag); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected a second load after TTL expiry, got %d", loader.calls)
	}
}

func TestEvaluate_NoMatchReturnsNil(t *testing.T) {
	loader := &fakeLoader{rules: []models.Rule{
		{RuleID: "r1", Priority: 1, Status: models.RuleStatusActive, LogicExpression: "withdrawal_amount > 999999", Action: models.ActionReject},
	}}
	c := NewCache(loader)
	matched, err := c.Evaluate(context.Background(), models.FeatureBag{"withdrawal_amount": 10.0})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if matched != nil {
		t.Fatalf("expected no match, got %+v", matched)
	}
}

func TestEvaluate_UnparseableExpressionSkipped(t *testing.T) {
	loader := &fakeLoader{rules: []models.Rule{
		{RuleID: "bad", Priority: 1, Status: models.RuleStatusActive, LogicExpression: "a[0]", Action: models.ActionReject},
		{RuleID: "good", Priority: 2, Status: models.RuleStatusActive, LogicExpression: "true", Action: models.ActionHold},
	}}
	c := NewCache(loader)
	matched, err := c.Evaluate(context.Background(), models.FeatureBag{})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if matched == nil || matched.RuleID != "good" {
		t.Fatalf("expected the malformed rule to be skipped and 'good' to match, got %+v", matched)
	}
}

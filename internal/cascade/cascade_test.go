package cascade

import (
	"context"
	"strings"
	"testing"

	"github.com/onebullex/risk-engine/internal/models"
	"github.com/onebullex/risk-engine/internal/verdictsink"
)

type fakeLogger struct {
	records []models.DecisionRecord
}

func (f *fakeLogger) LogDecision(ctx context.Context, rec models.DecisionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeBroadcaster struct {
	payloads [][]byte
}

func (f *fakeBroadcaster) Broadcast(data []byte) {
	f.payloads = append(f.payloads, data)
}

func newTestSink() (*verdictsink.Sink, *fakeLogger, *fakeBroadcaster) {
	logger := &fakeLogger{}
	broadcaster := &fakeBroadcaster{}
	return verdictsink.New(logger, "", broadcaster), logger, broadcaster
}

func TestDecide_NilBagReturnsNoDataHold(t *testing.T) {
	sink, logger, broadcaster := newTestSink()
	c := &Cascade{Sink: sink}

	v := c.Decide(context.Background(), "U1", "T1", nil)

	if v.Decision != models.DecisionHold {
		t.Fatalf("expected HOLD for nil bag, got %v", v.Decision)
	}
	if v.Source != "NO_DATA" {
		t.Fatalf("expected NO_DATA source, got %s", v.Source)
	}
	if len(logger.records) != 1 {
		t.Fatalf("expected exactly one decision record logged, got %d", len(logger.records))
	}
	if logger.records[0].UserCode != "U1" || logger.records[0].TxnID != "T1" {
		t.Fatalf("decision record missing user/txn identifiers: %+v", logger.records[0])
	}
	// HOLD must always reach the live feed.
	if len(broadcaster.payloads) != 1 {
		t.Fatalf("expected one feed broadcast, got %d", len(broadcaster.payloads))
	}
}

func TestToRecord_NilBagProducesEmptySnapshot(t *testing.T) {
	v := models.Verdict{Decision: models.DecisionPass, RiskScore: 0, Source: "X"}
	rec := toRecord("U1", "T1", nil, v)
	if rec.FeaturesSnapshot != "" {
		t.Fatalf("expected empty snapshot for nil bag, got %q", rec.FeaturesSnapshot)
	}
	if rec.Confidence != 0 {
		t.Fatalf("expected zero-risk PASS to derive confidence 0, got %v", rec.Confidence)
	}
}

func TestToRecord_AIFallbackSentinelDerivesFullConfidence(t *testing.T) {
	v := models.Verdict{Decision: models.DecisionHold, RiskScore: -1, Source: "AI_AGENT"}
	rec := toRecord("U1", "T1", models.FeatureBag{"a": 1}, v)
	if rec.Confidence != 1.0 {
		t.Fatalf("expected sentinel risk_score -1 to derive confidence 1.0, got %v", rec.Confidence)
	}
	if !strings.Contains(rec.FeaturesSnapshot, "\"a\"") {
		t.Fatalf("expected snapshot to contain marshaled bag, got %q", rec.FeaturesSnapshot)
	}
}

func TestToRecord_PopulatesCurrencyAndAmountFromBag(t *testing.T) {
	v := models.Verdict{Decision: models.DecisionHold, RiskScore: 80, Source: "RULE"}
	bag := models.FeatureBag{"withdraw_currency": "BTC", "withdrawal_amount": 1.25}
	rec := toRecord("U1", "T1", bag, v)
	if rec.WithdrawCurrency != "BTC" {
		t.Fatalf("expected withdraw currency BTC, got %q", rec.WithdrawCurrency)
	}
	if rec.WithdrawalAmount != 1.25 {
		t.Fatalf("expected withdrawal amount 1.25, got %v", rec.WithdrawalAmount)
	}
}

func TestToRecord_FallsBackToUSDAmountKey(t *testing.T) {
	v := models.Verdict{Decision: models.DecisionHold, RiskScore: 80, Source: "RULE"}
	bag := models.FeatureBag{"withdraw_currency": "ETH", "withdrawal_amount_usd": 99.5}
	rec := toRecord("U1", "T1", bag, v)
	if rec.WithdrawalAmount != 99.5 {
		t.Fatalf("expected withdrawal amount from usd fallback key, got %v", rec.WithdrawalAmount)
	}
}

func TestFirstReasonOrNarrative(t *testing.T) {
	withReasons := models.Verdict{Reasons: []string{"first", "second"}, Narrative: "narr"}
	if got := firstReasonOrNarrative(withReasons); got != "first" {
		t.Fatalf("expected first reason, got %q", got)
	}
	withoutReasons := models.Verdict{Narrative: "narr"}
	if got := firstReasonOrNarrative(withoutReasons); got != "narr" {
		t.Fatalf("expected narrative fallback, got %q", got)
	}
}

func TestExtractEmailDomain(t *testing.T) {
	tests := []struct {
		name string
		bag  models.FeatureBag
		want string
	}{
		{"user_email field", models.FeatureBag{"user_email": "Alice@Example.COM"}, "example.com"},
		{"email field fallback", models.FeatureBag{"email": "bob@other.io"}, "other.io"},
		{"missing email", models.FeatureBag{}, ""},
		{"malformed, no at-sign", models.FeatureBag{"email": "not-an-email"}, ""},
		{"trailing at-sign", models.FeatureBag{"email": "bob@"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractEmailDomain(tt.bag); got != tt.want {
				t.Errorf("extractEmailDomain(%+v) = %q, want %q", tt.bag, got, tt.want)
			}
		})
	}
}

func TestStageLowRiskShortcut_SkipsWhenRequiredFeatureMissing(t *testing.T) {
	st := &cascadeState{userCode: "U1", txnID: "T1", bag: models.FeatureBag{
		"is_new_device": false,
		"is_new_ip":     false,
	}}
	v, err := stageLowRiskShortcut(context.Background(), &Cascade{}, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected shortcut to be skipped on missing features, got %+v", v)
	}
}

func TestStageLowRiskShortcut_AcceptsAlternateKeyNames(t *testing.T) {
	sink, _, _ := newTestSink()
	c := &Cascade{Sink: sink}
	st := &cascadeState{userCode: "U1", txnID: "T1", bag: models.FeatureBag{
		"is_new_device":              false,
		"is_new_ip":                  false,
		"is_new_destination_address": false,
		"account_maturity_days":      30,
		"withdrawal_amount_usd":      100,
	}}
	v, err := stageLowRiskShortcut(context.Background(), c, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		t.Fatal("expected low-risk shortcut to fire with alternate key names")
	}
	if v.Decision != models.DecisionPass || v.Source != "RULE_ENGINE_LOW_RISK" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestStageLowRiskShortcut_DoesNotFireAboveThresholds(t *testing.T) {
	sink, _, _ := newTestSink()
	c := &Cascade{Sink: sink}
	st := &cascadeState{userCode: "U1", txnID: "T1", bag: models.FeatureBag{
		"is_new_device":              false,
		"is_new_ip":                  false,
		"is_new_destination_address": false,
		"account_maturity":           30,
		"withdrawal_amount":          50000, // above the $5,000 low-risk ceiling
	}}
	v, err := stageLowRiskShortcut(context.Background(), c, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected no shortcut above the amount ceiling, got %+v", v)
	}
}

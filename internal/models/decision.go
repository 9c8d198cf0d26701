package models

// Decision is the three-way verdict the cascade produces.
type Decision string

const (
	DecisionPass   Decision = "PASS"
	DecisionHold   Decision = "HOLD"
	DecisionReject Decision = "REJECT"
)

// DecisionRecord is persisted once per cascade stage that produces a
// terminal verdict. Greylist and rule-HOLD paths produce two records
// (rule/list stage, then AI stage), distinguished by DecisionSource.
type DecisionRecord struct {
	UserCode         string   `json:"user_code"`
	TxnID            string   `json:"txn_id"`
	Decision         Decision `json:"decision"`
	WithdrawCurrency string   `json:"withdraw_currency"`
	WithdrawalAmount float64  `json:"withdrawal_amount"`
	PrimaryThreat    string   `json:"primary_threat"`
	Confidence       float64  `json:"confidence"` // clamped to [0,1]
	Narrative        string   `json:"narrative"`
	FeaturesSnapshot string   `json:"features_snapshot"`
	DecisionSource   string   `json:"decision_source"`
	LLMReasoning     string   `json:"llm_reasoning,omitempty"`
	RiskScore        int      `json:"risk_score"`
}

// ConfidenceFromRiskScore derives a decision record's confidence from
// risk_score per spec.md §4.8: risk_score/100 clamped to [0,1], with a
// negative risk_score (the AI fallback sentinel) mapping to 1.0 — "hard
// rule, not probabilistic". An explicit confidence is handled by
// Verdict.EffectiveConfidence.
func ConfidenceFromRiskScore(riskScore int) float64 {
	if riskScore < 0 {
		return 1.0
	}
	c := float64(riskScore) / 100.0
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Verdict is the in-flight result of a cascade stage or the AI agent,
// before it is written to a DecisionRecord and serialized to the caller.
type Verdict struct {
	Decision       Decision
	PrimaryThreat  string
	RiskScore      int
	Confidence     float64 // 0 means "derive from RiskScore"
	Narrative      string
	Reasons        []string
	Source         string
	LLMReasoning   string
	RuleAlignment  string
}

// EffectiveConfidence returns the verdict's confidence, deriving it from
// RiskScore when no explicit value was set.
func (v Verdict) EffectiveConfidence() float64 {
	if v.Confidence > 0 {
		if v.Confidence > 1 {
			return 1
		}
		return v.Confidence
	}
	return ConfidenceFromRiskScore(v.RiskScore)
}

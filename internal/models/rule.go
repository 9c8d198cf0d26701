package models

// RuleStatus mirrors risk_rules.status; only ACTIVE rules are considered by
// the rule cache.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "ACTIVE"
	RuleStatusInactive RuleStatus = "INACTIVE"
)

// Action is the verdict a matched rule or the AI agent produces.
type Action string

const (
	ActionPass   Action = "PASS"
	ActionHold   Action = "HOLD"
	ActionReject Action = "REJECT"
)

// Rule is a single row from risk_rules: a priority-ordered, side-effect-free
// boolean expression over feature names, mapped to an action.
type Rule struct {
	RuleID          string     `json:"rule_id"`
	RuleName        string     `json:"rule_name"`
	Priority        int        `json:"priority"`
	Status          RuleStatus `json:"status"`
	LogicExpression string     `json:"logic_expression"`
	Action          Action     `json:"action"`
	Narrative       string     `json:"narrative"`
}

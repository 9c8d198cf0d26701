// Package cascade implements the decision cascade (spec.md §4.3): a fixed,
// ordered, short-circuiting pipeline of nine stages over a withdrawal's
// feature bag. This generalizes the teacher's internal/heuristics
// convention of small composable analysis functions run in sequence over a
// shared transaction/result value — here the shared value is a
// *cascadeState* carrying the feature bag instead of a parsed Bitcoin
// transaction.
package cascade

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/onebullex/risk-engine/internal/db"
	"github.com/onebullex/risk-engine/internal/enrichment"
	"github.com/onebullex/risk-engine/internal/liststore"
	"github.com/onebullex/risk-engine/internal/models"
	"github.com/onebullex/risk-engine/internal/rules"
	"github.com/onebullex/risk-engine/internal/verdictsink"
)

// AIAgent is the subset of internal/aiagent.Client the cascade calls.
type AIAgent interface {
	Evaluate(ctx context.Context, bag models.FeatureBag, escalatingRule *models.Rule) models.Verdict
}

// Cascade wires together every collaborator named in spec.md §4.3.
type Cascade struct {
	Lists      *liststore.Store
	Sanctions  *enrichment.SanctionsClient
	Age        *enrichment.DestinationAgeClient
	Rules      *rules.Cache
	AI         AIAgent
	Sink       *verdictsink.Sink
	DB         *db.Store
}

// cascadeState is threaded through every stage.
type cascadeState struct {
	userCode string
	txnID    string
	bag      models.FeatureBag
}

type stage func(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error)

var stages = []stage{
	stageUserAllowList,
	stageAddressAllowList,
	stageLowRiskShortcut,
	stageDerivedFeatures,
	stageSanctionsAndAge,
	stageBlacklists,
	stageGreylist,
	stageDynamicRules,
}

// Decide runs the full cascade for one withdrawal attempt and returns the
// final verdict delivered to the caller. Every terminal stage logs its own
// decision record(s) before returning; Decide itself logs only the two
// verdicts no stage produces: the NO_DATA hold for a nil bag and the
// default PASS.
func (c *Cascade) Decide(ctx context.Context, userCode, txnID string, bag models.FeatureBag) models.Verdict {
	if bag == nil {
		return c.terminal(ctx, userCode, txnID, bag, models.Verdict{
			Decision:      models.DecisionHold,
			PrimaryThreat: "UNKNOWN",
			RiskScore:     0,
			Narrative:     "no risk features available for this withdrawal",
			Source:        "NO_DATA",
		})
	}

	st := &cascadeState{userCode: userCode, txnID: txnID, bag: bag}

	for _, s := range stages {
		verdict, err := s(ctx, c, st)
		if err != nil {
			log.Printf("[CASCADE] stage error for %s/%s, continuing: %v", userCode, txnID, err)
			continue
		}
		if verdict != nil {
			return *verdict
		}
	}

	// 9. Default PASS.
	return c.terminal(ctx, userCode, txnID, st.bag, models.Verdict{
		Decision:      models.DecisionPass,
		PrimaryThreat: "NONE",
		RiskScore:     0,
		Narrative:     "no list, sanctions, or rule hit; defaulting to pass",
		Source:        "RULE_ENGINE_DEFAULT_PASS",
	})
}

// terminal logs a verdict and notifies the sink, then returns it — the
// shared tail every stage funnels into. Sink.Notify itself gates the chat
// webhook on decision being HOLD/REJECT; the live feed broadcast always
// fires.
func (c *Cascade) terminal(ctx context.Context, userCode, txnID string, bag models.FeatureBag, v models.Verdict) models.Verdict {
	rec := toRecord(userCode, txnID, bag, v)
	c.Sink.Log(ctx, rec)
	c.Sink.Notify(ctx, rec, firstReasonOrNarrative(v))
	return v
}

func toRecord(userCode, txnID string, bag models.FeatureBag, v models.Verdict) models.DecisionRecord {
	snapshot := ""
	var currency string
	var amount float64
	if bag != nil {
		snapshot, _ = bag.MarshalSnapshot()
		currency = bag.String("withdraw_currency")
		amount = bag.Float("withdrawal_amount")
		if amount == 0 {
			amount = bag.Float("withdrawal_amount_usd")
		}
	}
	return models.DecisionRecord{
		UserCode:         userCode,
		TxnID:            txnID,
		Decision:         v.Decision,
		WithdrawCurrency: currency,
		WithdrawalAmount: amount,
		PrimaryThreat:    v.PrimaryThreat,
		Confidence:       v.EffectiveConfidence(),
		Narrative:        v.Narrative,
		FeaturesSnapshot: snapshot,
		DecisionSource:   v.Source,
		LLMReasoning:     v.LLMReasoning,
		RiskScore:        v.RiskScore,
	}
}

func firstReasonOrNarrative(v models.Verdict) string {
	if len(v.Reasons) > 0 {
		return v.Reasons[0]
	}
	return v.Narrative
}

// --- stage 1: user allow-list ----------------------------------------------

func stageUserAllowList(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	userCode := st.bag.String("user_code")
	if userCode == "" {
		userCode = st.userCode
	}
	allowed, err := c.Lists.IsUserAllowed(ctx, userCode)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}
	v := models.Verdict{
		Decision:      models.DecisionPass,
		PrimaryThreat: "NONE",
		RiskScore:     0,
		Narrative:     "user is on the allow-list",
		Source:        "RULE_ENGINE_WHITELIST_USER",
	}
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, v)
	return &result, nil
}

// --- stage 2: destination-address allow-list -------------------------------

func stageAddressAllowList(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	address, _ := st.bag.GetAny("destination_address")
	addrStr, _ := address.(string)
	if addrStr == "" {
		return nil, nil
	}
	chain := st.bag.String("chain")

	allowed, err := c.Lists.IsAddressAllowed(ctx, addrStr, chain)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}
	v := models.Verdict{
		Decision:      models.DecisionPass,
		PrimaryThreat: "NONE",
		RiskScore:     0,
		Narrative:     "destination address is on the allow-list",
		Source:        "RULE_ENGINE_WHITELIST_ADDRESS",
	}
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, v)
	return &result, nil
}

// --- stage 3: low-risk shortcut ---------------------------------------------

var lowRiskRequiredKeys = []string{
	"is_new_device", "is_new_ip", "is_new_destination_address", "account_maturity", "withdrawal_amount",
}

func stageLowRiskShortcut(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	for _, k := range lowRiskRequiredKeys {
		if _, ok := st.bag.Get(k); !ok {
			if k == "account_maturity" {
				if _, ok := st.bag.Get("account_maturity_days"); ok {
					continue
				}
			}
			if k == "withdrawal_amount" {
				if _, ok := st.bag.Get("withdrawal_amount_usd"); ok {
					continue
				}
			}
			return nil, nil // required feature missing: skip the shortcut (spec.md §9 open question)
		}
	}

	maturity := st.bag.Float("account_maturity")
	if maturity == 0 {
		maturity = st.bag.Float("account_maturity_days")
	}
	amount := st.bag.Float("withdrawal_amount")
	if amount == 0 {
		amount = st.bag.Float("withdrawal_amount_usd")
	}

	lowRisk := !st.bag.Bool("is_new_device") &&
		!st.bag.Bool("is_new_ip") &&
		!st.bag.Bool("is_new_destination_address") &&
		maturity > 7 &&
		amount < 5000

	if !lowRisk {
		return nil, nil
	}

	v := models.Verdict{
		Decision:      models.DecisionPass,
		PrimaryThreat: "NONE",
		RiskScore:     0,
		Narrative:     "low-risk behavioral shortcut: known device/IP/address, mature account, small amount",
		Source:        "RULE_ENGINE_LOW_RISK",
	}
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, v)
	return &result, nil
}

// --- stage 4: derived-feature enrichment (never terminal) ------------------

const unknownDurationSentinel = 999999

func stageDerivedFeatures(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	if c.DB == nil {
		return nil, nil
	}

	updates := map[string]any{}

	if travel, ok := c.computeImpossibleTravel(ctx, st.userCode, st.txnID); ok {
		st.bag.Set("is_impossible_travel", travel)
		updates["is_impossible_travel"] = travel
	}

	if minutes, ok := c.computeTimeSinceLogin(ctx, st.userCode, st.txnID); ok {
		st.bag.Set("time_since_user_login", minutes)
		updates["time_since_user_login_seconds"] = minutes * 60
	}

	if len(updates) > 0 {
		if err := c.DB.UpdateFeatures(ctx, st.userCode, st.txnID, updates); err != nil {
			log.Printf("[CASCADE] best-effort derived-feature write failed for %s/%s: %v", st.userCode, st.txnID, err)
		}
	}

	return nil, nil
}

func (c *Cascade) computeImpossibleTravel(ctx context.Context, userCode, txnID string) (bool, bool) {
	withdrawAt, err := c.DB.WithdrawCreatedAt(ctx, userCode, txnID)
	if err != nil || withdrawAt == nil {
		return false, false
	}
	events, err := c.DB.LatestDeviceEventsBefore(ctx, userCode, *withdrawAt)
	if err != nil || len(events) < 2 {
		return false, false
	}
	current, prior := events[0], events[1]
	if current.CountryCode == "" || prior.CountryCode == "" {
		return false, true
	}
	if current.IsVPN || prior.IsVPN {
		return false, true
	}
	if current.CountryCode == prior.CountryCode {
		return false, true
	}
	delta := current.CreatedAt.Sub(prior.CreatedAt)
	return delta < time.Hour, true
}

func (c *Cascade) computeTimeSinceLogin(ctx context.Context, userCode, txnID string) (int64, bool) {
	withdrawAt, err := c.DB.WithdrawCreatedAt(ctx, userCode, txnID)
	if err != nil || withdrawAt == nil {
		return unknownDurationSentinel, true
	}
	loginAt, err := c.DB.LatestLoginAtOrBefore(ctx, userCode, *withdrawAt)
	if err != nil || loginAt == nil {
		return unknownDurationSentinel, true
	}
	minutes := int64(withdrawAt.Sub(*loginAt).Minutes())
	if minutes < 0 {
		minutes = unknownDurationSentinel
	}
	return minutes, true
}

// --- stage 5: sanctions + destination-age enrichment ------------------------

func stageSanctionsAndAge(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	address := st.bag.String("destination_address")
	if address == "" {
		return nil, nil
	}

	if c.Age != nil {
		if existing := st.bag.Int("destination_age_hours"); existing == 0 {
			if hours := c.Age.FetchHours(address); hours != nil {
				st.bag.Set("destination_age_hours", *hours)
				if c.DB != nil {
					if err := c.DB.UpdateFeatures(ctx, st.userCode, st.txnID, map[string]any{"destination_age_hours": *hours}); err != nil {
						log.Printf("[CASCADE] best-effort age write failed for %s/%s: %v", st.userCode, st.txnID, err)
					}
				}
			}
		}
	}

	if c.Sanctions == nil {
		return nil, nil
	}
	sanctioned := c.Sanctions.Check(address)
	st.bag.Set("is_sanctioned", sanctioned)
	if c.DB != nil {
		if err := c.DB.UpdateFeatures(ctx, st.userCode, st.txnID, map[string]any{"is_sanctioned": sanctioned}); err != nil {
			log.Printf("[CASCADE] best-effort sanctions write failed for %s/%s: %v", st.userCode, st.txnID, err)
		}
	}
	if !sanctioned {
		return nil, nil
	}

	v := models.Verdict{
		Decision:      models.DecisionReject,
		PrimaryThreat: "SANCTIONS",
		RiskScore:     100,
		Narrative:     "destination address matched a sanctions screening hit",
		Source:        "SANCTIONS_ENGINE",
	}
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, v)
	return &result, nil
}

// --- stage 6: blacklists ----------------------------------------------------

func stageBlacklists(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	address := st.bag.String("destination_address")
	chain := st.bag.String("chain")
	fingerprint := st.bag.String("device_fingerprint")
	ip := st.bag.String("ip_address")
	if ip == "" {
		ip = st.bag.String("client_ip")
	}
	emailDomain := extractEmailDomain(st.bag)

	entry, err := c.Lists.CheckDenyLists(ctx, st.userCode, address, chain, fingerprint, ip, emailDomain)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	v := models.Verdict{
		Decision:      models.DecisionReject,
		PrimaryThreat: "BLACKLIST",
		RiskScore:     100,
		Narrative:     entry.Reason,
		Source:        "RULE_ENGINE_BLACKLIST",
	}
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, v)
	return &result, nil
}

func extractEmailDomain(bag models.FeatureBag) string {
	email := bag.String("user_email")
	if email == "" {
		email = bag.String("email")
	}
	idx := strings.LastIndex(email, "@")
	if idx < 0 || idx == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[idx+1:])
}

// --- stage 7: greylist (+ AI) -----------------------------------------------

func stageGreylist(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	address := st.bag.String("destination_address")
	fingerprint := st.bag.String("device_fingerprint")
	ip := st.bag.String("ip_address")
	if ip == "" {
		ip = st.bag.String("client_ip")
	}
	emailDomain := extractEmailDomain(st.bag)

	entry, err := c.Lists.CheckGreylist(ctx, st.userCode, address, fingerprint, ip, emailDomain)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	ruleVerdict := models.Verdict{
		Decision:      models.DecisionHold,
		PrimaryThreat: "GREYLIST",
		RiskScore:     80,
		Narrative:     entry.Reason,
		Source:        "RULE_ENGINE_GREYLIST",
	}
	c.terminal(ctx, st.userCode, st.txnID, st.bag, ruleVerdict)

	aiVerdict := c.AI.Evaluate(ctx, st.bag, nil)
	aiVerdict.Source = "AI_AGENT_GREYLIST"
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, aiVerdict)
	return &result, nil
}

// --- stage 8: dynamic rules (+ AI on HOLD) ----------------------------------

func stageDynamicRules(ctx context.Context, c *Cascade, st *cascadeState) (*models.Verdict, error) {
	if c.Rules == nil {
		return nil, nil
	}
	matched, err := c.Rules.Evaluate(ctx, st.bag)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, nil
	}

	narrative := "[Rule #" + matched.RuleID + "] " + matched.Narrative
	ruleVerdict := models.Verdict{
		Decision:      models.Decision(matched.Action),
		PrimaryThreat: "RULE_HIT",
		RiskScore:     100,
		Narrative:     narrative,
		Source:        "RULE_ENGINE_RULES",
	}

	if matched.Action != models.ActionHold {
		result := c.terminal(ctx, st.userCode, st.txnID, st.bag, ruleVerdict)
		return &result, nil
	}

	c.terminal(ctx, st.userCode, st.txnID, st.bag, ruleVerdict)

	aiVerdict := c.AI.Evaluate(ctx, st.bag, matched)
	aiVerdict.Source = "AI_AGENT_RULE_HOLD"
	result := c.terminal(ctx, st.userCode, st.txnID, st.bag, aiVerdict)
	return &result, nil
}

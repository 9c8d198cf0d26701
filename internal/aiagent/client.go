// Package aiagent wraps the hosted-LLM second-opinion call (spec.md §4.6):
// a fixed system prompt plus the JSON-serialized feature bag (and optional
// rule context), with bounded retry and a fallback verdict that never
// fails the cascade.
package aiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/onebullex/risk-engine/internal/models"
)

const (
	maxAttempts  = 3
	retryBackoff = time.Second
	callTimeout  = 30 * time.Second
)

// Client talks to the configured generative model, grounded in
// other_examples' hf_dsl_agent.go.go genai usage — the pack's own answer
// for "talk to a hosted LLM from Go", replacing the distilled source's raw
// REST call to the Gemini endpoint.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	apiKey string
}

// NewClient returns an empty, usable Client (and a nil error) when apiKey
// is empty: spec.md §4.6 requires a missing API key to short-circuit to the
// fallback verdict before any network call, and Evaluate on such a client
// returns that fallback without touching the network.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return &Client{}, nil
	}

	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("aiagent: create genai client: %w", err)
	}

	model := gc.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}

	return &Client{client: gc, model: model, apiKey: apiKey}, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

type agentResponse struct {
	Decision      string  `json:"decision"`
	RiskScore     int     `json:"risk_score"`
	PrimaryThreat string  `json:"primary_threat"`
	Confidence    float64 `json:"confidence"`
	Narrative     string  `json:"narrative"`
	RuleAlignment string  `json:"rule_alignment"`
}

// Evaluate submits the feature bag (and, for the rule-HOLD escalation
// path, the rule that matched) to the model and returns a validated
// verdict. It never returns an error: any failure is folded into the
// fallback verdict, per spec.md §4.6 ("the agent never fails the cascade").
func (c *Client) Evaluate(ctx context.Context, bag models.FeatureBag, escalatingRule *models.Rule) models.Verdict {
	if c.apiKey == "" {
		log.Printf("[AI_AGENT] no API key configured, returning fallback verdict")
		return fallbackVerdict("AI_ERR")
	}

	payload, err := bag.MarshalSnapshot()
	if err != nil {
		log.Printf("[AI_AGENT] failed to serialize feature bag: %v", err)
		return fallbackVerdict("AI_ERR")
	}

	prompt := systemPrompt
	if escalatingRule != nil {
		prompt += ruleContextHeader + fmt.Sprintf("Rule #%s: %s\n", escalatingRule.RuleID, escalatingRule.Narrative)
	}

	c.model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompt)},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		verdict, err := c.attempt(ctx, payload)
		if err == nil {
			return verdict
		}
		lastErr = err
		log.Printf("[AI_AGENT] attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return fallbackVerdict("AI_NET_ERR")
			case <-time.After(retryBackoff):
			}
		}
	}

	log.Printf("[AI_AGENT] exhausted retries: %v", lastErr)
	return fallbackVerdict("AI_NET_ERR")
}

func (c *Client) attempt(ctx context.Context, payload string) (models.Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.model.GenerateContent(callCtx, genai.Text(payload))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return models.Verdict{}, fmt.Errorf("empty candidate list")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return models.Verdict{}, fmt.Errorf("unexpected response part type %T", resp.Candidates[0].Content.Parts[0])
	}

	cleaned := stripCodeFences(string(text))

	var parsed agentResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return models.Verdict{}, fmt.Errorf("unmarshal response: %w (body: %s)", err, cleaned)
	}

	if err := validateDecision(parsed.Decision); err != nil {
		return models.Verdict{}, fmt.Errorf("%w (body: %s)", err, cleaned)
	}

	return models.Verdict{
		Decision:      models.Decision(parsed.Decision),
		PrimaryThreat: parsed.PrimaryThreat,
		RiskScore:     parsed.RiskScore,
		Confidence:    parsed.Confidence,
		Narrative:     parsed.Narrative,
		RuleAlignment: parsed.RuleAlignment,
		Source:        "AI_AGENT",
	}, nil
}

// validateDecision rejects anything but the three contractual decision
// values (spec.md §4.6: "return a validated verdict"). An LLM returning a
// hallucinated or drifted value like "UNSURE" or "" is treated the same as
// a malformed response, not silently passed through to the cascade.
func validateDecision(d string) error {
	switch models.Decision(d) {
	case models.DecisionPass, models.DecisionHold, models.DecisionReject:
		return nil
	default:
		return fmt.Errorf("invalid decision value %q", d)
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// fallbackVerdict is the spec's sentinel verdict for "the AI agent could
// not be reached or returned garbage": HOLD, risk_score=-1 ("unknown"),
// confidence 0.5.
func fallbackVerdict(threat string) models.Verdict {
	return models.Verdict{
		Decision:      models.DecisionHold,
		PrimaryThreat: threat,
		RiskScore:     -1,
		Confidence:    0.5,
		Narrative:     "AI agent unavailable; defaulting to HOLD pending manual review.",
		Source:        "AI_AGENT",
	}
}

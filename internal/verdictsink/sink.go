// Package verdictsink is the decision log writer + chat webhook + live
// dashboard broadcaster (spec.md §4.8), generalized from
// internal/heuristics/alert_system.go's AlertManager: Bitcoin CoinJoin
// alerts become withdrawal HOLD/REJECT cards, and the severity-threshold
// webhook registry becomes a single configured chat webhook fired only for
// HOLD/REJECT.
package verdictsink

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/onebullex/risk-engine/internal/models"
)

// Logger persists decision records; satisfied by internal/db.Store.
type Logger interface {
	LogDecision(ctx context.Context, rec models.DecisionRecord) error
}

// Broadcaster pushes a JSON payload to the live dashboard feed; satisfied
// by internal/api.Hub.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Sink combines the decision log, the chat webhook, and the live feed.
type Sink struct {
	logger      Logger
	webhookURL  string
	httpClient  *http.Client
	broadcaster Broadcaster
}

func New(logger Logger, webhookURL string, broadcaster Broadcaster) *Sink {
	return &Sink{
		logger:      logger,
		webhookURL:  webhookURL,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		broadcaster: broadcaster,
	}
}

// Log persists one decision record. Best-effort: a storage failure is
// logged and the caller still returns its verdict (spec.md §4.8/§7).
func (s *Sink) Log(ctx context.Context, rec models.DecisionRecord) {
	if err := s.logger.LogDecision(ctx, rec); err != nil {
		log.Printf("[VERDICT_SINK] failed to persist decision record (user=%s txn=%s stage=%s): %v",
			rec.UserCode, rec.TxnID, rec.DecisionSource, err)
	}
}

type webhookCard struct {
	UserCode         string  `json:"user_code"`
	TxnID            string  `json:"txn_id"`
	Decision         string  `json:"decision"`
	WithdrawCurrency string  `json:"token"`
	WithdrawalAmount float64 `json:"amount"`
	PrimaryThreat    string  `json:"primary_threat"`
	RiskScore        int     `json:"risk_score"`
	Reason           string  `json:"reason"`
	Source           string  `json:"source"`
}

// Notify fires the chat webhook iff decision is HOLD or REJECT, and always
// broadcasts the verdict to the live dashboard feed. Webhook failures are
// caught and logged; they never affect the verdict (spec.md §4.8).
func (s *Sink) Notify(ctx context.Context, rec models.DecisionRecord, reason string) {
	s.broadcastFeed(rec)

	if rec.Decision != models.DecisionHold && rec.Decision != models.DecisionReject {
		return
	}
	if s.webhookURL == "" {
		return
	}

	if reason == "" {
		reason = rec.Narrative
	}

	card := webhookCard{
		UserCode:         rec.UserCode,
		TxnID:            rec.TxnID,
		Decision:         string(rec.Decision),
		WithdrawCurrency: rec.WithdrawCurrency,
		WithdrawalAmount: rec.WithdrawalAmount,
		PrimaryThreat:    rec.PrimaryThreat,
		RiskScore:        rec.RiskScore,
		Reason:           reason,
		Source:           rec.DecisionSource,
	}

	go s.sendWebhook(card)
}

func (s *Sink) sendWebhook(card webhookCard) {
	payload, err := json.Marshal(card)
	if err != nil {
		log.Printf("[VERDICT_SINK] failed to marshal webhook card: %v", err)
		return
	}

	req, err := http.NewRequest("POST", s.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[VERDICT_SINK] failed to build webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("[VERDICT_SINK] webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[VERDICT_SINK] webhook returned status %d", resp.StatusCode)
	}
}

func (s *Sink) broadcastFeed(rec models.DecisionRecord) {
	if s.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"user_code":      rec.UserCode,
		"txn_id":         rec.TxnID,
		"decision":       rec.Decision,
		"source":         rec.DecisionSource,
		"primary_threat": rec.PrimaryThreat,
		"risk_score":     rec.RiskScore,
	})
	if err != nil {
		log.Printf("[VERDICT_SINK] failed to marshal feed payload: %v", err)
		return
	}
	s.broadcaster.Broadcast(payload)
}

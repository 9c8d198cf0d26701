package ingress

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/onebullex/risk-engine/internal/cascade"
	"github.com/onebullex/risk-engine/internal/features"
)

// Handler wires the feature fetcher and decision cascade to a single
// POST endpoint, replacing original_source/index.py's handler.
type Handler struct {
	Fetcher *features.Fetcher
	Cascade *cascade.Cascade
}

func NewHandler(fetcher *features.Fetcher, c *cascade.Cascade) *Handler {
	return &Handler{Fetcher: fetcher, Cascade: c}
}

// responsePayload mirrors original_source/index.py's _make_response body
// shape, so existing callers of the Python version see the same fields.
type responsePayload struct {
	UserCode      string   `json:"user_code"`
	TxnID         string   `json:"txn_id"`
	Decision      string   `json:"decision"`
	Reasons       []string `json:"reasons"`
	RiskScore     int      `json:"risk_score"`
	PrimaryThreat string   `json:"primary_threat"`
	Source        string   `json:"source"`
}

// HandleHTTP is the gin handler for POST /api/v1/decide. It accepts a
// JSON or form-urlencoded body (optionally base64-encoded via
// ?base64=true), extracts (user_code, txn_id), fetches features, and
// runs the decision cascade.
func (h *Handler) HandleHTTP(c *gin.Context) {
	requestID := uuid.New().String()
	c.Writer.Header().Set("X-Request-Id", requestID)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request Parsing Failed: " + err.Error()})
		return
	}

	isBase64 := c.Query("base64") == "true" || c.GetHeader("X-Base64-Encoded") == "true"
	payload, err := DecodePayload(body, isBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request Parsing Failed: " + err.Error()})
		return
	}

	key, err := ExtractHTTPKey(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bag, err := h.Fetcher.Fetch(c.Request.Context(), key.UserCode, key.TxnID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feature fetch failed: " + err.Error()})
		return
	}

	verdict := h.Cascade.Decide(c.Request.Context(), key.UserCode, key.TxnID, bag)

	txnID := key.TxnID
	if bag != nil {
		if v := bag.String("txn_id"); v != "" {
			txnID = v
		}
	}

	reasons := verdict.Reasons
	if len(reasons) == 0 {
		reasons = []string{verdict.Narrative}
	}

	log.Printf("[%s] decide user_code=%s txn_id=%s decision=%s source=%s", requestID, key.UserCode, txnID, verdict.Decision, verdict.Source)

	c.JSON(http.StatusOK, responsePayload{
		UserCode:      key.UserCode,
		TxnID:         txnID,
		Decision:      string(verdict.Decision),
		Reasons:       reasons,
		RiskScore:     verdict.RiskScore,
		PrimaryThreat: verdict.PrimaryThreat,
		Source:        verdict.Source,
	})
}

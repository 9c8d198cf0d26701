// Package db is the storage layer shared by the online decision cascade
// and the async enrichment worker. It follows the teacher's pgx/v5 pool
// pattern: one pool per process, context-scoped queries, upsert-on-conflict
// writes.
package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onebullex/risk-engine/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Risk Engine")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *Store) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Risk engine schema initialized")
	return nil
}

// GetPool exposes the connection pool for subsystems that need it directly
// (the worker's batch upserts).
func (s *Store) GetPool() *pgxpool.Pool {
	return s.pool
}

// --- risk_features -------------------------------------------------------

// FetchFeatures reads the feature bag for an exact (user_code, txn_id).
func (s *Store) FetchFeatures(ctx context.Context, userCode, txnID string) (models.FeatureBag, error) {
	rows, err := s.pool.Query(ctx, `SELECT * FROM risk_features WHERE user_code = $1 AND txn_id = $2`, userCode, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeatureRow(rows)
}

// FetchLatestFeatures is the fallback used when the exact (user_code,
// txn_id) row hasn't landed yet: the user's most recent row.
func (s *Store) FetchLatestFeatures(ctx context.Context, userCode string) (models.FeatureBag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM risk_features WHERE user_code = $1 ORDER BY update_time DESC LIMIT 1`, userCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeatureRow(rows)
}

func scanFeatureRow(rows pgx.Rows) (models.FeatureBag, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	bag := make(models.FeatureBag, len(fields))
	for i, f := range fields {
		bag[string(f.Name)] = values[i]
	}
	return bag, nil
}

// UpdateFeatures applies a best-effort, partial update to a risk_features
// row (the derived-feature enrichment and sanctions/age enrichment stages
// write back here). Failures are the caller's to log and ignore.
func (s *Store) UpdateFeatures(ctx context.Context, userCode, txnID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+2)
	i := 1
	for k, v := range fields {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), i))
		args = append(args, v)
		i++
	}
	args = append(args, userCode, txnID)
	sql := fmt.Sprintf(
		"UPDATE risk_features SET %s WHERE user_code = $%d AND txn_id = $%d",
		joinClauses(setClauses), i, i+1,
	)
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// --- risk_rules ------------------------------------------------------------

// LoadActiveRules loads all ACTIVE rules ordered by priority ascending, then
// rule_id for stable ties.
func (s *Store) LoadActiveRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, rule_name, priority, status, logic_expression, action, narrative
		FROM risk_rules
		WHERE status = 'ACTIVE'
		ORDER BY priority ASC, rule_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var r models.Rule
		if err := rows.Scan(&r.RuleID, &r.RuleName, &r.Priority, &r.Status, &r.LogicExpression, &r.Action, &r.Narrative); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// --- list tables -----------------------------------------------------------

// LookupSimple checks a single-column allow/deny table (user, fingerprint,
// IP, email-domain) for a live match.
func (s *Store) LookupSimple(ctx context.Context, table, value string) (*models.ListEntry, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT status, expires_at, reason FROM %s
		WHERE value = $1 AND status = 'ACTIVE' AND (expires_at IS NULL OR expires_at > now())
		LIMIT 1
	`, pgx.Identifier{table}.Sanitize()), value)

	var e models.ListEntry
	e.Value = value
	if err := row.Scan(&e.Status, &e.ExpiresAt, &e.Reason); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// LookupAddress checks an address allow/deny table, optionally scoped by
// chain: a NULL chain column matches any requested chain.
func (s *Store) LookupAddress(ctx context.Context, table, address, chain string) (*models.ListEntry, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT status, expires_at, reason, chain FROM %s
		WHERE value = $1 AND (chain IS NULL OR chain = $2)
		  AND status = 'ACTIVE' AND (expires_at IS NULL OR expires_at > now())
		LIMIT 1
	`, pgx.Identifier{table}.Sanitize()), address, chain)

	var e models.ListEntry
	e.Value = address
	var ch *string
	if err := row.Scan(&e.Status, &e.ExpiresAt, &e.Reason, &ch); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.Chain = ch
	return &e, nil
}

// LookupGreylist checks the generic greylist table for a live match of a
// given entity type.
func (s *Store) LookupGreylist(ctx context.Context, entityType models.EntityType, value string) (*models.ListEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT status, expires_at, reason FROM risk_greylist
		WHERE entity_type = $1 AND value = $2
		  AND status = 'ACTIVE' AND (expires_at IS NULL OR expires_at > now())
		LIMIT 1
	`, entityType, value)

	var e models.ListEntry
	e.Value = value
	e.EntityType = entityType
	if err := row.Scan(&e.Status, &e.ExpiresAt, &e.Reason); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// --- decision log ------------------------------------------------------------

// LogDecision writes one decision record. Best-effort: callers log and
// ignore failures rather than surfacing them to the caller's response.
func (s *Store) LogDecision(ctx context.Context, rec models.DecisionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_withdraw_decision
			(user_code, txn_id, decision, withdraw_currency, withdrawal_amount,
			 primary_threat, confidence, narrative, features_snapshot,
			 decision_source, llm_reasoning, risk_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
	`, rec.UserCode, rec.TxnID, rec.Decision, rec.WithdrawCurrency, rec.WithdrawalAmount,
		rec.PrimaryThreat, rec.Confidence, rec.Narrative, rec.FeaturesSnapshot,
		rec.DecisionSource, rec.LLMReasoning, rec.RiskScore)
	return err
}

// --- enrichment dimension tables (worker) -----------------------------------

// SanctionsDimRow mirrors dim_sanctions_address.
type SanctionsDimRow struct {
	Chain         string
	Address       string
	IsSanctioned  bool
	Status        string // PENDING/CHECKED/ERROR
	LastCheckedAt *time.Time
	LastError     string
}

// AgeDimRow mirrors dim_destination_age.
type AgeDimRow struct {
	Chain         string
	Address       string
	AgeHours      *int
	Status        string
	FirstSeenAt   *time.Time
	LastCheckedAt *time.Time
	LastError     string
}

// GetSanctionsDim fetches the current dimension row, if any.
func (s *Store) GetSanctionsDim(ctx context.Context, chain, address string) (*SanctionsDimRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chain, address, is_sanctioned, sanctions_status, last_checked_at, last_error
		FROM dim_sanctions_address WHERE chain = $1 AND address = $2
	`, chain, address)
	var r SanctionsDimRow
	if err := row.Scan(&r.Chain, &r.Address, &r.IsSanctioned, &r.Status, &r.LastCheckedAt, &r.LastError); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// UpsertSanctionsDim writes the result of a refresh attempt.
func (s *Store) UpsertSanctionsDim(ctx context.Context, r SanctionsDimRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dim_sanctions_address (chain, address, is_sanctioned, sanctions_status, last_checked_at, last_error)
		VALUES ($1, $2, $3, $4, now(), $5)
		ON CONFLICT (chain, address) DO UPDATE SET
			is_sanctioned = EXCLUDED.is_sanctioned,
			sanctions_status = EXCLUDED.sanctions_status,
			last_checked_at = EXCLUDED.last_checked_at,
			last_error = EXCLUDED.last_error
	`, r.Chain, r.Address, r.IsSanctioned, r.Status, r.LastError)
	return err
}

// GetAgeDim fetches the current dimension row, if any.
func (s *Store) GetAgeDim(ctx context.Context, chain, address string) (*AgeDimRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chain, address, age_hours, age_status, first_seen_at, last_checked_at, last_error
		FROM dim_destination_age WHERE chain = $1 AND address = $2
	`, chain, address)
	var r AgeDimRow
	if err := row.Scan(&r.Chain, &r.Address, &r.AgeHours, &r.Status, &r.FirstSeenAt, &r.LastCheckedAt, &r.LastError); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// UpsertAgeDim writes the result of a refresh attempt. first_seen_at is
// write-once: COALESCE(existing, new).
func (s *Store) UpsertAgeDim(ctx context.Context, r AgeDimRow, firstSeen *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dim_destination_age (chain, address, age_hours, age_status, first_seen_at, last_checked_at, last_error)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
		ON CONFLICT (chain, address) DO UPDATE SET
			age_hours = EXCLUDED.age_hours,
			age_status = EXCLUDED.age_status,
			first_seen_at = COALESCE(dim_destination_age.first_seen_at, EXCLUDED.first_seen_at),
			last_checked_at = EXCLUDED.last_checked_at,
			last_error = EXCLUDED.last_error
	`, r.Chain, r.Address, r.AgeHours, r.Status, firstSeen, r.LastError)
	return err
}

// --- derived-feature supporting reads (login_history, user_device) --------

// DeviceEvent is one row of user_device used by the impossible-travel check.
type DeviceEvent struct {
	CountryCode string
	IsVPN       bool
	CreatedAt   time.Time
}

// LatestDeviceEventsBefore returns the two most recent device events at or
// before t for a user (the withdraw's own event and its immediately prior
// one), newest first.
func (s *Store) LatestDeviceEventsBefore(ctx context.Context, userCode string, t time.Time) ([]DeviceEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT country_code, is_vpn, created_at FROM user_device
		WHERE user_code = $1 AND created_at <= $2
		ORDER BY created_at DESC LIMIT 2
	`, userCode, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeviceEvent
	for rows.Next() {
		var d DeviceEvent
		if err := rows.Scan(&d.CountryCode, &d.IsVPN, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestLoginAtOrBefore returns the most recent login_history timestamp at
// or before t, if any.
func (s *Store) LatestLoginAtOrBefore(ctx context.Context, userCode string, t time.Time) (*time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT created_at FROM login_history
		WHERE user_code = $1 AND created_at <= $2
		ORDER BY created_at DESC LIMIT 1
	`, userCode, t)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}

// WithdrawCreatedAt reads withdraw_record.created_at for the derived
// time-since-login feature.
func (s *Store) WithdrawCreatedAt(ctx context.Context, userCode, txnID string) (*time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT created_at FROM withdraw_record WHERE user_code = $1 AND code = $2
	`, userCode, txnID)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}

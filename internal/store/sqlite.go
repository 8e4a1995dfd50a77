// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides case/signal/payment/decision persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cases (
			id              TEXT PRIMARY KEY,
			subject_id      TEXT NOT NULL,
			counterparty_id TEXT NOT NULL,
			amount          REAL NOT NULL,
			currency        TEXT NOT NULL,
			status          TEXT NOT NULL,
			stage           TEXT NOT NULL,
			total_cost      REAL NOT NULL DEFAULT 0,
			final_decision  TEXT NOT NULL DEFAULT '',
			reasoning       TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			CHECK (status IN ('PROCESSING', 'COMPLETED', 'FAILED'))
		);

		CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
		CREATE INDEX IF NOT EXISTS idx_cases_subject ON cases(subject_id);

		CREATE TABLE IF NOT EXISTS agent_steps (
			id          TEXT PRIMARY KEY,
			case_id     TEXT NOT NULL REFERENCES cases(id),
			step_number INTEGER NOT NULL,
			agent_name  TEXT NOT NULL,
			action      TEXT NOT NULL,
			input_json  TEXT,
			output_json TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,

			UNIQUE(case_id, step_number)
		);

		CREATE INDEX IF NOT EXISTS idx_steps_case ON agent_steps(case_id, step_number);

		CREATE TABLE IF NOT EXISTS signals (
			id           TEXT PRIMARY KEY,
			case_id      TEXT NOT NULL,
			signal_type  TEXT NOT NULL,
			data_json    TEXT NOT NULL,
			cost         REAL NOT NULL,
			purchased_by TEXT NOT NULL,
			purchased_at TEXT NOT NULL,
			expires_at   TEXT NOT NULL,

			UNIQUE(case_id, signal_type)
		);

		CREATE INDEX IF NOT EXISTS idx_signals_case ON signals(case_id);

		CREATE TABLE IF NOT EXISTS payments (
			id               TEXT PRIMARY KEY,
			proof            TEXT NOT NULL UNIQUE,
			case_id          TEXT NOT NULL,
			signal_type      TEXT NOT NULL,
			agent_name       TEXT,
			amount           REAL NOT NULL,
			settlement_ref   TEXT NOT NULL,
			negotiation_json TEXT,
			created_at       TEXT NOT NULL,
			retried_at       TEXT,
			completed_at     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_payments_proof ON payments(proof);
		CREATE INDEX IF NOT EXISTS idx_payments_case ON payments(case_id);

		CREATE TABLE IF NOT EXISTS decisions (
			id                TEXT PRIMARY KEY,
			case_id           TEXT NOT NULL REFERENCES cases(id),
			agent_name        TEXT NOT NULL,
			action            TEXT NOT NULL,
			confidence        REAL NOT NULL,
			reasoning         TEXT NOT NULL,
			risk_factors_json TEXT,
			signals_used_json TEXT,
			is_final          INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,

			UNIQUE(case_id, agent_name),
			CHECK (action IN ('APPROVE', 'DENY', 'ESCALATE')),
			CHECK (confidence >= 0 AND confidence <= 1)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_final
			ON decisions(case_id) WHERE is_final = 1;

		CREATE INDEX IF NOT EXISTS idx_decisions_case ON decisions(case_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateCase inserts a new case record
func (s *SQLiteStore) CreateCase(ctx context.Context, c *Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, subject_id, counterparty_id, amount, currency, status, stage,
			total_cost, final_decision, reasoning, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SubjectID, c.CounterpartyID, c.Amount, c.Currency, string(c.Status), c.Stage,
		c.TotalCost, c.FinalDecision, c.Reasoning, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if isConstraintViolation(err) {
		return ErrDuplicateCase
	}
	if err != nil {
		return fmt.Errorf("inserting case: %w", err)
	}
	return nil
}

// GetCase retrieves a case by id
func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, counterparty_id, amount, currency, status, stage,
			total_cost, final_decision, reasoning, created_at, updated_at
		FROM cases WHERE id = ?`, id)
	return scanCase(row)
}

// UpdateCase persists orchestrator-owned case mutations
func (s *SQLiteStore) UpdateCase(ctx context.Context, c *Case) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET status = ?, stage = ?, total_cost = ?, final_decision = ?,
			reasoning = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Status), c.Stage, c.TotalCost, c.FinalDecision, c.Reasoning,
		formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("updating case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCases returns recent cases ordered by creation time descending
func (s *SQLiteStore) ListCases(ctx context.Context, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, counterparty_id, amount, currency, status, stage,
			total_cost, final_decision, reasoning, created_at, updated_at
		FROM cases ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*Case, error) {
	var c Case
	var status, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.SubjectID, &c.CounterpartyID, &c.Amount, &c.Currency,
		&status, &c.Stage, &c.TotalCost, &c.FinalDecision, &c.Reasoning, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning case: %w", err)
	}
	c.Status = CaseStatus(status)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing case created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing case updated_at: %w", err)
	}
	return &c, nil
}

// AppendStep records one agent side effect. The (case_id, step_number) unique
// constraint makes concurrent reuse of a step number fail with ErrDuplicateStep.
func (s *SQLiteStore) AppendStep(ctx context.Context, step *AgentStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_steps (id, case_id, step_number, agent_name, action,
			input_json, output_json, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.CaseID, step.StepNumber, step.AgentName, step.Action,
		step.InputJSON, step.OutputJSON, step.DurationMS, formatTime(step.CreatedAt))
	if isConstraintViolation(err) {
		return ErrDuplicateStep
	}
	if err != nil {
		return fmt.Errorf("inserting agent step: %w", err)
	}
	return nil
}

// NextStepNumber returns the next strictly increasing step number for a case
func (s *SQLiteStore) NextStepNumber(ctx context.Context, caseID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(step_number) FROM agent_steps WHERE case_id = ?`, caseID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max step number: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// ListSteps returns all steps for a case ordered by step number
func (s *SQLiteStore) ListSteps(ctx context.Context, caseID string) ([]*AgentStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, step_number, agent_name, action, input_json, output_json,
			duration_ms, created_at
		FROM agent_steps WHERE case_id = ? ORDER BY step_number`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	defer rows.Close()

	var steps []*AgentStep
	for rows.Next() {
		var st AgentStep
		var inputJSON, outputJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&st.ID, &st.CaseID, &st.StepNumber, &st.AgentName, &st.Action,
			&inputJSON, &outputJSON, &st.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		st.InputJSON = inputJSON.String
		st.OutputJSON = outputJSON.String
		if st.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing step created_at: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// InsertSignal inserts a purchased signal. Returns ErrDuplicateSignal when a
// concurrent winner already holds the (case_id, signal_type) key; the caller
// must then read the winner's record.
func (s *SQLiteStore) InsertSignal(ctx context.Context, sig *Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, case_id, signal_type, data_json, cost, purchased_by,
			purchased_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.CaseID, sig.SignalType, sig.DataJSON, sig.Cost, sig.PurchasedBy,
		formatTime(sig.PurchasedAt), formatTime(sig.ExpiresAt))
	if isConstraintViolation(err) {
		return ErrDuplicateSignal
	}
	if err != nil {
		return fmt.Errorf("inserting signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by (case, type)
func (s *SQLiteStore) GetSignal(ctx context.Context, caseID, signalType string) (*Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, signal_type, data_json, cost, purchased_by, purchased_at, expires_at
		FROM signals WHERE case_id = ? AND signal_type = ?`, caseID, signalType)
	return scanSignal(row)
}

// ListSignals returns all signals for a case ordered by purchase time
func (s *SQLiteStore) ListSignals(ctx context.Context, caseID string) ([]*Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, signal_type, data_json, cost, purchased_by, purchased_at, expires_at
		FROM signals WHERE case_id = ? ORDER BY purchased_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func scanSignal(row rowScanner) (*Signal, error) {
	var sig Signal
	var purchasedAt, expiresAt string
	err := row.Scan(&sig.ID, &sig.CaseID, &sig.SignalType, &sig.DataJSON, &sig.Cost,
		&sig.PurchasedBy, &purchasedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning signal: %w", err)
	}
	if sig.PurchasedAt, err = parseTime(purchasedAt); err != nil {
		return nil, fmt.Errorf("parsing signal purchased_at: %w", err)
	}
	if sig.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing signal expires_at: %w", err)
	}
	return &sig, nil
}

// CreatePayment inserts a new settled payment record
func (s *SQLiteStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, proof, case_id, signal_type, agent_name, amount,
			settlement_ref, negotiation_json, created_at, retried_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Proof, p.CaseID, p.SignalType, p.AgentName, p.Amount,
		p.SettlementRef, p.NegotiationJSON, formatTime(p.CreatedAt),
		formatTimePtr(p.RetriedAt), formatTimePtr(p.CompletedAt))
	if isConstraintViolation(err) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by id
func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, paymentSelect+` WHERE id = ?`, id)
	return scanPayment(row)
}

// GetPaymentByProof retrieves a payment by its proof token
func (s *SQLiteStore) GetPaymentByProof(ctx context.Context, proof string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, paymentSelect+` WHERE proof = ?`, proof)
	return scanPayment(row)
}

const paymentSelect = `
	SELECT id, proof, case_id, signal_type, agent_name, amount, settlement_ref,
		negotiation_json, created_at, retried_at, completed_at
	FROM payments`

// MarkPaymentRetried appends the retry-with-proof timestamp to the audit trail
func (s *SQLiteStore) MarkPaymentRetried(ctx context.Context, id string, at time.Time) error {
	return s.stampPayment(ctx, id, "retried_at", at)
}

// MarkPaymentCompleted appends the success-response timestamp to the audit trail
func (s *SQLiteStore) MarkPaymentCompleted(ctx context.Context, id string, at time.Time) error {
	return s.stampPayment(ctx, id, "completed_at", at)
}

func (s *SQLiteStore) stampPayment(ctx context.Context, id, column string, at time.Time) error {
	// column is one of two internal constants, never caller input
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE payments SET %s = ? WHERE id = ?`, column), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("stamping payment %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking payment update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachNegotiation records the negotiation outcome on a payment for audit
func (s *SQLiteStore) AttachNegotiation(ctx context.Context, id string, outcomeJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET negotiation_json = ? WHERE id = ?`, outcomeJSON, id)
	if err != nil {
		return fmt.Errorf("attaching negotiation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking payment update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPayments returns all payments for a case ordered by creation time
func (s *SQLiteStore) ListPayments(ctx context.Context, caseID string) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, paymentSelect+` WHERE case_id = ? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	var agentName, negotiationJSON, retriedAt, completedAt sql.NullString
	var createdAt string
	err := row.Scan(&p.ID, &p.Proof, &p.CaseID, &p.SignalType, &agentName, &p.Amount,
		&p.SettlementRef, &negotiationJSON, &createdAt, &retriedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	p.AgentName = agentName.String
	p.NegotiationJSON = negotiationJSON.String
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing payment created_at: %w", err)
	}
	if p.RetriedAt, err = scanTimePtr(retriedAt); err != nil {
		return nil, fmt.Errorf("parsing payment retried_at: %w", err)
	}
	if p.CompletedAt, err = scanTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parsing payment completed_at: %w", err)
	}
	return &p, nil
}

// InsertDecision records an agent decision. The partial unique index on
// (case_id) WHERE is_final guarantees at most one final decision per case.
func (s *SQLiteStore) InsertDecision(ctx context.Context, d *Decision) error {
	isFinal := 0
	if d.IsFinal {
		isFinal = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, case_id, agent_name, action, confidence, reasoning,
			risk_factors_json, signals_used_json, is_final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CaseID, d.AgentName, d.Action, d.Confidence, d.Reasoning,
		d.RiskFactorsJSON, d.SignalsUsedJSON, isFinal, formatTime(d.CreatedAt))
	if isConstraintViolation(err) {
		if d.IsFinal && strings.Contains(err.Error(), "idx_decisions_final") {
			return ErrDuplicateFinal
		}
		return ErrDuplicateDecision
	}
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}
	return nil
}

// ListDecisions returns all decisions for a case ordered by creation time
func (s *SQLiteStore) ListDecisions(ctx context.Context, caseID string) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx, decisionSelect+` WHERE case_id = ? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// GetFinalDecision returns the single final decision for a case, if recorded
func (s *SQLiteStore) GetFinalDecision(ctx context.Context, caseID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, decisionSelect+` WHERE case_id = ? AND is_final = 1`, caseID)
	return scanDecision(row)
}

const decisionSelect = `
	SELECT id, case_id, agent_name, action, confidence, reasoning,
		risk_factors_json, signals_used_json, is_final, created_at
	FROM decisions`

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var riskFactors, signalsUsed sql.NullString
	var isFinal int
	var createdAt string
	err := row.Scan(&d.ID, &d.CaseID, &d.AgentName, &d.Action, &d.Confidence, &d.Reasoning,
		&riskFactors, &signalsUsed, &isFinal, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning decision: %w", err)
	}
	d.RiskFactorsJSON = riskFactors.String
	d.SignalsUsedJSON = signalsUsed.String
	d.IsFinal = isFinal == 1
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing decision created_at: %w", err)
	}
	return &d, nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

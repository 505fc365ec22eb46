package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
)

// Run statuses stored alongside the orchestrator's own.
const (
	RunStatusQueued  = "queued"
	RunStatusRunning = "running"
)

// Store persists run transcripts in Postgres.
type Store struct {
	DB *sql.DB
}

// New connects using the storage configuration.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord is a stored run.
type RunRecord struct {
	ID           string          `json:"run_id"`
	Status       string          `json:"status"`
	UserInput    string          `json:"user_input"`
	Plan         json.RawMessage `json:"plan,omitempty"`
	History      json.RawMessage `json:"history"`
	Outcomes     json.RawMessage `json:"outcomes"`
	OutcomeTags  []string        `json:"outcome_tags"`
	Partial      bool            `json:"partial"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FailedStep   *int            `json:"failed_step,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ErrRunNotFound is returned by lookups of unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RecordFromResult converts an orchestrator result into a stored record.
func RecordFromResult(userInput string, res orchestrator.Result) (RunRecord, error) {
	plan, err := json.Marshal(res.Plan)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal plan: %w", err)
	}
	history, err := json.Marshal(res.History)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal history: %w", err)
	}
	outcomes, err := json.Marshal(res.Outcomes)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal outcomes: %w", err)
	}
	rec := RunRecord{
		ID:          res.RunID,
		Status:      res.Status(),
		UserInput:   userInput,
		Plan:        plan,
		History:     history,
		Outcomes:    outcomes,
		OutcomeTags: res.Tags(),
		Partial:     res.Partial,
	}
	if res.Failure != nil {
		idx := res.Failure.Index
		rec.FailedStep = &idx
		rec.ErrorKind = res.Failure.Kind
		rec.ErrorMessage = res.Failure.Error()
	}
	return rec, nil
}

// CreateRun inserts a queued run.
func (s *Store) CreateRun(ctx context.Context, id, userInput string) error {
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO planner_runs (id, status, user_input, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW())
ON CONFLICT (id) DO NOTHING;
`, id, RunStatusQueued, userInput)
	return err
}

// MarkRunning flags a queued run as picked up.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, RunStatusRunning, "", "")
}

// MarkFailed records a run that produced no plan.
func (s *Store) MarkFailed(ctx context.Context, id, kind, message string) error {
	return s.setStatus(ctx, id, orchestrator.StatusFailed, kind, message)
}

func (s *Store) setStatus(ctx context.Context, id, status, kind, message string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE planner_runs SET status = $2, error_kind = NULLIF($3, ''), error_message = NULLIF($4, ''), updated_at = NOW()
WHERE id = $1;
`, id, status, kind, message)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveRun upserts a finished run.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO planner_runs (id, status, user_input, plan, history, outcomes, outcome_tags, partial, error_kind, error_message, failed_step, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  plan = EXCLUDED.plan,
  history = EXCLUDED.history,
  outcomes = EXCLUDED.outcomes,
  outcome_tags = EXCLUDED.outcome_tags,
  partial = EXCLUDED.partial,
  error_kind = EXCLUDED.error_kind,
  error_message = EXCLUDED.error_message,
  failed_step = EXCLUDED.failed_step,
  updated_at = NOW();
`, rec.ID, rec.Status, rec.UserInput, jsonValue(rec.Plan), jsonOrEmpty(rec.History), jsonOrEmpty(rec.Outcomes),
		pq.Array(rec.OutcomeTags), rec.Partial, nullString(rec.ErrorKind), nullString(rec.ErrorMessage), nullInt(rec.FailedStep))
	return err
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var (
		rec        RunRecord
		plan       []byte
		kind, msg  sql.NullString
		failedStep sql.NullInt64
		tags       pq.StringArray
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, status, user_input, plan, history, outcomes, outcome_tags, partial, error_kind, error_message, failed_step, created_at, updated_at
FROM planner_runs WHERE id = $1
`, id).Scan(&rec.ID, &rec.Status, &rec.UserInput, &plan, &rec.History, &rec.Outcomes, &tags, &rec.Partial, &kind, &msg, &failedStep, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	if len(plan) > 0 {
		rec.Plan = plan
	}
	rec.OutcomeTags = []string(tags)
	rec.ErrorKind = kind.String
	rec.ErrorMessage = msg.String
	if failedStep.Valid {
		idx := int(failedStep.Int64)
		rec.FailedStep = &idx
	}
	return rec, nil
}

func jsonValue(raw json.RawMessage) driver.Value {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

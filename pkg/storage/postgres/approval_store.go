package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/HZeroxium/fleet-control/domain/approval"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// ApprovalStore persists approval aggregates with a version column for
// optimistic locking and a gate-name array for gate filtering.
type ApprovalStore struct {
	db *sqlx.DB
}

// NewApprovalStore creates an aggregate store over db.
func NewApprovalStore(db *sqlx.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

type approvalRow struct {
	ID              string         `db:"id"`
	RequesterUserID string         `db:"requester_user_id"`
	RequestType     string         `db:"request_type"`
	TargetServiceID sql.NullString `db:"target_service_id"`
	TargetTeamID    sql.NullString `db:"target_team_id"`
	Required        []byte         `db:"required"`
	RequiredGates   pq.StringArray `db:"required_gates"`
	Status          string         `db:"status"`
	Snapshot        []byte         `db:"snapshot"`
	Counts          []byte         `db:"counts"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	Version         int64          `db:"version"`
}

func (r *approvalRow) toRequest() (*approval.Request, error) {
	req := &approval.Request{
		ID:              r.ID,
		RequesterUserID: r.RequesterUserID,
		Type:            approval.RequestType(r.RequestType),
		Target: approval.Target{
			ServiceID: r.TargetServiceID.String,
			TeamID:    r.TargetTeamID.String,
		},
		Status:    approval.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
	if err := json.Unmarshal(r.Required, &req.Required); err != nil {
		return nil, err
	}
	if len(r.Snapshot) > 0 {
		if err := json.Unmarshal(r.Snapshot, &req.Snapshot); err != nil {
			return nil, err
		}
	}
	req.Counts = map[string]int{}
	if len(r.Counts) > 0 {
		if err := json.Unmarshal(r.Counts, &req.Counts); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func requestColumns(req *approval.Request) (required, snapshot, counts []byte, gates pq.StringArray, err error) {
	if required, err = json.Marshal(req.Required); err != nil {
		return
	}
	if snapshot, err = json.Marshal(req.Snapshot); err != nil {
		return
	}
	if counts, err = json.Marshal(req.Counts); err != nil {
		return
	}
	gates = make(pq.StringArray, len(req.Required))
	for i, g := range req.Required {
		gates[i] = g.Name
	}
	return
}

func (s *ApprovalStore) Insert(ctx context.Context, req *approval.Request) error {
	required, snapshot, counts, gates, err := requestColumns(req)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, requester_user_id, request_type, target_service_id, target_team_id,
			 required, required_gates, status, snapshot, counts, created_at, updated_at, version)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)`,
		req.ID, req.RequesterUserID, string(req.Type), req.Target.ServiceID, req.Target.TeamID,
		required, gates, string(req.Status), snapshot, counts, req.CreatedAt, req.UpdatedAt, req.Version)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Request, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, requester_user_id, request_type, target_service_id, target_team_id,
		       required, required_gates, status, snapshot, counts, created_at, updated_at, version
		FROM approval_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRequest()
}

func (s *ApprovalStore) UpdateVersioned(ctx context.Context, req *approval.Request, expected int64) error {
	_, snapshot, counts, _, err := requestColumns(req)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $1, counts = $2, snapshot = $3, updated_at = $4, version = $5
		WHERE id = $6 AND version = $7`,
		string(req.Status), counts, snapshot, req.UpdatedAt, expected+1, req.ID, expected)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, getErr := s.Get(ctx, req.ID); errors.Is(getErr, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}
	req.Version = expected + 1
	return nil
}

func (s *ApprovalStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]approval.Request, error) {
	return s.list(ctx, `
		SELECT id, requester_user_id, request_type, target_service_id, target_team_id,
		       required, required_gates, status, snapshot, counts, created_at, updated_at, version
		FROM approval_requests
		WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at`, cutoff)
}

func (s *ApprovalStore) ListPendingByGate(ctx context.Context, gate string) ([]approval.Request, error) {
	return s.list(ctx, `
		SELECT id, requester_user_id, request_type, target_service_id, target_team_id,
		       required, required_gates, status, snapshot, counts, created_at, updated_at, version
		FROM approval_requests
		WHERE status = 'PENDING' AND $1 = ANY(required_gates) ORDER BY created_at`, gate)
}

func (s *ApprovalStore) list(ctx context.Context, query string, args ...interface{}) ([]approval.Request, error) {
	var rows []approvalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]approval.Request, 0, len(rows))
	for i := range rows {
		req, err := rows[i].toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, nil
}

// DecisionStore persists decisions under the compound unique index
// (request_id, approver_user_id, gate).
type DecisionStore struct {
	db *sqlx.DB
}

// NewDecisionStore creates a decision store over db.
func NewDecisionStore(db *sqlx.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

type decisionRow struct {
	ID             string    `db:"id"`
	RequestID      string    `db:"request_id"`
	ApproverUserID string    `db:"approver_user_id"`
	Gate           string    `db:"gate"`
	Decision       string    `db:"decision"`
	DecidedAt      time.Time `db:"decided_at"`
	Note           string    `db:"note"`
}

func (r *decisionRow) toDecision() *approval.Decision {
	return &approval.Decision{
		ID:             r.ID,
		RequestID:      r.RequestID,
		ApproverUserID: r.ApproverUserID,
		Gate:           r.Gate,
		Decision:       approval.DecisionKind(r.Decision),
		DecidedAt:      r.DecidedAt,
		Note:           r.Note,
	}
}

func (s *DecisionStore) Insert(ctx context.Context, decision *approval.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_decisions (id, request_id, approver_user_id, gate, decision, decided_at, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		decision.ID, decision.RequestID, decision.ApproverUserID, decision.Gate,
		string(decision.Decision), decision.DecidedAt, decision.Note)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

func (s *DecisionStore) GetByKey(ctx context.Context, requestID, approverUserID, gate string) (*approval.Decision, error) {
	var row decisionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, request_id, approver_user_id, gate, decision, decided_at, note
		FROM approval_decisions
		WHERE request_id = $1 AND approver_user_id = $2 AND gate = $3`,
		requestID, approverUserID, gate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDecision(), nil
}

func (s *DecisionStore) ListByRequest(ctx context.Context, requestID string) ([]approval.Decision, error) {
	var rows []decisionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, request_id, approver_user_id, gate, decision, decided_at, note
		FROM approval_decisions WHERE request_id = $1 ORDER BY decided_at`, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]approval.Decision, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDecision())
	}
	return out, nil
}

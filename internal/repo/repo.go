package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linchub/internal/domain"
	"linchub/internal/events"
)

// Repo is thin SQL access over the linchub schema.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

const tsLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		// migrations written by older builds used second precision
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// --- actors ---

func (r Repo) GetActor(ctx context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT kind,instance_key,state_json,request_count,created_at,last_activity FROM actors WHERE kind=? AND instance_key=?`,
		string(kind), key)
	var inst domain.ActorInstance
	var k, state, created, activity string
	err := row.Scan(&k, &inst.Key, &state, &inst.RequestCount, &created, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return inst, ErrNotFound
	}
	if err != nil {
		return inst, err
	}
	inst.Kind = domain.ActorKind(k)
	inst.State = json.RawMessage(state)
	inst.CreatedAt = parseTime(created)
	inst.LastActivity = parseTime(activity)
	return inst, nil
}

// UpsertActor persists the full instance record in one statement.
func (r Repo) UpsertActor(ctx context.Context, inst domain.ActorInstance) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO actors(kind,instance_key,state_json,request_count,created_at,last_activity)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(kind,instance_key) DO UPDATE SET
			state_json=excluded.state_json,
			request_count=excluded.request_count,
			last_activity=excluded.last_activity`,
		string(inst.Kind), inst.Key, string(inst.State), inst.RequestCount,
		formatTime(inst.CreatedAt), formatTime(inst.LastActivity))
	return err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.ActorInstance, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT kind,instance_key,state_json,request_count,created_at,last_activity FROM actors ORDER BY kind,instance_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActorInstance
	for rows.Next() {
		var inst domain.ActorInstance
		var k, state, created, activity string
		if err := rows.Scan(&k, &inst.Key, &state, &inst.RequestCount, &created, &activity); err != nil {
			return nil, err
		}
		inst.Kind = domain.ActorKind(k)
		inst.State = json.RawMessage(state)
		inst.CreatedAt = parseTime(created)
		inst.LastActivity = parseTime(activity)
		res = append(res, inst)
	}
	return res, rows.Err()
}

func (r Repo) AppendActorLog(ctx context.Context, kind domain.ActorKind, key string, rec domain.LogRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO actor_logs(kind,instance_key,request_id,direction,payload_json,ts) VALUES (?,?,?,?,?,?)`,
		string(kind), key, rec.RequestID, rec.Direction, string(rec.Payload), formatTime(rec.TS))
	return err
}

func (r Repo) ListActorLogs(ctx context.Context, kind domain.ActorKind, key string, limit int) ([]domain.LogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT request_id,direction,payload_json,ts FROM actor_logs WHERE kind=? AND instance_key=? ORDER BY id DESC LIMIT ?`,
		string(kind), key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogRecord
	for rows.Next() {
		var rec domain.LogRecord
		var payload, ts string
		if err := rows.Scan(&rec.RequestID, &rec.Direction, &payload, &ts); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		rec.TS = parseTime(ts)
		res = append(res, rec)
	}
	return res, rows.Err()
}

// --- runs ---

func (r Repo) InsertRun(ctx context.Context, run *domain.TaskRun) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO runs(id,kind,params_json,status,created_at) VALUES (?,?,?,?,?)`,
		run.ID, string(run.Kind), string(run.Params), string(run.Status), formatTime(run.CreatedAt))
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (*domain.TaskRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,kind,params_json,status,COALESCE(error,''),created_at,completed_at FROM runs WHERE id=?`, id)
	var run domain.TaskRun
	var kind, params, status, created string
	var completed sql.NullString
	err := row.Scan(&run.ID, &kind, &params, &status, &run.Error, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Kind = domain.ActorKind(kind)
	run.Params = json.RawMessage(params)
	run.Status = domain.RunStatus(status)
	run.CreatedAt = parseTime(created)
	if completed.Valid {
		t := parseTime(completed.String)
		run.CompletedAt = &t
	}
	steps, err := r.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return &run, nil
}

func (r Repo) SetRunStatus(ctx context.Context, id string, status domain.RunStatus, errMsg string, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = formatTime(*completedAt)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE runs SET status=?, error=?, completed_at=? WHERE id=?`,
		string(status), nullable(errMsg), completed, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertStep records the latest outcome for (run, name). The declaration-order
// sequence number is assigned on first insert and preserved after.
func (r Repo) UpsertStep(ctx context.Context, runID string, step domain.StepRecord) error {
	var result any
	if len(step.Result) > 0 {
		result = string(step.Result)
	}
	var completed any
	if step.CompletedAt != nil {
		completed = formatTime(*step.CompletedAt)
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO run_steps(run_id,name,status,result_json,error,attempt,started_at,completed_at,seq)
		VALUES (?,?,?,?,?,?,?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM run_steps WHERE run_id=?))
		ON CONFLICT(run_id,name) DO UPDATE SET
			status=excluded.status,
			result_json=excluded.result_json,
			error=excluded.error,
			attempt=excluded.attempt,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at`,
		runID, step.Name, string(step.Status), result, nullable(step.Error),
		step.Attempt, formatTime(step.StartedAt), completed, runID)
	return err
}

func (r Repo) listSteps(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT name,status,result_json,COALESCE(error,''),attempt,started_at,completed_at FROM run_steps WHERE run_id=? ORDER BY seq`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StepRecord
	for rows.Next() {
		var step domain.StepRecord
		var status, started string
		var result, completed sql.NullString
		if err := rows.Scan(&step.Name, &status, &result, &step.Error, &step.Attempt, &started, &completed); err != nil {
			return nil, err
		}
		step.Status = domain.StepStatus(status)
		if result.Valid {
			step.Result = json.RawMessage(result.String)
		}
		step.StartedAt = parseTime(started)
		if completed.Valid {
			t := parseTime(completed.String)
			step.CompletedAt = &t
		}
		res = append(res, step)
	}
	return res, rows.Err()
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,kind,status,COALESCE(error,''),created_at,completed_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRun
	for rows.Next() {
		var run domain.TaskRun
		var kind, status, created string
		var completed sql.NullString
		if err := rows.Scan(&run.ID, &kind, &status, &run.Error, &created, &completed); err != nil {
			return nil, err
		}
		run.Kind = domain.ActorKind(kind)
		run.Status = domain.RunStatus(status)
		run.CreatedAt = parseTime(created)
		if completed.Valid {
			t := parseTime(completed.String)
			run.CompletedAt = &t
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// --- audit results ---

// InsertAuditResult stores an audit result and records an audit.recorded
// event in the same transaction. A replayed insert of an existing audit_id is
// a no-op and leaves the event log untouched.
func (r Repo) InsertAuditResult(ctx context.Context, res domain.AuditResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal audit result: %w", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO audit_results(audit_id,run_id,provider_id,compliance_score,risk_level,audit_outcome,result_json,created_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(audit_id) DO NOTHING`,
		res.AuditID, res.RunID, res.ProviderID, res.ComplianceScore, res.RiskLevel,
		res.AuditOutcome, string(data), formatTime(res.AuditDate))
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		w := events.Writer{DB: r.DB}
		payload := events.EventPayload{"providerId": res.ProviderID, "runId": res.RunID}
		if err := w.AppendTx(ctx, tx, "audit.recorded", domain.KindComplianceAuditor, res.AuditID, payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) ListAuditResults(ctx context.Context, providerID string, limit int) ([]domain.AuditResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT result_json FROM audit_results`
	args := []any{}
	if providerID != "" {
		query += ` WHERE provider_id=?`
		args = append(args, providerID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ar domain.AuditResult
		if err := json.Unmarshal([]byte(raw), &ar); err != nil {
			return nil, fmt.Errorf("decode audit result: %w", err)
		}
		res = append(res, ar)
	}
	return res, rows.Err()
}

// --- events ---

type Event struct {
	ID       int64           `json:"id"`
	TS       string          `json:"ts"`
	Type     string          `json:"type"`
	Kind     string          `json:"kind,omitempty"`
	EntityID string          `json:"entityId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

func (r Repo) LatestEvents(ctx context.Context, n int, evtType, kind, entityID string) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,COALESCE(kind,''),COALESCE(entity_id,''),payload_json FROM events`
	var (
		conds []string
		args  []any
	)
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if kind != "" {
		conds = append(conds, "kind=?")
		args = append(args, kind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Kind, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

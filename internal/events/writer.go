package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"linchub/internal/domain"
)

// Writer appends to the append-only events table. Records reflect causal
// arrival order; nothing is ever updated or deleted.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one event outside any transaction.
func (w Writer) Append(ctx context.Context, evtType string, kind domain.ActorKind, entityID string, payload EventPayload) error {
	return w.exec(ctx, w.DB.ExecContext, evtType, kind, entityID, payload)
}

// AppendTx writes one event inside the caller's transaction.
func (w Writer) AppendTx(ctx context.Context, tx *sql.Tx, evtType string, kind domain.ActorKind, entityID string, payload EventPayload) error {
	return w.exec(ctx, tx.ExecContext, evtType, kind, entityID, payload)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (w Writer) exec(ctx context.Context, exec execFunc, evtType string, kind domain.ActorKind, entityID string, payload EventPayload) error {
	ts := w.now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = exec(ctx, `INSERT INTO events(ts,type,kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(string(kind)), nullable(entityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

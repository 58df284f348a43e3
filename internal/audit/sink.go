package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists audit events with one hand-written INSERT per
// event, the same raw-pgx pattern internal/store.PostgresStore uses (no
// sqlc/codegen layer exists in this module). Audit volume is low enough
// that the CopyFrom batching internal/evallog uses for decision logs
// isn't worth the complexity here.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

const insertAuditLog = `
INSERT INTO audit_logs (
	id, occurred_at, request_id, actor_kind, actor_id, actor_display,
	ip_address, user_agent, action, resource_type, resource_id,
	environment, before_state, after_state, changes, status, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

func (s *PostgresSink) Write(ctx context.Context, event AuditEvent) error {
	var before, after, changes []byte
	if event.BeforeState != nil {
		before, _ = json.Marshal(event.BeforeState)
	}
	if event.AfterState != nil {
		after, _ = json.Marshal(event.AfterState)
	}
	if event.Changes != nil {
		changes, _ = json.Marshal(event.Changes)
	}

	var actorID string
	if event.Actor.ID != nil {
		actorID = *event.Actor.ID
	}
	var env *string
	if event.Environment != nil {
		env = event.Environment
	}
	var errMsg *string
	if event.ErrorMessage != nil {
		errMsg = event.ErrorMessage
	}

	_, err := s.pool.Exec(ctx, insertAuditLog,
		uuid.New(), event.OccurredAt, event.RequestID, event.Actor.Kind, actorID, event.Actor.Display,
		event.Source.IPAddress, event.Source.UserAgent, event.Action, event.ResourceType, event.ResourceID,
		env, before, after, changes, event.Status, errMsg,
	)
	return err
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle event types consumed by the notification and chat collaborators.
const (
	TypeRequestCreated      = "REQUEST_CREATED"
	TypePMAssigned          = "PM_ASSIGNED"
	TypeEngineerAssigned    = "ENGINEER_ASSIGNED"
	TypeEngineerAccepted    = "ENGINEER_ACCEPTED"
	TypeStatusReview        = "STATUS_REVIEW"
	TypeClientRated         = "CLIENT_RATED"
	TypeProjectClosed       = "PROJECT_CLOSED"
	TypeProjectReopened     = "PROJECT_REOPENED"
	TypeClientReopenRequest = "CLIENT_REOPEN_REQUEST"
	TypeTaskCreated         = "TASK_CREATED"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, requestID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,request_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(requestID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

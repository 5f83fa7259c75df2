package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hackgods/scheduling-engine/internal/db"
)

// Write appends ev to event_logs through q, which is usually the
// transaction of the change being logged.
func Write(ctx context.Context, q db.Querier, ev Event) error {
	var payload []byte
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload for %s: %w", ev.Type, err)
		}
		payload = data
	}

	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, token_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.Type, ev.AppointmentID, ev.TokenID, payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package postgres

import (
	"context"
	"fmt"
)

func (r *webhookEventRepository) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE provider = $1 AND event_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, provider, eventID); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed is idempotent; a concurrent delivery that already recorded
// the event is not an error.
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, provider, eventID, eventType string) error {
	query := `
		INSERT INTO processed_webhook_events (provider, event_id, event_type, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider, event_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, provider, eventID, eventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

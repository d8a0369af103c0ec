package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// requiredColumns lists the columns this service reads or writes. The
// payment columns were added to appointments after the first release, so
// older databases fail here instead of at the first checkout.
var requiredColumns = map[string][]string{
	"profiles": {"id", "email", "full_name", "role", "phone", "avatar_url", "date_of_birth", "address", "created_at", "updated_at"},
	"services": {"id", "name", "description", "duration", "price", "currency", "is_active", "created_at", "updated_at"},
	"appointments": {
		"id", "patient_id", "staff_id", "service_id", "appointment_date", "start_time", "end_time",
		"status", "patient_notes", "staff_notes", "cancellation_reason", "reminder_sent",
		"payment_status", "payment_amount", "payment_currency", "stripe_session_id",
		"stripe_payment_intent_id", "paid_at", "refund_amount", "refunded_at", "refund_reason",
		"created_at", "updated_at",
	},
	"staff_availability":       {"id", "staff_id", "day_of_week", "start_time", "end_time", "is_available", "created_at", "updated_at"},
	"processed_webhook_events": {"provider", "event_id", "event_type", "processed_at"},
	"outbox_events":            {"id", "event_type", "payload", "status", "error_message", "retry_count", "retry_at", "created_at", "updated_at", "processed_at"},
}

// SchemaError lists table.column pairs missing from the connected database.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("database schema is missing columns: %s", strings.Join(e.Missing, ", "))
}

// CheckSchema verifies every required column exists in the current schema.
func CheckSchema(ctx context.Context, db *sqlx.DB) error {
	tables := make([]string, 0, len(requiredColumns))
	for t := range requiredColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	query, args, err := sqlx.In(`
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		AND table_name IN (?)`, tables)
	if err != nil {
		return fmt.Errorf("failed to build schema query: %w", err)
	}

	var rows []struct {
		Table  string `db:"table_name"`
		Column string `db:"column_name"`
	}
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}

	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		present[r.Table+"."+r.Column] = true
	}

	var missing []string
	for _, t := range tables {
		for _, c := range requiredColumns[t] {
			if !present[t+"."+c] {
				missing = append(missing, t+"."+c)
			}
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

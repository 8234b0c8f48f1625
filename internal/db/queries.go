package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/theboatscanner/boatscanner/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.ScanError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// RecordBillingEvent stores the event key. It returns false when the key was
// already recorded, so a redelivered webhook is applied only once.
func RecordBillingEvent(ctx context.Context, db *sql.DB, key, eventName, userID string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO billing_events (event_key, event_name, user_id, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_key) DO NOTHING
	`, key, eventName, toNullString(userID), time.Now().Unix())
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected == 1, nil
}

// ForgetBillingEvent removes a recorded event key so a redelivery is applied again.
func ForgetBillingEvent(ctx context.Context, db *sql.DB, key string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM billing_events WHERE event_key = ?", key); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// toNullString maps "" to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

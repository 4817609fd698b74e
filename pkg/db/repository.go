package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository handles data access
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CalendarSync maps a reminder activity to the calendar event mirroring it.
type CalendarSync struct {
	ActivityID string
	EventID    string
	SyncKey    string
	UpdatedAt  time.Time
}

// InsertCalendarSync records a newly mirrored activity.
func (r *Repository) InsertCalendarSync(activityID, eventID, syncKey string) error {
	query := `INSERT INTO calendar_sync (activity_id, event_id, sync_key) VALUES (?, ?, ?)`
	if _, err := r.db.Exec(query, activityID, eventID, syncKey); err != nil {
		return fmt.Errorf("failed to insert calendar sync: %w", err)
	}
	return nil
}

// GetCalendarSync returns the sync record of an activity, or nil when none exists.
func (r *Repository) GetCalendarSync(activityID string) (*CalendarSync, error) {
	query := `SELECT activity_id, event_id, sync_key, updated_at FROM calendar_sync WHERE activity_id = ?`
	var rec CalendarSync
	err := r.db.QueryRow(query, activityID).Scan(&rec.ActivityID, &rec.EventID, &rec.SyncKey, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get calendar sync: %w", err)
	}
	return &rec, nil
}

// UpdateCalendarSync stores a new sync key for an activity.
func (r *Repository) UpdateCalendarSync(activityID, syncKey string) error {
	query := `UPDATE calendar_sync SET sync_key = ?, updated_at = CURRENT_TIMESTAMP WHERE activity_id = ?`
	if _, err := r.db.Exec(query, syncKey, activityID); err != nil {
		return fmt.Errorf("failed to update calendar sync: %w", err)
	}
	return nil
}

// MarkNotified records that a reminder was pushed to channel. It returns false
// when the same activity/date pair was already sent there.
func (r *Repository) MarkNotified(activityID, reminderDate, channel string) (bool, error) {
	query := `INSERT OR IGNORE INTO reminder_notifications (activity_id, reminder_date, channel) VALUES (?, ?, ?)`
	res, err := r.db.Exec(query, activityID, reminderDate, channel)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark notification: %w", err)
	}
	return n > 0, nil
}

// ClearNotified forgets a notification so it is sent again, e.g. after delivery failed.
func (r *Repository) ClearNotified(activityID, reminderDate, channel string) error {
	query := `DELETE FROM reminder_notifications WHERE activity_id = ? AND reminder_date = ? AND channel = ?`
	if _, err := r.db.Exec(query, activityID, reminderDate, channel); err != nil {
		return fmt.Errorf("failed to clear notification: %w", err)
	}
	return nil
}

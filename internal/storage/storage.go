package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradewise-engine/internal/models"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer keeps :memory: databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Every trigger decision made by the live monitor.
	createEventsTableSQL := `
	CREATE TABLE IF NOT EXISTS trigger_events (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		price TEXT NOT NULL,
		event_time INTEGER NOT NULL
	);`
	if _, err := db.Exec(createEventsTableSQL); err != nil {
		return err
	}

	// User-facing notifications derived from trigger events.
	createNotificationsTableSQL := `
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		message TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createNotificationsTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at);`)
	return err
}

// ListTriggerEvents returns a user's events of one subscription, oldest first.
func ListTriggerEvents(ctx context.Context, db *sql.DB, userID, subscriptionID string) ([]models.TriggerEvent, error) {
	query := `
	SELECT id, subscription_id, user_id, strategy_id, symbol, action, price, event_time
	FROM trigger_events WHERE user_id = ? AND subscription_id = ? ORDER BY event_time, id`

	rows, err := db.QueryContext(ctx, query, userID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger events: %w", err)
	}
	defer rows.Close()

	var events []models.TriggerEvent
	for rows.Next() {
		var ev models.TriggerEvent
		var action, price string
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.SubscriptionID, &ev.UserID, &ev.StrategyID, &ev.Symbol, &action, &price, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trigger event row: %w", err)
		}
		ev.Action = models.Action(action)
		if ev.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trigger event %s has invalid price %q: %w", ev.ID, price, err)
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListNotifications returns a user's notifications, newest first.
func ListNotifications(ctx context.Context, db *sql.DB, userID string, unreadOnly bool) ([]models.Notification, error) {
	query := `
	SELECT id, user_id, event_id, message, is_read, created_at
	FROM notifications
	WHERE user_id = ? AND (? = 0 OR is_read = 0)
	ORDER BY created_at DESC, id DESC`

	unread := 0
	if unreadOnly {
		unread = 1
	}
	rows, err := db.QueryContext(ctx, query, userID, unread)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var created int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventID, &n.Message, &n.Read, &created); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		n.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags a notification as read. It returns models.ErrNotFound when
// the user has no such notification.
func MarkRead(ctx context.Context, db *sql.DB, id, userID string) error {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradewise-engine/internal/ids"
	"tradewise-engine/internal/models"
)

// NotificationStore persists trigger events as user notifications.
type NotificationStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewNotificationStore wraps an initialized database.
func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db, now: time.Now}
}

// Notify records the event and a notification for its user in one transaction.
func (s *NotificationStore) Notify(ctx context.Context, ev *models.TriggerEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	n := &models.Notification{
		ID:        ids.New(),
		UserID:    ev.UserID,
		EventID:   ev.ID,
		Message:   ev.Message,
		CreatedAt: s.now().UTC(),
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	if err := insertNotification(ctx, tx, n); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns a user's notifications, newest first.
func (s *NotificationStore) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	return ListNotifications(ctx, s.db, userID, unreadOnly)
}

// Events returns the trigger history of one of the user's subscriptions.
func (s *NotificationStore) Events(ctx context.Context, userID, subscriptionID string) ([]models.TriggerEvent, error) {
	return ListTriggerEvents(ctx, s.db, userID, subscriptionID)
}

// MarkRead flags one notification as read.
func (s *NotificationStore) MarkRead(ctx context.Context, id, userID string) error {
	return MarkRead(ctx, s.db, id, userID)
}

// Close closes the underlying database.
func (s *NotificationStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, ev *models.TriggerEvent) error {
	_, err := db.ExecContext(ctx, `
	INSERT INTO trigger_events (id, subscription_id, user_id, strategy_id, symbol, action, price, event_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SubscriptionID, ev.UserID, ev.StrategyID, ev.Symbol, string(ev.Action),
		ev.Price.String(), ev.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trigger event %s: %w", ev.ID, err)
	}
	return nil
}

func insertNotification(ctx context.Context, db execer, n *models.Notification) error {
	_, err := db.ExecContext(ctx, `
	INSERT INTO notifications (id, user_id, event_id, message, is_read, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.EventID, n.Message, n.Read, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
	}
	return nil
}

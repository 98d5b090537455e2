package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"remindme/internal/model"
)

// ErrNotFound is returned when a lookup matches no pending reminder.
var ErrNotFound = errors.New("reminder not found")

// Store persists reminders through GORM. It is the only shared mutable
// state in the application; the database's own query/delete atomicity is
// the correctness boundary, no extra locking is layered on top.
type Store struct {
	db *gorm.DB
}

// New wraps a GORM connection in a reminder store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert saves a new pending reminder and fills in its assigned ID.
func (s *Store) Insert(ctx context.Context, r *model.Reminder) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// DueBy returns every pending reminder scheduled at or before now, oldest
// first. The range comparison (rather than exact minute equality) lets a
// reminder whose minute was missed by a stalled or skipped cycle fire on
// the next one instead of being dropped.
func (s *Store) DueBy(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	var due []model.Reminder
	err := s.db.WithContext(ctx).
		Where("scheduled_at <= ?", now).
		Order("scheduled_at ASC, id ASC").
		Find(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

// DeleteByID removes a reminder. Deleting an absent row is not an error:
// a cancel racing a dispatch may remove the row first, and the second
// delete must stay a no-op.
func (s *Store) DeleteByID(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&model.Reminder{}, id).Error
}

// FindByKey resolves a cancellation key for one recipient. A numeric key
// is treated as the reminder ID, anything else as the exact topic,
// case-insensitive. Other recipients' reminders are never visible.
func (s *Store) FindByKey(ctx context.Context, recipient, key string) (model.Reminder, error) {
	query := s.db.WithContext(ctx).Where("recipient = ?", recipient)
	if id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 32); err == nil {
		query = query.Where("id = ?", uint(id))
	} else {
		query = query.Where("LOWER(topic) = ?", strings.ToLower(strings.TrimSpace(key)))
	}

	var r model.Reminder
	err := query.Order("id ASC").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Reminder{}, ErrNotFound
	}
	if err != nil {
		return model.Reminder{}, err
	}
	return r, nil
}

// ListByRecipient returns a recipient's pending reminders, soonest first.
func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("recipient = ?", recipient).
		Order("scheduled_at ASC, id ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

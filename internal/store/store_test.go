package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"remindme/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := db.AutoMigrate(&model.Reminder{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return New(db)
}

func seed(t *testing.T, s *Store, reminders ...*model.Reminder) {
	t.Helper()
	ctx := context.Background()
	for i, r := range reminders {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("seed reminder %d: %v", i, err)
		}
	}
}

func TestDueByRangeScan(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC)
	overdue := &model.Reminder{Recipient: "+1", Topic: "overdue", ScheduledAt: now.Add(-2 * time.Minute)}
	due := &model.Reminder{Recipient: "+1", Topic: "due", ScheduledAt: now}
	future := &model.Reminder{Recipient: "+1", Topic: "future", ScheduledAt: now.Add(time.Minute)}
	seed(t, s, due, overdue, future)

	got, err := s.DueBy(ctx, now)
	if err != nil {
		t.Fatalf("DueBy: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("DueBy returned %d reminders, want 2: %+v", len(got), got)
	}
	// Oldest scheduled time first, regardless of insert order.
	if got[0].Topic != "overdue" || got[1].Topic != "due" {
		t.Errorf("unexpected order: %q, %q", got[0].Topic, got[1].Topic)
	}
}

func TestFindByKeyScopedToRecipient(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC)
	alice := &model.Reminder{Recipient: "+1111", Topic: "call mom", ScheduledAt: at}
	bob := &model.Reminder{Recipient: "+2222", Topic: "call mom", ScheduledAt: at}
	seed(t, s, alice, bob)

	got, err := s.FindByKey(ctx, "+2222", "call mom")
	if err != nil {
		t.Fatalf("FindByKey by topic: %v", err)
	}
	if got.ID != bob.ID {
		t.Errorf("FindByKey matched reminder %d, want %d (bob's)", got.ID, bob.ID)
	}

	got, err = s.FindByKey(ctx, "+1111", fmt.Sprint(alice.ID))
	if err != nil {
		t.Fatalf("FindByKey by id: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("FindByKey by id matched %d, want %d", got.ID, alice.ID)
	}

	if _, err := s.FindByKey(ctx, "+1111", "walk dog"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByKey for absent topic: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteByIDAbsentIsNoOp(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.DeleteByID(context.Background(), 999); err != nil {
		t.Fatalf("DeleteByID of absent row: %v, want nil", err)
	}
}

func TestListByRecipient(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC)
	seed(t, s,
		&model.Reminder{Recipient: "+1", Topic: "later", ScheduledAt: base.Add(time.Hour)},
		&model.Reminder{Recipient: "+1", Topic: "sooner", ScheduledAt: base},
		&model.Reminder{Recipient: "+2", Topic: "other", ScheduledAt: base},
	)

	got, err := s.ListByRecipient(ctx, "+1")
	if err != nil {
		t.Fatalf("ListByRecipient: %v", err)
	}
	if len(got) != 2 || got[0].Topic != "sooner" || got[1].Topic != "later" {
		t.Fatalf("unexpected listing: %+v", got)
	}
}

package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"remindme/internal/config"
	"remindme/internal/model"
	"remindme/internal/store"
)

type sentMessage struct {
	to   string
	body string
	at   time.Time
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (f *fakeSender) SendWhatsAppMessage(to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, body: body, at: time.Now()})
	if f.fail {
		return fmt.Errorf("transport down")
	}
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestStore(t *testing.T) *store.Store {
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
	return store.New(db)
}

func seed(t *testing.T, s *store.Store, reminders ...*model.Reminder) {
	t.Helper()
	for i, r := range reminders {
		if err := s.Insert(context.Background(), r); err != nil {
			t.Fatalf("seed reminder %d: %v", i, err)
		}
	}
}

func pendingTopics(t *testing.T, s *store.Store, recipient string) []string {
	t.Helper()
	reminders, err := s.ListByRecipient(context.Background(), recipient)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	topics := make([]string, 0, len(reminders))
	for _, r := range reminders {
		topics = append(topics, r.Topic)
	}
	return topics
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestRunCycleFiresDueOnceAndRemoves(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	sender := &fakeSender{}
	d := New(s, sender, 0, config.AtMostOnce, quietLogger())

	now := time.Date(2024, 6, 15, 17, 0, 30, 0, time.UTC)
	seed(t, s,
		&model.Reminder{Recipient: "+1", Topic: "call mom", ScheduledAt: now.Truncate(time.Minute)},
		&model.Reminder{Recipient: "+1", Topic: "water plants", ScheduledAt: now.Truncate(time.Minute).Add(time.Minute)},
	)

	// One minute early: nothing fires.
	d.RunCycle(context.Background(), now.Add(-time.Minute))
	if got := sender.messages(); len(got) != 0 {
		t.Fatalf("premature fire: %+v", got)
	}

	d.RunCycle(context.Background(), now)
	got := sender.messages()
	if len(got) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(got))
	}
	if got[0].to != "+1" || !strings.Contains(got[0].body, "*call mom*") {
		t.Errorf("unexpected message: %+v", got[0])
	}
	if topics := pendingTopics(t, s, "+1"); len(topics) != 1 || topics[0] != "water plants" {
		t.Errorf("store after cycle: %v, want only \"water plants\"", topics)
	}

	// Re-running the same minute must not fire the removed reminder again.
	d.RunCycle(context.Background(), now)
	if got := sender.messages(); len(got) != 1 {
		t.Fatalf("duplicate fire on repeat cycle: %d sends", len(got))
	}
}

func TestRunCycleCatchesUpMissedMinutes(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	sender := &fakeSender{}
	d := New(s, sender, 0, config.AtMostOnce, quietLogger())

	now := time.Date(2024, 6, 15, 17, 5, 0, 0, time.UTC)
	seed(t, s, &model.Reminder{Recipient: "+1", Topic: "stretch", ScheduledAt: now.Add(-5 * time.Minute)})

	// The matching minute was skipped entirely; the range scan still fires it.
	d.RunCycle(context.Background(), now)
	if got := sender.messages(); len(got) != 1 {
		t.Fatalf("missed reminder never fired: %d sends", len(got))
	}
	if topics := pendingTopics(t, s, "+1"); len(topics) != 0 {
		t.Errorf("reminder still pending after fire: %v", topics)
	}
}

func TestAtMostOnceRemovesOnSendFailure(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	sender := &fakeSender{fail: true}
	d := New(s, sender, 0, config.AtMostOnce, quietLogger())

	now := time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC)
	seed(t, s, &model.Reminder{Recipient: "+1", Topic: "call mom", ScheduledAt: now})

	d.RunCycle(context.Background(), now)
	if got := sender.messages(); len(got) != 1 {
		t.Fatalf("expected one attempted send, got %d", len(got))
	}
	if topics := pendingTopics(t, s, "+1"); len(topics) != 0 {
		t.Errorf("at-most-once left reminder pending after failed send: %v", topics)
	}

	// No retry on the next cycle either.
	d.RunCycle(context.Background(), now.Add(time.Minute))
	if got := sender.messages(); len(got) != 1 {
		t.Fatalf("at-most-once retried a failed send: %d attempts", len(got))
	}
}

func TestAtLeastOnceRetriesOnSendFailure(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	sender := &fakeSender{fail: true}
	d := New(s, sender, 0, config.AtLeastOnce, quietLogger())

	now := time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC)
	seed(t, s, &model.Reminder{Recipient: "+1", Topic: "call mom", ScheduledAt: now})

	d.RunCycle(context.Background(), now)
	if topics := pendingTopics(t, s, "+1"); len(topics) != 1 {
		t.Fatalf("at-least-once dropped reminder after failed send: %v", topics)
	}

	sender.mu.Lock()
	sender.fail = false
	sender.mu.Unlock()

	d.RunCycle(context.Background(), now.Add(time.Minute))
	if got := sender.messages(); len(got) != 2 {
		t.Fatalf("expected retry send, got %d attempts", len(got))
	}
	if topics := pendingTopics(t, s, "+1"); len(topics) != 0 {
		t.Errorf("reminder still pending after successful retry: %v", topics)
	}
}

func TestDispatchOrderAndThrottle(t *testing.T) {
	t.Parallel()

	const interval = 50 * time.Millisecond

	s := newTestStore(t)
	sender := &fakeSender{}
	d := New(s, sender, interval, config.AtMostOnce, quietLogger())

	now := time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC)
	seed(t, s,
		&model.Reminder{Recipient: "+1", Topic: "first", ScheduledAt: now},
		&model.Reminder{Recipient: "+2", Topic: "second", ScheduledAt: now},
		&model.Reminder{Recipient: "+3", Topic: "third", ScheduledAt: now},
	)

	d.RunCycle(context.Background(), now)

	got := sender.messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(got))
	}
	for i, want := range []string{"*first*", "*second*", "*third*"} {
		if !strings.Contains(got[i].body, want) {
			t.Errorf("send %d = %q, want it to contain %q", i, got[i].body, want)
		}
	}
	// Inter-send gaps respect the limiter. A small allowance covers timer
	// coarseness, never a full interval.
	const slack = 10 * time.Millisecond
	for i := 1; i < len(got); i++ {
		if gap := got[i].at.Sub(got[i-1].at); gap < interval-slack {
			t.Errorf("gap between send %d and %d was %v, want >= %v", i-1, i, gap, interval)
		}
	}
}

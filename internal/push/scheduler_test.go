package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/tracklist/internal/model"
)

type fakeSubs struct {
	mu      sync.Mutex
	subs    map[model.Owner][]model.PushSubscription
	sent    map[string]bool
	deleted []string
}

func (f *fakeSubs) Owners(context.Context) ([]model.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Owner
	for o, subs := range f.subs {
		if len(subs) > 0 {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeSubs) List(_ context.Context, owner model.Owner) ([]model.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PushSubscription(nil), f.subs[owner]...), nil
}

func (f *fakeSubs) DeleteByEndpoint(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, endpoint)
	for o, subs := range f.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.Endpoint != endpoint {
				kept = append(kept, s)
			}
		}
		f.subs[o] = kept
	}
	return nil
}

func (f *fakeSubs) MarkSent(_ context.Context, owner model.Owner, refID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(owner) + "|" + refID
	if f.sent[key] {
		return false, nil
	}
	f.sent[key] = true
	return true, nil
}

func (f *fakeSubs) CleanupSent(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeTasks map[model.Owner][]model.Task

func (f fakeTasks) DueTasks(_ context.Context, owner model.Owner, _ string) ([]model.Task, error) {
	return f[owner], nil
}

type fakeSender struct {
	mu       sync.Mutex
	payloads map[string][]Payload
	expired  map[string]bool
}

func (f *fakeSender) Send(_ context.Context, sub model.PushSubscription, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[sub.Endpoint] {
		return ErrExpired
	}
	if f.payloads == nil {
		f.payloads = make(map[string][]Payload)
	}
	f.payloads[sub.Endpoint] = append(f.payloads[sub.Endpoint], p)
	return nil
}

func ptr(s string) *string { return &s }

func setupScheduler(at time.Time) (*Scheduler, *fakeSubs, *fakeSender) {
	subs := &fakeSubs{
		subs: map[model.Owner][]model.PushSubscription{
			"alice": {{ID: 1, Endpoint: "https://push/alice-phone"}, {ID: 2, Endpoint: "https://push/alice-old"}},
			"bob":   {{ID: 3, Endpoint: "https://push/bob"}},
		},
		sent: make(map[string]bool),
	}
	tasks := fakeTasks{
		"alice": {{ID: 1, Name: "Pay rent", DueDate: ptr("2024-05-31")}},
	}
	sender := &fakeSender{expired: map[string]bool{"https://push/alice-old": true}}
	s := NewScheduler(sender, subs, tasks, 8, nil)
	s.now = func() time.Time { return at }
	return s, subs, sender
}

func TestSchedulerBeforeHour(t *testing.T) {
	s, _, sender := setupScheduler(time.Date(2024, 6, 1, 7, 59, 0, 0, time.Local))

	if n := s.RunOnce(context.Background()); n != 0 {
		t.Errorf("delivered = %d, want 0 before reminder hour", n)
	}
	if len(sender.payloads) != 0 {
		t.Errorf("payloads = %v", sender.payloads)
	}
}

func TestSchedulerSendsOncePerDay(t *testing.T) {
	s, subs, sender := setupScheduler(time.Date(2024, 6, 1, 9, 0, 0, 0, time.Local))
	ctx := context.Background()

	if n := s.RunOnce(ctx); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	got := sender.payloads["https://push/alice-phone"]
	if len(got) != 1 || got[0].Body != "Overdue: Pay rent" {
		t.Errorf("alice payloads = %+v", got)
	}
	if _, ok := sender.payloads["https://push/bob"]; ok {
		t.Error("bob has nothing due and should not be notified")
	}
	if len(subs.deleted) != 1 || subs.deleted[0] != "https://push/alice-old" {
		t.Errorf("deleted = %v, want expired endpoint removed", subs.deleted)
	}

	if n := s.RunOnce(ctx); n != 0 {
		t.Errorf("second run delivered = %d, want 0", n)
	}

	s.now = func() time.Time { return time.Date(2024, 6, 2, 8, 0, 0, 0, time.Local) }
	if n := s.RunOnce(ctx); n != 1 {
		t.Errorf("next day delivered = %d, want 1", n)
	}
}

func TestDuePayload(t *testing.T) {
	tests := []struct {
		name string
		due  []model.Task
		want string
	}{
		{"today", []model.Task{{Name: "Laundry", DueDate: ptr("2024-06-01")}}, "Due today: Laundry"},
		{"overdue", []model.Task{{Name: "Rent", DueDate: ptr("2024-05-01")}}, "Overdue: Rent"},
		{"several", []model.Task{{Name: "a"}, {Name: "b"}, {Name: "c"}}, "You have 3 tasks due"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := duePayload(tt.due, "2024-06-01").Body; got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchedulerStopSafety(t *testing.T) {
	s, _, _ := setupScheduler(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
	s.Stop()
}


package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/tracklist/internal/model"
)

const sentRetention = 30 * 24 * time.Hour

type Sender interface {
	Send(ctx context.Context, sub model.PushSubscription, payload Payload) error
}

// SubscriptionStore is the persistence the scheduler needs.
type SubscriptionStore interface {
	Owners(ctx context.Context) ([]model.Owner, error)
	List(ctx context.Context, owner model.Owner) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
	MarkSent(ctx context.Context, owner model.Owner, refID string) (bool, error)
	CleanupSent(ctx context.Context, before time.Time) (int64, error)
}

type TaskSource interface {
	DueTasks(ctx context.Context, owner model.Owner, day string) ([]model.Task, error)
}

// Scheduler sends each subscribed owner one reminder per day listing the
// incomplete tasks that are due or overdue. Reminders go out on the first
// check at or after the configured hour.
type Scheduler struct {
	mu       sync.RWMutex
	sender   Sender
	subs     SubscriptionStore
	tasks    TaskSource
	logger   *slog.Logger
	hour     int
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(sender Sender, subs SubscriptionStore, tasks TaskSource, hour int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sender:   sender,
		subs:     subs,
		tasks:    tasks,
		logger:   logger.With("component", "push"),
		hour:     hour,
		interval: 5 * time.Minute,
		now:      time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce checks every subscribed owner and returns how many notifications
// were delivered.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	if now.Hour() < s.hour {
		return 0
	}
	day := now.Format(model.DueDateLayout)

	owners, err := s.subs.Owners(ctx)
	if err != nil {
		s.logger.Error("list push owners", "error", err)
		return 0
	}

	delivered := 0
	for _, owner := range owners {
		delivered += s.remind(ctx, owner, day)
	}

	if _, err := s.subs.CleanupSent(ctx, now.Add(-sentRetention)); err != nil {
		s.logger.Warn("cleanup sent reminders", "error", err)
	}
	return delivered
}

func (s *Scheduler) remind(ctx context.Context, owner model.Owner, day string) int {
	due, err := s.tasks.DueTasks(ctx, owner, day)
	if err != nil {
		s.logger.Error("list due tasks", "owner", owner, "error", err)
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	fresh, err := s.subs.MarkSent(ctx, owner, "tasks-due-"+day)
	if err != nil {
		s.logger.Error("record reminder", "owner", owner, "error", err)
		return 0
	}
	if !fresh {
		return 0
	}

	subs, err := s.subs.List(ctx, owner)
	if err != nil {
		s.logger.Error("list push subscriptions", "owner", owner, "error", err)
		return 0
	}

	payload := duePayload(due, day)
	delivered := 0
	for _, sub := range subs {
		err := s.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrExpired):
			s.logger.Info("removing expired push subscription", "owner", owner, "id", sub.ID)
			if err := s.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				s.logger.Warn("delete expired subscription", "error", err)
			}
		default:
			s.logger.Warn("send task reminder", "owner", owner, "id", sub.ID, "error", err)
		}
	}
	return delivered
}

func duePayload(due []model.Task, day string) Payload {
	body := fmt.Sprintf("You have %d tasks due", len(due))
	if len(due) == 1 {
		t := due[0]
		if t.DueDate != nil && *t.DueDate < day {
			body = "Overdue: " + t.Name
		} else {
			body = "Due today: " + t.Name
		}
	}
	return Payload{
		Title: "Task Reminders",
		Body:  body,
		URL:   "/",
		Tag:   "tasks-due",
	}
}

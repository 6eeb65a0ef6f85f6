package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/model"
)

// PushStore keeps Web Push subscriptions and the log of reminders already
// delivered.
type PushStore struct {
	db  *database.DB
	now func() time.Time
}

func NewPushStore(db *database.DB) *PushStore {
	return &PushStore{db: db, now: time.Now}
}

const subscriptionCols = `id, username, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanSubscription(s scanner) (model.PushSubscription, error) {
	var sub model.PushSubscription
	var owner, created string
	if err := s.Scan(&sub.ID, &owner, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &created); err != nil {
		return sub, err
	}
	sub.Owner = model.Owner(owner)
	at, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return sub, fmt.Errorf("created_at %q: %w", created, err)
	}
	sub.CreatedAt = at
	return sub, nil
}

// Subscribe registers sub for owner. Re-subscribing an endpoint replaces its
// keys and moves it to owner.
func (s *PushStore) Subscribe(ctx context.Context, owner model.Owner, sub model.PushSubscription) (*model.PushSubscription, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.Endpoint) == "" || sub.P256dhKey == "" || sub.AuthKey == "" {
		return nil, fmt.Errorf("%w: endpoint, p256dh and auth are required", ErrInvalid)
	}

	var out model.PushSubscription
	err := s.db.InTx(ctx, func(q database.Querier) error {
		_, err := q.Execute(ctx,
			`INSERT INTO push_subscriptions (username, endpoint, p256dh_key, auth_key, device_name, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (endpoint) DO UPDATE SET username = excluded.username,
			   p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
			string(owner), sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceName,
			s.now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		out, err = scanSubscription(q.QueryOne(ctx,
			`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, sub.Endpoint))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return &out, nil
}

// List returns owner's subscriptions, newest first.
func (s *PushStore) List(ctx context.Context, owner model.Owner) ([]model.PushSubscription, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	subs, err := queryAll(ctx, s.db, scanSubscription,
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE username = ? ORDER BY id DESC`,
		string(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	return subs, nil
}

// Unsubscribe deletes one of owner's subscriptions and reports whether it
// existed.
func (s *PushStore) Unsubscribe(ctx context.Context, owner model.Owner, id int64) (bool, error) {
	if err := checkOwner(owner); err != nil {
		return false, err
	}
	res, err := s.db.Execute(ctx,
		`DELETE FROM push_subscriptions WHERE username = ? AND id = ?`, string(owner), id)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	return res.RowsAffected > 0, nil
}

// DeleteByEndpoint drops a subscription the push service reported as gone.
func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := s.db.Execute(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// Owners returns every username with at least one subscription.
func (s *PushStore) Owners(ctx context.Context) ([]model.Owner, error) {
	owners, err := queryAll(ctx, s.db, scanOwner,
		`SELECT DISTINCT username FROM push_subscriptions ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list push owners: %w", err)
	}
	return owners, nil
}

// MarkSent records that the reminder refID went out to owner. It returns
// false when it had already been recorded.
func (s *PushStore) MarkSent(ctx context.Context, owner model.Owner, refID string) (bool, error) {
	res, err := s.db.Execute(ctx,
		`INSERT INTO push_sent (username, ref_id, sent_at) VALUES (?, ?, ?)
		 ON CONFLICT (username, ref_id) DO NOTHING`,
		string(owner), refID, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return res.RowsAffected > 0, nil
}

// CleanupSent forgets reminders sent before the cutoff.
func (s *PushStore) CleanupSent(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Execute(ctx, `DELETE FROM push_sent WHERE sent_at < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("cleanup sent: %w", err)
	}
	return res.RowsAffected, nil
}

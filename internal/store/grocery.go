package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/model"
)

type GroceryStore struct {
	db  *database.DB
	now func() time.Time
}

func NewGroceryStore(db *database.DB) *GroceryStore {
	return &GroceryStore{db: db, now: time.Now}
}

func scanGrocery(s scanner) (*model.Grocery, error) {
	var g model.Grocery
	var expanded int
	if err := s.Scan(&g.ID, &g.Name, &expanded); err != nil {
		return nil, err
	}
	g.Expanded = expanded != 0
	g.Purchases = []time.Time{}
	return &g, nil
}

const groceryCols = `id, name, expanded`

// nameKey is the case-folded form grocery names are compared and indexed by
// on both engines.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type purchaseRow struct {
	groceryID int64
	at        time.Time
}

func scanPurchase(s scanner) (purchaseRow, error) {
	var p purchaseRow
	var raw string
	if err := s.Scan(&p.groceryID, &raw); err != nil {
		return p, err
	}
	at, err := parsePurchase(raw)
	if err != nil {
		return p, err
	}
	p.at = at
	return p, nil
}

func (s *GroceryStore) List(ctx context.Context, owner model.Owner) ([]model.Grocery, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return listGroceries(ctx, s.db, owner)
}

func listGroceries(ctx context.Context, q database.Querier, owner model.Owner) ([]model.Grocery, error) {
	items, err := queryAll(ctx, q, scanGrocery,
		`SELECT `+groceryCols+` FROM groceries WHERE username = ? ORDER BY name_key ASC, id ASC`,
		string(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("list groceries: %w", err)
	}

	purchases, err := queryAll(ctx, q, scanPurchase,
		`SELECT p.grocery_id, p.purchased_at FROM grocery_purchases p
		 JOIN groceries g ON g.id = p.grocery_id
		 WHERE g.username = ? ORDER BY p.id ASC`,
		string(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	byID := make(map[int64]*model.Grocery, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, p := range purchases {
		if item, ok := byID[p.groceryID]; ok {
			item.Purchases = append(item.Purchases, p.at)
		}
	}

	out := make([]model.Grocery, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

// fetchGrocery returns the single grocery matched by where, or nil.
func fetchGrocery(ctx context.Context, q database.Querier, where string, args ...any) (*model.Grocery, error) {
	item, err := scanGrocery(q.QueryOne(ctx, `SELECT `+groceryCols+` FROM groceries WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grocery: %w", err)
	}

	purchases, err := queryAll(ctx, q, scanPurchase,
		`SELECT grocery_id, purchased_at FROM grocery_purchases WHERE grocery_id = ? ORDER BY id ASC`,
		item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("get purchases: %w", err)
	}
	for _, p := range purchases {
		item.Purchases = append(item.Purchases, p.at)
	}
	return item, nil
}

func findGroceryByName(ctx context.Context, q database.Querier, owner model.Owner, name string) (*model.Grocery, error) {
	return fetchGrocery(ctx, q, `username = ? AND name_key = ?`, string(owner), nameKey(name))
}

func findGroceryByID(ctx context.Context, q database.Querier, owner model.Owner, id int64) (*model.Grocery, error) {
	return fetchGrocery(ctx, q, `username = ? AND id = ?`, string(owner), id)
}

// Get looks a grocery up by name, ignoring case. It returns nil when absent.
func (s *GroceryStore) Get(ctx context.Context, owner model.Owner, name string) (*model.Grocery, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return findGroceryByName(ctx, s.db, owner, name)
}

// Add creates a grocery with no purchases. A case-insensitive name clash
// returns ErrDuplicate.
func (s *GroceryStore) Add(ctx context.Context, owner model.Owner, name string) (*model.Grocery, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	var item *model.Grocery
	err := s.db.InTx(ctx, func(q database.Querier) error {
		existing, err := findGroceryByName(ctx, q, owner, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicate
		}

		res, err := q.Execute(ctx,
			`INSERT INTO groceries (username, name, name_key, expanded) VALUES (?, ?, ?, 0)`,
			string(owner), name, nameKey(name),
		)
		if err != nil {
			return fmt.Errorf("insert grocery: %w", err)
		}
		item = &model.Grocery{ID: res.LastInsertID, Name: name, Purchases: []time.Time{}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RecordPurchase appends the current time to the grocery's history and
// returns the refreshed item, or nil when the grocery does not exist.
func (s *GroceryStore) RecordPurchase(ctx context.Context, owner model.Owner, name string) (*model.Grocery, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	var item *model.Grocery
	err := s.db.InTx(ctx, func(q database.Querier) error {
		existing, err := findGroceryByName(ctx, q, owner, name)
		if err != nil || existing == nil {
			return err
		}

		if _, err := q.Execute(ctx,
			`INSERT INTO grocery_purchases (grocery_id, purchased_at) VALUES (?, ?)`,
			existing.ID, formatPurchase(s.now()),
		); err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		item, err = findGroceryByID(ctx, q, owner, existing.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Update merges the non-nil fields of upd into the named grocery. A supplied
// purchase list replaces the stored history. It returns nil when the grocery
// does not exist.
func (s *GroceryStore) Update(ctx context.Context, owner model.Owner, name string, upd model.GroceryUpdate) (*model.Grocery, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	var item *model.Grocery
	err := s.db.InTx(ctx, func(q database.Querier) error {
		existing, err := findGroceryByName(ctx, q, owner, name)
		if err != nil || existing == nil {
			return err
		}

		newName := existing.Name
		if upd.Name != nil {
			newName = strings.TrimSpace(*upd.Name)
			if newName == "" {
				return fmt.Errorf("%w: name is required", ErrInvalid)
			}
			clash, err := findGroceryByName(ctx, q, owner, newName)
			if err != nil {
				return err
			}
			if clash != nil && clash.ID != existing.ID {
				return ErrDuplicate
			}
		}

		expanded := existing.Expanded
		if upd.Expanded != nil {
			expanded = *upd.Expanded
		}

		if upd.Purchases != nil {
			if err := replacePurchases(ctx, q, existing.ID, *upd.Purchases); err != nil {
				return err
			}
		}

		if _, err := q.Execute(ctx,
			`UPDATE groceries SET name = ?, name_key = ?, expanded = ? WHERE id = ? AND username = ?`,
			newName, nameKey(newName), boolToInt(expanded), existing.ID, string(owner),
		); err != nil {
			return fmt.Errorf("update grocery: %w", err)
		}

		item, err = findGroceryByID(ctx, q, owner, existing.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func replacePurchases(ctx context.Context, q database.Querier, groceryID int64, purchases []time.Time) error {
	if _, err := q.Execute(ctx, `DELETE FROM grocery_purchases WHERE grocery_id = ?`, groceryID); err != nil {
		return fmt.Errorf("clear purchases: %w", err)
	}
	return insertPurchases(ctx, q, groceryID, purchases)
}

func insertPurchases(ctx context.Context, q database.Querier, groceryID int64, purchases []time.Time) error {
	for _, at := range purchases {
		if _, err := q.Execute(ctx,
			`INSERT INTO grocery_purchases (grocery_id, purchased_at) VALUES (?, ?)`,
			groceryID, formatPurchase(at),
		); err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
	}
	return nil
}

// ReplaceAll deletes every grocery the owner has and inserts items in their
// place, atomically. Duplicate names in items return ErrDuplicate and leave
// the stored list untouched.
func (s *GroceryStore) ReplaceAll(ctx context.Context, owner model.Owner, items []model.Grocery) ([]model.Grocery, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if err := validateGroceries(items); err != nil {
		return nil, err
	}

	var out []model.Grocery
	err := s.db.InTx(ctx, func(q database.Querier) error {
		var err error
		out, err = replaceGroceries(ctx, q, owner, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateGroceries(items []model.Grocery) error {
	seen := make(map[string]struct{}, len(items))
	for _, g := range items {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return fmt.Errorf("%w: grocery name is required", ErrInvalid)
		}
		key := nameKey(name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func replaceGroceries(ctx context.Context, q database.Querier, owner model.Owner, items []model.Grocery) ([]model.Grocery, error) {
	if err := deleteGroceries(ctx, q, owner); err != nil {
		return nil, err
	}
	for _, g := range items {
		res, err := q.Execute(ctx,
			`INSERT INTO groceries (username, name, name_key, expanded) VALUES (?, ?, ?, ?)`,
			string(owner), strings.TrimSpace(g.Name), nameKey(g.Name), boolToInt(g.Expanded),
		)
		if err != nil {
			return nil, fmt.Errorf("insert grocery: %w", err)
		}
		if err := insertPurchases(ctx, q, res.LastInsertID, g.Purchases); err != nil {
			return nil, err
		}
	}
	return listGroceries(ctx, q, owner)
}

func deleteGroceries(ctx context.Context, q database.Querier, owner model.Owner) error {
	if _, err := q.Execute(ctx,
		`DELETE FROM grocery_purchases WHERE grocery_id IN (SELECT id FROM groceries WHERE username = ?)`,
		string(owner),
	); err != nil {
		return fmt.Errorf("delete purchases: %w", err)
	}
	if _, err := q.Execute(ctx, `DELETE FROM groceries WHERE username = ?`, string(owner)); err != nil {
		return fmt.Errorf("delete groceries: %w", err)
	}
	return nil
}

// Reset removes every grocery and purchase the owner has.
func (s *GroceryStore) Reset(ctx context.Context, owner model.Owner) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	return s.db.InTx(ctx, func(q database.Querier) error {
		return deleteGroceries(ctx, q, owner)
	})
}

// Remove deletes the named grocery; its purchases go with it through the
// foreign key cascade. It reports whether a row was removed.
func (s *GroceryStore) Remove(ctx context.Context, owner model.Owner, name string) (bool, error) {
	if err := checkOwner(owner); err != nil {
		return false, err
	}
	res, err := s.db.Execute(ctx,
		`DELETE FROM groceries WHERE username = ? AND name_key = ?`,
		string(owner), nameKey(name),
	)
	if err != nil {
		return false, fmt.Errorf("delete grocery: %w", err)
	}
	return res.RowsAffected > 0, nil
}

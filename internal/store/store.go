package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/model"
)

var (
	// ErrNoOwner is returned when an operation is called without an owner.
	ErrNoOwner = errors.New("owner is required")
	// ErrDuplicate is returned when a natural key already exists for the owner.
	ErrDuplicate = errors.New("already exists")
	// ErrInvalid wraps input the store refuses to persist.
	ErrInvalid = errors.New("invalid input")
)

// purchaseLayout matches the ISO-8601 form browsers emit from toISOString.
const purchaseLayout = "2006-01-02T15:04:05.000Z07:00"

type scanner interface{ Scan(...any) error }

func checkOwner(owner model.Owner) error {
	if strings.TrimSpace(string(owner)) == "" {
		return ErrNoOwner
	}
	return nil
}

// queryAll runs query and scans every row with scan. Rows are closed before
// it returns so callers may issue the next statement on the same connection.
func queryAll[T any](ctx context.Context, q database.Querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func formatPurchase(t time.Time) string {
	return t.UTC().Format(purchaseLayout)
}

func parsePurchase(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse purchase %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

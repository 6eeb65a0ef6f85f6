package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/model"
)

var demoGroceries = []string{"Milk", "Eggs", "Bread", "Bananas", "Chicken"}

// SeedDemo wipes owner's data and loads the sample list shown to the demo
// account. It runs as one transaction.
func SeedDemo(ctx context.Context, db *database.DB, owner model.Owner, now time.Time) error {
	if err := checkOwner(owner); err != nil {
		return err
	}

	groceries := make([]model.Grocery, 0, len(demoGroceries))
	for _, name := range demoGroceries {
		g := model.Grocery{Name: name}
		if name == "Milk" || name == "Eggs" {
			g.Purchases = []time.Time{now}
		}
		groceries = append(groceries, g)
	}

	tomorrow := now.AddDate(0, 0, 1).Format(model.DueDateLayout)
	dayAfter := now.AddDate(0, 0, 2).Format(model.DueDateLayout)
	base := now.UnixMilli()
	tasks := []model.Task{
		{ID: base, Name: "Buy groceries", DueDate: &tomorrow},
		{ID: base + 1, Name: "Clean the house", Completed: true},
		{ID: base + 2, Name: "Walk the dog", DueDate: &dayAfter},
	}

	err := db.InTx(ctx, func(q database.Querier) error {
		if _, err := replaceGroceries(ctx, q, owner, groceries); err != nil {
			return err
		}
		_, err := replaceTasks(ctx, q, owner, tasks)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed demo: %w", err)
	}
	return nil
}

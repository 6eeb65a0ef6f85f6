package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/model"
)

// BackupStore exports and imports an owner's complete data set.
type BackupStore struct {
	db  *database.DB
	now func() time.Time
}

func NewBackupStore(db *database.DB) *BackupStore {
	return &BackupStore{db: db, now: time.Now}
}

// Export reads the owner's groceries and tasks from one consistent snapshot.
func (s *BackupStore) Export(ctx context.Context, owner model.Owner) (*model.Backup, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	b := &model.Backup{
		ExportDate: s.now().UTC(),
		Version:    model.BackupVersion,
	}
	err := s.db.InTx(ctx, func(q database.Querier) error {
		var err error
		if b.Groceries, err = listGroceries(ctx, q, owner); err != nil {
			return err
		}
		b.Tasks, err = listTasks(ctx, q, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if b.Tasks == nil {
		b.Tasks = []model.Task{}
	}
	return b, nil
}

// Import replaces the owner's groceries and tasks with the backup's contents
// in a single transaction and returns what was stored.
func (s *BackupStore) Import(ctx context.Context, owner model.Owner, backup model.Backup) (*model.Backup, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if err := validateGroceries(backup.Groceries); err != nil {
		return nil, err
	}
	tasks, err := prepareTasks(backup.Tasks, s.now())
	if err != nil {
		return nil, err
	}

	out := &model.Backup{
		ExportDate: s.now().UTC(),
		Version:    model.BackupVersion,
	}
	err = s.db.InTx(ctx, func(q database.Querier) error {
		var err error
		if out.Groceries, err = replaceGroceries(ctx, q, owner, backup.Groceries); err != nil {
			return err
		}
		out.Tasks, err = replaceTasks(ctx, q, owner, tasks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	if out.Tasks == nil {
		out.Tasks = []model.Task{}
	}
	return out, nil
}

// Owners lists every username that has at least one grocery or task.
func (s *BackupStore) Owners(ctx context.Context) ([]model.Owner, error) {
	owners, err := queryAll(ctx, s.db, scanOwner,
		`SELECT username FROM groceries UNION SELECT username FROM tasks ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

func scanOwner(sc scanner) (model.Owner, error) {
	var name string
	if err := sc.Scan(&name); err != nil {
		return "", err
	}
	return model.Owner(name), nil
}

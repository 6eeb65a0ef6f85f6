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

type TaskStore struct {
	db  *database.DB
	now func() time.Time
}

func NewTaskStore(db *database.DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now}
}

func scanTask(s scanner) (model.Task, error) {
	var t model.Task
	var completed int
	var due sql.NullString
	if err := s.Scan(&t.ID, &t.Name, &completed, &due); err != nil {
		return t, err
	}
	t.Completed = completed != 0
	if due.Valid {
		t.DueDate = &due.String
	}
	return t, nil
}

const taskCols = `id, name, completed, due_date`

func (s *TaskStore) List(ctx context.Context, owner model.Owner) ([]model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return listTasks(ctx, s.db, owner)
}

func listTasks(ctx context.Context, q database.Querier, owner model.Owner) ([]model.Task, error) {
	tasks, err := queryAll(ctx, q, scanTask,
		`SELECT `+taskCols+` FROM tasks WHERE username = ? ORDER BY id ASC`,
		string(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func findTask(ctx context.Context, q database.Querier, owner model.Owner, id int64) (*model.Task, error) {
	t, err := scanTask(q.QueryOne(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE username = ? AND id = ?`,
		string(owner), id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// Get returns the task or nil when the owner has no task with that id.
func (s *TaskStore) Get(ctx context.Context, owner model.Owner, id int64) (*model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return findTask(ctx, s.db, owner, id)
}

// nextTaskID derives an id from the wall clock in milliseconds, bumped past
// the owner's current maximum so ids stay unique and increasing.
func nextTaskID(ctx context.Context, q database.Querier, owner model.Owner, now time.Time) (int64, error) {
	var maxID int64
	if err := q.QueryOne(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM tasks WHERE username = ?`,
		string(owner),
	).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max task id: %w", err)
	}
	id := now.UnixMilli()
	if id <= maxID {
		id = maxID + 1
	}
	return id, nil
}

func normalizeDueDate(due *string) (*string, error) {
	if due == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*due)
	if d == "" {
		return nil, nil
	}
	if _, err := time.Parse(model.DueDateLayout, d); err != nil {
		return nil, fmt.Errorf("%w: due date %q is not YYYY-MM-DD", ErrInvalid, d)
	}
	return &d, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *TaskStore) Add(ctx context.Context, owner model.Owner, name string, dueDate *string) (*model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	due, err := normalizeDueDate(dueDate)
	if err != nil {
		return nil, err
	}

	var task *model.Task
	err = s.db.InTx(ctx, func(q database.Querier) error {
		id, err := nextTaskID(ctx, q, owner, s.now())
		if err != nil {
			return err
		}
		if _, err := q.Execute(ctx,
			`INSERT INTO tasks (username, id, name, completed, due_date) VALUES (?, ?, ?, 0, ?)`,
			string(owner), id, name, nullString(due),
		); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		task = &model.Task{ID: id, Name: name, DueDate: due}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Update merges the non-nil fields of upd into the task. It returns nil when
// the task does not exist.
func (s *TaskStore) Update(ctx context.Context, owner model.Owner, id int64, upd model.TaskUpdate) (*model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	var task *model.Task
	err := s.db.InTx(ctx, func(q database.Querier) error {
		existing, err := findTask(ctx, q, owner, id)
		if err != nil || existing == nil {
			return err
		}

		merged := *existing
		if upd.Name != nil {
			merged.Name = strings.TrimSpace(*upd.Name)
			if merged.Name == "" {
				return fmt.Errorf("%w: name is required", ErrInvalid)
			}
		}
		if upd.Completed != nil {
			merged.Completed = *upd.Completed
		}
		if upd.DueDate != nil {
			if merged.DueDate, err = normalizeDueDate(upd.DueDate); err != nil {
				return err
			}
		}

		if err := writeTask(ctx, q, owner, merged); err != nil {
			return err
		}
		task = &merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func writeTask(ctx context.Context, q database.Querier, owner model.Owner, t model.Task) error {
	_, err := q.Execute(ctx,
		`UPDATE tasks SET name = ?, completed = ?, due_date = ? WHERE username = ? AND id = ?`,
		t.Name, boolToInt(t.Completed), nullString(t.DueDate), string(owner), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// Toggle flips the task's completion flag. It returns nil when the task does
// not exist.
func (s *TaskStore) Toggle(ctx context.Context, owner model.Owner, id int64) (*model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	var task *model.Task
	err := s.db.InTx(ctx, func(q database.Querier) error {
		existing, err := findTask(ctx, q, owner, id)
		if err != nil || existing == nil {
			return err
		}
		existing.Completed = !existing.Completed
		if err := writeTask(ctx, q, owner, *existing); err != nil {
			return err
		}
		task = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ReplaceAll deletes the owner's tasks and inserts tasks in their place,
// atomically. Tasks without an id get one assigned; repeated ids return
// ErrDuplicate.
func (s *TaskStore) ReplaceAll(ctx context.Context, owner model.Owner, tasks []model.Task) ([]model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	prepared, err := prepareTasks(tasks, s.now())
	if err != nil {
		return nil, err
	}

	var out []model.Task
	err = s.db.InTx(ctx, func(q database.Querier) error {
		var err error
		out, err = replaceTasks(ctx, q, owner, prepared)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prepareTasks validates tasks and fills in missing ids.
func prepareTasks(tasks []model.Task, now time.Time) ([]model.Task, error) {
	out := make([]model.Task, 0, len(tasks))
	seen := make(map[int64]struct{}, len(tasks))
	var maxID int64
	for _, t := range tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: task name is required", ErrInvalid)
		}
		due, err := normalizeDueDate(t.DueDate)
		if err != nil {
			return nil, err
		}
		if t.ID != 0 {
			if _, ok := seen[t.ID]; ok {
				return nil, fmt.Errorf("%w: task id %d", ErrDuplicate, t.ID)
			}
			seen[t.ID] = struct{}{}
			maxID = max(maxID, t.ID)
		}
		out = append(out, model.Task{ID: t.ID, Name: name, Completed: t.Completed, DueDate: due})
	}

	next := max(now.UnixMilli(), maxID+1)
	for i := range out {
		if out[i].ID == 0 {
			out[i].ID = next
			next++
		}
	}
	return out, nil
}

func replaceTasks(ctx context.Context, q database.Querier, owner model.Owner, tasks []model.Task) ([]model.Task, error) {
	if _, err := q.Execute(ctx, `DELETE FROM tasks WHERE username = ?`, string(owner)); err != nil {
		return nil, fmt.Errorf("delete tasks: %w", err)
	}
	for _, t := range tasks {
		if _, err := q.Execute(ctx,
			`INSERT INTO tasks (username, id, name, completed, due_date) VALUES (?, ?, ?, ?, ?)`,
			string(owner), t.ID, t.Name, boolToInt(t.Completed), nullString(t.DueDate),
		); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
	}
	return listTasks(ctx, q, owner)
}

// Reset removes every task the owner has.
func (s *TaskStore) Reset(ctx context.Context, owner model.Owner) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if _, err := s.db.Execute(ctx, `DELETE FROM tasks WHERE username = ?`, string(owner)); err != nil {
		return fmt.Errorf("reset tasks: %w", err)
	}
	return nil
}

// Remove deletes the task and reports whether it existed.
func (s *TaskStore) Remove(ctx context.Context, owner model.Owner, id int64) (bool, error) {
	if err := checkOwner(owner); err != nil {
		return false, err
	}
	res, err := s.db.Execute(ctx, `DELETE FROM tasks WHERE username = ? AND id = ?`, string(owner), id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return res.RowsAffected > 0, nil
}

// DueTasks returns owner's incomplete tasks due on or before day
// (YYYY-MM-DD).
func (s *TaskStore) DueTasks(ctx context.Context, owner model.Owner, day string) ([]model.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	tasks, err := queryAll(ctx, s.db, scanTask,
		`SELECT `+taskCols+` FROM tasks
		 WHERE username = ? AND completed = 0 AND due_date IS NOT NULL AND due_date <> '' AND due_date <= ?
		 ORDER BY due_date ASC, id ASC`,
		string(owner), day,
	)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	return tasks, nil
}

package model

type Task struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Completed bool    `json:"completed"`
	DueDate   *string `json:"dueDate"`
}

// TaskUpdate carries a partial update. Nil fields are left unchanged; an
// empty DueDate clears the due date.
type TaskUpdate struct {
	Name      *string `json:"name"`
	Completed *bool   `json:"completed"`
	DueDate   *string `json:"dueDate"`
}

// DueDateLayout is the plain calendar date format used for Task.DueDate.
const DueDateLayout = "2006-01-02"

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const taskColumns = `id, title, description, status, start_date, end_date, prospect_id, created_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.StartDate, &t.EndDate, &t.ProspectID, &t.CreatedAt)
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, start_date, end_date, prospect_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Title, t.Description, t.Status, t.StartDate, t.EndDate, t.ProspectID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("lookup task: %w", err)
	}
	assignees, err := s.assigneesFor(ctx, id)
	if err != nil {
		return Task{}, err
	}
	t.Assignees = assignees
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
}

// ListTasksWithEndDate feeds the calendar view: only tasks with a due date.
func (s *Store) ListTasksWithEndDate(ctx context.Context) ([]Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE end_date IS NOT NULL ORDER BY end_date`)
}

func (s *Store) ListTasksAssignedTo(ctx context.Context, userID string) ([]Task, error) {
	return s.listTasks(ctx, `
		SELECT t.id, t.title, t.description, t.status, t.start_date, t.end_date, t.prospect_id, t.created_at
		FROM tasks t
		JOIN task_assignees ta ON ta.task_id = t.id
		WHERE ta.user_id = $1
		ORDER BY t.created_at
	`, userID)
}

func (s *Store) ListTasksByProspect(ctx context.Context, prospectID string) ([]Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE prospect_id = $1 ORDER BY created_at`, prospectID)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byTask, err := s.assigneeMap(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Assignees = byTask[tasks[i].ID]
	}
	return tasks, nil
}

func (s *Store) CountPendingTasksFor(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tasks t
		JOIN task_assignees ta ON ta.task_id = t.id
		WHERE ta.user_id = $1 AND t.status <> $2
	`, userID, TaskStatusDone).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return count, nil
}

// UpdateTask overwrites every mutable field of the task; created_at and the
// assignee set are managed separately.
func (s *Store) UpdateTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = $1, description = $2, status = $3, start_date = $4, end_date = $5, prospect_id = $6
		WHERE id = $7
	`, t.Title, t.Description, t.Status, t.StartDate, t.EndDate, t.ProspectID, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id, status string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// DeleteTask removes the task, its assignment rows and its subtasks in one
// transaction.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id = $1`, id); err != nil {
			return fmt.Errorf("delete task subtasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, id); err != nil {
			return fmt.Errorf("delete task assignees: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}

// ReplaceTaskAssignees swaps the full assignee set atomically. An empty
// userIDs slice clears every assignee; there is no incremental add/remove.
func (s *Store) ReplaceTaskAssignees(ctx context.Context, taskID string, userIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, taskID); err != nil {
			return fmt.Errorf("clear task assignees: %w", err)
		}
		for _, userID := range userIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2)
			`, taskID, userID); err != nil {
				return fmt.Errorf("assign task: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) assigneesFor(ctx context.Context, taskID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_active, u.created_at
		FROM task_assignees ta
		JOIN users u ON u.id = ta.user_id
		WHERE ta.task_id = $1
		ORDER BY u.username
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task assignees: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) assigneeMap(ctx context.Context) (map[string][]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ta.task_id, u.id, u.username, u.email, u.password_hash, u.is_active, u.created_at
		FROM task_assignees ta
		JOIN users u ON u.id = ta.user_id
		ORDER BY u.username
	`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	byTask := make(map[string][]User)
	for rows.Next() {
		var taskID string
		var u User
		if err := rows.Scan(&taskID, &u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		byTask[taskID] = append(byTask[taskID], u)
	}
	return byTask, rows.Err()
}

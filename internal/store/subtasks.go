package store

import (
	"context"
	"fmt"
)

func (s *Store) CreateSubTask(ctx context.Context, st SubTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, title, status, user_id, task_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, st.ID, st.Title, st.Status, st.UserID, st.TaskID, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}
	return nil
}

func (s *Store) ListSubTasksByOwner(ctx context.Context, userID string) ([]SubTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, user_id, task_id, created_at
		FROM subtasks WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []SubTask
	for rows.Next() {
		var st SubTask
		if err := rows.Scan(&st.ID, &st.Title, &st.Status, &st.UserID, &st.TaskID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, rows.Err()
}

// UpdateSubTaskStatusOwned touches the row only when userID owns it; a
// non-owner's attempt matches zero rows and is a silent no-op.
func (s *Store) UpdateSubTaskStatusOwned(ctx context.Context, id, userID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subtasks SET status = $1 WHERE id = $2 AND user_id = $3
	`, status, id, userID)
	if err != nil {
		return fmt.Errorf("update subtask status: %w", err)
	}
	return nil
}

// DeleteSubTaskOwned deletes the row only when userID owns it.
func (s *Store) DeleteSubTaskOwned(ctx context.Context, id, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subtasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	return nil
}

func (s *Store) CountSubTasksByTask(ctx context.Context, taskID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subtasks WHERE task_id = $1`, taskID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count subtasks: %w", err)
	}
	return count, nil
}

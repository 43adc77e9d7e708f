package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        *string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

type Prospect struct {
	ID          string
	Name        string
	Industry    string
	ContactName string
	Email       string
	Phone       string
	Address     string
	Status      string
	CreatedBy   *string
	CreatedAt   time.Time
}

type Note struct {
	ID         string
	ProspectID string
	Content    string
	CreatedAt  time.Time
}

type Task struct {
	ID          string
	Title       string
	Description string
	Status      string
	StartDate   *time.Time
	EndDate     *time.Time
	ProspectID  *string
	CreatedAt   time.Time
	// Joined assignees, filled by Get/List queries
	Assignees []User
}

type SubTask struct {
	ID        string
	Title     string
	Status    string
	UserID    string
	TaskID    string
	CreatedAt time.Time
}

// Task status is a real enum; Prospect and SubTask statuses are free-form
// strings by convention (Nuevo/Contactado/Interesado/Cliente and
// todo/in_progress/done respectively).
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

func ValidTaskStatus(status string) bool {
	switch status {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone:
		return true
	}
	return false
}

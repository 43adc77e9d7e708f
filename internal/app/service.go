package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agenciacrm/internal/auth"
	"agenciacrm/internal/config"
	"agenciacrm/internal/creds"
	"agenciacrm/internal/store"
	"agenciacrm/internal/util"
)

// The conventional prospect pipeline labels. The schema does not enforce
// them; the detail view offers them and "Contactado" feeds the dashboard
// count.
var ProspectStatuses = []string{"Nuevo", "Contactado", "Interesado", "Cliente"}

type dataStore interface {
	Ping(context.Context) error

	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)

	CreateProspect(context.Context, store.Prospect) error
	GetProspect(context.Context, string) (store.Prospect, error)
	ListProspects(context.Context) ([]store.Prospect, error)
	UpdateProspect(context.Context, store.Prospect) error
	DeleteProspect(context.Context, string) error
	CountProspects(context.Context) (int, error)
	CountProspectsByStatus(context.Context, string) (int, error)
	CreateNote(context.Context, store.Note) error
	ListNotesByProspect(context.Context, string) ([]store.Note, error)

	CreateTask(context.Context, store.Task) error
	GetTask(context.Context, string) (store.Task, error)
	ListTasks(context.Context) ([]store.Task, error)
	ListTasksWithEndDate(context.Context) ([]store.Task, error)
	ListTasksAssignedTo(context.Context, string) ([]store.Task, error)
	ListTasksByProspect(context.Context, string) ([]store.Task, error)
	CountPendingTasksFor(context.Context, string) (int, error)
	UpdateTask(context.Context, store.Task) error
	UpdateTaskStatus(context.Context, string, string) error
	DeleteTask(context.Context, string) error
	ReplaceTaskAssignees(context.Context, string, []string) error

	CreateSubTask(context.Context, store.SubTask) error
	ListSubTasksByOwner(context.Context, string) ([]store.SubTask, error)
	UpdateSubTaskStatusOwned(context.Context, string, string, string) error
	DeleteSubTaskOwned(context.Context, string, string) error
}

type sessionRegistry interface {
	Record(ctx context.Context, jti, username string, expiresAt time.Time) error
	Active(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	creds    *creds.Service
	sessions sessionRegistry
}

func New(cfg config.Config, st dataStore, credsService *creds.Service) *Service {
	return &Service{cfg: cfg, store: st, creds: credsService}
}

// NewWithSessionRegistry additionally revokes sessions server-side through
// the registry on logout.
func NewWithSessionRegistry(cfg config.Config, st dataStore, credsService *creds.Service, registry sessionRegistry) *Service {
	return &Service{cfg: cfg, store: st, creds: credsService, sessions: registry}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authentication

func (s *Service) Register(ctx context.Context, username, email, password string) error {
	_, err := s.creds.Register(ctx, username, email, password)
	return err
}

func (s *Service) Login(ctx context.Context, username, password string) (creds.Session, error) {
	_, session, err := s.creds.Login(ctx, username, password)
	if err != nil {
		return creds.Session{}, err
	}
	if s.sessions != nil {
		if err := s.sessions.Record(ctx, session.JTI, session.Username, session.ExpiresAt); err != nil {
			return creds.Session{}, fmt.Errorf("record session: %w", err)
		}
	}
	return session, nil
}

// Logout revokes the session in the registry when one is configured. A bad
// token is ignored; the cookie is cleared either way.
func (s *Service) Logout(ctx context.Context, token string) {
	if s.sessions == nil || token == "" {
		return
	}
	claims, err := s.creds.DecodeToken(token)
	if err != nil {
		return
	}
	_ = s.sessions.Revoke(ctx, claims.JTI)
}

// CurrentUser is the access gate: it resolves the token from the session
// cookie into an active user or fails with ErrUnauthenticated.
func (s *Service) CurrentUser(ctx context.Context, token string) (store.User, error) {
	claims, err := s.creds.DecodeToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
			return store.User{}, ErrUnauthenticated
		}
		return store.User{}, err
	}
	if s.sessions != nil {
		active, err := s.sessions.Active(ctx, claims.JTI)
		if err != nil {
			return store.User{}, fmt.Errorf("session lookup: %w", err)
		}
		if !active {
			return store.User{}, ErrUnauthenticated
		}
	}
	user, err := s.store.GetUserByUsername(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrUnauthenticated
	}
	if err != nil {
		return store.User{}, err
	}
	if !user.IsActive {
		return store.User{}, ErrUnauthenticated
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, user store.User, email, password string) error {
	return s.creds.UpdateProfile(ctx, user, email, password)
}

// Dashboard

type DashboardStats struct {
	Total        int
	Contacted    int
	PendingTasks int
}

func (s *Service) Dashboard(ctx context.Context, user store.User) (DashboardStats, error) {
	total, err := s.store.CountProspects(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	contacted, err := s.store.CountProspectsByStatus(ctx, "Contactado")
	if err != nil {
		return DashboardStats{}, err
	}
	pending, err := s.store.CountPendingTasksFor(ctx, user.ID)
	if err != nil {
		return DashboardStats{}, err
	}
	return DashboardStats{Total: total, Contacted: contacted, PendingTasks: pending}, nil
}

// Prospects

type ProspectInput struct {
	Name        string
	Industry    string
	ContactName string
	Email       string
	Phone       string
	Address     string
	Status      string
}

func (s *Service) ListProspects(ctx context.Context) ([]store.Prospect, error) {
	return s.store.ListProspects(ctx)
}

func (s *Service) CreateProspect(ctx context.Context, creator store.User, input ProspectInput) error {
	if input.Name == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
	}
	status := input.Status
	if status == "" {
		status = "Nuevo"
	}
	return s.store.CreateProspect(ctx, store.Prospect{
		ID:          util.NewID("pro"),
		Name:        input.Name,
		Industry:    input.Industry,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		Status:      status,
		CreatedBy:   &creator.ID,
		CreatedAt:   time.Now().UTC(),
	})
}

type ProspectDetail struct {
	Prospect store.Prospect
	Notes    []store.Note
	Tasks    []store.Task
	Users    []store.User
	Statuses []string
}

func (s *Service) ProspectDetail(ctx context.Context, id string) (ProspectDetail, error) {
	prospect, err := s.store.GetProspect(ctx, id)
	if err != nil {
		return ProspectDetail{}, err
	}
	notes, err := s.store.ListNotesByProspect(ctx, id)
	if err != nil {
		return ProspectDetail{}, err
	}
	tasks, err := s.store.ListTasksByProspect(ctx, id)
	if err != nil {
		return ProspectDetail{}, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return ProspectDetail{}, err
	}
	return ProspectDetail{
		Prospect: prospect,
		Notes:    notes,
		Tasks:    tasks,
		Users:    users,
		Statuses: ProspectStatuses,
	}, nil
}

func (s *Service) UpdateProspect(ctx context.Context, id string, input ProspectInput) error {
	if input.Name == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
	}
	prospect, err := s.store.GetProspect(ctx, id)
	if err != nil {
		return err
	}
	prospect.Name = input.Name
	prospect.Industry = input.Industry
	prospect.ContactName = input.ContactName
	prospect.Email = input.Email
	prospect.Phone = input.Phone
	prospect.Address = input.Address
	if input.Status != "" {
		prospect.Status = input.Status
	}
	return s.store.UpdateProspect(ctx, prospect)
}

func (s *Service) DeleteProspect(ctx context.Context, id string) error {
	return s.store.DeleteProspect(ctx, id)
}

func (s *Service) AddNote(ctx context.Context, prospectID, content string) error {
	if content == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content is required")
	}
	if _, err := s.store.GetProspect(ctx, prospectID); err != nil {
		return err
	}
	return s.store.CreateNote(ctx, store.Note{
		ID:         util.NewID("not"),
		ProspectID: prospectID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	})
}

// Tasks

type TaskInput struct {
	Title       string
	Description string
	Status      string
	StartDate   *time.Time
	EndDate     *time.Time
	ProspectID  *string
	AssigneeIDs []string
}

type PlanningView struct {
	Tasks     []store.Task
	Prospects []store.Prospect
	Users     []store.User
}

func (s *Service) Planning(ctx context.Context) (PlanningView, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return PlanningView{}, err
	}
	prospects, err := s.store.ListProspects(ctx)
	if err != nil {
		return PlanningView{}, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return PlanningView{}, err
	}
	return PlanningView{Tasks: tasks, Prospects: prospects, Users: users}, nil
}

func (s *Service) Calendar(ctx context.Context) ([]store.Task, error) {
	return s.store.ListTasksWithEndDate(ctx)
}

func (s *Service) CreateTask(ctx context.Context, input TaskInput) error {
	if input.Title == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required")
	}
	status := input.Status
	if status == "" {
		status = store.TaskStatusTodo
	}
	if !store.ValidTaskStatus(status) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown task status")
	}
	task := store.Task{
		ID:          util.NewID("tsk"),
		Title:       input.Title,
		Description: input.Description,
		Status:      status,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		ProspectID:  input.ProspectID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return err
	}
	if len(input.AssigneeIDs) > 0 {
		return s.store.ReplaceTaskAssignees(ctx, task.ID, input.AssigneeIDs)
	}
	return nil
}

// UpdateTask overwrites every field and swaps the assignee set for the
// submitted one. An empty submission deliberately unassigns everyone; it is
// not a no-op.
func (s *Service) UpdateTask(ctx context.Context, id string, input TaskInput) error {
	if input.Title == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required")
	}
	if !store.ValidTaskStatus(input.Status) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown task status")
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	task.Title = input.Title
	task.Description = input.Description
	task.Status = input.Status
	task.StartDate = input.StartDate
	task.EndDate = input.EndDate
	task.ProspectID = input.ProspectID
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	return s.store.ReplaceTaskAssignees(ctx, id, input.AssigneeIDs)
}

func (s *Service) UpdateTaskStatus(ctx context.Context, id, status string) error {
	if !store.ValidTaskStatus(status) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown task status")
	}
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return err
	}
	return s.store.UpdateTaskStatus(ctx, id, status)
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.store.DeleteTask(ctx, id)
}

// Profile and subtasks

type ProfileView struct {
	User     store.User
	Tasks    []store.Task
	SubTasks []store.SubTask
}

func (s *Service) Profile(ctx context.Context, user store.User) (ProfileView, error) {
	tasks, err := s.store.ListTasksAssignedTo(ctx, user.ID)
	if err != nil {
		return ProfileView{}, err
	}
	subtasks, err := s.store.ListSubTasksByOwner(ctx, user.ID)
	if err != nil {
		return ProfileView{}, err
	}
	return ProfileView{User: user, Tasks: tasks, SubTasks: subtasks}, nil
}

func (s *Service) CreateSubTask(ctx context.Context, owner store.User, title, taskID string) error {
	if title == "" || taskID == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title and task are required")
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return err
	}
	return s.store.CreateSubTask(ctx, store.SubTask{
		ID:        util.NewID("sub"),
		Title:     title,
		Status:    store.TaskStatusTodo,
		UserID:    owner.ID,
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	})
}

// UpdateSubTaskStatus only touches subtasks owned by user; anyone else's
// attempt is a silent no-op.
func (s *Service) UpdateSubTaskStatus(ctx context.Context, user store.User, id, status string) error {
	if status == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status is required")
	}
	return s.store.UpdateSubTaskStatusOwned(ctx, id, user.ID, status)
}

func (s *Service) DeleteSubTask(ctx context.Context, user store.User, id string) error {
	return s.store.DeleteSubTaskOwned(ctx, id, user.ID)
}

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"agenciacrm/internal/store"
	"agenciacrm/internal/web"
)

const sessionCookieName = "crm_session"

type HTTPServer struct {
	service  *Service
	renderer *web.Renderer
}

func NewHTTPServer(service *Service, renderer *web.Renderer) *HTTPServer {
	return &HTTPServer{service: service, renderer: renderer}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		return
	}

	// Login and registration are the only views outside the access gate.
	if r.URL.Path == "/login" {
		switch r.Method {
		case http.MethodGet:
			s.render(w, http.StatusOK, "login", web.Page{Title: "Iniciar sesión"})
		case http.MethodPost:
			s.handleLogin(w, r)
		default:
			s.renderError(w, http.StatusMethodNotAllowed, "Método no permitido")
		}
		return
	}

	if r.URL.Path == "/register" {
		switch r.Method {
		case http.MethodGet:
			s.render(w, http.StatusOK, "register", web.Page{Title: "Crear cuenta"})
		case http.MethodPost:
			s.handleRegister(w, r)
		default:
			s.renderError(w, http.StatusMethodNotAllowed, "Método no permitido")
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/logout" {
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			s.service.Logout(r.Context(), cookie.Value)
		}
		clearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/" {
		stats, err := s.service.Dashboard(r.Context(), user)
		if err != nil {
			s.failure(w, err)
			return
		}
		s.render(w, http.StatusOK, "dashboard", web.Page{
			Title: "Dashboard", ActiveTab: "dashboard", Username: user.Username, Data: stats,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/prospectos" {
		prospects, err := s.service.ListProspects(r.Context())
		if err != nil {
			s.failure(w, err)
			return
		}
		s.render(w, http.StatusOK, "prospects", web.Page{
			Title: "Prospectos", ActiveTab: "prospects", Username: user.Username,
			Data: struct{ Prospects []store.Prospect }{prospects},
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/prospectos/nuevo" {
		if err := r.ParseForm(); err != nil {
			s.renderError(w, http.StatusBadRequest, "Formulario inválido")
			return
		}
		err := s.service.CreateProspect(r.Context(), user, ProspectInput{
			Name:        strings.TrimSpace(r.FormValue("name")),
			Industry:    r.FormValue("industry"),
			ContactName: r.FormValue("contact_name"),
			Email:       r.FormValue("email"),
			Phone:       r.FormValue("phone"),
			Address:     r.FormValue("address"),
		})
		if err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/prospectos", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/planning" {
		view, err := s.service.Planning(r.Context())
		if err != nil {
			s.failure(w, err)
			return
		}
		s.render(w, http.StatusOK, "planning", web.Page{
			Title: "Planificación", ActiveTab: "planning", Username: user.Username, Data: view,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/calendar" {
		tasks, err := s.service.Calendar(r.Context())
		if err != nil {
			s.failure(w, err)
			return
		}
		s.render(w, http.StatusOK, "calendar", web.Page{
			Title: "Calendario", ActiveTab: "calendar", Username: user.Username,
			Data: struct{ Tasks []store.Task }{tasks},
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/profile" {
		view, err := s.service.Profile(r.Context(), user)
		if err != nil {
			s.failure(w, err)
			return
		}
		s.render(w, http.StatusOK, "profile", web.Page{
			Title: "Perfil", ActiveTab: "profile", Username: user.Username, Data: view,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/profile/update" {
		if err := r.ParseForm(); err != nil {
			s.renderError(w, http.StatusBadRequest, "Formulario inválido")
			return
		}
		if err := s.service.UpdateProfile(r.Context(), user, r.FormValue("email"), r.FormValue("password")); err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/tasks/create" {
		input, err := taskInputFromForm(r)
		if err != nil {
			s.failure(w, err)
			return
		}
		if err := s.service.CreateTask(r.Context(), input); err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, returnTo(r), http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/subtasks/create" {
		if err := r.ParseForm(); err != nil {
			s.renderError(w, http.StatusBadRequest, "Formulario inválido")
			return
		}
		err := s.service.CreateSubTask(r.Context(), user, strings.TrimSpace(r.FormValue("title")), r.FormValue("task_id"))
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/profile", http.StatusSeeOther)
			return
		}
		if err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 2 && parts[0] == "prospectos" {
		s.handleProspect(w, r, user, parts[1:])
		return
	}

	if len(parts) == 3 && parts[0] == "tasks" {
		s.handleTask(w, r, parts[1], parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "subtasks" {
		s.handleSubTask(w, r, user, parts[1], parts[2])
		return
	}

	s.renderError(w, http.StatusNotFound, "Página no encontrada")
}

func (s *HTTPServer) handleProspect(w http.ResponseWriter, r *http.Request, user store.User, parts []string) {
	id := parts[0]

	if len(parts) == 1 && r.Method == http.MethodGet {
		detail, err := s.service.ProspectDetail(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/prospectos", http.StatusSeeOther)
			return
		}
		if err != nil {
			s.failure(w, err)
			return
		}
		s.render(w, http.StatusOK, "prospect_detail", web.Page{
			Title: detail.Prospect.Name, ActiveTab: "prospects", Username: user.Username, Data: detail,
		})
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		s.renderError(w, http.StatusNotFound, "Página no encontrada")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Formulario inválido")
		return
	}

	switch parts[1] {
	case "update":
		err := s.service.UpdateProspect(r.Context(), id, ProspectInput{
			Name:        strings.TrimSpace(r.FormValue("name")),
			Industry:    r.FormValue("industry"),
			ContactName: r.FormValue("contact_name"),
			Email:       r.FormValue("email"),
			Phone:       r.FormValue("phone"),
			Address:     r.FormValue("address"),
			Status:      r.FormValue("status"),
		})
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/prospectos", http.StatusSeeOther)
			return
		}
		if err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/prospectos/"+id, http.StatusSeeOther)
	case "delete":
		if err := s.service.DeleteProspect(r.Context(), id); err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/prospectos", http.StatusSeeOther)
	case "notas":
		err := s.service.AddNote(r.Context(), id, strings.TrimSpace(r.FormValue("content")))
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/prospectos", http.StatusSeeOther)
			return
		}
		if err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/prospectos/"+id, http.StatusSeeOther)
	default:
		s.renderError(w, http.StatusNotFound, "Página no encontrada")
	}
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		s.renderError(w, http.StatusNotFound, "Página no encontrada")
		return
	}

	switch action {
	case "update":
		input, err := taskInputFromForm(r)
		if err != nil {
			s.failure(w, err)
			return
		}
		if err := s.service.UpdateTask(r.Context(), id, input); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, returnTo(r), http.StatusSeeOther)
	case "update_status":
		if err := r.ParseForm(); err != nil {
			s.renderError(w, http.StatusBadRequest, "Formulario inválido")
			return
		}
		if err := s.service.UpdateTaskStatus(r.Context(), id, r.FormValue("status")); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, returnTo(r), http.StatusSeeOther)
	case "delete":
		if err := s.service.DeleteTask(r.Context(), id); err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/planning", http.StatusSeeOther)
	default:
		s.renderError(w, http.StatusNotFound, "Página no encontrada")
	}
}

func (s *HTTPServer) handleSubTask(w http.ResponseWriter, r *http.Request, user store.User, id, action string) {
	if r.Method != http.MethodPost {
		s.renderError(w, http.StatusNotFound, "Página no encontrada")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Formulario inválido")
		return
	}

	switch action {
	case "update_status":
		if err := s.service.UpdateSubTaskStatus(r.Context(), user, id, r.FormValue("status")); err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
	case "delete":
		if err := s.service.DeleteSubTask(r.Context(), user, id); err != nil {
			s.failure(w, err)
			return
		}
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
	default:
		s.renderError(w, http.StatusNotFound, "Página no encontrada")
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Formulario inválido")
		return
	}
	session, err := s.service.Login(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		s.render(w, http.StatusOK, "login", web.Page{
			Title: "Iniciar sesión",
			Error: "Usuario o contraseña incorrectos",
		})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Formulario inválido")
		return
	}
	err := s.service.Register(r.Context(), r.FormValue("username"), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		message := "No se pudo crear la cuenta"
		if errors.Is(err, store.ErrConflict) {
			message = "El usuario o email ya existe"
		}
		s.render(w, http.StatusOK, "register", web.Page{
			Title: "Crear cuenta",
			Error: message,
		})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// requireUser is the access gate: every route below it resolves the session
// cookie to an active user or bounces the request to the login view.
func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return store.User{}, false
	}
	user, err := s.service.CurrentUser(r.Context(), cookie.Value)
	if errors.Is(err, ErrUnauthenticated) {
		clearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return store.User{}, false
	}
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, "Error del servidor")
		return store.User{}, false
	}
	return user, true
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) render(w http.ResponseWriter, status int, name string, page web.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.renderer.Render(w, name, page); err != nil {
		log.Printf("render %s: %v", name, err)
	}
}

func (s *HTTPServer) renderError(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "error", web.Page{
		Title: "Error",
		Data:  struct{ Message string }{message},
	})
}

// failure maps service errors onto the generic error page.
func (s *HTTPServer) failure(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		s.renderError(w, domainErr.Status, domainErr.Message)
		return
	}
	log.Printf("request failed: %v", err)
	s.renderError(w, http.StatusInternalServerError, "Error del servidor")
}

// taskInputFromForm binds the shared task form: date-only strings where
// absence means null and a malformed value fails the whole request, plus the
// multi-valued assignee selection.
func taskInputFromForm(r *http.Request) (TaskInput, error) {
	if err := r.ParseForm(); err != nil {
		return TaskInput{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid form")
	}
	start, err := parseDate(r.FormValue("start_date"))
	if err != nil {
		return TaskInput{}, err
	}
	end, err := parseDate(r.FormValue("end_date"))
	if err != nil {
		return TaskInput{}, err
	}
	input := TaskInput{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: r.FormValue("description"),
		Status:      r.FormValue("status"),
		StartDate:   start,
		EndDate:     end,
		AssigneeIDs: r.Form["assignees"],
	}
	if prospectID := r.FormValue("prospect_id"); prospectID != "" {
		input.ProspectID = &prospectID
	}
	return input, nil
}

func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid date %q", value))
	}
	return &parsed, nil
}

// returnTo resolves the explicit return_to form field against the known view
// paths; anything unrecognized falls back to the planning board. The client
// names its origin instead of the server trusting the Referer header.
func returnTo(r *http.Request) string {
	target := r.FormValue("return_to")
	switch target {
	case "/", "/planning", "/calendar", "/profile":
		return target
	}
	if parts := splitPath(target); len(parts) == 2 && parts[0] == "prospectos" && strings.HasPrefix(target, "/") {
		return target
	}
	return "/planning"
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

func randomRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

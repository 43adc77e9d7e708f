package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"agenciacrm/internal/config"
	"agenciacrm/internal/creds"
	"agenciacrm/internal/session"
	"agenciacrm/internal/store"
	"agenciacrm/internal/web"
)

func testConfig() config.Config {
	return config.Config{
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "file:"+filepath.Join(t.TempDir(), "crm.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.InitSchema(ctx, db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return store.NewStore(db)
}

func newTestServer(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	cfg := testConfig()
	credentials := creds.NewService(st, cfg.SessionSecret, cfg.SessionTTL)
	renderer, err := web.NewRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	service := New(cfg, st, credentials)
	return NewHTTPServer(service, renderer).Handler(), st
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, handler http.Handler, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func registerAndLogin(t *testing.T, handler http.Handler, username, password string) *http.Cookie {
	t.Helper()
	rr := postForm(t, handler, "/register", url.Values{
		"username": {username},
		"password": {password},
	}, nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("register: expected 303, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = postForm(t, handler, "/login", url.Values{
		"username": {username},
		"password": {password},
	}, nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login: expected 303, got %d body=%s", rr.Code, rr.Body.String())
	}
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatal("login did not set the session cookie")
	return nil
}

func assertRedirect(t *testing.T, rr *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != location {
		t.Fatalf("expected redirect to %s, got %s", location, got)
	}
}

func TestGateRedirectsAnonymousToLogin(t *testing.T) {
	handler, _ := newTestServer(t)

	for _, path := range []string{"/", "/prospectos", "/planning", "/calendar", "/profile"} {
		rr := get(t, handler, path, nil)
		assertRedirect(t, rr, "/login")
	}
}

func TestGateRejectsGarbageCookie(t *testing.T) {
	handler, _ := newTestServer(t)

	rr := get(t, handler, "/", &http.Cookie{Name: sessionCookieName, Value: "definitely-not-a-token"})
	assertRedirect(t, rr, "/login")
}

func TestLoginWithWrongPasswordRerendersForm(t *testing.T) {
	handler, _ := newTestServer(t)
	registerAndLogin(t, handler, "ana", "secret123")

	rr := postForm(t, handler, "/login", url.Values{
		"username": {"ana"},
		"password": {"wrongpassword"},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected the form to re-render with 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Usuario o contraseña incorrectos") {
		t.Fatalf("expected an inline error, body=%s", rr.Body.String())
	}
}

func TestRegisterDuplicateUsernameShowsInlineError(t *testing.T) {
	handler, _ := newTestServer(t)
	registerAndLogin(t, handler, "ana", "secret123")

	rr := postForm(t, handler, "/register", url.Values{
		"username": {"ana"},
		"password": {"otherpassword"},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected the form to re-render with 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ya existe") {
		t.Fatalf("expected a conflict error, body=%s", rr.Body.String())
	}
}

// Register, log in, create a prospect, move it through the pipeline and watch
// the dashboard count move.
func TestProspectLifecycle(t *testing.T) {
	handler, st := newTestServer(t)
	ctx := context.Background()
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	rr := postForm(t, handler, "/prospectos/nuevo", url.Values{
		"name":     {"Acme"},
		"industry": {"Tecnología"},
	}, cookie)
	assertRedirect(t, rr, "/prospectos")

	rr = get(t, handler, "/prospectos", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Acme") || !strings.Contains(rr.Body.String(), "Nuevo") {
		t.Fatalf("expected the listing to show Acme as Nuevo, body=%s", rr.Body.String())
	}

	prospects, err := st.ListProspects(ctx)
	if err != nil || len(prospects) != 1 {
		t.Fatalf("expected one prospect, got %v err=%v", prospects, err)
	}
	acme := prospects[0]
	if acme.CreatedBy == nil {
		t.Fatal("expected the creator reference to be recorded")
	}

	rr = postForm(t, handler, "/prospectos/"+acme.ID+"/update", url.Values{
		"name":   {"Acme"},
		"status": {"Contactado"},
	}, cookie)
	assertRedirect(t, rr, "/prospectos/"+acme.ID)

	rr = get(t, handler, "/", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Prospectos contactados: 1") {
		t.Fatalf("expected the contacted count to be 1, body=%s", rr.Body.String())
	}
}

func TestProspectDetailMissingIDRedirectsToList(t *testing.T) {
	handler, _ := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	rr := get(t, handler, "/prospectos/no-such-id", cookie)
	assertRedirect(t, rr, "/prospectos")
}

func TestNoteCreationShowsOnDetail(t *testing.T) {
	handler, st := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	postForm(t, handler, "/prospectos/nuevo", url.Values{"name": {"Acme"}}, cookie)
	prospects, _ := st.ListProspects(context.Background())
	id := prospects[0].ID

	rr := postForm(t, handler, "/prospectos/"+id+"/notas", url.Values{"content": {"Llamar el lunes"}}, cookie)
	assertRedirect(t, rr, "/prospectos/"+id)

	rr = get(t, handler, "/prospectos/"+id, cookie)
	if !strings.Contains(rr.Body.String(), "Llamar el lunes") {
		t.Fatalf("expected the note on the detail page, body=%s", rr.Body.String())
	}
}

func TestTaskCreateRejectsInvalidDate(t *testing.T) {
	handler, st := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	rr := postForm(t, handler, "/tasks/create", url.Values{
		"title":    {"Imposible"},
		"end_date": {"2024-02-30"},
	}, cookie)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid calendar date, got %d", rr.Code)
	}

	tasks, err := st.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no task created, got %+v", tasks)
	}
}

func TestTaskCreateWithoutDatesAndReturnTo(t *testing.T) {
	handler, st := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	rr := postForm(t, handler, "/tasks/create", url.Values{
		"title":     {"Seguimiento"},
		"return_to": {"/calendar"},
	}, cookie)
	assertRedirect(t, rr, "/calendar")

	tasks, _ := st.ListTasks(context.Background())
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	if tasks[0].StartDate != nil || tasks[0].EndDate != nil {
		t.Fatalf("expected null dates, got %+v", tasks[0])
	}
	if tasks[0].Status != store.TaskStatusTodo {
		t.Fatalf("expected default status todo, got %q", tasks[0].Status)
	}
}

func TestReturnToRejectsUnknownTargets(t *testing.T) {
	handler, st := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	postForm(t, handler, "/tasks/create", url.Values{"title": {"Tarea"}}, cookie)
	tasks, _ := st.ListTasks(context.Background())

	rr := postForm(t, handler, "/tasks/"+tasks[0].ID+"/update_status", url.Values{
		"status":    {store.TaskStatusDone},
		"return_to": {"https://evil.example/phish"},
	}, cookie)
	assertRedirect(t, rr, "/planning")
}

func TestTaskAssigneeReplacementViaUpdate(t *testing.T) {
	handler, st := newTestServer(t)
	ctx := context.Background()
	cookie := registerAndLogin(t, handler, "ana", "secret123")
	registerAndLogin(t, handler, "bruno", "secret456")

	ana, _ := st.GetUserByUsername(ctx, "ana")
	bruno, _ := st.GetUserByUsername(ctx, "bruno")

	rr := postForm(t, handler, "/tasks/create", url.Values{
		"title":     {"Propuesta"},
		"assignees": {ana.ID},
	}, cookie)
	assertRedirect(t, rr, "/planning")

	tasks, _ := st.ListTasks(ctx)
	taskID := tasks[0].ID
	if len(tasks[0].Assignees) != 1 || tasks[0].Assignees[0].ID != ana.ID {
		t.Fatalf("expected ana assigned, got %+v", tasks[0].Assignees)
	}

	// A non-empty submission fully replaces the set.
	postForm(t, handler, "/tasks/"+taskID+"/update", url.Values{
		"title":     {"Propuesta"},
		"status":    {store.TaskStatusInProgress},
		"assignees": {bruno.ID},
	}, cookie)
	task, _ := st.GetTask(ctx, taskID)
	if len(task.Assignees) != 1 || task.Assignees[0].ID != bruno.ID {
		t.Fatalf("expected only bruno after replacement, got %+v", task.Assignees)
	}

	// An empty submission clears every assignee.
	postForm(t, handler, "/tasks/"+taskID+"/update", url.Values{
		"title":  {"Propuesta"},
		"status": {store.TaskStatusInProgress},
	}, cookie)
	task, _ = st.GetTask(ctx, taskID)
	if len(task.Assignees) != 0 {
		t.Fatalf("expected no assignees after empty submission, got %+v", task.Assignees)
	}
}

func TestSubTaskMutationsAreOwnerScoped(t *testing.T) {
	handler, st := newTestServer(t)
	ctx := context.Background()
	anaCookie := registerAndLogin(t, handler, "ana", "secret123")
	brunoCookie := registerAndLogin(t, handler, "bruno", "secret456")

	postForm(t, handler, "/tasks/create", url.Values{"title": {"Tarea"}}, anaCookie)
	tasks, _ := st.ListTasks(ctx)

	rr := postForm(t, handler, "/subtasks/create", url.Values{
		"title":   {"Revisar contrato"},
		"task_id": {tasks[0].ID},
	}, anaCookie)
	assertRedirect(t, rr, "/profile")

	ana, _ := st.GetUserByUsername(ctx, "ana")
	subtasks, _ := st.ListSubTasksByOwner(ctx, ana.ID)
	if len(subtasks) != 1 {
		t.Fatalf("expected one subtask, got %d", len(subtasks))
	}
	subID := subtasks[0].ID

	// Bruno's delete attempt still redirects as a success but must not
	// touch Ana's subtask.
	rr = postForm(t, handler, "/subtasks/"+subID+"/delete", url.Values{}, brunoCookie)
	assertRedirect(t, rr, "/profile")
	subtasks, _ = st.ListSubTasksByOwner(ctx, ana.ID)
	if len(subtasks) != 1 {
		t.Fatal("expected the subtask to survive a non-owner delete")
	}

	rr = postForm(t, handler, "/subtasks/"+subID+"/update_status", url.Values{
		"status": {store.TaskStatusDone},
	}, brunoCookie)
	assertRedirect(t, rr, "/profile")
	subtasks, _ = st.ListSubTasksByOwner(ctx, ana.ID)
	if subtasks[0].Status != store.TaskStatusTodo {
		t.Fatal("expected the subtask status to survive a non-owner update")
	}

	rr = postForm(t, handler, "/subtasks/"+subID+"/delete", url.Values{}, anaCookie)
	assertRedirect(t, rr, "/profile")
	subtasks, _ = st.ListSubTasksByOwner(ctx, ana.ID)
	if len(subtasks) != 0 {
		t.Fatal("expected the owner delete to apply")
	}
}

func TestCalendarShowsOnlyDatedTasks(t *testing.T) {
	handler, _ := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	postForm(t, handler, "/tasks/create", url.Values{"title": {"Sin fecha"}}, cookie)
	postForm(t, handler, "/tasks/create", url.Values{
		"title":    {"Entregar informe"},
		"end_date": {"2026-09-15"},
	}, cookie)

	rr := get(t, handler, "/calendar", cookie)
	body := rr.Body.String()
	if !strings.Contains(body, "Entregar informe") {
		t.Fatalf("expected the dated task on the calendar, body=%s", body)
	}
	if strings.Contains(body, "Sin fecha") {
		t.Fatalf("expected the undated task to be absent, body=%s", body)
	}
}

func TestProfileUpdateChangesPassword(t *testing.T) {
	handler, _ := newTestServer(t)
	cookie := registerAndLogin(t, handler, "ana", "secret123")

	rr := postForm(t, handler, "/profile/update", url.Values{
		"email":    {"ana@example.com"},
		"password": {"newsecret99"},
	}, cookie)
	assertRedirect(t, rr, "/profile")

	rr = postForm(t, handler, "/login", url.Values{
		"username": {"ana"},
		"password": {"newsecret99"},
	}, nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected login with the new password to succeed, got %d", rr.Code)
	}
}

func TestLogoutWithRegistryRevokesSession(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()
	mr := miniredis.RunT(t)
	registry, err := session.NewRegistry("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	credentials := creds.NewService(st, cfg.SessionSecret, cfg.SessionTTL)
	renderer, err := web.NewRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	handler := NewHTTPServer(NewWithSessionRegistry(cfg, st, credentials, registry), renderer).Handler()

	cookie := registerAndLogin(t, handler, "ana", "secret123")

	if rr := get(t, handler, "/", cookie); rr.Code != http.StatusOK {
		t.Fatalf("expected the dashboard before logout, got %d", rr.Code)
	}

	get(t, handler, "/logout", cookie)

	// The token has not expired, but the registry no longer knows it.
	rr := get(t, handler, "/", cookie)
	assertRedirect(t, rr, "/login")
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer(t)
	rr := get(t, handler, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health body: %s", rr.Body.String())
	}
}

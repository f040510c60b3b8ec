package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tasktrail/internal/config"
	"tasktrail/internal/credentials"
	"tasktrail/internal/db"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/engine/auth"
	"tasktrail/internal/metrics"
	"tasktrail/internal/migrate"
	tasktrailsdk "tasktrail/sdk/go"
)

const testPassword = "password123"

type testServer struct {
	URL     string
	Engine  engine.Engine
	Actors  map[domain.Role]domain.Actor
	Metrics *metrics.Metrics
	close   func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	codec, err := auth.NewTokenCodec("server-test-secret", time.Hour, "tasktrail")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	m := metrics.New()
	e := engine.New(conn, config.Default(), codec, m)
	e.Hasher = credentials.Bcrypt{Cost: bcrypt.MinCost}
	actors := map[domain.Role]domain.Actor{}
	for _, role := range domain.Roles {
		a, _, err := e.EnsureActor(ctx, strings.ToLower(string(role))+"@example.com", testPassword, role)
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		actors[role] = a
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Engine:  e,
		Actors:  actors,
		Metrics: m,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

// as logs in as the seeded actor for role.
func (s *testServer) as(t *testing.T, role domain.Role) *tasktrailsdk.Client {
	t.Helper()
	c := tasktrailsdk.New(s.URL)
	tok, err := c.Login(context.Background(), s.Actors[role].Email, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", role, err)
	}
	return c.WithToken(tok.Token)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var apiErr *tasktrailsdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	return apiErr.StatusCode
}

func strp(s string) *string { return &s }

func TestAuthenticationRequired(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	anon := tasktrailsdk.New(srv.URL)

	if _, err := anon.Tasks(ctx); statusOf(t, err) != http.StatusUnauthorized {
		t.Fatalf("anonymous list: %v", err)
	}
	if _, err := anon.WithToken("not.a.jwt").Tasks(ctx); statusOf(t, err) != http.StatusUnauthorized {
		t.Fatalf("garbage token: %v", err)
	}
	if _, err := anon.Login(ctx, srv.Actors[domain.RoleAdmin].Email, "wrong-password"); statusOf(t, err) != http.StatusUnauthorized {
		t.Fatalf("bad password: %v", err)
	}

	expired := srv.Engine.Tokens
	expired.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(srv.Actors[domain.RoleAdmin].Email)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := anon.WithToken(old).Tasks(ctx); statusOf(t, err) != http.StatusUnauthorized {
		t.Fatalf("expired token: %v", err)
	}

	res, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	anon := tasktrailsdk.New(srv.URL)

	user, tok, err := anon.Register(ctx, "fresh@example.com", testPassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != "MEMBER" || tok.TokenType != "Bearer" || tok.Token == "" {
		t.Fatalf("unexpected registration: %+v %+v", user, tok)
	}
	me, err := anon.WithToken(tok.Token).Me(ctx)
	if err != nil || me.ID != user.ID {
		t.Fatalf("me: %+v %v", me, err)
	}
	if _, _, err := anon.Register(ctx, "fresh@example.com", testPassword); statusOf(t, err) != http.StatusConflict {
		t.Fatalf("duplicate register: %v", err)
	}
	if _, _, err := anon.Register(ctx, "not-an-email", testPassword); statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Fatalf("bad email: %v", err)
	}
}

func TestCreateTaskEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	manager := srv.as(t, domain.RoleManager)
	admin := srv.as(t, domain.RoleAdmin)

	task, err := manager.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("X")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != "TODO" || task.CreatedByID != srv.Actors[domain.RoleManager].ID {
		t.Fatalf("unexpected task: %+v", task)
	}
	page, err := admin.Audit(ctx, tasktrailsdk.AuditQuery{EntityKind: "TASK"})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(page.Items))
	}
	e := page.Items[0]
	if e.Action != "CREATE" || e.Before != nil || e.After["title"] != "X" || e.After["status"] != "TODO" {
		t.Fatalf("unexpected entry: %+v", e)
	}

	if _, err := srv.as(t, domain.RoleMember).CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("no")}); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("member create: %v", err)
	}
	if _, err := manager.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("x"), AssigneeID: strp("ghost")}); statusOf(t, err) != http.StatusNotFound {
		t.Fatalf("unknown assignee: %v", err)
	}
}

func TestMemberProgressionEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	manager := srv.as(t, domain.RoleManager)
	member := srv.as(t, domain.RoleMember)
	admin := srv.as(t, domain.RoleAdmin)
	memberID := srv.Actors[domain.RoleMember].ID

	task, err := manager.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("flow")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.UpdateTask(ctx, task.ID, tasktrailsdk.TaskInput{AssigneeID: &memberID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	count := func() int {
		page, err := admin.Audit(ctx, tasktrailsdk.AuditQuery{EntityKind: "TASK", Action: "UPDATE"})
		if err != nil {
			t.Fatalf("audit: %v", err)
		}
		return len(page.Items)
	}
	base := count()

	for i, status := range []string{"DOING", "DONE"} {
		got, err := member.UpdateTask(ctx, task.ID, tasktrailsdk.TaskInput{Status: strp(status)})
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if got.Status != status {
			t.Fatalf("status = %s, want %s", got.Status, status)
		}
		if n := count(); n != base+i+1 {
			t.Fatalf("after %s: %d update entries", status, n)
		}
	}
	_, err = member.UpdateTask(ctx, task.ID, tasktrailsdk.TaskInput{Status: strp("TODO")})
	if statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Fatalf("backward transition: %v", err)
	}
	if n := count(); n != base+2 {
		t.Fatalf("rejected update recorded an entry")
	}

	mine, err := member.MyAudit(ctx, tasktrailsdk.AuditQuery{ActorID: srv.Actors[domain.RoleManager].ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine.Items) != 2 {
		t.Fatalf("member audit: %d entries", len(mine.Items))
	}
	for _, e := range mine.Items {
		if e.ActorID != memberID {
			t.Fatalf("foreign entry in member audit: %+v", e)
		}
	}
}

func TestUpdateNoOpAndUnknownFields(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	manager := srv.as(t, domain.RoleManager)
	admin := srv.as(t, domain.RoleAdmin)
	task, err := manager.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("stable")})
	if err != nil {
		t.Fatal(err)
	}

	for _, body := range []string{`{}`, `{"status":"TODO"}`, `{"title":"stable","priority":3}`, `{"title":null}`} {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/tasks/"+itoa(task.ID), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+manager.BearerToken)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("body %s: status %d: %s", body, res.StatusCode, data)
		}
	}
	page, err := admin.Audit(ctx, tasktrailsdk.AuditQuery{Action: "UPDATE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("no-op updates recorded %d entries", len(page.Items))
	}
}

func TestRoleDenials(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	manager := srv.as(t, domain.RoleManager)
	viewer := srv.as(t, domain.RoleViewer)
	member := srv.as(t, domain.RoleMember)
	task, err := manager.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("guarded")})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := viewer.UpdateTask(ctx, task.ID, tasktrailsdk.TaskInput{Status: strp("DOING")}); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("viewer update: %v", err)
	}
	if err := viewer.DeleteTask(ctx, task.ID); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("viewer delete: %v", err)
	}
	if err := manager.DeleteTask(ctx, task.ID); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("manager delete: %v", err)
	}
	if _, err := member.UpdateTask(ctx, task.ID, tasktrailsdk.TaskInput{Status: strp("DOING")}); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("member update on unassigned task: %v", err)
	}
	if _, err := viewer.MyAudit(ctx, tasktrailsdk.AuditQuery{}); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("viewer audit: %v", err)
	}
	if _, err := manager.Audit(ctx, tasktrailsdk.AuditQuery{}); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("manager full audit: %v", err)
	}
	if _, err := member.AssignableUsers(ctx); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("member assignable: %v", err)
	}
	if _, err := manager.Users(ctx); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("manager users: %v", err)
	}
	if _, err := manager.SetRole(ctx, srv.Actors[domain.RoleMember].ID, "ADMIN"); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("manager role change: %v", err)
	}
	tasks, err := viewer.Tasks(ctx)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("viewer list: %d %v", len(tasks), err)
	}
	if tasks, err := member.Tasks(ctx); err != nil || len(tasks) != 0 {
		t.Fatalf("member list: %d %v", len(tasks), err)
	}
}

func TestDeleteAndRoleChange(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	admin := srv.as(t, domain.RoleAdmin)
	viewerID := srv.Actors[domain.RoleViewer].ID
	viewer := srv.as(t, domain.RoleViewer)

	task, err := admin.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("short-lived")})
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := admin.Task(ctx, task.ID); statusOf(t, err) != http.StatusNotFound {
		t.Fatalf("deleted task: %v", err)
	}
	if err := admin.DeleteTask(ctx, task.ID); statusOf(t, err) != http.StatusNotFound {
		t.Fatalf("double delete: %v", err)
	}

	// The old token picks up the new role on its next request.
	if _, err := viewer.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("nope")}); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("viewer create: %v", err)
	}
	if _, err := admin.SetRole(ctx, viewerID, "MANAGER"); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if _, err := viewer.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("now allowed")}); err != nil {
		t.Fatalf("promoted create: %v", err)
	}
	if _, err := admin.SetRole(ctx, "ghost", "MANAGER"); statusOf(t, err) != http.StatusNotFound {
		t.Fatalf("unknown user: %v", err)
	}

	page, err := admin.Audit(ctx, tasktrailsdk.AuditQuery{EntityKind: "USER"})
	if err != nil || len(page.Items) != 1 || page.Items[0].EntityID != viewerID {
		t.Fatalf("role audit: %+v %v", page, err)
	}
}

func TestAuditPagination(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	admin := srv.as(t, domain.RoleAdmin)
	for i := 0; i < 5; i++ {
		if _, err := admin.CreateTask(ctx, tasktrailsdk.TaskInput{Title: strp("t" + itoa(int64(i)))}); err != nil {
			t.Fatal(err)
		}
	}
	var seen []int64
	cursor := ""
	for {
		page, err := admin.Audit(ctx, tasktrailsdk.AuditQuery{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for _, e := range page.Items {
			seen = append(seen, e.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("paged %d entries, want 5", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("entries out of order: %v", seen)
		}
	}
	if _, err := admin.Audit(ctx, tasktrailsdk.AuditQuery{Cursor: "abc"}); statusOf(t, err) != http.StatusBadRequest {
		t.Fatalf("bad cursor: %v", err)
	}
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/api/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var doc map[string]any
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/api/tasks", "/api/tasks/{id}", "/api/audit", "/api/auth/login"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}

	tasktrailsdk.New(srv.URL).Tasks(context.Background())
	mres, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(mres.Body)
	mres.Body.Close()
	if !strings.Contains(string(body), "tasktrail_authentication_failures_total") {
		t.Fatalf("metrics missing auth failures counter")
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv := newTestServer(t)
	const n = 8
	bodies := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/api/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			b, err := io.ReadAll(res.Body)
			bodies[i], errs[i] = string(b), err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if bodies[i] != bodies[0] {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal([]byte(bodies[0]), &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearerAuth scheme missing")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/exemi-au/exemi/internal/agent"
	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/auth"
	"github.com/exemi-au/exemi/internal/background"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/config"
	"github.com/exemi-au/exemi/internal/connwatch"
	"github.com/exemi-au/exemi/internal/conversation"
	"github.com/exemi-au/exemi/internal/database/dbtest"
	"github.com/exemi-au/exemi/internal/llm"
	"github.com/exemi-au/exemi/internal/reminders"
	"github.com/exemi-au/exemi/internal/tools"
	"github.com/exemi-au/exemi/internal/usage"
	"github.com/exemi-au/exemi/internal/users"
)

const canvasToken = "student-token"

type stubAgent struct {
	reply  string
	err    error
	chunks []string
}

func (a *stubAgent) Invoke(context.Context, []llm.Message) (string, error) {
	return a.reply, a.err
}

func (a *stubAgent) Stream(context.Context, []llm.Message) (<-chan agent.Event, error) {
	ch := make(chan agent.Event, len(a.chunks))
	for _, c := range a.chunks {
		ch <- agent.Event{Stage: agent.StageAgent, Kind: agent.KindText, Text: c}
	}
	close(ch)
	return ch, nil
}

type stubFactory struct{ a *stubAgent }

func (f stubFactory) Agent(context.Context, *users.User, canvas.Credential) (agent.Agent, error) {
	return f.a, nil
}

type stubLimiter struct {
	d   Decision
	err error
}

func (l stubLimiter) Allow(context.Context, string) (Decision, error) { return l.d, l.err }

type stubHealth []connwatch.Status

func (h stubHealth) Status() []connwatch.Status { return h }

type testEnv struct {
	srv    *httptest.Server
	agent  *stubAgent
	runner *background.Runner
	convs  *conversation.Service
	users  *users.Service
}

func fakeCanvas(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/self", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+canvasToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id": 5, "name": "Alice"}`))
	})
	mux.HandleFunc("/api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 101, "name": "COS10009 Intro to Programming", "enrollment_term_id": 7,
			"term": {"id": 7, "name": "2024 Semester 2"}}]`))
	})
	mux.HandleFunc("/api/v1/courses/101/assignment_groups", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1010, "name": "Assessments", "group_weight": 100, "assignments": [
			{"id": 10101, "name": "Essay", "due_at": "2024-09-20T13:59:00Z", "points_possible": 40, "assignment_group_id": 1010}
		]}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T, limiter Limiter) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	logger := dbtest.Logger()

	issuer, err := auth.NewIssuer("test-secret", 30*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	userStore := users.NewStore(db)
	userSvc := users.NewService(userStore, issuer, logger)

	lms := fakeCanvas(t)
	unis := canvas.NewUniversities(db, lms.URL)
	canvasSvc := canvas.NewService(canvas.NewClient(canvas.ClientConfig{}, logger), logger)

	runner := background.NewRunner(2, 16, logger)
	t.Cleanup(func() { runner.Close(context.Background()) })

	a := &stubAgent{reply: "hello!"}
	convs := conversation.NewService(conversation.NewStore(db), userStore, stubFactory{a}, runner,
		conversation.Options{}, logger)

	s := NewServer(config.ListenConfig{AllowedOrigins: []string{"https://app.exemi.au"}}, Deps{
		DB:            db,
		Users:         userSvc,
		Universities:  unis,
		Canvas:        canvasSvc,
		Mirror:        canvas.NewMirror(db, logger),
		Reminders:     reminders.NewService(reminders.NewStore(db), time.UTC, logger),
		Conversations: convs,
		Runner:        runner,
		Usage:         usage.NewStore(db),
		Limiter:       limiter,
		Health:        stubHealth{{Name: "ollama", Ready: true}, {Name: "redis", Ready: false, LastError: "dial tcp: refused"}},
		Location:      time.UTC,
	}, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, agent: a, runner: runner, convs: convs, users: userSvc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

// register creates an account and returns a session token for it.
func (e *testEnv) register(t *testing.T, username, magic string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/users", "", users.CreateRequest{
		Username: username, Password: "pw-" + username, Magic: magic, MagicProvider: "Swinburne",
	})
	expectStatus(t, resp, http.StatusOK)
	return e.login(t, username)
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	form := url.Values{"username": {username}, "password": {"pw-" + username}}
	resp, err := e.srv.Client().PostForm(e.srv.URL+"/login", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	tok := decode[tokenResponse](t, resp)
	if tok.TokenType != "bearer" || tok.AccessToken == "" {
		t.Fatalf("token = %+v", tok)
	}
	return tok.AccessToken
}

func (e *testEnv) admin(t *testing.T) string {
	t.Helper()
	if _, err := e.users.CreateAdmin(context.Background(), "root", "pw-root"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return e.login(t, "root")
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded while redis is down", body["status"])
	}
	if services, _ := body["services"].([]any); len(services) != 2 {
		t.Errorf("services = %v", body["services"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestAccountLifecycle(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice", canvasToken)

	resp := e.do(t, http.MethodGet, "/users/self", token, nil)
	expectStatus(t, resp, http.StatusOK)
	self := decode[map[string]any](t, resp)
	if self["username"] != "alice" {
		t.Errorf("username = %v", self["username"])
	}
	if _, leaked := self["magic_hash"]; leaked {
		t.Error("magic hash must not be serialised")
	}

	resp = e.do(t, http.MethodPost, "/users", "", users.CreateRequest{Username: "alice", Password: "x"})
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[map[string]string](t, resp)["detail"]; got != "Username is already taken" {
		t.Errorf("detail = %q", got)
	}

	newPassword := "pw-alice"
	resp = e.do(t, http.MethodPatch, "/users/self", token, users.UpdateRequest{Password: &newPassword})
	expectStatus(t, resp, http.StatusOK)

	resp = e.do(t, http.MethodGet, "/magic_valid", token, nil)
	expectStatus(t, resp, http.StatusOK)
	if ok := decode[bool](t, resp); !ok {
		t.Error("magic_valid = false")
	}
}

func TestLogin_Failures(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "alice", "")

	resp := e.do(t, http.MethodPost, "/login", "", loginRequest{Username: "alice", Password: "wrong"})
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[map[string]string](t, resp)["detail"]; got != "User ID or password is incorrect" {
		t.Errorf("detail = %q", got)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Error("missing WWW-Authenticate")
	}

	resp = e.do(t, http.MethodGet, "/users/self", "not-a-token", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = e.do(t, http.MethodGet, "/users/self", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestCanvasRoutes_RequireMagic(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice", "")

	resp := e.do(t, http.MethodGet, "/canvas/units", token, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[map[string]string](t, resp)["detail"]; got != "The current user has no magic" {
		t.Errorf("detail = %q", got)
	}

	resp = e.do(t, http.MethodGet, "/canvas/units?exclude_complete_units=maybe", e.register(t, "bob", canvasToken), nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestCanvasUnits(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice", canvasToken)

	resp := e.do(t, http.MethodGet, "/canvas/units?exclude_organisation_units=false", token, nil)
	expectStatus(t, resp, http.StatusOK)
	units := decode[[]canvas.Unit](t, resp)
	if len(units) != 1 || units[0].ID != 101 {
		t.Errorf("units = %+v", units)
	}
}

func TestCanvasMirrorRoutes(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", canvasToken)
	bob := e.register(t, "bob", "")

	resp := e.do(t, http.MethodGet, "/canvas/mirror/terms", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if terms := decode[[]canvas.MirroredTerm](t, resp); len(terms) != 0 {
		t.Errorf("terms before sync = %+v", terms)
	}

	resp = e.do(t, http.MethodPost, "/canvas/sync", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if res := decode[canvas.SyncResult](t, resp); res != (canvas.SyncResult{Terms: 1, Units: 1, AssignmentGroups: 1, Assignments: 1}) {
		t.Errorf("sync = %+v", res)
	}

	resp = e.do(t, http.MethodGet, "/canvas/mirror/terms", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if terms := decode[[]canvas.MirroredTerm](t, resp); len(terms) != 1 || terms[0].Name != "2024 Semester 2" {
		t.Errorf("terms = %+v", terms)
	}

	resp = e.do(t, http.MethodGet, "/canvas/mirror/terms/"+url.PathEscape("2024 Semester 2"), alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if term := decode[canvas.MirroredTerm](t, resp); term.CanvasID != 7 {
		t.Errorf("term = %+v", term)
	}
	expectStatus(t, e.do(t, http.MethodGet, "/canvas/mirror/terms/"+url.PathEscape("2024 Semester 2"), bob, nil), http.StatusNotFound)

	resp = e.do(t, http.MethodGet, "/canvas/mirror/assignments?unit_id=101", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[[]canvas.MirroredAssignment](t, resp)
	if len(list) != 1 || list[0].Name != "Essay" || list[0].DueAt == nil {
		t.Errorf("assignments = %+v", list)
	}

	resp = e.do(t, http.MethodGet, "/canvas/mirror/assignments", bob, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]canvas.MirroredAssignment](t, resp); len(list) != 0 {
		t.Errorf("bob sees %+v", list)
	}
	expectStatus(t, e.do(t, http.MethodGet, "/canvas/mirror/assignments?unit_id=x", alice, nil), http.StatusBadRequest)
}

func TestUniversities(t *testing.T) {
	e := newTestEnv(t, nil)
	student := e.register(t, "alice", "")
	admin := e.admin(t)
	uni := canvas.University{Name: "Swinburne", BaseURL: "https://swinburne.instructure.com"}

	resp := e.do(t, http.MethodPost, "/university", student, uni)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = e.do(t, http.MethodPost, "/university", admin, uni)
	expectStatus(t, resp, http.StatusOK)

	resp = e.do(t, http.MethodGet, "/university", "", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[[]canvas.University](t, resp)
	if len(list) != 1 || list[0].Name != "Swinburne" {
		t.Errorf("universities = %+v", list)
	}
}

func TestReminderRoutes(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", "")
	bob := e.register(t, "bob", "")

	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	resp := e.do(t, http.MethodPost, "/reminder", alice, reminders.CreateRequest{
		AssignmentName: "Essay", Description: "Draft", DueAt: due,
	})
	expectStatus(t, resp, http.StatusOK)
	rem := decode[reminders.Reminder](t, resp)

	path := fmt.Sprintf("/reminder/%d", rem.ID)
	expectStatus(t, e.do(t, http.MethodGet, path, bob, nil), http.StatusUnauthorized)
	expectStatus(t, e.do(t, http.MethodGet, "/reminder/9999", alice, nil), http.StatusNotFound)

	name := "Final essay"
	resp = e.do(t, http.MethodPatch, path, alice, reminders.UpdateRequest{AssignmentName: &name})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[reminders.Reminder](t, resp).AssignmentName; got != name {
		t.Errorf("name = %q", got)
	}

	resp = e.do(t, http.MethodGet, "/reminders?min_days_remaining=1", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]reminders.Reminder](t, resp); len(got) != 0 {
		t.Errorf("min_days_remaining=1 returned %d reminders", len(got))
	}
	resp = e.do(t, http.MethodGet, "/reminders?min_days_remaining=2", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]reminders.Reminder](t, resp); len(got) != 1 {
		t.Errorf("min_days_remaining=2 returned %d reminders", len(got))
	}

	expectStatus(t, e.do(t, http.MethodGet, "/reminders?limit=abc", alice, nil), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodDelete, path, alice, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, path, alice, nil), http.StatusNotFound)
}

func TestConversation_Blocking(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", canvasToken)
	bob := e.register(t, "bob", canvasToken)

	resp := e.do(t, http.MethodPost, "/conversation", alice, messageRequest{MessageText: "hi"})
	expectStatus(t, resp, http.StatusOK)
	c := decode[conversation.Conversation](t, resp)
	if len(c.Messages) != 2 || c.Messages[1].Content != "hello!" {
		t.Fatalf("messages = %+v", c.Messages)
	}

	path := fmt.Sprintf("/conversation/%d", c.ID)
	expectStatus(t, e.do(t, http.MethodGet, path, bob, nil), http.StatusUnauthorized)
	expectStatus(t, e.do(t, http.MethodPost, path, bob, messageRequest{MessageText: "mine now"}), http.StatusUnauthorized)

	resp = e.do(t, http.MethodGet, "/conversations", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]conversation.Conversation](t, resp); len(list) != 1 {
		t.Errorf("conversations = %d, want 1", len(list))
	}
	expectStatus(t, e.do(t, http.MethodGet, "/conversations/alice", bob, nil), http.StatusUnauthorized)

	// Editing the reply is refused.
	assistantMsg := fmt.Sprintf("/message/%d", c.Messages[1].ID)
	resp = e.do(t, http.MethodPatch, assistantMsg, alice, messageRequest{MessageText: "x"})
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[map[string]string](t, resp)["detail"]; got != "You may not edit LLM messages" {
		t.Errorf("detail = %q", got)
	}

	resp = e.do(t, http.MethodGet, path+"/transcript", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	expectStatus(t, e.do(t, http.MethodDelete, path, alice, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, path, alice, nil), http.StatusNotFound)
}

func TestConversation_AgentFailureIs500(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", canvasToken)
	e.agent.err = apperr.Wrap(apperr.KindInternal, errors.New("connection refused"), "Error generating LLM response. Detail")

	resp := e.do(t, http.MethodPost, "/conversation", alice, messageRequest{MessageText: "hi"})
	expectStatus(t, resp, http.StatusInternalServerError)
	if got := decode[map[string]string](t, resp)["detail"]; !strings.Contains(got, "connection refused") {
		t.Errorf("detail = %q, want the backend error embedded", got)
	}
}

func TestConversation_ToolErrorStatus(t *testing.T) {
	reg := tools.NewRegistry(&tools.Tool{
		Name: "create_reminder",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"due_at"},
		},
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	_, unknownTool := reg.Execute(context.Background(), "delete_everything", nil)
	_, badArgs := reg.Execute(context.Background(), "create_reminder", nil)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unregistered tool", err: unknownTool, want: http.StatusNotFound},
		{name: "malformed arguments", err: badArgs, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			alice := e.register(t, "alice", canvasToken)
			e.agent.err = tt.err

			resp := e.do(t, http.MethodPost, "/conversation", alice, messageRequest{MessageText: "hi"})
			expectStatus(t, resp, tt.want)
			if got := decode[map[string]string](t, resp)["detail"]; got != tt.err.Error() {
				t.Errorf("detail = %q, want %q", got, tt.err.Error())
			}
		})
	}
}

func TestConversation_Stream(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", canvasToken)
	e.agent.chunks = []string{"Hel", "lo ", "there"}

	resp := e.do(t, http.MethodPost, "/conversation_stream", alice, messageRequest{MessageText: "hi"})
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "Hello there" {
		t.Errorf("body = %q", body)
	}
	id := resp.Header.Get("X-Conversation-ID")
	if id == "" {
		t.Fatal("missing X-Conversation-ID")
	}

	// The reply is stored by the background runner.
	if err := e.runner.Close(context.Background()); err != nil {
		t.Fatalf("runner.Close: %v", err)
	}
	resp = e.do(t, http.MethodGet, "/conversation/"+id, alice, nil)
	expectStatus(t, resp, http.StatusOK)
	c := decode[conversation.Conversation](t, resp)
	if len(c.Messages) != 2 || c.Messages[1].Content != "Hello there" {
		t.Errorf("messages = %+v", c.Messages)
	}
}

func TestDeleteUser_AdminOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", "")
	e.register(t, "bob", "")
	admin := e.admin(t)

	expectStatus(t, e.do(t, http.MethodDelete, "/users/bob", alice, nil), http.StatusUnauthorized)
	expectStatus(t, e.do(t, http.MethodDelete, "/users/bob", admin, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, "/users/bob", admin, nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodGet, "/users", alice, nil), http.StatusUnauthorized)
}

func TestLogin_RateLimited(t *testing.T) {
	e := newTestEnv(t, stubLimiter{d: Decision{Allowed: false, Limit: 10, RetryAfter: 3}})
	resp := e.do(t, http.MethodPost, "/login", "", loginRequest{Username: "a", Password: "b"})
	expectStatus(t, resp, http.StatusTooManyRequests)
	if got := resp.Header.Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q", got)
	}
}

func TestLogin_LimiterFailsOpen(t *testing.T) {
	e := newTestEnv(t, stubLimiter{err: errors.New("redis down")})
	e.register(t, "alice", "")
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/reminder", nil)
	req.Header.Set("Origin", "https://app.exemi.au")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.exemi.au" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, e.srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp2, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for unknown origin", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/nope", "", nil)
	expectStatus(t, resp, http.StatusNotFound)
	if got := decode[map[string]string](t, resp)["detail"]; got != "Not Found" {
		t.Errorf("detail = %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindUnauthorized, http.StatusUnauthorized},
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindConflict, http.StatusBadRequest},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := statusFor(tt.kind); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestUsage(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice", "")

	resp := e.do(t, http.MethodGet, "/usage?days=7", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decode[usageResponse](t, resp)
	if got.Total.Calls != 0 {
		t.Errorf("calls = %d, want 0", got.Total.Calls)
	}
	if d := got.Until.Sub(got.Since); d != 7*24*time.Hour {
		t.Errorf("window = %v, want 168h", d)
	}

	expectStatus(t, e.do(t, http.MethodGet, "/usage?days=0", alice, nil), http.StatusBadRequest)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examrunner/internal/auth"
	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/exam"
	appI18n "github.com/pavelanni/examrunner/internal/i18n"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/runner"
	"github.com/pavelanni/examrunner/internal/store"
)

const testExam = `{
  "id": "e1",
  "title": "Sample",
  "passingScore": 4,
  "sections": [
    {"id": "s1", "title": "Words", "vocabularyQuestions": [
      {"id": "q1", "type": "mcq", "question": "Big?", "options": ["small", "large"], "correctIndex": 1, "points": 3}
    ]},
    {"id": "s2", "title": "Writing", "essayQuestions": [
      {"id": "essay", "question": "Describe your town", "points": 5}
    ]}
  ]
}`

type testEnv struct {
	srv    *httptest.Server
	store  *store.Store
	tokens *auth.Tokens
	users  map[string]*model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	env := &testEnv{store: s, users: map[string]*model.User{}}
	for _, u := range []struct {
		name string
		role model.UserRole
	}{
		{"alice", model.UserRoleStudent},
		{"bob", model.UserRoleStudent},
		{"tina", model.UserRoleTeacher},
		{"root", model.UserRoleAdmin},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.name+"-pw"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt: %v", err)
		}
		id, err := s.CreateUser(model.User{Username: u.name, DisplayName: u.name, PasswordHash: string(hash), Role: u.role, Active: true})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		env.users[u.name], _ = s.GetUserByID(id)
	}

	if _, err := exam.NewImporter(s).Import(context.Background(), "", []byte(testExam)); err != nil {
		t.Fatalf("Import: %v", err)
	}

	env.tokens, err = auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	loader := exam.NewLoader(s)
	pub := events.NewLogPublisher(s)
	mgr := runner.NewManager(loader, s, runner.ManagerOptions{Events: pub})
	t.Cleanup(mgr.Shutdown)

	h := New(Deps{Store: s, Sessions: mgr, Loader: loader, Tokens: env.tokens, Events: pub}, model.RunnerConfig{})
	r := chi.NewRouter()
	h.Routes(r)
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

// client is a cookie-carrying API client that replays the CSRF token.
type client struct {
	t      *testing.T
	base   string
	http   *http.Client
	csrf   string
	bearer string
}

func (e *testEnv) client(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &client{t: t, base: e.srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		// Sent verbatim so content hashes match.
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set(csrfHeaderName, c.csrf)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func (c *client) mustDo(method, path string, body any, want int, out any) {
	c.t.Helper()
	status, data := c.do(method, path, body)
	if status != want {
		c.t.Fatalf("%s %s: status %d, want %d; body %s", method, path, status, want, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			c.t.Fatalf("decode %s: %v", data, err)
		}
	}
}

func (c *client) login(name string) {
	c.t.Helper()
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	c.mustDo(http.MethodPost, "/login", credentials{Username: name, Password: name + "-pw"}, http.StatusOK, &resp)
	if resp.CSRFToken == "" {
		c.t.Fatal("login returned no csrf token")
	}
	c.csrf = resp.CSRFToken
}

type startResp struct {
	Session struct {
		ID      string `json:"id"`
		Mode    string `json:"mode"`
		Section int    `json:"section"`
	} `json:"session"`
	Exam       model.ExamView `json:"exam"`
	ResultsURL string         `json:"results_url"`
}

func TestExamFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.client(t)
	alice.login("alice")

	var start startResp
	alice.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusCreated, &start)
	if start.Session.Mode != "live" || start.Session.ID == "" {
		t.Fatalf("unexpected session: %+v", start.Session)
	}
	if len(start.Exam.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(start.Exam.Sections))
	}
	sid := "/sessions/" + start.Session.ID

	// Starting again resumes the open session.
	var again startResp
	alice.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusCreated, &again)
	if again.Session.ID != start.Session.ID {
		t.Errorf("expected resumed session %s, got %s", start.Session.ID, again.Session.ID)
	}

	alice.mustDo(http.MethodPut, sid+"/answers/q1", map[string]any{"value": 1}, http.StatusOK, nil)
	alice.mustDo(http.MethodPut, sid+"/answers/essay", map[string]any{"value": "A quiet town."}, http.StatusOK, nil)
	alice.mustDo(http.MethodPut, sid+"/answers/q1", map[string]any{"value": "text"}, http.StatusBadRequest, nil)
	alice.mustDo(http.MethodPut, sid+"/answers/nope", map[string]any{"value": 0}, http.StatusNotFound, nil)

	var st runner.SessionState
	alice.mustDo(http.MethodPost, sid+"/next", nil, http.StatusOK, &st)
	if st.Section != 1 || st.Answered != 2 {
		t.Errorf("after next: %+v", st)
	}
	alice.mustDo(http.MethodPost, sid+"/next", nil, http.StatusOK, &st)
	if st.Section != 1 {
		t.Errorf("next on last section should stay, got %d", st.Section)
	}
	alice.mustDo(http.MethodPost, sid+"/jump/0", nil, http.StatusForbidden, nil)

	var fin struct {
		Status     string `json:"status"`
		ResultsURL string `json:"results_url"`
		Result     struct {
			TotalScore    float64 `json:"total_score"`
			MaxScore      float64 `json:"max_score"`
			PendingManual int     `json:"pending_manual"`
		} `json:"result"`
		Summary string `json:"summary"`
	}
	alice.mustDo(http.MethodPost, sid+"/finish", nil, http.StatusOK, &fin)
	if fin.Status != "submitted" || fin.Result.TotalScore != 3 || fin.Result.MaxScore != 8 || fin.Result.PendingManual != 1 {
		t.Fatalf("unexpected finish: %+v", fin)
	}
	if !strings.HasPrefix(fin.Summary, "You scored 3 of 8.") {
		t.Errorf("summary = %q", fin.Summary)
	}

	var second struct {
		Status string `json:"status"`
	}
	alice.mustDo(http.MethodPost, sid+"/finish", nil, http.StatusOK, &second)
	if second.Status != "skipped" {
		t.Errorf("second finish: got %q, want skipped", second.Status)
	}
	alice.mustDo(http.MethodPut, sid+"/answers/q1", map[string]any{"value": 0}, http.StatusConflict, nil)

	u, err := url.Parse(fin.ResultsURL)
	if err != nil {
		t.Fatalf("parse results url %q: %v", fin.ResultsURL, err)
	}
	var res model.StudentResult
	alice.mustDo(http.MethodGet, u.RequestURI(), nil, http.StatusOK, &res)
	if res.TotalScore != 3 || res.Username != "alice" || res.Passed == nil || *res.Passed {
		t.Errorf("unexpected results: %+v", res)
	}

	// Another student cannot read alice's attempt or session.
	bob := env.client(t)
	bob.login("bob")
	bob.mustDo(http.MethodGet, u.RequestURI(), nil, http.StatusNotFound, nil)
	bob.mustDo(http.MethodGet, sid, nil, http.StatusNotFound, nil)

	// A second visit after submission is practice with the prior score.
	var practice startResp
	alice.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusCreated, &practice)
	if practice.Session.Mode != "practice" || practice.Session.ID == start.Session.ID {
		t.Fatalf("expected new practice session, got %+v", practice.Session)
	}
	var pfin struct {
		Status  string `json:"status"`
		Session struct {
			Results runner.ResultsTarget `json:"results"`
		} `json:"session"`
	}
	alice.mustDo(http.MethodPost, "/sessions/"+practice.Session.ID+"/finish", nil, http.StatusOK, &pfin)
	if pfin.Status != "practice" || !pfin.Session.Results.Practice || pfin.Session.Results.PriorScore != 3 {
		t.Errorf("unexpected practice finish: %+v", pfin)
	}

	// The teacher grades the essay over a bearer token.
	token, _, err := env.tokens.Issue(env.users["tina"])
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tina := env.client(t)
	tina.bearer = token

	var attempts []model.Attempt
	tina.mustDo(http.MethodGet, "/review/attempts?exam=e1", nil, http.StatusOK, &attempts)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	path := fmt.Sprintf("/review/attempts/%d", attempts[0].ID)
	tina.mustDo(http.MethodPost, path+"/grade", gradeRequest{Grades: map[string]float64{"q1": 1}}, http.StatusBadRequest, nil)

	var graded model.StudentResult
	tina.mustDo(http.MethodPost, path+"/grade", gradeRequest{Grades: map[string]float64{"essay": 9}}, http.StatusOK, &graded)
	if graded.Status != model.StatusGraded || graded.TotalScore != 8 || graded.Passed == nil || !*graded.Passed {
		t.Errorf("unexpected graded result: %+v", graded)
	}
	tina.mustDo(http.MethodGet, path+"/suggestions", nil, http.StatusNotImplemented, nil)
	alice.mustDo(http.MethodGet, "/review/attempts", nil, http.StatusForbidden, nil)

	evs, err := env.store.ListEvents(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	want := []string{string(events.AttemptStarted), string(events.AttemptCompleted), string(events.AttemptGraded)}
	if len(evs) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), evs)
	}
	for i, e := range evs {
		if e.Type != want[i] {
			t.Errorf("event %d: got %q, want %q", i, e.Type, want[i])
		}
	}
}

func TestAuthChecks(t *testing.T) {
	env := newTestEnv(t)

	anon := env.client(t)
	anon.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusUnauthorized, nil)
	anon.mustDo(http.MethodPost, "/login", credentials{Username: "alice", Password: "wrong"}, http.StatusUnauthorized, nil)
	anon.mustDo(http.MethodPost, "/login", credentials{Username: "ghost", Password: "x"}, http.StatusUnauthorized, nil)

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	anon.mustDo(http.MethodPost, "/api/token", credentials{Username: "root", Password: "root-pw"}, http.StatusOK, &tok)
	admin := env.client(t)
	admin.bearer = tok.AccessToken
	admin.mustDo(http.MethodGet, "/admin/users", nil, http.StatusOK, nil)

	alice := env.client(t)
	alice.login("alice")
	alice.mustDo(http.MethodGet, "/admin/users", nil, http.StatusForbidden, nil)

	// Cookie-authenticated writes need the CSRF header.
	csrf := alice.csrf
	alice.csrf = ""
	alice.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusForbidden, nil)
	alice.csrf = csrf
	alice.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusCreated, nil)
	alice.mustDo(http.MethodPost, "/exams/missing/sessions", nil, http.StatusNotFound, nil)

	alice.mustDo(http.MethodPost, "/logout", nil, http.StatusNoContent, nil)
	alice.mustDo(http.MethodPost, "/exams/e1/sessions", nil, http.StatusUnauthorized, nil)
}

func TestAdminExamsAndUsers(t *testing.T) {
	env := newTestEnv(t)
	root := env.client(t)
	root.login("root")

	var up struct {
		ID        string  `json:"id"`
		Questions int     `json:"questions"`
		MaxScore  float64 `json:"max_score"`
		Unchanged bool    `json:"unchanged"`
	}
	status, data := root.do(http.MethodPost, "/admin/exams", json.RawMessage(`{"id": "e2", "sections": [{"essayQuestions": [{"id": "x", "points": 2}]}]}`))
	if status != http.StatusCreated {
		t.Fatalf("upload: status %d, body %s", status, data)
	}
	if err := json.Unmarshal(data, &up); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if up.ID != "e2" || up.Questions != 1 || up.MaxScore != 2 || up.Unchanged {
		t.Errorf("unexpected upload: %+v", up)
	}

	// Raw JSON of the seeded exam is identical, so re-uploading is a no-op.
	root.mustDo(http.MethodPost, "/admin/exams", json.RawMessage(testExam), http.StatusOK, &up)
	if !up.Unchanged {
		t.Error("expected unchanged upload")
	}
	root.mustDo(http.MethodPost, "/admin/exams", json.RawMessage(`{"id": "bad"}`), http.StatusUnprocessableEntity, nil)

	var created userJSON
	root.mustDo(http.MethodPost, "/admin/users", createUserRequest{Username: "carol", Password: "pw"}, http.StatusCreated, &created)
	if created.Role != model.UserRoleStudent || created.DisplayName != "carol" {
		t.Errorf("unexpected user: %+v", created)
	}
	root.mustDo(http.MethodPost, "/admin/users", createUserRequest{Username: "dave", Password: "pw", Role: "god"}, http.StatusBadRequest, nil)
	root.mustDo(http.MethodPost, "/admin/users", createUserRequest{Username: "carol", Password: "pw"}, http.StatusConflict, nil)
	var toggled struct {
		Active bool `json:"active"`
	}
	root.mustDo(http.MethodPost, fmt.Sprintf("/admin/users/%d/toggle-active", created.ID), nil, http.StatusOK, &toggled)
	if toggled.Active {
		t.Errorf("carol should be inactive after toggle")
	}
	root.mustDo(http.MethodPost, fmt.Sprintf("/admin/users/%d/toggle-active", env.users["root"].ID), nil, http.StatusBadRequest, nil)
	root.mustDo(http.MethodPost, "/admin/users/9999/toggle-active", nil, http.StatusNotFound, nil)

	var teachers []userJSON
	root.mustDo(http.MethodGet, "/admin/users?role=teacher", nil, http.StatusOK, &teachers)
	if len(teachers) != 1 || teachers[0].Username != "tina" {
		t.Errorf("teachers = %+v", teachers)
	}

	carol := env.client(t)
	carol.mustDo(http.MethodPost, "/login", credentials{Username: "carol", Password: "pw"}, http.StatusForbidden, nil)

	var exams []model.ExamRecord
	root.mustDo(http.MethodGet, "/admin/exams", nil, http.StatusOK, &exams)
	if len(exams) != 2 {
		t.Errorf("expected 2 exams, got %d", len(exams))
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.mustDo(http.MethodGet, "/healthz", nil, http.StatusOK, nil)
	status, _ := c.do(http.MethodGet, "/metrics", nil)
	if status != http.StatusOK {
		t.Errorf("metrics: status %d", status)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	appI18n "github.com/pavelanni/examrunner/internal/i18n"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/runner"
	"github.com/pavelanni/examrunner/internal/scoring"
)

type sessionCtxKey struct{}

func sessionFromContext(ctx context.Context) *runner.Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*runner.Session)
	return s
}

// sessionCtx loads the session named in the URL. Students only see their own.
func (h *Handler) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
		if !ok {
			writeError(w, r, errSessionNotFound)
			return
		}
		user := model.UserFromContext(r.Context())
		if s.StudentID != user.ID && user.Role != model.UserRoleAdmin {
			// Indistinguishable from a missing session.
			writeError(w, r, errSessionNotFound)
			return
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type sessionResponse struct {
	Session    runner.SessionState `json:"session"`
	Exam       model.ExamView      `json:"exam"`
	Answers    model.Answers       `json:"answers"`
	ResultsURL string              `json:"results_url,omitempty"`
}

func (h *Handler) sessionResponse(s *runner.Session) sessionResponse {
	st := s.State()
	return sessionResponse{
		Session:    st,
		Exam:       s.Definition.View(),
		Answers:    s.Answers(),
		ResultsURL: h.resultsURL(st.ExamID, st.Results),
	}
}

func (h *Handler) submitTimeout() time.Duration {
	if h.config.SubmitTimeout > 0 {
		return h.config.SubmitTimeout
	}
	return 30 * time.Second
}

func (h *Handler) resultsURL(examID string, t *runner.ResultsTarget) string {
	if t == nil {
		return ""
	}
	q := url.Values{}
	if t.Practice {
		q.Set("practice", "1")
	} else {
		q.Set("attempt", strconv.FormatInt(t.AttemptID, 10))
	}
	return h.path(fmt.Sprintf("/exams/%s/results?%s", url.PathEscape(examID), q.Encode()))
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Start(r.Context(), chi.URLParam(r, "examID"), model.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", h.path("/sessions/"+s.ID))
	writeJSON(w, http.StatusCreated, h.sessionResponse(s))
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionResponse(sessionFromContext(r.Context())))
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Close(sessionFromContext(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	var ans model.Answer
	if len(body.Value) > 0 && string(body.Value) != "null" {
		var err error
		if ans, err = model.ParseAnswer(body.Value); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := s.SetAnswer(chi.URLParam(r, "questionID"), ans); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	s.Navigator().Next()
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	s.Navigator().Previous()
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleJump(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, errors.Join(errBadRequest, err))
		return
	}
	if err := s.Navigator().JumpTo(index); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

type finishResponse struct {
	Status     runner.SubmitStatus `json:"status"`
	Result     *scoring.Result     `json:"result,omitempty"`
	Session    runner.SessionState `json:"session"`
	ResultsURL string              `json:"results_url,omitempty"`
	Summary    string              `json:"summary,omitempty"`
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	// A client that disconnects mid-request must not abort the write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.submitTimeout())
	defer cancel()
	sub, err := s.Submit(ctx, runner.TriggerManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st := s.State()
	resp := finishResponse{
		Status:     sub.Status,
		Result:     sub.Result,
		Session:    st,
		ResultsURL: h.resultsURL(st.ExamID, st.Results),
	}
	if sub.Result != nil {
		resp.Summary = appI18n.Localize(r.Context(), "ScoreSummary",
			map[string]any{"Score": sub.Result.TotalScore, "Max": sub.Result.MaxScore}) +
			" " + appI18n.Plural(r.Context(), "QuestionsAnswered", st.Answered)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResults shows a submitted attempt. With ?attempt=N it shows that attempt;
// otherwise the caller's own completed attempt for the exam.
func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := model.UserFromContext(ctx)
	examID := chi.URLParam(r, "examID")

	var a *model.Attempt
	var err error
	if v := r.URL.Query().Get("attempt"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, r, errors.Join(errBadRequest, perr))
			return
		}
		a, err = h.store.GetAttempt(ctx, id)
	} else {
		a, err = h.store.FindCompletedAttempt(ctx, examID, user.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if a == nil || a.ExamID != examID {
		writeError(w, r, model.ErrAttemptNotFound)
		return
	}
	if a.StudentID != user.ID && user.Role == model.UserRoleStudent {
		writeError(w, r, model.ErrAttemptNotFound)
		return
	}
	if !a.Status.Terminal() {
		writeError(w, r, model.ErrAttemptInProgress)
		return
	}

	res, err := h.studentResult(ctx, a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) studentResult(ctx context.Context, a *model.Attempt) (model.StudentResult, error) {
	def, err := h.loader.Load(ctx, a.ExamID)
	if err != nil {
		return model.StudentResult{}, err
	}
	var username, displayName string
	u, err := h.store.GetUserByID(a.StudentID)
	if err != nil {
		return model.StudentResult{}, fmt.Errorf("get user %d: %w", a.StudentID, err)
	}
	if u != nil {
		username, displayName = u.Username, u.DisplayName
	}
	return scoring.StudentResult(def, a, username, displayName), nil
}

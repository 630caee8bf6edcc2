package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/scoring"
	"github.com/pavelanni/examrunner/internal/store"
)

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	attempts, err := h.store.ListAttempts(r.Context(), store.AttemptFilter{
		ExamID: q.Get("exam"),
		Status: model.AttemptStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) attemptFromURL(r *http.Request) (*model.Attempt, error) {
	id, err := int64Param(r, "attemptID")
	if err != nil {
		return nil, err
	}
	a, err := h.store.GetAttempt(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("attempt %d: %w", id, model.ErrAttemptNotFound)
	}
	return a, nil
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.attemptFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.studentResult(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeError(w, r, errLLMDisabled)
		return
	}
	a, err := h.attemptFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !a.Status.Terminal() {
		writeError(w, r, model.ErrAttemptInProgress)
		return
	}
	def, err := h.loader.Load(r.Context(), a.ExamID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	suggestions := h.llm.SuggestAttempt(r.Context(), def, a)
	writeJSON(w, http.StatusOK, map[string]any{"attempt_id": a.ID, "suggestions": suggestions})
}

type gradeRequest struct {
	Grades map[string]float64 `json:"grades"`
}

// handleGrade records teacher points for manually graded questions. New grades
// are merged over earlier ones so grading can happen in several passes.
func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.attemptFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req gradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	def, err := h.loader.Load(ctx, a.ExamID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	scored := scoring.Score(def, a.Answers)
	manual := make(map[string]bool)
	for _, qr := range scored.Questions {
		if qr.Outcome == model.OutcomeManual {
			manual[qr.QuestionID] = true
		}
	}
	grades := make(map[string]float64, len(a.ManualGrade)+len(req.Grades))
	maps.Copy(grades, a.ManualGrade)
	for qid, pts := range req.Grades {
		if !manual[qid] {
			writeError(w, r, errors.Join(errBadRequest, fmt.Errorf("question %q is not awaiting manual grading", qid)))
			return
		}
		grades[qid] = pts
	}

	graded := scoring.ApplyManual(scored, grades)
	grader := model.UserFromContext(ctx)
	if err := h.store.GradeAttempt(ctx, a.ID, grades, graded.TotalScore, grader.ID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("attempt graded",
		"attempt_id", a.ID,
		"grader_id", grader.ID,
		"total_score", graded.TotalScore,
		"pending_manual", graded.PendingManual,
	)
	h.publish(ctx, events.Event{
		Type:       events.AttemptGraded,
		ExamID:     a.ExamID,
		AttemptID:  a.ID,
		StudentID:  a.StudentID,
		TotalScore: graded.TotalScore,
		MaxScore:   graded.MaxScore,
		OccurredAt: time.Now().UTC(),
	})

	updated, err := h.store.GetAttempt(ctx, a.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.studentResult(ctx, updated)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Package scoring grades answers against an exam definition.
package scoring

import "github.com/pavelanni/examrunner/internal/model"

// Result is the outcome of grading one attempt.
type Result struct {
	TotalScore    float64                `json:"total_score"`
	MaxScore      float64                `json:"max_score"`
	Questions     []model.QuestionResult `json:"questions"`
	PendingManual int                    `json:"pending_manual"`
}

// Score grades every question in the definition, including reading passage questions.
// MaxScore is the sum of all question points whether answered or not.
func Score(def *model.ExamDefinition, answers model.Answers) Result {
	var r Result
	for _, q := range def.Questions() {
		a := answers[q.QuestionID()]
		outcome := q.Grade(a)

		qr := model.QuestionResult{
			QuestionID: q.QuestionID(),
			Type:       q.Type(),
			Points:     q.Points(),
			Outcome:    outcome,
			Answer:     a,
		}
		switch outcome {
		case model.OutcomeCorrect:
			qr.Awarded = q.Points()
		case model.OutcomeManual:
			r.PendingManual++
		}

		r.MaxScore += q.Points()
		r.TotalScore += qr.Awarded
		r.Questions = append(r.Questions, qr)
	}
	return r
}

// ApplyManual folds teacher-awarded points into a result. Only questions whose
// outcome is manual are affected; awards are clamped to [0, points].
func ApplyManual(r Result, grades map[string]float64) Result {
	out := Result{MaxScore: r.MaxScore}
	for _, qr := range r.Questions {
		if qr.Outcome == model.OutcomeManual {
			if g, ok := grades[qr.QuestionID]; ok {
				qr.Awarded = clamp(g, 0, qr.Points)
			} else {
				out.PendingManual++
			}
		}
		out.TotalScore += qr.Awarded
		out.Questions = append(out.Questions, qr)
	}
	return out
}

// Passed compares the total against the exam's passing score in points.
// It returns nil when the exam has no passing score.
func Passed(def *model.ExamDefinition, totalScore float64) *bool {
	if def.PassingScore == nil {
		return nil
	}
	ok := totalScore >= *def.PassingScore
	return &ok
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

// ForAttempt regrades a stored attempt, including any manual grades recorded for it.
func ForAttempt(def *model.ExamDefinition, a *model.Attempt) Result {
	return ApplyManual(Score(def, a.Answers), a.ManualGrade)
}

// StudentResult assembles the export and review row for one attempt.
func StudentResult(def *model.ExamDefinition, a *model.Attempt, username, displayName string) model.StudentResult {
	r := ForAttempt(def, a)
	return model.StudentResult{
		AttemptID:   a.ID,
		Username:    username,
		DisplayName: displayName,
		Status:      a.Status,
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		TotalScore:  r.TotalScore,
		MaxScore:    r.MaxScore,
		Passed:      Passed(def, r.TotalScore),
		Questions:   r.Questions,
	}
}

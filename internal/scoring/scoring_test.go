package scoring

import (
	"math/rand/v2"
	"testing"

	"github.com/pavelanni/examrunner/internal/model"
)

func ref(s string) *string { return &s }

func pair(t *testing.T, a, b int) model.PairAnswer {
	t.Helper()
	p, err := model.NewPairAnswer(a, b)
	if err != nil {
		t.Fatalf("NewPairAnswer: %v", err)
	}
	return p
}

func singleMCQ() *model.ExamDefinition {
	return &model.ExamDefinition{
		ID: "one",
		Sections: []model.Section{{
			ID: "s1",
			Vocabulary: []model.Question{
				model.SingleChoice{ID: "q1", Kind: model.TypeMCQ, Options: []string{"A", "B"}, CorrectIndex: 1, Value: 5},
			},
		}},
	}
}

func mixedExam() *model.ExamDefinition {
	passing := 6.0
	return &model.ExamDefinition{
		ID:           "mixed",
		PassingScore: &passing,
		Sections: []model.Section{
			{
				ID: "s1",
				Vocabulary: []model.Question{
					model.SingleChoice{ID: "v1", Kind: model.TypeMCQ, Options: []string{"a", "b", "c"}, CorrectIndex: 2, Value: 1},
					model.SingleChoice{ID: "tf", Kind: model.TypeTrueFalse, Options: []string{"True", "False"}, CorrectIndex: 0, Value: 1},
				},
				ChooseTwo: []model.Question{
					model.ChooseTwo{ID: "c1", Options: []string{"a", "b", "c", "d"}, CorrectIndices: [2]int{2, 1}, Value: 2},
				},
				Essay: []model.Question{
					model.FreeText{ID: "essay", Kind: model.TypeEssay, Value: 4},
				},
			},
			{
				ID: "s2",
				Translation: []model.Question{
					model.SingleChoice{ID: "t1", Kind: model.TypeTranslation, Options: []string{"x", "y"}, CorrectIndex: 0, Value: 1.5},
				},
				Passages: []model.ReadingPassage{{
					ID: "p1",
					Questions: []model.Question{
						model.FreeText{ID: "fb", Kind: model.TypeFillBlank, Reference: ref("Oxygen"), Value: 2},
						model.FreeText{ID: "ex", Kind: model.TypeExtraction, Reference: ref("the fox"), Value: 0.5},
					},
				}},
			},
		},
	}
}

func TestScoreScenario(t *testing.T) {
	def := singleMCQ()

	got := Score(def, model.Answers{})
	if got.TotalScore != 0 || got.MaxScore != 5 {
		t.Errorf("empty answers: got %v/%v, want 0/5", got.TotalScore, got.MaxScore)
	}

	got = Score(def, model.Answers{"q1": model.ChoiceAnswer(1)})
	if got.TotalScore != 5 || got.MaxScore != 5 {
		t.Errorf("correct answer: got %v/%v, want 5/5", got.TotalScore, got.MaxScore)
	}
}

func TestScoreMaxScoreIsSumOfPoints(t *testing.T) {
	for _, def := range []*model.ExamDefinition{singleMCQ(), mixedExam(), {ID: "empty", Sections: []model.Section{{ID: "s"}}}} {
		var want float64
		for _, q := range def.Questions() {
			want += q.Points()
		}
		if got := Score(def, nil).MaxScore; got != want {
			t.Errorf("%s: MaxScore = %v, want %v", def.ID, got, want)
		}
	}
}

func TestScoreMixed(t *testing.T) {
	def := mixedExam()
	answers := model.Answers{
		"v1":    model.ChoiceAnswer(2),
		"tf":    model.ChoiceAnswer(1),
		"c1":    pair(t, 1, 2),
		"essay": model.TextAnswer("A long essay"),
		"t1":    model.ChoiceAnswer(0),
		"fb":    model.TextAnswer("  oxygen "),
		"ex":    model.TextAnswer("a fox"),
	}

	got := Score(def, answers)
	// v1 + c1 + t1 + fb
	if want := 1 + 2 + 1.5 + 2.0; got.TotalScore != want {
		t.Errorf("TotalScore = %v, want %v", got.TotalScore, want)
	}
	if got.MaxScore != 12 {
		t.Errorf("MaxScore = %v, want 12", got.MaxScore)
	}
	if got.PendingManual != 1 {
		t.Errorf("PendingManual = %d, want 1", got.PendingManual)
	}

	outcomes := make(map[string]model.Outcome)
	for _, qr := range got.Questions {
		outcomes[qr.QuestionID] = qr.Outcome
	}
	want := map[string]model.Outcome{
		"v1":    model.OutcomeCorrect,
		"tf":    model.OutcomeIncorrect,
		"c1":    model.OutcomeCorrect,
		"essay": model.OutcomeManual,
		"t1":    model.OutcomeCorrect,
		"fb":    model.OutcomeCorrect,
		"ex":    model.OutcomeIncorrect,
	}
	for id, o := range want {
		if outcomes[id] != o {
			t.Errorf("%s: outcome %q, want %q", id, outcomes[id], o)
		}
	}
}

func TestScoreChooseTwoOrderIndependent(t *testing.T) {
	def := mixedExam()
	for _, p := range [][2]int{{1, 2}, {2, 1}} {
		got := Score(def, model.Answers{"c1": pair(t, p[0], p[1])})
		if got.TotalScore != 2 {
			t.Errorf("answer %v: TotalScore = %v, want 2", p, got.TotalScore)
		}
	}
	if got := Score(def, model.Answers{"c1": pair(t, 1, 3)}); got.TotalScore != 0 {
		t.Errorf("partial match must not score, got %v", got.TotalScore)
	}
}

func TestScoreTotalNeverExceedsMax(t *testing.T) {
	def := mixedExam()
	r := rand.New(rand.NewPCG(1, 2))
	texts := []string{"", "oxygen", "the fox", "essay", " THE FOX "}

	for i := 0; i < 500; i++ {
		answers := model.Answers{}
		for _, q := range def.Questions() {
			if r.IntN(4) == 0 {
				continue
			}
			switch q.(type) {
			case model.SingleChoice:
				answers[q.QuestionID()] = model.ChoiceAnswer(r.IntN(4))
			case model.ChooseTwo:
				a, b := r.IntN(4), r.IntN(4)
				if a == b {
					b = (a + 1) % 4
				}
				answers[q.QuestionID()] = pair(t, a, b)
			case model.FreeText:
				answers[q.QuestionID()] = model.TextAnswer(texts[r.IntN(len(texts))])
			}
		}
		got := Score(def, answers)
		if got.TotalScore > got.MaxScore || got.TotalScore < 0 {
			t.Fatalf("iteration %d: total %v outside [0, %v]", i, got.TotalScore, got.MaxScore)
		}
	}
}

func TestScoreIgnoresUnknownAnswers(t *testing.T) {
	got := Score(singleMCQ(), model.Answers{"nope": model.ChoiceAnswer(1)})
	if got.TotalScore != 0 {
		t.Errorf("TotalScore = %v, want 0", got.TotalScore)
	}
}

func TestApplyManual(t *testing.T) {
	def := mixedExam()
	base := Score(def, model.Answers{
		"v1":    model.ChoiceAnswer(2),
		"essay": model.TextAnswer("essay"),
	})
	if base.PendingManual != 1 {
		t.Fatalf("expected one pending manual question, got %d", base.PendingManual)
	}

	graded := ApplyManual(base, map[string]float64{"essay": 3, "v1": 0})
	if graded.TotalScore != 4 {
		t.Errorf("TotalScore = %v, want 4 (auto 1 + manual 3)", graded.TotalScore)
	}
	if graded.PendingManual != 0 {
		t.Errorf("PendingManual = %d, want 0", graded.PendingManual)
	}
	if graded.MaxScore != base.MaxScore {
		t.Errorf("MaxScore changed: %v -> %v", base.MaxScore, graded.MaxScore)
	}

	clamped := ApplyManual(base, map[string]float64{"essay": 99})
	if clamped.TotalScore != 5 {
		t.Errorf("expected manual award clamped to 4 points, total %v", clamped.TotalScore)
	}
	negative := ApplyManual(base, map[string]float64{"essay": -2})
	if negative.TotalScore != 1 {
		t.Errorf("expected negative award clamped to 0, total %v", negative.TotalScore)
	}
}

func TestPassed(t *testing.T) {
	def := mixedExam()
	if p := Passed(def, 6); p == nil || !*p {
		t.Errorf("6 of passing 6 should pass, got %v", p)
	}
	if p := Passed(def, 5.5); p == nil || *p {
		t.Errorf("5.5 of passing 6 should fail, got %v", p)
	}
	if p := Passed(singleMCQ(), 5); p != nil {
		t.Errorf("exam without passing score should return nil, got %v", *p)
	}
}

func TestStudentResultAppliesStoredGrades(t *testing.T) {
	def := mixedExam()
	a := &model.Attempt{
		ID:     7,
		ExamID: def.ID,
		Status: model.StatusGraded,
		Answers: model.Answers{
			"v1":    model.ChoiceAnswer(2),
			"c1":    pair(t, 1, 2),
			"essay": model.TextAnswer("long text"),
		},
		ManualGrade: map[string]float64{"essay": 3},
	}

	got := StudentResult(def, a, "alice", "Alice")
	if got.AttemptID != 7 || got.Username != "alice" || got.DisplayName != "Alice" {
		t.Errorf("identity fields: got %+v", got)
	}
	if got.TotalScore != 6 || got.MaxScore != 12 {
		t.Errorf("score: got %v/%v, want 6/12", got.TotalScore, got.MaxScore)
	}
	if got.Passed == nil || !*got.Passed {
		t.Errorf("Passed: got %v, want true", got.Passed)
	}
	if len(got.Questions) != len(def.Questions()) {
		t.Errorf("questions: got %d, want %d", len(got.Questions), len(def.Questions()))
	}

	a.ManualGrade = nil
	if r := ForAttempt(def, a); r.TotalScore != 3 || r.PendingManual != 1 {
		t.Errorf("ungraded: got total %v pending %d, want 3 and 1", r.TotalScore, r.PendingManual)
	}
}

package exam

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pavelanni/examrunner/internal/model"
)

type mapSource map[string][]byte

func (m mapSource) GetExam(_ context.Context, id string) ([]byte, error) {
	return m[id], nil
}

type failingSource struct{ err error }

func (f failingSource) GetExam(context.Context, string) ([]byte, error) { return nil, f.err }

const legacyExam = `{
  "exam_title": "Grade 9 English",
  "exam_description": "Final",
  "duration": "45",
  "total_marks": 20,
  "passing_score": "10",
  "blocks": [
    {
      "section_title": "Part A",
      "instructions": "Answer all",
      "vocabulary_questions": [
        {"id": 1, "prompt": "Synonym of big", "options": ["small", "large"], "correct_index": "1", "marks": 2},
        {"question": "Antonym of hot", "choices": ["cold", "warm"], "correctIndex": 0}
      ],
      "choose_two_questions": [
        {"id": "c1", "text": "Pick nouns", "options": ["run", "dog", "cat", "blue"], "correct_indices": [2, 1]}
      ],
      "essay_questions": [
        {"id": "e1", "question": "Describe your town", "points": 5}
      ]
    },
    {
      "title": "Part B",
      "writingMechanicsQuestions": [
        {"id": "w1", "type": "true-false", "question": "Commas end sentences", "correctAnswer": false}
      ],
      "reading_passages": [
        {
          "title": "The Fox",
          "passage": "A fox ran.",
          "questions": [
            {"id": "r1", "question": "Who ran?", "options": ["fox", "dog"], "correctIndex": 0},
            {"id": "r2", "type": "Fill_Blank", "question": "A ___ ran", "reference_answer": "fox"}
          ]
        }
      ]
    }
  ]
}`

func TestNormalizeLegacyAliases(t *testing.T) {
	def, err := Normalize("eng9", []byte(legacyExam))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if def.ID != "eng9" || def.Title != "Grade 9 English" || def.Description != "Final" {
		t.Errorf("unexpected header: %+v", def)
	}
	if def.DurationMinutes == nil || *def.DurationMinutes != 45 {
		t.Errorf("expected duration 45, got %v", def.DurationMinutes)
	}
	if def.PassingScore == nil || *def.PassingScore != 10 {
		t.Errorf("expected passing score 10, got %v", def.PassingScore)
	}
	if len(def.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(def.Sections))
	}

	a := def.Sections[0]
	if a.ID != "s1" || a.Title != "Part A" || a.Note != "Answer all" {
		t.Errorf("unexpected section header: %+v", a)
	}
	if len(a.Vocabulary) != 2 || len(a.ChooseTwo) != 1 || len(a.Essay) != 1 {
		t.Fatalf("unexpected group sizes: vocab=%d choose=%d essay=%d", len(a.Vocabulary), len(a.ChooseTwo), len(a.Essay))
	}

	v1, ok := a.Vocabulary[0].(model.SingleChoice)
	if !ok {
		t.Fatalf("expected SingleChoice, got %T", a.Vocabulary[0])
	}
	if v1.ID != "1" || v1.CorrectIndex != 1 || v1.Value != 2 || v1.Kind != model.TypeMCQ {
		t.Errorf("unexpected vocabulary question: %+v", v1)
	}
	if got := a.Vocabulary[1]; got.QuestionID() != "s1-vocabulary-2" || got.Points() != 1 {
		t.Errorf("expected synthesized id and default points, got %q %v", got.QuestionID(), got.Points())
	}

	c1, ok := a.ChooseTwo[0].(model.ChooseTwo)
	if !ok || c1.CorrectIndices != [2]int{2, 1} {
		t.Errorf("unexpected chooseTwo question: %+v", a.ChooseTwo[0])
	}

	e1, ok := a.Essay[0].(model.FreeText)
	if !ok || e1.AutoGradable() || e1.Kind != model.TypeEssay {
		t.Errorf("expected manual essay, got %+v", a.Essay[0])
	}

	b := def.Sections[1]
	w1, ok := b.WritingMechanics[0].(model.SingleChoice)
	if !ok || w1.Kind != model.TypeTrueFalse || w1.CorrectIndex != 1 || len(w1.Options) != 2 {
		t.Errorf("unexpected true/false question: %+v", b.WritingMechanics[0])
	}
	if len(b.Passages) != 1 || b.Passages[0].Text != "A fox ran." || b.Passages[0].ID != "s2-passage-1" {
		t.Fatalf("unexpected passages: %+v", b.Passages)
	}
	r2, ok := b.Passages[0].Questions[1].(model.FreeText)
	if !ok || r2.Kind != model.TypeFillBlank || r2.Reference == nil || *r2.Reference != "fox" {
		t.Errorf("unexpected fill blank question: %+v", b.Passages[0].Questions[1])
	}

	if got := len(def.Questions()); got != 7 {
		t.Errorf("expected 7 questions in total, got %d", got)
	}
}

func TestNormalizeCanonical(t *testing.T) {
	raw := `{"title": "T", "durationMinutes": null, "sections": [
	  {"id": "a", "title": "A", "translationQuestions": [
	    {"id": "t1", "type": "translation", "question": "Hola", "options": ["Hi", "Bye"], "correctIndex": 0, "points": 3}
	  ]}
	]}`
	def, err := Normalize("x", []byte(raw))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if def.DurationMinutes != nil {
		t.Errorf("expected untimed exam, got %v", *def.DurationMinutes)
	}
	q, ok := def.Question("t1")
	if !ok || q.Type() != model.TypeTranslation || q.Points() != 3 {
		t.Errorf("unexpected question: %+v", q)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"not object", `[1, 2]`},
		{"no sections key", `{"title": "x"}`},
		{"empty sections", `{"title": "x", "sections": []}`},
		{"empty blocks", `{"title": "x", "blocks": []}`},
		{"unknown type", `{"sections": [{"essayQuestions": [{"id": "q", "type": "matching"}]}]}`},
		{"duplicate ids", `{"sections": [
			{"essayQuestions": [{"id": "q"}]},
			{"essayQuestions": [{"id": "q"}]}
		]}`},
		{"missing correct index", `{"sections": [{"vocabularyQuestions": [{"id": "q", "options": ["a"]}]}]}`},
		{"correct index out of range", `{"sections": [{"vocabularyQuestions": [{"id": "q", "options": ["a"], "correctIndex": 3}]}]}`},
		{"choose two with three keys", `{"sections": [{"chooseTwoQuestions": [{"id": "q", "correctIndices": [0, 1, 2]}]}]}`},
		{"negative points", `{"sections": [{"essayQuestions": [{"id": "q", "points": -1}]}]}`},
		{"bad number", `{"duration": "soon", "sections": [{}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize("x", []byte(tt.raw))
			if !errors.Is(err, model.ErrMalformedDefinition) {
				t.Errorf("expected ErrMalformedDefinition, got %v", err)
			}
		})
	}
}

func TestNormalizeFractionalDuration(t *testing.T) {
	for _, minutes := range []float64{0.4, 1.5, 2.25} {
		raw := fmt.Sprintf(`{"durationMinutes": %v, "sections": [{"title": "A"}]}`, minutes)
		def, err := Normalize("x", []byte(raw))
		if err != nil {
			t.Fatalf("Normalize(%v): %v", minutes, err)
		}
		if def.DurationMinutes == nil || *def.DurationMinutes != minutes {
			t.Errorf("duration %v normalized to %v", minutes, def.DurationMinutes)
		}
	}
}

func TestNormalizeSectionWithoutQuestions(t *testing.T) {
	def, err := Normalize("x", []byte(`{"sections": [{"title": "Intro", "note": "Read carefully"}]}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(def.Sections) != 1 || len(def.Questions()) != 0 {
		t.Errorf("expected one empty section, got %+v", def.Sections)
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]model.QuestionType{
		"MCQ":               model.TypeMCQ,
		"choose_two":        model.TypeChooseTwo,
		"chooseTwo":         model.TypeChooseTwo,
		"True/False":        "",
		"true_false":        model.TypeTrueFalse,
		"fill-in-the-blank": model.TypeFillBlank,
		"Extraction":        model.TypeExtraction,
	}
	for in, want := range tests {
		got, ok := parseType(in)
		if want == "" {
			if ok {
				t.Errorf("parseType(%q) = %q, want unknown", in, got)
			}
			continue
		}
		if !ok || got != want {
			t.Errorf("parseType(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
}

func TestLoaderLoad(t *testing.T) {
	src := mapSource{
		"good": []byte(`{"title": "Good", "sections": [{"essayQuestions": [{"id": "e"}]}]}`),
		"bad":  []byte(`{"title": "Bad"}`),
	}
	l := NewLoader(src)
	ctx := context.Background()

	def, err := l.Load(ctx, "good")
	if err != nil {
		t.Fatalf("Load good: %v", err)
	}
	if def.ID != "good" || def.Title != "Good" {
		t.Errorf("unexpected definition: %+v", def)
	}

	if _, err := l.Load(ctx, "missing"); !errors.Is(err, model.ErrExamNotFound) {
		t.Errorf("expected ErrExamNotFound, got %v", err)
	}
	if _, err := l.Load(ctx, "bad"); !errors.Is(err, model.ErrMalformedDefinition) {
		t.Errorf("expected ErrMalformedDefinition, got %v", err)
	}
}

func TestLoaderSourceError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewLoader(failingSource{err: boom}).Load(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
	if errors.Is(err, model.ErrExamNotFound) {
		t.Error("source failure must not be reported as not found")
	}
}

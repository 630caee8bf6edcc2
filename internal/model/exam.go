package model

import (
	"slices"
	"strings"
)

// QuestionType is the tag carried by every question.
type QuestionType string

const (
	TypeMCQ         QuestionType = "mcq"
	TypeChooseTwo   QuestionType = "chooseTwo"
	TypeTrueFalse   QuestionType = "true_false"
	TypeTranslation QuestionType = "translation"
	TypeEssay       QuestionType = "essay"
	TypeParsing     QuestionType = "parsing"
	TypeFillBlank   QuestionType = "fill_blank"
	TypeExtraction  QuestionType = "extraction"
)

// Outcome is the automatic grading result for one question.
type Outcome string

const (
	OutcomeUnanswered Outcome = "unanswered"
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeManual     Outcome = "manual" // answered, left for a teacher
)

// Question is one gradable item. Implementations are SingleChoice, ChooseTwo and FreeText;
// the unexported method keeps the set closed to this package.
type Question interface {
	QuestionID() string
	Type() QuestionType
	Points() float64
	// Grade applies the variant's rule to an answer; nil means unanswered.
	Grade(a Answer) Outcome
	// View is the student-safe rendering without answer keys.
	View() QuestionView
	// Accepts reports whether an answer of kind k fits this question.
	Accepts(k AnswerKind) bool
	question()
}

// QuestionView is what a student sees for a question.
type QuestionView struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []string     `json:"options,omitempty"`
	Points  float64      `json:"points"`
	Manual  bool         `json:"manual,omitempty"`
}

// SingleChoice covers mcq, true_false and translation questions.
type SingleChoice struct {
	ID           string
	Kind         QuestionType
	Prompt       string
	Options      []string
	CorrectIndex int
	Value        float64
}

func (q SingleChoice) QuestionID() string        { return q.ID }
func (q SingleChoice) Type() QuestionType        { return q.Kind }
func (q SingleChoice) Points() float64           { return q.Value }
func (q SingleChoice) Accepts(k AnswerKind) bool { return k == AnswerChoice }
func (SingleChoice) question()                   {}

func (q SingleChoice) Grade(a Answer) Outcome {
	if a == nil {
		return OutcomeUnanswered
	}
	c, ok := a.(ChoiceAnswer)
	if !ok || int(c) != q.CorrectIndex {
		return OutcomeIncorrect
	}
	return OutcomeCorrect
}

func (q SingleChoice) View() QuestionView {
	return QuestionView{ID: q.ID, Type: q.Kind, Prompt: q.Prompt, Options: slices.Clone(q.Options), Points: q.Value}
}

// ChooseTwo asks for exactly two options; order does not matter.
type ChooseTwo struct {
	ID             string
	Prompt         string
	Options        []string
	CorrectIndices [2]int
	Value          float64
}

func (q ChooseTwo) QuestionID() string        { return q.ID }
func (q ChooseTwo) Type() QuestionType        { return TypeChooseTwo }
func (q ChooseTwo) Points() float64           { return q.Value }
func (q ChooseTwo) Accepts(k AnswerKind) bool { return k == AnswerPair }
func (ChooseTwo) question()                   {}

func (q ChooseTwo) Grade(a Answer) Outcome {
	if a == nil {
		return OutcomeUnanswered
	}
	p, ok := a.(PairAnswer)
	if !ok {
		return OutcomeIncorrect
	}
	picks := p.Indices()
	if len(picks) == 0 {
		return OutcomeUnanswered
	}
	if len(picks) != 2 || q.CorrectIndices[0] == q.CorrectIndices[1] {
		return OutcomeIncorrect
	}
	if slices.Contains(picks, q.CorrectIndices[0]) && slices.Contains(picks, q.CorrectIndices[1]) {
		return OutcomeCorrect
	}
	return OutcomeIncorrect
}

func (q ChooseTwo) View() QuestionView {
	return QuestionView{ID: q.ID, Type: TypeChooseTwo, Prompt: q.Prompt, Options: slices.Clone(q.Options), Points: q.Value}
}

// FreeText covers essay, parsing, fill_blank and extraction questions.
// Without a Reference the question is graded by a teacher.
type FreeText struct {
	ID        string
	Kind      QuestionType
	Prompt    string
	Reference *string
	Value     float64
}

func (q FreeText) QuestionID() string        { return q.ID }
func (q FreeText) Type() QuestionType        { return q.Kind }
func (q FreeText) Points() float64           { return q.Value }
func (q FreeText) Accepts(k AnswerKind) bool { return k == AnswerText }
func (FreeText) question()                   {}

// AutoGradable reports whether a reference answer is available.
func (q FreeText) AutoGradable() bool { return q.Reference != nil }

func (q FreeText) Grade(a Answer) Outcome {
	if a == nil {
		return OutcomeUnanswered
	}
	t, ok := a.(TextAnswer)
	if !ok {
		return OutcomeIncorrect
	}
	if strings.TrimSpace(string(t)) == "" {
		return OutcomeUnanswered
	}
	if q.Reference == nil {
		return OutcomeManual
	}
	if strings.EqualFold(strings.TrimSpace(string(t)), strings.TrimSpace(*q.Reference)) {
		return OutcomeCorrect
	}
	return OutcomeIncorrect
}

func (q FreeText) View() QuestionView {
	return QuestionView{ID: q.ID, Type: q.Kind, Prompt: q.Prompt, Points: q.Value, Manual: q.Reference == nil}
}

// ReadingPassage wraps a text and the questions about it.
type ReadingPassage struct {
	ID        string
	Title     string
	Text      string
	Questions []Question
}

// Section is a titled subdivision of an exam holding typed question groups.
type Section struct {
	ID               string
	Title            string
	Note             string
	Vocabulary       []Question
	ChooseTwo        []Question
	WritingMechanics []Question
	Translation      []Question
	Essay            []Question
	Passages         []ReadingPassage
}

// Questions returns the union of all groups, ordered by group then index.
func (s Section) Questions() []Question {
	var out []Question
	for _, g := range [][]Question{s.Vocabulary, s.ChooseTwo, s.WritingMechanics, s.Translation, s.Essay} {
		out = append(out, g...)
	}
	for _, p := range s.Passages {
		out = append(out, p.Questions...)
	}
	return out
}

// ExamDefinition is a normalized exam. It is not modified during an attempt.
type ExamDefinition struct {
	ID              string
	Title           string
	Description     string
	DurationMinutes *float64 // nil means untimed; may be fractional
	TotalMarks      *float64
	PassingScore    *float64
	Sections        []Section
}

// Questions flattens every section, including reading passages.
func (d *ExamDefinition) Questions() []Question {
	var out []Question
	for _, s := range d.Sections {
		out = append(out, s.Questions()...)
	}
	return out
}

// Question looks up a question by id.
func (d *ExamDefinition) Question(id string) (Question, bool) {
	for _, q := range d.Questions() {
		if q.QuestionID() == id {
			return q, true
		}
	}
	return nil, false
}

// ExamView is the student-safe rendering of a definition.
type ExamView struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	DurationMinutes *float64      `json:"duration_minutes,omitempty"`
	TotalMarks      *float64      `json:"total_marks,omitempty"`
	PassingScore    *float64      `json:"passing_score,omitempty"`
	Sections        []SectionView `json:"sections"`
}

// SectionView is the student-safe rendering of a section.
type SectionView struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Note      string         `json:"note,omitempty"`
	Questions []QuestionView `json:"questions"`
	Passages  []PassageView  `json:"passages,omitempty"`
}

// PassageView is the student-safe rendering of a reading passage.
type PassageView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Text        string   `json:"text"`
	QuestionIDs []string `json:"question_ids"`
}

// View renders the definition without answer keys.
func (d *ExamDefinition) View() ExamView {
	v := ExamView{
		ID:              d.ID,
		Title:           d.Title,
		Description:     d.Description,
		DurationMinutes: d.DurationMinutes,
		TotalMarks:      d.TotalMarks,
		PassingScore:    d.PassingScore,
	}
	for _, s := range d.Sections {
		sv := SectionView{ID: s.ID, Title: s.Title, Note: s.Note}
		for _, q := range s.Questions() {
			sv.Questions = append(sv.Questions, q.View())
		}
		for _, p := range s.Passages {
			pv := PassageView{ID: p.ID, Title: p.Title, Text: p.Text}
			for _, q := range p.Questions {
				pv.QuestionIDs = append(pv.QuestionIDs, q.QuestionID())
			}
			sv.Passages = append(sv.Passages, pv)
		}
		v.Sections = append(v.Sections, sv)
	}
	return v
}

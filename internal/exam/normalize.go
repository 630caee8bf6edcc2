package exam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/examrunner/internal/model"
)

// fields is a decoded JSON object whose values are looked up by any of several legacy names.
type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) (fields, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("expected object, got null")
	}
	return f, nil
}

// pick returns the first present, non-null value among keys.
func (f fields) pick(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := f[k]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v
		}
	}
	return nil
}

// str reads a string or number as a string. Missing values yield "".
func (f fields) str(keys ...string) (string, error) {
	v := f.pick(keys...)
	if v == nil {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%s: expected string, got %s", keys[0], v)
}

// num reads a number, also accepting numeric strings. Missing values yield nil.
func (f fields) num(keys ...string) (*float64, error) {
	v := f.pick(keys...)
	if v == nil {
		return nil, nil
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", keys[0], s)
		}
		return &parsed, nil
	}
	return nil, fmt.Errorf("%s: expected number, got %s", keys[0], v)
}

// list reads an array of raw values.
func (f fields) list(keys ...string) ([]json.RawMessage, error) {
	v := f.pick(keys...)
	if v == nil {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("%s: expected array", keys[0])
	}
	return out, nil
}

// Normalize converts a raw exam record into the canonical definition.
// id overrides any id found in the record.
func Normalize(id string, raw []byte) (*model.ExamDefinition, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return nil, model.Malformed("decode exam: %v", err)
	}

	def := &model.ExamDefinition{ID: id}
	if def.ID == "" {
		if def.ID, err = f.str("id", "exam_id", "examId"); err != nil {
			return nil, model.Malformed("%v", err)
		}
	}
	if def.Title, err = f.str("title", "exam_title", "name"); err != nil {
		return nil, model.Malformed("%v", err)
	}
	if def.Description, err = f.str("description", "exam_description"); err != nil {
		return nil, model.Malformed("%v", err)
	}

	duration, err := f.num("durationMinutes", "duration_minutes", "duration")
	if err != nil {
		return nil, model.Malformed("%v", err)
	}
	if duration != nil && *duration >= 0 {
		def.DurationMinutes = duration
	}
	if def.TotalMarks, err = f.num("totalMarks", "total_marks"); err != nil {
		return nil, model.Malformed("%v", err)
	}
	if def.PassingScore, err = f.num("passingScore", "passing_score"); err != nil {
		return nil, model.Malformed("%v", err)
	}

	rawSections, err := f.list("sections", "blocks")
	if err != nil {
		return nil, model.Malformed("%v", err)
	}
	if len(rawSections) == 0 {
		return nil, model.Malformed("exam %q has no sections", def.ID)
	}

	seen := make(map[string]bool)
	for i, rs := range rawSections {
		s, err := normalizeSection(i, rs)
		if err != nil {
			return nil, err
		}
		for _, q := range s.Questions() {
			if seen[q.QuestionID()] {
				return nil, model.Malformed("duplicate question id %q", q.QuestionID())
			}
			seen[q.QuestionID()] = true
		}
		def.Sections = append(def.Sections, s)
	}
	return def, nil
}

// group describes one typed question list inside a section.
type group struct {
	name        string
	keys        []string
	defaultType model.QuestionType
	target      func(*model.Section) *[]model.Question
}

var groups = []group{
	{"vocabulary", []string{"vocabularyQuestions", "vocabulary_questions", "vocabulary"}, model.TypeMCQ,
		func(s *model.Section) *[]model.Question { return &s.Vocabulary }},
	{"chooseTwo", []string{"chooseTwoQuestions", "choose_two_questions", "chooseTwo"}, model.TypeChooseTwo,
		func(s *model.Section) *[]model.Question { return &s.ChooseTwo }},
	{"writingMechanics", []string{"writingMechanicsQuestions", "writing_mechanics_questions", "writingMechanics"}, model.TypeMCQ,
		func(s *model.Section) *[]model.Question { return &s.WritingMechanics }},
	{"translation", []string{"translationQuestions", "translation_questions", "translation"}, model.TypeTranslation,
		func(s *model.Section) *[]model.Question { return &s.Translation }},
	{"essay", []string{"essayQuestions", "essay_questions", "essay"}, model.TypeEssay,
		func(s *model.Section) *[]model.Question { return &s.Essay }},
}

func normalizeSection(index int, raw json.RawMessage) (model.Section, error) {
	var s model.Section
	f, err := decodeFields(raw)
	if err != nil {
		return s, model.Malformed("section %d: %v", index+1, err)
	}
	if s.ID, err = f.str("id", "section_id", "sectionId"); err != nil {
		return s, model.Malformed("section %d: %v", index+1, err)
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("s%d", index+1)
	}
	if s.Title, err = f.str("title", "section_title", "name"); err != nil {
		return s, model.Malformed("section %s: %v", s.ID, err)
	}
	if s.Note, err = f.str("note", "instructions"); err != nil {
		return s, model.Malformed("section %s: %v", s.ID, err)
	}

	for _, g := range groups {
		items, err := f.list(g.keys...)
		if err != nil {
			return s, model.Malformed("section %s: %v", s.ID, err)
		}
		dst := g.target(&s)
		for i, item := range items {
			q, err := normalizeQuestion(item, fmt.Sprintf("%s-%s-%d", s.ID, g.name, i+1), g.defaultType)
			if err != nil {
				return s, err
			}
			*dst = append(*dst, q)
		}
	}

	passages, err := f.list("readingPassages", "reading_passages", "passages")
	if err != nil {
		return s, model.Malformed("section %s: %v", s.ID, err)
	}
	for i, rp := range passages {
		p, err := normalizePassage(s.ID, i, rp)
		if err != nil {
			return s, err
		}
		s.Passages = append(s.Passages, p)
	}
	return s, nil
}

func normalizePassage(sectionID string, index int, raw json.RawMessage) (model.ReadingPassage, error) {
	var p model.ReadingPassage
	f, err := decodeFields(raw)
	if err != nil {
		return p, model.Malformed("section %s passage %d: %v", sectionID, index+1, err)
	}
	if p.ID, err = f.str("id"); err != nil {
		return p, model.Malformed("section %s passage %d: %v", sectionID, index+1, err)
	}
	if p.ID == "" {
		p.ID = fmt.Sprintf("%s-passage-%d", sectionID, index+1)
	}
	if p.Title, err = f.str("title"); err != nil {
		return p, model.Malformed("passage %s: %v", p.ID, err)
	}
	if p.Text, err = f.str("text", "passage", "content"); err != nil {
		return p, model.Malformed("passage %s: %v", p.ID, err)
	}
	items, err := f.list("questions")
	if err != nil {
		return p, model.Malformed("passage %s: %v", p.ID, err)
	}
	for i, item := range items {
		q, err := normalizeQuestion(item, fmt.Sprintf("%s-%d", p.ID, i+1), model.TypeMCQ)
		if err != nil {
			return p, err
		}
		p.Questions = append(p.Questions, q)
	}
	return p, nil
}

func normalizeQuestion(raw json.RawMessage, fallbackID string, defaultType model.QuestionType) (model.Question, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return nil, model.Malformed("question %s: %v", fallbackID, err)
	}
	id, err := f.str("id", "question_id", "questionId")
	if err != nil {
		return nil, model.Malformed("question %s: %v", fallbackID, err)
	}
	if id == "" {
		id = fallbackID
	}
	fail := func(err error) (model.Question, error) {
		return nil, model.Malformed("question %s: %v", id, err)
	}

	typeName, err := f.str("type", "question_type", "questionType")
	if err != nil {
		return fail(err)
	}
	qt := defaultType
	if typeName != "" {
		var ok bool
		if qt, ok = parseType(typeName); !ok {
			return fail(fmt.Errorf("unknown question type %q", typeName))
		}
	}

	prompt, err := f.str("question", "prompt", "text")
	if err != nil {
		return fail(err)
	}
	points := 1.0
	if p, err := f.num("points", "marks"); err != nil {
		return fail(err)
	} else if p != nil {
		if *p < 0 {
			return fail(fmt.Errorf("negative points %v", *p))
		}
		points = *p
	}

	switch qt {
	case model.TypeMCQ, model.TypeTrueFalse, model.TypeTranslation:
		options, err := stringList(f.pick("options", "choices"))
		if err != nil {
			return fail(err)
		}
		if qt == model.TypeTrueFalse && len(options) == 0 {
			options = []string{"True", "False"}
		}
		correct, err := correctIndex(f, qt)
		if err != nil {
			return fail(err)
		}
		if len(options) > 0 && correct >= len(options) {
			return fail(fmt.Errorf("correct index %d out of range for %d options", correct, len(options)))
		}
		return model.SingleChoice{ID: id, Kind: qt, Prompt: prompt, Options: options, CorrectIndex: correct, Value: points}, nil

	case model.TypeChooseTwo:
		options, err := stringList(f.pick("options", "choices"))
		if err != nil {
			return fail(err)
		}
		indices, err := indexList(f.pick("correctIndices", "correct_indices", "correctAnswers", "correct_answers"))
		if err != nil {
			return fail(err)
		}
		if len(indices) != 2 {
			return fail(fmt.Errorf("chooseTwo needs exactly 2 correct indices, got %d", len(indices)))
		}
		for _, i := range indices {
			if len(options) > 0 && i >= len(options) {
				return fail(fmt.Errorf("correct index %d out of range for %d options", i, len(options)))
			}
		}
		return model.ChooseTwo{ID: id, Prompt: prompt, Options: options, CorrectIndices: [2]int{indices[0], indices[1]}, Value: points}, nil

	default:
		ref, err := f.str("referenceAnswer", "reference_answer", "correctAnswer", "correct_answer", "answer")
		if err != nil {
			return fail(err)
		}
		q := model.FreeText{ID: id, Kind: qt, Prompt: prompt, Value: points}
		if strings.TrimSpace(ref) != "" {
			q.Reference = &ref
		}
		return q, nil
	}
}

// parseType maps legacy spellings (case, dashes, underscores, spaces ignored) to a type.
func parseType(s string) (model.QuestionType, bool) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "mcq", "multiplechoice", "singlechoice", "vocabulary", "writingmechanics":
		return model.TypeMCQ, true
	case "choosetwo", "choose2":
		return model.TypeChooseTwo, true
	case "truefalse", "tf", "boolean":
		return model.TypeTrueFalse, true
	case "translation":
		return model.TypeTranslation, true
	case "essay":
		return model.TypeEssay, true
	case "parsing":
		return model.TypeParsing, true
	case "fillblank", "fillintheblank", "fillblanks":
		return model.TypeFillBlank, true
	case "extraction":
		return model.TypeExtraction, true
	}
	return "", false
}

// correctIndex reads the key of a single-choice question. True/false keys may be booleans.
func correctIndex(f fields, qt model.QuestionType) (int, error) {
	keys := []string{"correctIndex", "correct_index", "correctAnswer", "correct_answer", "answer"}
	v := f.pick(keys...)
	if v == nil {
		return 0, fmt.Errorf("missing correctIndex")
	}
	if qt == model.TypeTrueFalse {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			if b {
				return 0, nil
			}
			return 1, nil
		}
	}
	n, err := f.num(keys...)
	if err != nil {
		return 0, err
	}
	return toIndex(*n)
}

func toIndex(n float64) (int, error) {
	if n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("index must be a non-negative integer, got %v", n)
	}
	return int(n), nil
}

func stringList(v json.RawMessage) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("options: expected array")
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		f := fields{"option": item}
		s, err := f.str("option")
		if err != nil {
			return nil, fmt.Errorf("option %d: %v", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func indexList(v json.RawMessage) ([]int, error) {
	if v == nil {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("correctIndices: expected array")
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		f := fields{"index": item}
		n, err := f.num("index")
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("correctIndices: null entry")
		}
		i, err := toIndex(*n)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

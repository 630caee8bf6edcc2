package exam

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examrunner/internal/model"
)

// ErrExamInUse is returned when a changed definition would replace an exam that
// already has attempts.
var ErrExamInUse = errors.New("exam already has attempts")

// RecordStore persists raw exam records.
type RecordStore interface {
	GetExamRecord(ctx context.Context, id string) (*model.ExamRecord, error)
	PutExam(ctx context.Context, rec model.ExamRecord) error
	ExamAttemptCount(ctx context.Context, examID string) (int, error)
}

// ImportResult describes what Import did.
type ImportResult struct {
	Definition *model.ExamDefinition
	Hash       string
	Unchanged  bool
}

// Importer validates raw definitions and stores them.
type Importer struct {
	store RecordStore
}

// NewImporter creates an importer writing to store.
func NewImporter(store RecordStore) *Importer {
	return &Importer{store: store}
}

// Import normalizes raw and stores it under id, or under the definition's own id
// when id is empty. An identical record is left alone. A changed record for an
// exam with attempts is refused with ErrExamInUse so stored answers keep matching
// their questions.
func (im *Importer) Import(ctx context.Context, id string, raw []byte) (ImportResult, error) {
	def, err := Normalize(id, raw)
	if err != nil {
		return ImportResult{}, err
	}
	if def.ID == "" {
		return ImportResult{}, model.Malformed("exam has no id")
	}
	res := ImportResult{Definition: def, Hash: Hash(raw)}

	existing, err := im.store.GetExamRecord(ctx, def.ID)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read exam %s: %w", def.ID, err)
	}
	if existing != nil {
		if existing.SourceHash == res.Hash {
			res.Unchanged = true
			return res, nil
		}
		n, err := im.store.ExamAttemptCount(ctx, def.ID)
		if err != nil {
			return ImportResult{}, fmt.Errorf("count attempts of %s: %w", def.ID, err)
		}
		if n > 0 {
			return ImportResult{}, fmt.Errorf("exam %s has %d attempts: %w", def.ID, n, ErrExamInUse)
		}
	}

	err = im.store.PutExam(ctx, model.ExamRecord{
		ID:         def.ID,
		Title:      def.Title,
		Raw:        raw,
		SourceHash: res.Hash,
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("store exam %s: %w", def.ID, err)
	}
	slog.Info("imported exam", "exam_id", def.ID, "title", def.Title, "questions", len(def.Questions()))
	return res, nil
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

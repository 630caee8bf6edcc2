package store

import (
	"database/sql"
	"errors"
	"time"
)

// GetImportedFileHash returns the recorded sha256 of an imported file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(s.rebind(`SELECT hash FROM imported_files WHERE path = ?`), path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the sha256 of an imported file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(s.rebind(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET hash = EXCLUDED.hash, imported_at = EXCLUDED.imported_at`),
		path, hash, time.Now().UTC(),
	)
	return err
}

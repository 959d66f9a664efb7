package store

import (
	"context"
	"database/sql"
	"errors"
)

// setMetadata upserts a key-value pair in the metadata table.
func (s *Store) setMetadata(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, s.rebind(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the content hash recorded for a question file,
// or "" if it was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	return s.GetMetadata(ctx, importKey(path))
}

func importKey(path string) string {
	return "import:" + path
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrRevisionNotFound is returned when no revision matches a digest.
var ErrRevisionNotFound = errors.New("revision not found")

// Revision is one stored version of the agent's own source.
type Revision struct {
	ID         int64
	Digest     string
	BaseDigest sql.NullString
	Path       string
	Content    []byte
	Generation int
	CreatedAt  int64
}

// InsertRevision stores content under its digest. Storing the same digest
// twice is a no-op.
func InsertRevision(database *sql.DB, digest, baseDigest, path string, content []byte, generation int) error {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return fmt.Errorf("digest cannot be empty")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	_, err := database.Exec(
		`INSERT OR IGNORE INTO revisions (digest, base_digest, path, content, generation) VALUES (?, ?, ?, ?, ?)`,
		digest, nullIfEmpty(baseDigest), path, content, generation,
	)
	if err != nil {
		return fmt.Errorf("insert revision %s: %w", digest, err)
	}
	return nil
}

// GetRevision loads a revision by digest.
func GetRevision(database *sql.DB, digest string) (*Revision, error) {
	var r Revision
	err := database.QueryRow(
		`SELECT id, digest, base_digest, path, content, generation, created_at
		 FROM revisions WHERE digest = ?`, digest,
	).Scan(&r.ID, &r.Digest, &r.BaseDigest, &r.Path, &r.Content, &r.Generation, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRevisionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRevision returns the most recently stored revision for path.
func LatestRevision(database *sql.DB, path string) (*Revision, error) {
	var digest string
	err := database.QueryRow(
		`SELECT digest FROM revisions WHERE path = ? ORDER BY id DESC LIMIT 1`, path,
	).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRevisionNotFound
	}
	if err != nil {
		return nil, err
	}
	return GetRevision(database, digest)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

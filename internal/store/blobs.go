package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jward/codeintel/internal/cix"
)

// Blob is one persisted scan result.
type Blob struct {
	Path      string
	Language  string
	Module    string // import name other files use for this path
	Signature string // source signature the tree was scanned from
	Root      *cix.Node
	ScannedAt time.Time
}

// Stats summarizes the persisted blobs.
type Stats struct {
	Blobs      int
	Bytes      int64
	ByLanguage map[string]int
}

// Put inserts or replaces the blob for b.Path.
func (s *Store) Put(b *Blob) error {
	return s.PutBatch([]*Blob{b})
}

// PutBatch writes all blobs within a single transaction.
func (s *Store) PutBatch(blobs []*Blob) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: put: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO blobs (path, language, module, signature, cix, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		  language = excluded.language, module = excluded.module,
		  signature = excluded.signature, cix = excluded.cix, scanned_at = excluded.scanned_at`)
	if err != nil {
		return fmt.Errorf("store: put: prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range blobs {
		data, err := cix.Marshal(b.Path, b.Root)
		if err != nil {
			return fmt.Errorf("store: put %s: %w", b.Path, err)
		}
		if b.ScannedAt.IsZero() {
			b.ScannedAt = time.Now()
		}
		if _, err := stmt.Exec(b.Path, b.Language, b.Module, b.Signature, data, b.ScannedAt.UTC()); err != nil {
			return fmt.Errorf("store: put %s: %w", b.Path, err)
		}
	}
	return tx.Commit()
}

// Get returns the blob for path, or nil if none is stored.
func (s *Store) Get(path string) (*Blob, error) {
	row := s.db.QueryRow(
		"SELECT path, language, module, signature, cix, scanned_at FROM blobs WHERE path = ?", path,
	)
	b, err := scanBlob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", path, err)
	}
	return b, nil
}

// ByModule returns the blob registered under module for language, or nil.
func (s *Store) ByModule(language, module string) (*Blob, error) {
	row := s.db.QueryRow(
		`SELECT path, language, module, signature, cix, scanned_at FROM blobs
		 WHERE language = ? AND module = ? ORDER BY scanned_at DESC LIMIT 1`,
		language, module,
	)
	b, err := scanBlob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: module %s: %w", module, err)
	}
	return b, nil
}

// Signature returns the stored signature for path without decoding the tree.
func (s *Store) Signature(path string) (string, bool, error) {
	var sig string
	err := s.db.QueryRow("SELECT signature FROM blobs WHERE path = ?", path).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: signature %s: %w", path, err)
	}
	return sig, true, nil
}

// Delete removes the blob for path. Deleting a missing path is not an error.
func (s *Store) Delete(path string) error {
	if _, err := s.db.Exec("DELETE FROM blobs WHERE path = ?", path); err != nil {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}
	return nil
}

// Paths returns every stored path in order.
func (s *Store) Paths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM blobs ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("store: paths: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Stats counts the stored blobs.
func (s *Store) Stats() (Stats, error) {
	st := Stats{ByLanguage: map[string]int{}}
	rows, err := s.db.Query("SELECT language, COUNT(*), COALESCE(SUM(LENGTH(cix)), 0) FROM blobs GROUP BY language")
	if err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		var size int64
		if err := rows.Scan(&lang, &n, &size); err != nil {
			return st, fmt.Errorf("store: stats: %w", err)
		}
		st.ByLanguage[lang] = n
		st.Blobs += n
		st.Bytes += size
	}
	return st, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlob(row rowScanner) (*Blob, error) {
	b := &Blob{}
	var module sql.NullString
	var data []byte
	if err := row.Scan(&b.Path, &b.Language, &module, &b.Signature, &data, &b.ScannedAt); err != nil {
		return nil, err
	}
	b.Module = module.String
	_, root, err := cix.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	b.Root = root
	return b, nil
}

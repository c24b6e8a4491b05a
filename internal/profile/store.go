package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nortal/cmz-chatbots/internal/cryptoutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS profile_archives (
	user_id TEXT NOT NULL,
	archived_at INTEGER NOT NULL,
	summary TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	conversation_count INTEGER NOT NULL,
	reason TEXT NOT NULL,
	PRIMARY KEY (user_id, archived_at)
);

CREATE INDEX IF NOT EXISTS idx_profile_archives_at ON profile_archives(archived_at);
`

// Store persists profiles and archives in SQLite. Profile payloads and
// archive summaries are sealed with box when one is configured.
type Store struct {
	db  *sql.DB
	box *cryptoutil.Box
}

// NewStore opens (or creates) the profile database. box may be nil.
func NewStore(dbPath string, box *cryptoutil.Box) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening profile database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating profile schema: %w", err)
	}
	return &Store{db: db, box: box}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the profile of userID or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	var payload string
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM user_profiles WHERE user_id = ?`, userID).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	plain, err := s.box.Open(payload)
	if err != nil {
		return nil, fmt.Errorf("opening profile payload: %w", err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(plain), &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	p.Version = version
	return &p, nil
}

// Put writes p if the stored version still equals p.Version (0 meaning no
// row yet) and bumps p.Version on success. A concurrent writer yields
// ErrVersionConflict.
func (s *Store) Put(ctx context.Context, p *Profile) error {
	return s.Save(ctx, p, nil)
}

// PutArchive stores a write-once archive. Archives are keyed by user and
// archived_at in nanoseconds; writing an existing key returns
// ErrArchiveExists.
func (s *Store) PutArchive(ctx context.Context, a *Archive) error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrUserRequired
	}
	summary, err := s.box.Seal(a.Summary)
	if err != nil {
		return fmt.Errorf("sealing archive: %w", err)
	}
	err = s.withRetry(ctx, func() error { return insertArchive(ctx, s.db, a, summary) })
	if err != nil && !errors.Is(err, ErrArchiveExists) {
		return fmt.Errorf("writing archive: %w", err)
	}
	return err
}

// Save writes p and, when archive is non-nil, the archive of its displaced
// summary in one transaction. A version conflict or an existing archive
// rolls back both.
func (s *Store) Save(ctx context.Context, p *Profile, archive *Archive) error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrUserRequired
	}
	expected := p.Version
	next := *p
	next.Version = expected + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	payload, err := s.box.Seal(string(data))
	if err != nil {
		return fmt.Errorf("sealing profile: %w", err)
	}
	var archiveSummary string
	if archive != nil {
		if archive.UserID != p.UserID {
			return fmt.Errorf("archive user %q does not match profile user %q", archive.UserID, p.UserID)
		}
		if archiveSummary, err = s.box.Seal(archive.Summary); err != nil {
			return fmt.Errorf("sealing archive: %w", err)
		}
	}

	err = s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if archive != nil {
			if err := insertArchive(ctx, tx, archive, archiveSummary); err != nil {
				return err
			}
		}
		if err := writeProfile(ctx, tx, &next, expected, payload); err != nil {
			return err
		}
		return tx.Commit()
	})
	switch {
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrArchiveExists):
		return err
	case err != nil:
		return fmt.Errorf("writing profile: %w", err)
	}
	p.Version = next.Version
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func writeProfile(ctx context.Context, db execer, next *Profile, expected int, payload string) error {
	var res sql.Result
	var err error
	if expected == 0 {
		res, err = db.ExecContext(ctx,
			`INSERT INTO user_profiles (user_id, version, payload, updated_at) VALUES (?, 1, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			next.UserID, payload, next.LastUpdated.UTC())
	} else {
		res, err = db.ExecContext(ctx,
			`UPDATE user_profiles SET version = ?, payload = ?, updated_at = ? WHERE user_id = ? AND version = ?`,
			next.Version, payload, next.LastUpdated.UTC(), next.UserID, expected)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func insertArchive(ctx context.Context, db execer, a *Archive, sealedSummary string) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO profile_archives (user_id, archived_at, summary, token_count, conversation_count, reason)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(user_id, archived_at) DO NOTHING`,
		a.UserID, a.ArchivedAt.UTC().UnixNano(), sealedSummary, a.TokenCount, a.ConversationCount, a.Reason)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrArchiveExists
	}
	return nil
}

// Archives lists the archives of userID, oldest first.
func (s *Store) Archives(ctx context.Context, userID string) ([]Archive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT archived_at, summary, token_count, conversation_count, reason
		 FROM profile_archives WHERE user_id = ? ORDER BY archived_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	defer rows.Close()

	out := []Archive{}
	for rows.Next() {
		a := Archive{UserID: userID}
		var at int64
		var sealed string
		if err := rows.Scan(&at, &sealed, &a.TokenCount, &a.ConversationCount, &a.Reason); err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		if a.Summary, err = s.box.Open(sealed); err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		a.ArchivedAt = time.Unix(0, at).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes the profile and every archive of userID in one
// transaction. It reports how many rows went.
func (s *Store) Delete(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.withRetry(ctx, func() error {
		total = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, q := range []string{
			`DELETE FROM profile_archives WHERE user_id = ?`,
			`DELETE FROM user_profiles WHERE user_id = ?`,
		} {
			res, err := tx.ExecContext(ctx, q, userID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("deleting context of user: %w", err)
	}
	return total, nil
}

// PruneArchives removes archives older than before.
func (s *Store) PruneArchives(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM profile_archives WHERE archived_at < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning archives: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			if serr := sleepRetry(ctx, attempt); serr != nil {
				return serr
			}
		}
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func sleepRetry(ctx context.Context, attempt int) error {
	backoff := time.Duration(attempt*attempt) * 20 * time.Millisecond
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(backoff):
		return nil
	}
}

package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analytics_hourly (
	rule_id TEXT NOT NULL,
	hour_bucket INTEGER NOT NULL,
	trigger_count INTEGER NOT NULL DEFAULT 0,
	confidence_sum REAL NOT NULL DEFAULT 0,
	critical_count INTEGER NOT NULL DEFAULT 0,
	high_count INTEGER NOT NULL DEFAULT 0,
	medium_count INTEGER NOT NULL DEFAULT 0,
	low_count INTEGER NOT NULL DEFAULT 0,
	escalation_count INTEGER NOT NULL DEFAULT 0,
	block_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (rule_id, hour_bucket)
);

CREATE TABLE IF NOT EXISTS analytics_seen (
	validation_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	seen_at TIMESTAMP NOT NULL,
	PRIMARY KEY (validation_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_analytics_seen_at ON analytics_seen(seen_at);
`

// SQLiteStore keeps hourly buckets in SQLite. Updates are additive UPSERTs
// so concurrent writers never lose increments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the analytics database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening analytics database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating analytics schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ingest records the dedup key and updates the bucket in one transaction.
// A dedup key older than dedupWindow is replaced rather than honoured.
func (s *SQLiteStore) Ingest(ctx context.Context, ev Event, dedupWindow time.Duration) (bool, error) {
	var applied bool
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return false, err
			}
		}
		applied, lastErr = s.ingestInTx(ctx, ev, dedupWindow)
		if lastErr == nil || !isRetryable(lastErr) {
			break
		}
	}
	return applied, lastErr
}

func (s *SQLiteStore) ingestInTx(ctx context.Context, ev Event, dedupWindow time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM analytics_seen WHERE validation_id = ? AND rule_id = ? AND seen_at < ?`,
		ev.ValidationID, ev.RuleID, now.Add(-dedupWindow)); err != nil {
		return false, fmt.Errorf("expiring dedup key: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO analytics_seen (validation_id, rule_id, seen_at) VALUES (?, ?, ?)`,
		ev.ValidationID, ev.RuleID, now)
	if err != nil {
		return false, fmt.Errorf("recording dedup key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	crit, high, med, low := severityCounts(ev)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analytics_hourly (
			rule_id, hour_bucket, trigger_count, confidence_sum,
			critical_count, high_count, medium_count, low_count,
			escalation_count, block_count
		) VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, hour_bucket) DO UPDATE SET
			trigger_count = trigger_count + 1,
			confidence_sum = confidence_sum + excluded.confidence_sum,
			critical_count = critical_count + excluded.critical_count,
			high_count = high_count + excluded.high_count,
			medium_count = medium_count + excluded.medium_count,
			low_count = low_count + excluded.low_count,
			escalation_count = escalation_count + excluded.escalation_count,
			block_count = block_count + excluded.block_count`,
		ev.RuleID, HourBucket(ev.DetectedAt).Unix(), ev.Confidence,
		crit, high, med, low, boolInt(ev.Escalated), boolInt(ev.Blocked),
	); err != nil {
		return false, fmt.Errorf("updating hourly bucket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Buckets returns the non-empty buckets of ruleID in [from, to).
func (s *SQLiteStore) Buckets(ctx context.Context, ruleID string, from, to time.Time) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour_bucket, trigger_count, confidence_sum, critical_count, high_count,
			medium_count, low_count, escalation_count, block_count
		FROM analytics_hourly
		WHERE rule_id = ? AND hour_bucket >= ? AND hour_bucket < ?
		ORDER BY hour_bucket ASC`,
		ruleID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying buckets: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		b := Bucket{RuleID: ruleID}
		var hour int64
		if err := rows.Scan(&hour, &b.TriggerCount, &b.ConfidenceSum, &b.Critical, &b.High,
			&b.Medium, &b.Low, &b.EscalationCount, &b.BlockCount); err != nil {
			return nil, fmt.Errorf("scanning bucket: %w", err)
		}
		b.Hour = time.Unix(hour, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Prune deletes expired buckets and dedup keys.
func (s *SQLiteStore) Prune(ctx context.Context, bucketsBefore, seenBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analytics_hourly WHERE hour_bucket < ?`, bucketsBefore.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning buckets: %w", err)
	}
	buckets, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM analytics_seen WHERE seen_at < ?`, seenBefore)
	if err != nil {
		return buckets, fmt.Errorf("pruning dedup keys: %w", err)
	}
	seen, _ := res.RowsAffected()
	return buckets + seen, nil
}

func severityCounts(ev Event) (critical, high, medium, low int) {
	switch severityField(ev.Severity) {
	case "critical":
		return 1, 0, 0, 0
	case "high":
		return 0, 1, 0, 0
	case "medium":
		return 0, 0, 1, 0
	}
	return 0, 0, 0, 1
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
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

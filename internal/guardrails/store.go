package guardrails

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/guardrails")

const schema = `
CREATE TABLE IF NOT EXISTS guardrails_configs (
	config_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	age_group TEXT NOT NULL,
	animal_id TEXT NOT NULL,
	scope_key TEXT NOT NULL,
	rules_json TEXT NOT NULL,
	params_json TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	created_by TEXT NOT NULL,
	hash TEXT NOT NULL,
	signature TEXT NOT NULL,
	PRIMARY KEY (config_id, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_guardrails_one_active
	ON guardrails_configs(scope_key) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_guardrails_scope ON guardrails_configs(scope_key, version);
`

// Store is the append-only arena of config versions, backed by SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
	now    func() time.Time
}

// NewStore opens (or creates) the guardrails database.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening guardrails database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating guardrails schema: %w", err)
	}
	signer, err := NewSigner(signingKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	return &Store{db: db, signer: signer, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create writes a new version for the document's scope and makes it the
// active one. The previously active version for that scope is deactivated
// in the same transaction.
func (s *Store) Create(ctx context.Context, doc *Document, createdBy string) (*Config, error) {
	scope := doc.Scope.Normalize()
	ctx, span := tracer.Start(ctx, "guardrails.create",
		trace.WithAttributes(
			cmzotel.GuardrailAgeGroup.String(scope.AgeGroup),
			cmzotel.GuardrailAnimalID.String(scope.AnimalID),
			attribute.Int("guardrails.rules", len(doc.Rules)),
		))
	defer span.End()

	if err := doc.Check(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid document")
		return nil, err
	}

	rules := doc.Rules
	if rules == nil {
		rules = []Rule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("marshaling rules: %w", err)
	}
	paramsJSON, err := json.Marshal(doc.Params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}

	cfg := &Config{
		ID:        doc.ConfigID,
		Name:      doc.Name,
		Scope:     scope,
		Rules:     rules,
		Params:    doc.Params,
		IsActive:  true,
		CreatedAt: s.now(),
		CreatedBy: createdBy,
		Hash:      contentHash(rulesJSON, paramsJSON),
	}

	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}
		cfg.ID = doc.ConfigID
		lastErr = s.createInTx(ctx, cfg, rulesJSON, paramsJSON)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			break
		}
	}
	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "create failed")
		return nil, lastErr
	}

	configVersionsCreated.Add(ctx, 1)
	span.SetAttributes(
		cmzotel.GuardrailConfigID.String(cfg.ID),
		attribute.Int("guardrails.version", cfg.Version),
	)
	log.Info().
		Str("config_id", cfg.ID).
		Int("version", cfg.Version).
		Str("scope", scope.Key()).
		Str("created_by", createdBy).
		Msg("guardrails_version_created")
	return cfg, nil
}

func (s *Store) createInTx(ctx context.Context, cfg *Config, rulesJSON, paramsJSON []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scopeKey := cfg.Scope.Key()
	if cfg.ID == "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT config_id FROM guardrails_configs WHERE scope_key = ? ORDER BY created_at DESC LIMIT 1`,
			scopeKey).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			cfg.ID = "gr_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
		case err != nil:
			return fmt.Errorf("looking up config id: %w", err)
		default:
			cfg.ID = existing
		}
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM guardrails_configs WHERE config_id = ?`,
		cfg.ID).Scan(&maxVersion); err != nil {
		return fmt.Errorf("querying max version: %w", err)
	}
	cfg.Version = maxVersion + 1

	payload, err := signedPayload(cfg)
	if err != nil {
		return fmt.Errorf("building signed payload: %w", err)
	}
	cfg.Signature = s.signer.Sign(payload)

	if _, err := tx.ExecContext(ctx,
		`UPDATE guardrails_configs SET is_active = 0 WHERE scope_key = ? AND is_active = 1`,
		scopeKey); err != nil {
		return fmt.Errorf("deactivating previous version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guardrails_configs (
			config_id, version, name, age_group, animal_id, scope_key,
			rules_json, params_json, is_active, created_at, created_by, hash, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		cfg.ID, cfg.Version, cfg.Name, cfg.Scope.AgeGroup, cfg.Scope.AnimalID, scopeKey,
		string(rulesJSON), string(paramsJSON), cfg.CreatedAt, cfg.CreatedBy, cfg.Hash, cfg.Signature,
	); err != nil {
		return fmt.Errorf("inserting config version: %w", err)
	}
	return tx.Commit()
}

// Active returns the active version for exactly this scope. A version that
// fails signature verification is reported as ErrConfigurationMissing.
func (s *Store) Active(ctx context.Context, scope Scope) (*Config, error) {
	scope = scope.Normalize()
	ctx, span := tracer.Start(ctx, "guardrails.active",
		trace.WithAttributes(attribute.String("guardrails.scope", scope.Key())))
	defer span.End()

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE scope_key = ? AND is_active = 1`, scope.Key())
	cfg, err := s.scanVerified(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w for scope %s", ErrConfigurationMissing, scope.Key())
	}
	if errors.Is(err, ErrSignatureInvalid) {
		signatureFailures.Add(ctx, 1)
		log.Error().Str("scope", scope.Key()).Msg("guardrails_signature_invalid")
		span.SetStatus(codes.Error, "signature invalid")
		return nil, fmt.Errorf("%w for scope %s: %w", ErrConfigurationMissing, scope.Key(), err)
	}
	return cfg, err
}

// Get returns one specific version.
func (s *Store) Get(ctx context.Context, configID string, version int) (*Config, error) {
	ctx, span := tracer.Start(ctx, "guardrails.get",
		trace.WithAttributes(cmzotel.GuardrailConfigID.String(configID), attribute.Int("guardrails.version", version)))
	defer span.End()

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE config_id = ? AND version = ?`, configID, version)
	return s.scanVerified(row)
}

// Versions lists every version of a config, newest first.
func (s *Store) Versions(ctx context.Context, configID string) ([]Config, error) {
	ctx, span := tracer.Start(ctx, "guardrails.versions",
		trace.WithAttributes(cmzotel.GuardrailConfigID.String(configID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE config_id = ? ORDER BY version DESC`, configID)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		cfg, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// CountActive returns how many active versions exist for a scope. It is
// always 0 or 1; exposed for health checks and tests.
func (s *Store) CountActive(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guardrails_configs WHERE scope_key = ? AND is_active = 1`,
		scope.Key()).Scan(&n)
	return n, err
}

const selectColumns = `SELECT config_id, version, name, age_group, animal_id, rules_json, params_json,
	is_active, created_at, created_by, hash, signature FROM guardrails_configs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row scanner) (*Config, error) {
	var cfg Config
	var rulesJSON, paramsJSON string
	var active int
	err := row.Scan(&cfg.ID, &cfg.Version, &cfg.Name, &cfg.Scope.AgeGroup, &cfg.Scope.AnimalID,
		&rulesJSON, &paramsJSON, &active, &cfg.CreatedAt, &cfg.CreatedBy, &cfg.Hash, &cfg.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning config: %w", err)
	}
	cfg.IsActive = active == 1
	if contentHash([]byte(rulesJSON), []byte(paramsJSON)) != cfg.Hash {
		return nil, fmt.Errorf("%w: %s@%d content hash mismatch", ErrSignatureInvalid, cfg.ID, cfg.Version)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &cfg.Rules); err != nil {
		return nil, fmt.Errorf("unmarshaling rules: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &cfg.Params); err != nil {
		return nil, fmt.Errorf("unmarshaling params: %w", err)
	}
	return &cfg, nil
}

func (s *Store) scanVerified(row scanner) (*Config, error) {
	cfg, err := s.scan(row)
	if err != nil {
		return nil, err
	}
	payload, err := signedPayload(cfg)
	if err != nil {
		return nil, err
	}
	if !s.signer.Verify(payload, cfg.Signature) {
		return nil, fmt.Errorf("%w: %s@%d", ErrSignatureInvalid, cfg.ID, cfg.Version)
	}
	return cfg, nil
}

// isRetryable reports SQLite busy/locked errors and active-index races.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func sleepRetry(ctx context.Context, attempt int) error {
	backoff := time.Duration(attempt*attempt) * 20 * time.Millisecond
	if backoff > 250*time.Millisecond {
		backoff = 250 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(backoff):
		return nil
	}
}

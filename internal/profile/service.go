package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

// Turn statuses.
const (
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const maxWriteAttempts = 3

// TurnResult is the outcome of a post-turn update.
type TurnResult struct {
	Status  string  `json:"status"`
	UserID  string  `json:"user_id"`
	Version int     `json:"version,omitempty"`
	Report  *Report `json:"report,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Service runs the post-turn pipeline: extract, summarize, archive, write.
type Service struct {
	extractor  *Extractor
	summarizer *Summarizer
	store      *Store
	locks      *keyedMutex
	timeout    time.Duration
}

// NewService creates a Service. timeout bounds one whole turn update and
// defaults to the summarizer's completion timeout plus a little slack.
func NewService(extractor *Extractor, summarizer *Summarizer, store *Store, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = summarizer.timeout + 5*time.Second
	}
	return &Service{extractor: extractor, summarizer: summarizer, store: store, locks: newKeyedMutex(), timeout: timeout}
}

// ProcessTurn updates the profile of turn.UserID. It is best-effort: errors
// are reported in the result so the conversation never fails on them. A
// user has at most one update in flight in this process; writes from other
// processes are caught by the store's version check and retried.
func (s *Service) ProcessTurn(ctx context.Context, turn Turn) *TurnResult {
	res := &TurnResult{UserID: turn.UserID}
	defer func() {
		turnsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", res.Status)))
	}()
	if turn.UserID == "" {
		res.Status, res.Error = StatusFailed, ErrUserRequired.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sig := s.extractor.Extract(ctx, turn)
	if sig.Empty() {
		res.Status = StatusSkipped
		return res
	}

	unlock := s.locks.Lock(turn.UserID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		var p *Profile
		var report *Report
		p, report, err = s.apply(ctx, turn, sig)
		if err == nil {
			res.Status, res.Version, res.Report = StatusUpdated, p.Version, report
			return res
		}
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
		versionConflicts.Add(ctx, 1)
	}

	log.Warn().Err(err).Str("user_id", turn.UserID).Func(cmzotel.LogTraceFields(ctx)).Msg("context_update_failed")
	res.Status, res.Error = StatusFailed, "context update failed"
	return res
}

func (s *Service) apply(ctx context.Context, turn Turn, sig Signals) (*Profile, *Report, error) {
	existing, err := s.store.Get(ctx, turn.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = &Profile{UserID: turn.UserID}
	case err != nil:
		return nil, nil, err
	}

	count := turn.ConversationCount
	if count == 0 {
		count = existing.ConversationCount
		if turn.ConversationID == "" || turn.ConversationID != existing.LastConversationID {
			count++
		}
	}

	p, report, err := s.summarizer.Summarize(ctx, existing, sig, count)
	if err != nil {
		return nil, nil, err
	}
	if turn.ConversationID != "" {
		p.LastConversationID = turn.ConversationID
	}
	if err := s.store.Save(ctx, p, report.Archive); err != nil {
		if errors.Is(err, ErrArchiveExists) {
			return nil, nil, fmt.Errorf("archiving displaced summary: %w", err)
		}
		return nil, nil, err
	}
	return p, report, nil
}

// Get returns the profile of userID.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	return s.store.Get(ctx, userID)
}

// Archives lists the archives of userID, oldest first.
func (s *Service) Archives(ctx context.Context, userID string) ([]Archive, error) {
	return s.store.Archives(ctx, userID)
}

// Delete hard-deletes the profile and all archives of userID.
func (s *Service) Delete(ctx context.Context, userID string) (int64, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	n, err := s.store.Delete(ctx, userID)
	if err == nil {
		log.Info().Str("user_id", userID).Int64("rows", n).Msg("context_deleted")
	}
	return n, err
}

// RunRetention prunes archives older than retention.
func RunRetention(ctx context.Context, store *Store, retention time.Duration) {
	if store == nil || retention <= 0 {
		return
	}
	ctx, span := tracer.Start(ctx, "profile.retention")
	defer span.End()
	n, err := store.PruneArchives(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		log.Error().Err(err).Msg("profile_retention_failed")
		return
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Msg("profile_retention_completed")
	}
}

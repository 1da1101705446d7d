package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// EmailRepository implements out.EmailRepository on the pooled store.
type EmailRepository struct {
	store *Store
	log   zerolog.Logger
}

// NewEmailRepository builds the repository.
func NewEmailRepository(store *Store, log zerolog.Logger) *EmailRepository {
	return &EmailRepository{
		store: store,
		log:   log.With().Str("component", "email_repository").Logger(),
	}
}

// emailRow maps the emails table. JSON columns stay raw here and are
// decoded at the domain boundary.
type emailRow struct {
	ID               string         `db:"id"`
	Subject          string         `db:"subject"`
	Body             string         `db:"body"`
	Sender           string         `db:"sender"`
	Recipients       string         `db:"recipients"`
	ReceivedAt       time.Time      `db:"received_at"`
	ConversationID   string         `db:"conversation_id"`
	HasAttachments   bool           `db:"has_attachments"`
	Importance       string         `db:"importance"`
	State            string         `db:"state"`
	ChainID          string         `db:"chain_id"`
	ChainScore       float64        `db:"chain_score"`
	ChainBucket      string         `db:"chain_bucket"`
	RecommendedPhase int            `db:"recommended_phase"`
	PhaseUsed        int            `db:"phase_used"`
	WorkerID         string         `db:"worker_id"`
	ClaimedAt        sql.NullTime   `db:"claimed_at"`
	AnalyzedAt       sql.NullTime   `db:"analyzed_at"`
	Result           sql.NullString `db:"result"`
	LastError        string         `db:"last_error"`
}

func (r emailRow) toDomain() (*domain.EmailRecord, error) {
	var recipients []string
	if r.Recipients != "" {
		if err := json.Unmarshal([]byte(r.Recipients), &recipients); err != nil {
			return nil, fmt.Errorf("decode recipients for %s: %w", r.ID, err)
		}
	}
	rec := &domain.EmailRecord{
		Email: domain.Email{
			ID:             r.ID,
			Subject:        r.Subject,
			Body:           r.Body,
			Sender:         r.Sender,
			Recipients:     recipients,
			ReceivedAt:     r.ReceivedAt,
			ConversationID: r.ConversationID,
			HasAttachments: r.HasAttachments,
			Importance:     domain.Importance(r.Importance),
		},
		State:            domain.RecordState(r.State),
		ChainID:          r.ChainID,
		ChainScore:       r.ChainScore,
		ChainBucket:      domain.Completeness(r.ChainBucket),
		RecommendedPhase: r.RecommendedPhase,
		PhaseUsed:        r.PhaseUsed,
		WorkerID:         r.WorkerID,
	}
	if r.ClaimedAt.Valid {
		t := r.ClaimedAt.Time
		rec.ClaimedAt = &t
	}
	if r.AnalyzedAt.Valid {
		t := r.AnalyzedAt.Time
		rec.AnalyzedAt = &t
	}
	return rec, nil
}

// Ingest upserts raw emails as pending rows. Existing rows keep their
// pipeline state so re-ingesting an already analyzed export is a no-op.
func (r *EmailRepository) Ingest(ctx context.Context, emails []*domain.Email) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	inserted := 0
	err := r.retryBusy(ctx, "ingest", func() error {
		inserted = 0
		return r.store.withTx(ctx, func(tx *sqlx.Tx) error {
			stmt := tx.Rebind(`INSERT INTO emails
				(id, subject, body, sender, recipients, received_at, conversation_id, has_attachments, importance, state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO NOTHING`)
			for _, e := range emails {
				recipients, err := json.Marshal(e.Recipients)
				if err != nil {
					return fmt.Errorf("encode recipients for %s: %w", e.ID, err)
				}
				importance := e.Importance
				if importance == "" {
					importance = domain.ImportanceNormal
				}
				res, err := tx.ExecContext(ctx, stmt,
					e.ID, e.Subject, e.Body, e.Sender, string(recipients),
					e.ReceivedAt.UTC(), e.ConversationID, e.HasAttachments,
					string(importance), string(domain.StatePending))
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n > 0 {
					inserted++
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	r.log.Debug().Int("received", len(emails)).Int("inserted", inserted).Msg("emails ingested")
	return inserted, nil
}

const claimableStates = `'pending', 'failed', 'timeout'`

// ClaimBatch picks the next batch and marks it processing, all in one
// transaction. Timed out rows go first so stragglers cannot starve, then
// the most complete chains, cheapest analysis first.
func (r *EmailRepository) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*domain.EmailRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	var records []*domain.EmailRecord
	err := r.retryBusy(ctx, "claim batch", func() error {
		records = nil
		return r.store.withTx(ctx, func(tx *sqlx.Tx) error {
			// Failed and timed out rows are only reclaimable by a different
			// worker id, so one run cannot spin on its own failures.
			var rows []emailRow
			query := tx.Rebind(`SELECT * FROM emails
				WHERE state = 'pending'
				   OR (state IN ('failed', 'timeout') AND worker_id <> ?)
				ORDER BY CASE state WHEN 'timeout' THEN 0 ELSE 1 END, chain_score DESC, received_at ASC
				LIMIT ?`)
			if err := tx.SelectContext(ctx, &rows, query, workerID, limit); err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}

			ids := make([]string, len(rows))
			for i, row := range rows {
				ids[i] = row.ID
			}
			now := time.Now().UTC()
			update, args, err := sqlx.In(`UPDATE emails
				SET state = ?, worker_id = ?, claimed_at = ?
				WHERE id IN (?)`, string(domain.StateProcessing), workerID, now, ids)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(update), args...); err != nil {
				return err
			}

			for _, row := range rows {
				rec, err := row.toDomain()
				if err != nil {
					return err
				}
				rec.State = domain.StateProcessing
				rec.WorkerID = workerID
				rec.ClaimedAt = &now
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// WriteResult stores the serialized analysis and finalizes the row.
func (r *EmailRepository) WriteResult(ctx context.Context, emailID string, result *domain.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result for %s: %w", emailID, err)
	}
	return r.retryBusy(ctx, "write result", func() error {
		return r.store.with(ctx, func(db *sqlx.DB) error {
			query := db.Rebind(`UPDATE emails
				SET state = ?, result = ?, phase_used = ?, analyzed_at = ?, last_error = ''
				WHERE id = ?`)
			res, err := db.ExecContext(ctx, query,
				string(domain.StateAnalyzed), string(payload), result.PhaseUsed,
				time.Now().UTC(), emailID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return apperr.PersistenceIntegrity("write result", fmt.Errorf("email %s not found", emailID))
			}
			return nil
		})
	})
}

// MarkState moves a row to a terminal or requeue state without a result.
func (r *EmailRepository) MarkState(ctx context.Context, emailID string, state domain.RecordState) error {
	return r.retryBusy(ctx, "mark state", func() error {
		return r.store.with(ctx, func(db *sqlx.DB) error {
			query := db.Rebind(`UPDATE emails SET state = ? WHERE id = ?`)
			_, err := db.ExecContext(ctx, query, string(state), emailID)
			return err
		})
	})
}

// SetChain records chain assignment and routing for one email.
func (r *EmailRepository) SetChain(ctx context.Context, emailID, chainID string, score float64, bucket domain.Completeness, phase int) error {
	return r.retryBusy(ctx, "set chain", func() error {
		return r.store.with(ctx, func(db *sqlx.DB) error {
			query := db.Rebind(`UPDATE emails
				SET chain_id = ?, chain_score = ?, chain_bucket = ?, recommended_phase = ?
				WHERE id = ?`)
			_, err := db.ExecContext(ctx, query, chainID, score, string(bucket), phase, emailID)
			return err
		})
	})
}

// ReleaseProcessing requeues this worker's in-flight rows on drain.
func (r *EmailRepository) ReleaseProcessing(ctx context.Context, workerID string) (int, error) {
	var released int64
	err := r.retryBusy(ctx, "release processing", func() error {
		return r.store.with(ctx, func(db *sqlx.DB) error {
			query := db.Rebind(`UPDATE emails
				SET state = ?, worker_id = '', claimed_at = NULL
				WHERE state = ? AND worker_id = ?`)
			res, err := db.ExecContext(ctx, query,
				string(domain.StatePending), string(domain.StateProcessing), workerID)
			if err != nil {
				return err
			}
			released, _ = res.RowsAffected()
			return nil
		})
	})
	return int(released), err
}

// RecoverOrphans requeues processing rows whose claim is older than grace.
// Covers workers that died without draining.
func (r *EmailRepository) RecoverOrphans(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	var recovered int64
	err := r.retryBusy(ctx, "recover orphans", func() error {
		return r.store.with(ctx, func(db *sqlx.DB) error {
			query := db.Rebind(`UPDATE emails
				SET state = ?, worker_id = '', claimed_at = NULL
				WHERE state = ? AND claimed_at < ?`)
			res, err := db.ExecContext(ctx, query,
				string(domain.StatePending), string(domain.StateProcessing), cutoff)
			if err != nil {
				return err
			}
			recovered, _ = res.RowsAffected()
			return nil
		})
	})
	if recovered > 0 {
		r.log.Warn().Int64("recovered", recovered).Msg("orphaned claims requeued")
	}
	return int(recovered), err
}

// PendingCount reports how many rows are still claimable.
func (r *EmailRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.store.with(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM emails WHERE state IN (`+claimableStates+`)`)
	})
	return count, err
}

// ListUngrouped returns emails with no chain assignment yet.
func (r *EmailRepository) ListUngrouped(ctx context.Context, limit int) ([]*domain.Email, error) {
	var rows []emailRow
	err := r.store.with(ctx, func(db *sqlx.DB) error {
		query := db.Rebind(`SELECT * FROM emails
			WHERE chain_id = ''
			ORDER BY received_at ASC
			LIMIT ?`)
		return db.SelectContext(ctx, &rows, query, limit)
	})
	if err != nil {
		return nil, err
	}
	emails := make([]*domain.Email, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		e := rec.Email
		emails = append(emails, &e)
	}
	return emails, nil
}

// ListByChain returns a chain's current members, oldest first.
func (r *EmailRepository) ListByChain(ctx context.Context, chainID string) ([]*domain.Email, error) {
	var rows []emailRow
	err := r.store.with(ctx, func(db *sqlx.DB) error {
		query := db.Rebind(`SELECT * FROM emails
			WHERE chain_id = ?
			ORDER BY received_at ASC`)
		return db.SelectContext(ctx, &rows, query, chainID)
	})
	if err != nil {
		return nil, err
	}
	emails := make([]*domain.Email, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		e := rec.Email
		emails = append(emails, &e)
	}
	return emails, nil
}

// WindowStats aggregates the trailing window for the quality monitor.
// Per-result metrics come out of the JSON result column so no separate
// metrics table has to stay in sync with writes.
func (r *EmailRepository) WindowStats(ctx context.Context, window time.Duration) (*out.WindowStats, error) {
	cutoff := time.Now().UTC().Add(-window)
	stats := &out.WindowStats{}
	err := r.store.with(ctx, func(db *sqlx.DB) error {
		countQuery := db.Rebind(`SELECT
			COUNT(CASE WHEN state = 'failed' THEN 1 END) AS failed,
			COUNT(CASE WHEN state = 'timeout' THEN 1 END) AS timed_out
			FROM emails
			WHERE state IN ('failed', 'timeout') AND claimed_at >= ?`)
		var terminal struct {
			Failed   int `db:"failed"`
			TimedOut int `db:"timed_out"`
		}
		if err := db.GetContext(ctx, &terminal, countQuery, cutoff); err != nil {
			return err
		}
		stats.Failed = terminal.Failed
		stats.TimedOut = terminal.TimedOut

		query := db.Rebind(`SELECT result FROM emails
			WHERE state = 'analyzed' AND analyzed_at >= ? AND result IS NOT NULL`)
		var payloads []string
		if err := db.SelectContext(ctx, &payloads, query, cutoff); err != nil {
			return err
		}
		for _, payload := range payloads {
			var res domain.AnalysisResult
			if err := json.Unmarshal([]byte(payload), &res); err != nil {
				r.log.Warn().Err(err).Msg("skipping undecodable stored result")
				continue
			}
			stats.Analyzed++
			stats.SumSummaryLen += len(res.Summary)
			stats.SumConfidence += res.Confidence
			stats.SumActions += len(res.ActionableItems)
			stats.SumEntities += res.Entities.Count()
			stats.SumProcessingMS += res.ProcessingTimeMS
			if res.Priority == domain.PriorityCritical || res.Priority == domain.PriorityHigh {
				stats.HighPriority++
			}
			if res.Financial.EstimatedValue > 0 {
				stats.WithValue++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// retryBusy retries fn on lock contention with exponential backoff, then
// wraps the final error as a busy persistence failure.
func (r *EmailRepository) retryBusy(ctx context.Context, op string, fn func() error) error {
	const attempts = 3
	var err error
	backoff := 50 * time.Millisecond
	for i := 1; i <= attempts; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if i < attempts {
			select {
			case <-ctx.Done():
				return apperr.Cancelled(op)
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return apperr.PersistenceBusy(op, err)
}

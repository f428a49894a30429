package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutcomesRepository stores the per-recipient audit trail in MySQL.
type OutcomesRepository interface {
	InsertBatch(ctx context.Context, rows []model.OutcomeRecord) error
	ListByRun(ctx context.Context, runID string) ([]model.OutcomeRecord, error)
}

type OutcomesRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutcomesRepository(db *sqlx.DB) *OutcomesRepositoryImpl {
	return &OutcomesRepositoryImpl{db: db}
}

var _ OutcomesRepository = (*OutcomesRepositoryImpl)(nil)

// InsertBatch writes rows in one statement. (run_id, position) is unique, so
// redelivered Kafka messages are absorbed.
func (r *OutcomesRepositoryImpl) InsertBatch(ctx context.Context, rows []model.OutcomeRecord) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*9)

	sb.WriteString(`INSERT INTO dispatch_outcomes
		(run_id, identity, position, total, recipient_id, handle, status, error, sent_at) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			rw.RunID, rw.Identity, rw.Position, rw.Total,
			rw.RecipientID, rw.Handle, rw.Status.String(), rw.Error, rw.SentAt,
		)
	}
	sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *OutcomesRepositoryImpl) ListByRun(ctx context.Context, runID string) ([]model.OutcomeRecord, error) {
	var rows []model.OutcomeRecord
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, identity, position, total, recipient_id, handle, status, error, sent_at
		  FROM dispatch_outcomes
		 WHERE run_id = ?
		 ORDER BY position
	`, runID)
	return rows, err
}

package repository

import (
	"context"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmoiron/sqlx"
)

type OutcomeFilter struct {
	Identity string
	RunID    string
	Status   model.OutcomeStatus
	Limit    int
	Offset   int
}

// CHOutcomesRepository serves outcome reports from ClickHouse and receives
// the recorder's analytic copy.
type CHOutcomesRepository interface {
	List(ctx context.Context, f OutcomeFilter) ([]model.OutcomeRecord, error)
	InsertBatch(ctx context.Context, rows []model.OutcomeRecord) error
}

type chOutcomesRepository struct {
	ch *sqlx.DB
}

func NewCHOutcomesRepository(ch *sqlx.DB) CHOutcomesRepository {
	return &chOutcomesRepository{ch: ch}
}

func (r *chOutcomesRepository) List(ctx context.Context, f OutcomeFilter) ([]model.OutcomeRecord, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT run_id, identity, position, total, recipient_id, handle, status, error, sent_at
		FROM dmd.dispatch_outcomes
		WHERE 1 = 1
	`
	var args []any
	if f.Identity != "" {
		q += " AND identity = ?"
		args = append(args, f.Identity)
	}
	if f.RunID != "" {
		q += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}

	q += " ORDER BY sent_at DESC, position DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.OutcomeRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertBatch uses the driver's batch mode: one prepared insert inside a
// transaction is sent as a single block.
func (r *chOutcomesRepository) InsertBatch(ctx context.Context, rows []model.OutcomeRecord) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO dmd.dispatch_outcomes
			(run_id, identity, position, total, recipient_id, handle, status, error, sent_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rw := range rows {
		if _, err := stmt.ExecContext(ctx,
			rw.RunID, rw.Identity, uint32(rw.Position), uint32(rw.Total),
			rw.RecipientID, rw.Handle, rw.Status.String(), rw.Error, rw.SentAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

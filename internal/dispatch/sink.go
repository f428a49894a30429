package dispatch

import (
	"context"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
)

// OutcomeSink receives one record per attempted recipient, in send order.
// Implementations must not block the send loop for long; errors are logged and ignored.
type OutcomeSink interface {
	Record(ctx context.Context, rec model.OutcomeRecord) error
}

type nopSink struct{}

func (nopSink) Record(context.Context, model.OutcomeRecord) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(model.Event) {}

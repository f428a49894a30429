package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/kafka"
	"github.com/jmehdipour/dm-dispatcher/internal/metrics"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"go.uber.org/zap"
)

// Source is the subset of kafka.Consumer the recorder needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Store persists a batch of outcome rows. MySQL and ClickHouse repositories both fit.
type Store interface {
	InsertBatch(ctx context.Context, rows []model.OutcomeRecord) error
}

// Recorder:
//   - fetches outcome records from the audit topic,
//   - buffers them and flushes by size or time to every store,
//   - commits offsets only after all stores accepted the batch (at-least-once;
//     stores dedupe on run_id + position).
type Recorder struct {
	Source Source
	Stores map[string]Store // sink name -> store
	Log    *zap.Logger

	BatchSize  int
	BatchWait  time.Duration
	RetryAfter time.Duration
}

func NewRecorder(src Source, stores map[string]Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		Source:     src,
		Stores:     stores,
		Log:        log.With(zap.String("component", "recorder")),
		BatchSize:  200,
		BatchWait:  300 * time.Millisecond,
		RetryAfter: time.Second,
	}
}

type fetched struct {
	msg kafka.Message
	rec model.OutcomeRecord
}

// Run blocks until ctx is cancelled, flushing what is buffered on the way out.
func (w *Recorder) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}
	if w.RetryAfter <= 0 {
		w.RetryAfter = time.Second
	}

	in := make(chan fetched, w.BatchSize*2)
	go w.fetchLoop(ctx, in)
	w.batchLoop(ctx, in)
	return nil
}

func (w *Recorder) fetchLoop(ctx context.Context, out chan<- fetched) {
	defer close(out)
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			if !sleepCtx(ctx, w.RetryAfter) {
				return
			}
			continue
		}

		rec, err := kafka.DecodeOutcome(m.Value)
		if err != nil {
			// poison: commit and skip
			w.Log.Warn("bad outcome payload", zap.Int64("offset", m.Offset), zap.Error(err))
			if cerr := w.Source.Commit(ctx, m); cerr != nil {
				w.Log.Warn("kafka commit failed", zap.Error(cerr))
			}
			continue
		}

		select {
		case out <- fetched{msg: m, rec: rec}:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Recorder) batchLoop(ctx context.Context, in <-chan fetched) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var buf []fetched

	// flush reports whether the buffer was drained
	flush := func(ctx context.Context) bool {
		if len(buf) == 0 {
			return true
		}
		rows := make([]model.OutcomeRecord, len(buf))
		msgs := make([]kafka.Message, len(buf))
		for i, f := range buf {
			rows[i] = f.rec
			msgs[i] = f.msg
		}

		for name, s := range w.Stores {
			if err := s.InsertBatch(ctx, rows); err != nil {
				w.Log.Error("flush failed, batch kept for retry",
					zap.String("sink", name), zap.Int("rows", len(rows)), zap.Error(err))
				return false
			}
			metrics.RecorderFlushed.WithLabelValues(name).Add(float64(len(rows)))
		}

		if err := w.Source.Commit(ctx, msgs...); err != nil {
			w.Log.Warn("kafka commit failed", zap.Error(err))
		}
		w.Log.Debug("flushed outcomes", zap.Int("rows", len(rows)))
		buf = buf[:0]
		return true
	}

	drain := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		flush(ctx)
	}

	for {
		// a failed flush stops intake until a tick retries it
		intake := in
		if len(buf) >= w.BatchSize {
			intake = nil
		}

		select {
		case <-ctx.Done():
			drain()
			return

		case f, ok := <-intake:
			if !ok {
				drain()
				return
			}
			buf = append(buf, f)
			if len(buf) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package dispatch runs paced bulk direct-message sends in the background.
//
// Start validates a request, answers with an Ack and then walks the recipients
// on its own goroutine: send, record the outcome, publish a progress event and,
// unless it was the last recipient, wait a random whole number of seconds.
// A run always ends with exactly one summary event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/delay"
	"github.com/jmehdipour/dm-dispatcher/internal/metrics"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/platform"
	"github.com/jmehdipour/dm-dispatcher/internal/progress"
	"github.com/jmehdipour/dm-dispatcher/internal/session"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"go.uber.org/zap"
)

type Options struct {
	Publisher progress.Publisher
	Sink      OutcomeSink
	Log       *zap.Logger

	StatusMax int
	StatusTTL time.Duration

	// Sleep waits d or until ctx is done. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Engine struct {
	sessions *session.Registry
	pub      progress.Publisher
	sink     OutcomeSink
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	active map[string]*run // by normalized identity

	statusMu  sync.Mutex
	status    map[string]*model.RunStatus
	statusMax int
	statusTTL time.Duration
}

type run struct {
	id       string
	identity string
	cancel   context.CancelFunc
}

func NewEngine(sessions *session.Registry, opts Options) *Engine {
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StatusMax <= 0 {
		opts.StatusMax = defaultStatusMax
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = defaultStatusTTL
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		sessions:  sessions,
		pub:       opts.Publisher,
		sink:      opts.Sink,
		log:       opts.Log.With(zap.String("component", "dispatch")),
		sleep:     opts.Sleep,
		now:       opts.Now,
		ctx:       ctx,
		stop:      stop,
		active:    map[string]*run{},
		status:    map[string]*model.RunStatus{},
		statusMax: opts.StatusMax,
		statusTTL: opts.StatusTTL,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func validate(req model.DispatchRequest) error {
	switch {
	case strings.TrimSpace(req.Identity) == "":
		return ErrEmptyIdentity
	case len(req.Recipients) == 0:
		return ErrEmptyRecipientList
	case strings.TrimSpace(req.Message) == "":
		return ErrEmptyMessage
	case req.Count < 1:
		return ErrInvalidCount
	case req.MinDelay < 0 || req.MaxDelay < req.MinDelay:
		return ErrInvalidDelayBounds
	}
	return nil
}

// Start validates req and launches the send loop in the background. It returns
// as soon as the run is registered; ctx only scopes the synchronous part.
func (e *Engine) Start(ctx context.Context, req model.DispatchRequest) (model.Ack, error) {
	if err := validate(req); err != nil {
		return model.Ack{}, err
	}
	client, err := e.sessions.Get(req.Identity)
	if err != nil {
		return model.Ack{}, err
	}

	n := req.Effective()
	recipients := append([]model.User(nil), req.Recipients[:n]...)
	identity := util.NormalizeHandle(req.Identity)
	startedAt := e.now()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{id: util.NewIDAt(startedAt), identity: identity, cancel: cancel}

	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		cancel()
		return model.Ack{}, ErrEngineClosed
	}
	if _, busy := e.active[identity]; busy {
		e.mu.Unlock()
		cancel()
		return model.Ack{}, ErrRunInProgress
	}
	e.active[identity] = r
	e.wg.Add(1)
	e.mu.Unlock()

	// the run follows the engine's lifetime, not the request's
	stopAfter := context.AfterFunc(e.ctx, cancel)

	e.putStatus(&model.RunStatus{
		RunID:     r.id,
		Identity:  identity,
		Total:     n,
		Running:   true,
		Outcomes:  make([]model.Outcome, 0, n),
		CreatedAt: startedAt,
	})

	metrics.RunsActive.Inc()
	e.log.Info("dispatch accepted",
		zap.String("run_id", r.id),
		zap.String("identity", identity),
		zap.Int("total", n),
		zap.Int("min_delay", req.MinDelay),
		zap.Int("max_delay", req.MaxDelay),
	)

	go func() {
		defer e.wg.Done()
		defer stopAfter()
		defer cancel()
		e.finish(r, e.loop(runCtx, r, client, recipients, req))
	}()

	return model.Ack{RunID: r.id, Identity: identity, Total: n, StartedAt: startedAt}, nil
}

// loop sends to recipients in order and reports whether any of them were
// skipped by a cancel.
func (e *Engine) loop(ctx context.Context, r *run, client platform.Client, recipients []model.User, req model.DispatchRequest) (skipped bool) {
	n := len(recipients)
	var sum model.Summary

	e.publish(r, model.Event{
		Kind:    model.EventLog,
		Total:   n,
		Message: fmt.Sprintf("Starting to send messages to %d users", n),
	})

	for i, u := range recipients {
		if ctx.Err() != nil {
			for j := i; j < n; j++ {
				e.record(ctx, r, j+1, n, recipients[j], ErrCancelled, &sum)
			}
			skipped = true
			break
		}

		// cancel takes effect between sends, never inside one
		err := e.send(context.WithoutCancel(ctx), r, client, u.ID.String(), req.Message)
		e.record(ctx, r, i+1, n, u, err, &sum)

		if i == n-1 {
			break
		}
		secs := delay.Next(req.MinDelay, req.MaxDelay)
		e.publish(r, model.Event{
			Kind:    model.EventWaiting,
			Seconds: secs,
			Message: fmt.Sprintf("Waiting %d seconds before sending next message...", secs),
		})
		// a cancelled wait falls through to the check at the top of the loop
		_ = e.sleep(ctx, time.Duration(secs)*time.Second)
	}

	e.publish(r, model.Event{
		Kind:         model.EventSummary,
		Total:        n,
		SuccessCount: sum.SuccessCount,
		FailureCount: sum.FailureCount,
		Message:      fmt.Sprintf("Summary: %d messages sent successfully, %d failed", sum.SuccessCount, sum.FailureCount),
	})
	e.log.Info("dispatch finished",
		zap.String("run_id", r.id),
		zap.String("identity", r.identity),
		zap.Int("succeeded", sum.SuccessCount),
		zap.Int("failed", sum.FailureCount),
		zap.Bool("cancelled", skipped),
	)
	return skipped
}

// send calls the adapter and turns a panic into an error.
func (e *Engine) send(ctx context.Context, r *run, client platform.Client, userID, text string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("panic in platform send",
				zap.String("run_id", r.id),
				zap.Any("recover", rec),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("platform client panicked: %v", rec)
		}
	}()
	return client.SendDirectMessage(ctx, userID, text)
}

func (e *Engine) record(ctx context.Context, r *run, pos, total int, u model.User, err error, sum *model.Summary) {
	out := model.Outcome{Position: pos, Recipient: u, Succeeded: err == nil}
	ev := model.Event{
		Kind:     model.EventProgress,
		Position: pos,
		Total:    total,
		Handle:   u.Username,
		Success:  err == nil,
	}

	label := "sent"
	switch {
	case err == nil:
		sum.SuccessCount++
		ev.Message = fmt.Sprintf("(%d/%d) Message sent to %s", pos, total, u.Username)
	case errors.Is(err, ErrCancelled):
		sum.FailureCount++
		label = "cancelled"
		out.Error, ev.Error = err.Error(), err.Error()
		ev.Message = fmt.Sprintf("(%d/%d) Skipped %s: %s", pos, total, u.Username, err)
	default:
		sum.FailureCount++
		label = "failed"
		out.Error, ev.Error = err.Error(), err.Error()
		ev.Message = fmt.Sprintf("(%d/%d) Failed to send message to %s: %s", pos, total, u.Username, err)
		e.log.Warn("send failed",
			zap.String("run_id", r.id),
			zap.Int("position", pos),
			zap.String("recipient", u.Username),
			zap.Error(err),
		)
	}
	metrics.MessagesTotal.WithLabelValues(label).Inc()

	e.updateStatus(r.id, func(st *model.RunStatus) {
		st.Done++
		if out.Succeeded {
			st.Succeeded++
		} else {
			st.Failed++
		}
		st.Outcomes = append(st.Outcomes, out)
	})
	e.publish(r, ev)

	status := model.StatusSent
	if err != nil {
		status = model.StatusFailed
	}
	rec := model.OutcomeRecord{
		RunID:       r.id,
		Identity:    r.identity,
		Position:    pos,
		Total:       total,
		RecipientID: u.ID.String(),
		Handle:      u.Username,
		Status:      status,
		Error:       out.Error,
		SentAt:      e.now().UTC(),
	}
	// the run context may already be cancelled; the audit trail still wants the record
	if serr := e.sink.Record(context.WithoutCancel(ctx), rec); serr != nil {
		e.log.Warn("record outcome", zap.String("run_id", r.id), zap.Error(serr))
	}
}

func (e *Engine) publish(r *run, ev model.Event) {
	ev.RunID = r.id
	ev.Identity = r.identity
	ev.Time = e.now()
	e.pub.Publish(ev)
}

func (e *Engine) finish(r *run, cancelled bool) {
	e.updateStatus(r.id, func(st *model.RunStatus) {
		st.Running = false
		st.Cancelled = cancelled
		st.FinishedAt = e.now()
	})

	e.mu.Lock()
	if cur, ok := e.active[r.identity]; ok && cur == r {
		delete(e.active, r.identity)
	}
	e.mu.Unlock()

	metrics.RunsActive.Dec()
	if cancelled {
		metrics.RunsTotal.WithLabelValues("cancelled").Inc()
	} else {
		metrics.RunsTotal.WithLabelValues("completed").Inc()
	}
}

// Cancel stops the running dispatch of identity. Remaining recipients are
// reported as failed with ErrCancelled; a send already in flight completes.
// It reports whether a run was active.
func (e *Engine) Cancel(identity string) bool {
	e.mu.Lock()
	r, ok := e.active[util.NormalizeHandle(identity)]
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.log.Info("dispatch cancel requested", zap.String("run_id", r.id), zap.String("identity", r.identity))
	r.cancel()
	return true
}

// Running returns the run ID of the active dispatch for identity, if any.
func (e *Engine) Running(identity string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.active[util.NormalizeHandle(identity)]
	if !ok {
		return "", false
	}
	return r.id, true
}

// Shutdown cancels every run and waits for their goroutines or for ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stop()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

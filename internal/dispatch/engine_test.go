package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/dispatch"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/platform/platformtest"
	"github.com/jmehdipour/dm-dispatcher/internal/session"
	"github.com/m-mizutani/gt"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu        sync.Mutex
	events    []model.Event
	summaries chan model.Event
}

func newRecorder() *recorder {
	return &recorder{summaries: make(chan model.Event, 16)}
}

func (r *recorder) Publish(e model.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if e.Kind == model.EventSummary {
		r.summaries <- e
	}
}

func (r *recorder) byKind(k model.EventKind) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) waitSummary(t *testing.T) model.Event {
	t.Helper()
	select {
	case e := <-r.summaries:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("no summary event")
		return model.Event{}
	}
}

type sleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	block bool
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	block := s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
	}
	return ctx.Err()
}

func (s *sleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type memSink struct {
	mu   sync.Mutex
	recs []model.OutcomeRecord
}

func (m *memSink) Record(_ context.Context, rec model.OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type fixture struct {
	engine  *dispatch.Engine
	reg     *session.Registry
	client  *platformtest.Client
	events  *recorder
	sleeper *sleeper
	sink    *memSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:     session.NewRegistry(),
		client:  &platformtest.Client{},
		events:  newRecorder(),
		sleeper: &sleeper{},
		sink:    &memSink{},
	}
	f.reg.Put("alice", f.client)
	f.engine = dispatch.NewEngine(f.reg, dispatch.Options{
		Publisher: f.events,
		Sink:      f.sink,
		Log:       zaptest.NewLogger(t),
		Sleep:     f.sleeper.Sleep,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = f.engine.Shutdown(ctx)
	})
	return f
}

func users(n int) []model.User {
	out := make([]model.User, n)
	for i := range out {
		out[i] = model.User{ID: model.UserID(fmt.Sprintf("%d", 100+i)), Username: fmt.Sprintf("user%d", i+1)}
	}
	return out
}

func request(n, count int) model.DispatchRequest {
	return model.DispatchRequest{
		Identity:   "alice",
		Recipients: users(n),
		Message:    "hello there",
		Count:      count,
		MinDelay:   2,
		MaxDelay:   5,
	}
}

func TestCountLargerThanRecipients(t *testing.T) {
	f := newFixture(t)
	ack, err := f.engine.Start(context.Background(), request(2, 10))
	gt.NoError(t, err)
	gt.Equal(t, ack.Total, 2)
	gt.Equal(t, len(ack.RunID), 26)

	sum := f.events.waitSummary(t)
	gt.Equal(t, sum.SuccessCount+sum.FailureCount, 2)
	gt.Equal(t, len(f.client.Sends()), 2)
}

func TestOnlyFirstCountRecipientsAttempted(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Start(context.Background(), request(5, 3))
	gt.NoError(t, err)
	f.events.waitSummary(t)

	sends := f.client.Sends()
	gt.Equal(t, len(sends), 3)
	for i, s := range sends {
		gt.Equal(t, s.UserID, fmt.Sprintf("%d", 100+i))
		gt.Equal(t, s.Text, "hello there")
	}
}

func TestProgressOrderAndSummary(t *testing.T) {
	f := newFixture(t)
	ack, err := f.engine.Start(context.Background(), request(4, 4))
	gt.NoError(t, err)
	sum := f.events.waitSummary(t)

	progress := f.events.byKind(model.EventProgress)
	gt.Equal(t, len(progress), 4)
	for i, e := range progress {
		gt.Equal(t, e.Position, i+1)
		gt.Equal(t, e.Total, 4)
		gt.Equal(t, e.Handle, fmt.Sprintf("user%d", i+1))
		gt.Equal(t, e.RunID, ack.RunID)
		gt.Equal(t, e.Identity, "alice")
		gt.True(t, e.Success)
	}
	gt.Equal(t, sum.SuccessCount, 4)
	gt.Equal(t, sum.FailureCount, 0)
	gt.Equal(t, len(f.events.byKind(model.EventSummary)), 1)

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	first := f.events.events[0]
	f.events.mu.Unlock()
	gt.Equal(t, last.Kind, model.EventSummary)
	gt.Equal(t, first.Kind, model.EventLog)
	gt.Equal(t, first.Message, "Starting to send messages to 4 users")
}

func TestWaitingBetweenSendsOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Start(context.Background(), request(3, 3))
	gt.NoError(t, err)
	f.events.waitSummary(t)

	waiting := f.events.byKind(model.EventWaiting)
	gt.Equal(t, len(waiting), 2)
	waits := f.sleeper.Waits()
	gt.Equal(t, len(waits), 2)
	for i, w := range waiting {
		gt.True(t, w.Seconds >= 2 && w.Seconds <= 5)
		gt.Equal(t, waits[i], time.Duration(w.Seconds)*time.Second)
	}

	f.events.mu.Lock()
	var kinds []model.EventKind
	for _, e := range f.events.events {
		kinds = append(kinds, e.Kind)
	}
	f.events.mu.Unlock()
	gt.Equal(t, kinds, []model.EventKind{
		model.EventLog,
		model.EventProgress, model.EventWaiting,
		model.EventProgress, model.EventWaiting,
		model.EventProgress,
		model.EventSummary,
	})
}

func TestSingleRecipientNeverWaits(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Start(context.Background(), request(1, 1))
	gt.NoError(t, err)
	f.events.waitSummary(t)

	gt.Equal(t, len(f.events.byKind(model.EventWaiting)), 0)
	gt.Equal(t, len(f.sleeper.Waits()), 0)
}

func TestFailureDoesNotStopLoop(t *testing.T) {
	f := newFixture(t)
	f.client.SendFunc = func(_ context.Context, userID, _ string) error {
		if userID == "101" {
			return errors.New("user has restricted messages")
		}
		return nil
	}

	ack, err := f.engine.Start(context.Background(), request(3, 3))
	gt.NoError(t, err)
	sum := f.events.waitSummary(t)

	gt.Equal(t, len(f.client.Sends()), 3)
	gt.Equal(t, sum.SuccessCount, 2)
	gt.Equal(t, sum.FailureCount, 1)

	progress := f.events.byKind(model.EventProgress)
	gt.True(t, progress[0].Success)
	gt.False(t, progress[1].Success)
	gt.Equal(t, progress[1].Error, "user has restricted messages")
	gt.True(t, progress[2].Success)

	st, ok := f.engine.Status(ack.RunID)
	gt.True(t, ok)
	gt.False(t, st.Running)
	gt.Equal(t, st.Done, 3)
	gt.Equal(t, st.Failed, 1)
	gt.False(t, st.Outcomes[1].Succeeded)
	gt.Equal(t, st.Outcomes[1].Error, "user has restricted messages")
	gt.False(t, st.FinishedAt.IsZero())
}

func TestAdapterPanicBecomesFailedOutcome(t *testing.T) {
	f := newFixture(t)
	f.client.SendFunc = func(_ context.Context, userID, _ string) error {
		if userID == "100" {
			panic("boom")
		}
		return nil
	}

	_, err := f.engine.Start(context.Background(), request(2, 2))
	gt.NoError(t, err)
	sum := f.events.waitSummary(t)

	gt.Equal(t, sum.SuccessCount, 1)
	gt.Equal(t, sum.FailureCount, 1)
	progress := f.events.byKind(model.EventProgress)
	gt.S(t, progress[0].Error).Contains("boom")
}

func TestStartReturnsBeforeFirstSend(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.client.SendFunc = func(ctx context.Context, _, _ string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ack, err := f.engine.Start(context.Background(), request(1, 1))
	gt.NoError(t, err)
	gt.Equal(t, ack.Total, 1)
	gt.Equal(t, len(f.events.byKind(model.EventProgress)), 0)

	st, ok := f.engine.Status(ack.RunID)
	gt.True(t, ok)
	gt.True(t, st.Running)

	close(release)
	sum := f.events.waitSummary(t)
	gt.Equal(t, sum.SuccessCount, 1)
}

func TestRequestContextCancelDoesNotStopRun(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.engine.Start(ctx, request(3, 3))
	cancel()
	gt.NoError(t, err)

	sum := f.events.waitSummary(t)
	gt.Equal(t, sum.SuccessCount, 3)
}

func TestValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		mut  func(r *model.DispatchRequest)
		want error
	}{
		{"no identity", func(r *model.DispatchRequest) { r.Identity = " " }, dispatch.ErrEmptyIdentity},
		{"no recipients", func(r *model.DispatchRequest) { r.Recipients = nil }, dispatch.ErrEmptyRecipientList},
		{"blank message", func(r *model.DispatchRequest) { r.Message = " \n\t" }, dispatch.ErrEmptyMessage},
		{"zero count", func(r *model.DispatchRequest) { r.Count = 0 }, dispatch.ErrInvalidCount},
		{"negative min", func(r *model.DispatchRequest) { r.MinDelay = -1 }, dispatch.ErrInvalidDelayBounds},
		{"min above max", func(r *model.DispatchRequest) { r.MinDelay, r.MaxDelay = 10, 5 }, dispatch.ErrInvalidDelayBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := request(3, 3)
			tc.mut(&req)
			_, err := f.engine.Start(context.Background(), req)
			gt.True(t, errors.Is(err, tc.want))
			gt.True(t, dispatch.IsValidation(err))
		})
	}
	gt.Equal(t, len(f.client.Sends()), 0)
}

func TestEqualDelayBoundsAccepted(t *testing.T) {
	f := newFixture(t)
	req := request(2, 2)
	req.MinDelay, req.MaxDelay = 0, 0
	_, err := f.engine.Start(context.Background(), req)
	gt.NoError(t, err)
	f.events.waitSummary(t)

	for _, w := range f.events.byKind(model.EventWaiting) {
		gt.Equal(t, w.Seconds, 0)
	}
}

func TestNoActiveSession(t *testing.T) {
	f := newFixture(t)
	req := request(2, 2)
	req.Identity = "mallory"
	_, err := f.engine.Start(context.Background(), req)
	gt.True(t, errors.Is(err, session.ErrNoActiveSession))
	gt.False(t, dispatch.IsValidation(err))

	f.reg.Clear("alice")
	_, err = f.engine.Start(context.Background(), request(2, 2))
	gt.True(t, errors.Is(err, session.ErrNoActiveSession))
}

func TestOverlappingRunRejected(t *testing.T) {
	f := newFixture(t)
	f.sleeper.block = true

	first, err := f.engine.Start(context.Background(), request(3, 3))
	gt.NoError(t, err)

	_, err = f.engine.Start(context.Background(), request(3, 3))
	gt.True(t, errors.Is(err, dispatch.ErrRunInProgress))

	id, ok := f.engine.Running("ALICE")
	gt.True(t, ok)
	gt.Equal(t, id, first.RunID)

	gt.True(t, f.engine.Cancel("alice"))
	f.events.waitSummary(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, busy := f.engine.Running("alice"); !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never released")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.sleeper.mu.Lock()
	f.sleeper.block = false
	f.sleeper.mu.Unlock()
	_, err = f.engine.Start(context.Background(), request(1, 1))
	gt.NoError(t, err)
	f.events.waitSummary(t)
}

func TestCancelReportsRemainingRecipients(t *testing.T) {
	f := newFixture(t)
	f.sleeper.block = true

	ack, err := f.engine.Start(context.Background(), request(4, 4))
	gt.NoError(t, err)

	// wait for the first send to be recorded and the loop to be parked in its delay
	deadline := time.Now().Add(2 * time.Second)
	for len(f.sleeper.Waits()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loop never reached the delay")
		}
		time.Sleep(5 * time.Millisecond)
	}

	gt.True(t, f.engine.Cancel("alice"))
	sum := f.events.waitSummary(t)

	gt.Equal(t, len(f.client.Sends()), 1)
	gt.Equal(t, sum.SuccessCount, 1)
	gt.Equal(t, sum.FailureCount, 3)

	progress := f.events.byKind(model.EventProgress)
	gt.Equal(t, len(progress), 4)
	for i, e := range progress[1:] {
		gt.Equal(t, e.Position, i+2)
		gt.False(t, e.Success)
		gt.Equal(t, e.Error, dispatch.ErrCancelled.Error())
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		st, ok := f.engine.Status(ack.RunID)
		gt.True(t, ok)
		if !st.Running {
			gt.True(t, st.Cancelled)
			gt.Equal(t, st.Done, 4)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run still marked running")
		}
		time.Sleep(5 * time.Millisecond)
	}

	gt.False(t, f.engine.Cancel("alice"))
}

func TestCancelDoesNotAbortInFlightSend(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.client.SendFunc = func(ctx context.Context, _, _ string) error {
		close(entered)
		<-release
		return ctx.Err()
	}

	ack, err := f.engine.Start(context.Background(), request(1, 1))
	gt.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}
	gt.True(t, f.engine.Cancel("alice"))
	close(release)

	sum := f.events.waitSummary(t)
	gt.Equal(t, sum.SuccessCount, 1)
	gt.Equal(t, sum.FailureCount, 0)

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, ok := f.engine.Status(ack.RunID)
		gt.True(t, ok)
		if !st.Running {
			gt.False(t, st.Cancelled)
			gt.Equal(t, st.Succeeded, 1)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run still marked running")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSinkReceivesEveryOutcome(t *testing.T) {
	f := newFixture(t)
	f.client.SendFunc = func(_ context.Context, userID, _ string) error {
		if userID == "100" {
			return errors.New("rate limited")
		}
		return nil
	}
	ack, err := f.engine.Start(context.Background(), request(2, 2))
	gt.NoError(t, err)
	f.events.waitSummary(t)

	f.sink.mu.Lock()
	recs := append([]model.OutcomeRecord(nil), f.sink.recs...)
	f.sink.mu.Unlock()

	gt.Equal(t, len(recs), 2)
	gt.Equal(t, recs[0].RunID, ack.RunID)
	gt.Equal(t, recs[0].Status, model.StatusFailed)
	gt.Equal(t, recs[0].Error, "rate limited")
	gt.Equal(t, recs[0].RecipientID, "100")
	gt.Equal(t, recs[1].Status, model.StatusSent)
	gt.Equal(t, recs[1].Position, 2)
	gt.Equal(t, recs[1].Total, 2)
}

func TestStatusRetentionIsBounded(t *testing.T) {
	reg := session.NewRegistry()
	reg.Put("alice", &platformtest.Client{})
	events := newRecorder()
	e := dispatch.NewEngine(reg, dispatch.Options{
		Publisher: events,
		Sleep:     (&sleeper{}).Sleep,
		StatusMax: 2,
	})
	defer func() { _ = e.Shutdown(context.Background()) }()

	var ids []string
	for i := 0; i < 3; i++ {
		ack, err := e.Start(context.Background(), request(1, 1))
		gt.NoError(t, err)
		events.waitSummary(t)
		ids = append(ids, ack.RunID)

		deadline := time.Now().Add(2 * time.Second)
		for {
			if _, busy := e.Running("alice"); !busy {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("run never released")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	_, ok := e.Status(ids[0])
	gt.False(t, ok)
	_, ok = e.Status(ids[2])
	gt.True(t, ok)
}

func TestShutdownStopsRuns(t *testing.T) {
	f := newFixture(t)
	f.sleeper.block = true

	_, err := f.engine.Start(context.Background(), request(3, 3))
	gt.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gt.NoError(t, f.engine.Shutdown(ctx))

	sum := f.events.waitSummary(t)
	gt.Equal(t, sum.SuccessCount+sum.FailureCount, 3)

	_, err = f.engine.Start(context.Background(), request(1, 1))
	gt.True(t, errors.Is(err, dispatch.ErrEngineClosed))
}

package dispatch

import (
	"sort"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
)

const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

func (e *Engine) putStatus(st *model.RunStatus) {
	e.statusMu.Lock()
	e.status[st.RunID] = st
	e.statusMu.Unlock()
	e.pruneStatus(e.now())
}

func (e *Engine) updateStatus(runID string, fn func(st *model.RunStatus)) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if st, ok := e.status[runID]; ok {
		fn(st)
	}
}

// Status returns a snapshot of a run that is running or finished recently.
func (e *Engine) Status(runID string) (model.RunStatus, bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	st, ok := e.status[runID]
	if !ok {
		return model.RunStatus{}, false
	}
	out := *st
	out.Outcomes = append([]model.Outcome(nil), st.Outcomes...)
	return out, true
}

// pruneStatus drops finished runs older than the TTL, then the oldest runs
// until at most statusMax remain. Running runs are never dropped.
func (e *Engine) pruneStatus(now time.Time) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	for id, st := range e.status {
		if !st.Running && !st.FinishedAt.IsZero() && now.Sub(st.FinishedAt) > e.statusTTL {
			delete(e.status, id)
		}
	}
	if len(e.status) <= e.statusMax {
		return
	}

	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(e.status))
	for id, st := range e.status {
		if st.Running {
			continue
		}
		items = append(items, kv{id: id, t: st.FinishedAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(e.status) - e.statusMax
	for i := 0; i < excess && i < len(items); i++ {
		delete(e.status, items[i].id)
	}
}

package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// WispScheduler periodically sweeps the in-memory wisp list and promotes
// any wisp that has outlived its freshness window into a persisted task,
// so a scratch note an agent jotted down doesn't vanish unnoticed when
// the process restarts (SUPPLEMENTAL FEATURES: cron-driven wisp
// promotion, grounded on `haasonsaas-nexus`'s `internal/tasks/scheduler.go`
// shape, simplified down to the one sweep this domain needs — no
// execution locking or retries, since promotion has no failure mode
// worth retrying).
type WispScheduler struct {
	store     *Store
	maxAge    time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewWispScheduler builds a scheduler that sweeps every sweepSpec (a
// standard 5-field cron expression, e.g. "*/5 * * * *") and promotes any
// wisp older than maxAge.
func NewWispScheduler(store *Store, sweepSpec string, maxAge time.Duration) (*WispScheduler, error) {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	c := cron.New()
	ws := &WispScheduler{
		store:  store,
		maxAge: maxAge,
		cron:   c,
		logger: slog.Default().With("component", "wisp_scheduler"),
	}
	if _, err := c.AddFunc(sweepSpec, ws.sweep); err != nil {
		return nil, err
	}
	return ws, nil
}

// Start begins the cron loop in the background. Stop must be called to
// release its goroutine.
func (ws *WispScheduler) Start() {
	ws.cron.Start()
}

// Stop blocks until any in-flight sweep finishes, then halts the loop.
func (ws *WispScheduler) Stop() {
	<-ws.cron.Stop().Done()
}

func (ws *WispScheduler) sweep() {
	cutoff := time.Now().Add(-ws.maxAge)
	for _, w := range ws.store.Wisps() {
		if w.CreatedAt.After(cutoff) {
			continue
		}
		promoted, err := ws.store.PromoteWisp(context.Background(), w.ID)
		if err != nil {
			ws.logger.Warn("wisp promotion failed", "wisp_id", w.ID, "error", err)
			continue
		}
		ws.logger.Info("promoted stale wisp to task", "wisp_id", w.ID, "task_id", promoted.ID, "title", promoted.Title)
	}
}

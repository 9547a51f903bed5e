// Package janitor purges old terminal sessions on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/threadclaw/threadclaw/internal/sessions"
)

// Janitor runs Table.PurgeTerminal whenever the schedule fires.
type Janitor struct {
	table    *sessions.Table
	schedule string
	keep     time.Duration
	gron     *gronx.Gronx
}

// New creates a janitor. schedule is a cron expression; keep is how long
// terminal sessions are retained.
func New(table *sessions.Table, schedule string, keep time.Duration) (*Janitor, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("invalid cleanup schedule %q", schedule)
	}
	return &Janitor{table: table, schedule: schedule, keep: keep, gron: g}, nil
}

// Run blocks until ctx is done, checking the schedule once a minute.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("session janitor started", "schedule", j.schedule, "retention", j.keep)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			removed, err := j.table.PurgeTerminal(j.keep)
			if err != nil {
				slog.Error("session purge failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("purged terminal sessions", "count", removed)
			}
		}
	}
}

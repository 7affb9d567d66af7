package app

import (
	"context"
	"strings"
	"time"

	"medminder/internal/config"
	"medminder/internal/eventbus"
	logx "medminder/pkg/logx"
)

const reloadStopTimeout = 10 * time.Second

// applyConfig fans a committed config out to the live components. Storage,
// HTTP, telemetry and channel changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogging(next.Logging))

	if s, err := next.Scheduler.Resolve(); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.applyScheduler(ctx, s)
	}

	if n, err := next.Notifier.Resolve(); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.Apply(notifySettings(n))
	}

	if len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", fields...)
}

// applyScheduler swaps live settings and restarts the trigger when the
// timezone moved.
func (a *App) applyScheduler(ctx context.Context, s config.Scheduler) {
	prev := a.sched
	a.sched = s

	a.loop.Apply(schedulerSettings(s))
	a.machine.SetGrace(s.GracePeriod)
	a.sweeper.SetBatch(s.SweepBatch)

	stopCtx, cancel := context.WithTimeout(ctx, reloadStopTimeout)
	defer cancel()
	switch {
	case !s.Enabled && prev.Enabled:
		a.log.Info("scheduler disabled via config")
		if err := a.driver.Stop(stopCtx); err != nil {
			a.log.Warn("scheduler stop", logx.Err(err))
		}
	case s.Enabled && !prev.Enabled:
		a.log.Info("scheduler enabled via config")
		if err := a.driver.Restart(stopCtx, s.TickInterval); err != nil {
			a.log.Error("scheduler start failed", logx.Err(err))
		}
	case s.Enabled && s.Location.String() != prev.Location.String():
		a.log.Info("scheduler timezone changed; restarting", logx.String("tz", s.Location.String()))
		if err := a.driver.Restart(stopCtx, s.TickInterval); err != nil {
			a.log.Error("scheduler restart failed", logx.Err(err))
		}
	}
}

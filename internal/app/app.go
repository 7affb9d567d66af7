// Package app wires configuration, storage, notification channels, the
// reminder engine, the scheduler and the HTTP API into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"medminder/internal/config"
	"medminder/internal/eventbus"
	"medminder/internal/httpapi"
	"medminder/internal/notify"
	"medminder/internal/reminder"
	"medminder/internal/runtime/supervisor"
	"medminder/internal/scheduler"
	"medminder/internal/storage"
	"medminder/internal/telemetry"
	logx "medminder/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store      storage.Backend
	dispatcher *notify.Dispatcher
	machine    *reminder.Machine
	sweeper    *reminder.Sweeper
	loop       *scheduler.Loop
	driver     *scheduler.Driver
	http       *httpapi.Server

	// sched is the last applied scheduler config. Only Start and the reload
	// goroutine touch it.
	sched config.Scheduler

	traceShutdown telemetry.Shutdown
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg.Logging))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	sched, err := cfg.Scheduler.Resolve()
	if err != nil {
		return nil, err
	}
	ncfg, err := cfg.Notifier.Resolve()
	if err != nil {
		return nil, err
	}
	scfg, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, scfg, root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", scfg.Driver))

	gw, err := buildGateway(ctx, cfg.Notifier, root)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("notification channels: %w", err)
	}

	bus := eventbus.New()
	disp := notify.NewDispatcher(gw, notifySettings(ncfg), notify.WithLogger(root), notify.WithBus(bus))

	machine := reminder.NewMachine(reminder.Deps{
		Store:     store.Reminders(),
		Medicines: store,
		Owners:    store.Owners(),
		Notifier:  disp,
		Bus:       bus,
	}, sched.GracePeriod, root)
	sweeper := reminder.NewSweeper(store.Reminders(), machine, sched.SweepBatch, root)

	loop := scheduler.NewLoop(scheduler.Deps{
		Medicines: store,
		Reminders: store.Reminders(),
		Owners:    store.Owners(),
		Notifier:  disp,
		Sweeper:   sweeper,
		Bus:       bus,
	}, schedulerSettings(sched), root)
	driver := scheduler.NewDriver(loop, sched.TickInterval, root, scheduler.WithBus(bus))

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		dispatcher: disp,
		machine:    machine,
		sweeper:    sweeper,
		loop:       loop,
		driver:     driver,
		sched:      sched,
	}

	if cfg.HTTP.Enabled {
		a.http = httpapi.NewServer(cfg.HTTP.HTTPAddr(), a.Handler(cfg.HTTP.Pprof), root)
	}
	return a, nil
}

// Handler is the HTTP API bound to this app's components.
func (a *App) Handler(pprof bool) http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Marker:     a.machine,
		Reminders:  a.store.Reminders(),
		Ledger:     a.store,
		Scheduler:  a.driver.Status,
		Deliveries: a.dispatcher,
		Log:        a.log,
		Pprof:      pprof,
	})
}

// Done is closed when the supervisor context is cancelled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Scheduler reports the scheduler driver state.
func (a *App) Scheduler() scheduler.Status { return a.driver.Status() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	cfg := a.cfgm.Get()
	shutdown, err := telemetry.Setup(ctx, mapTelemetry(cfg.Telemetry))
	if err != nil {
		a.log.Warn("tracing disabled", logx.Err(err))
	}
	a.traceShutdown = shutdown

	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if _, err := mapStorage(next.Storage); err != nil {
			return err
		}
		_, err := next.Scheduler.Resolve()
		return err
	})

	if a.sched.Enabled {
		if err := a.driver.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.log.Info("scheduler disabled by config")
	}

	if a.http != nil {
		a.sup.Go("http.api", a.http.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts; only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{})

	a.startSystemd()
	a.log.Info("app started", logx.String("version", Version))
	return nil
}

// Stop shuts the app down. Every step is bounded so one slow component cannot
// stall the rest; ctx bounds the whole shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, sdStopping)
	a.sup.Cancel()

	var firstErr error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("scheduler", 10*time.Second, a.driver.Stop)
	step("supervisor", 6*time.Second, a.sup.Wait)
	step("telemetry", 2*time.Second, func(c context.Context) error {
		if a.traceShutdown == nil {
			return nil
		}
		return a.traceShutdown(c)
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}

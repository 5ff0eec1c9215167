package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"announcebot/internal/broadcast"
	"announcebot/internal/config"
	"announcebot/internal/dispatch"
	"announcebot/internal/eventbus"
	"announcebot/internal/plugin"
	"announcebot/internal/runtime/supervisor"
	"announcebot/internal/schedule"
	"announcebot/internal/storage"
	"announcebot/internal/task/scheduler"
	kit "announcebot/internal/transport"
	telegram "announcebot/internal/transport/telegram/adapter"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

const sessionSweepEvery = time.Minute

type Options struct {
	ConfigPath string
	// Token overrides telegram.token from the file when set.
	Token   string
	Plugins []plugin.Plugin
	// Offline skips the Telegram handshake. Used by tests.
	Offline bool
}

type App struct {
	cfgm  *config.Manager
	sup   *supervisor.Supervisor
	tasks *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	plugins *plugin.Manager

	schedule *schedule.Service
	cron     *scheduler.Service
	exec     *broadcast.Executor
	jobs     *dispatch.Registry

	token   string
	updates chan kit.Update
}

func NewApp(ctx context.Context, opt Options) (*App, error) {
	cfgm := config.NewManager(opt.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if t := strings.TrimSpace(opt.Token); t != "" {
		cfg.Telegram.Token = t
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(ctx, telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Offline:     opt.Offline,
	}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	// target first so Apply does not warn about a missing log chat
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logs, log := logx.New(bootCfg, ad)
	logs.SetTelegramTarget(groupLogChat(cfg), cfg.Logging.Telegram.ThreadID)
	logs.Apply(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	defaults, err := mapScheduleDefaults(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := schedule.NewService(store, defaults, bus, log.With(logx.String("comp", "schedule")))
	if err := sched.EnsureDefaults(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed schedule: %w", err)
	}

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cron := scheduler.New(mapSchedulerConfig(cfg), log)
	exec := broadcast.New(bcfg, store, ad, bus, log.With(logx.String("comp", "broadcast")))
	jobs := dispatch.New(sched, cron, exec, store, bus, log.With(logx.String("comp", "dispatch")))

	ttl, err := draftTTL(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rt := router.New(router.Options{
		Out:      ad,
		Admins:   store,
		Owners:   cfg.Telegram.OwnerUserIDs,
		Sessions: router.NewSessions(ttl),
		Log:      log,
	})

	tasks := supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("comp", "tasks"))))
	pm := plugin.NewManager(log.With(logx.String("comp", "plugins")), bus, opt.Plugins...)
	if err := pm.InitAll(ctx, plugin.Deps{
		Log:       log,
		Store:     store,
		Schedule:  sched,
		Jobs:      jobs,
		Broadcast: exec,
		Sender:    ad,
		Bus:       bus,
		Tasks:     tasks,
	}); err != nil {
		tasks.Cancel()
		_ = store.Close()
		return nil, err
	}
	pm.Apply(rt)

	return &App{
		cfgm:     cfgm,
		tasks:    tasks,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		bus:      bus,
		store:    store,
		adapter:  ad,
		router:   rt,
		plugins:  pm,
		schedule: sched,
		cron:     cron,
		exec:     exec,
		jobs:     jobs,
		token:    strings.TrimSpace(opt.Token),
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends, on a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	a.cron.Start(a.sup.Context())
	if err := a.jobs.Install(a.sup.Context()); err != nil {
		if errors.Is(err, scheduler.ErrDisabled) {
			a.log.Warn("scheduler disabled; announcements will not fire")
		} else {
			a.log.Error("install announcement jobs failed", logx.Err(err))
		}
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.router.PublishMenu(a.sup.Context()); err != nil {
		a.log.Warn("publish command menu failed", logx.Err(err))
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates, sessionSweepEvery)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		var dropped uint64
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				dropped = a.reportDropped(dropped)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				last = a.applyConfig(c, last, next)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Any("plugins", a.plugins.Ready()))
	return nil
}

// reportDropped warns when the bus lost events since the last seen total and
// returns the new total.
func (a *App) reportDropped(seen uint64) uint64 {
	total := a.bus.Dropped()
	if total > seen {
		a.log.Warn("eventbus dropped events", logx.Uint64("dropped", total-seen), logx.Uint64("total", total))
	}
	return total
}

// applyConfig pushes a reloaded config into the live components and returns
// the config now in effect. Storage and the bot token are read once at
// startup.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) *config.Config {
	if a.token != "" {
		cp := *next
		cp.Telegram.Token = a.token
		next = &cp
	}
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return next
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.SetTelegramTarget(groupLogChat(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	if ttl, err := draftTTL(next); err == nil {
		a.router.Sessions().SetTTL(ttl)
	}
	if bcfg, err := mapBroadcastConfig(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.exec.Apply(bcfg)
	}

	wasEnabled := a.cron.Enabled()
	a.cron.Apply(mapSchedulerConfig(next))
	if next.Scheduler.Enabled && !wasEnabled {
		a.log.Info("scheduler enabled via config")
		a.cron.Start(ctx)
		a.jobs.Reinstall(ctx)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	return next
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// each step gets its own bound so one component cannot stall the rest
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("scheduler", 3*time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	step("tasks", 3*time.Second, a.tasks.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Package app wires the components together and owns their lifecycle. The
// scheduler/store pair is constructed once here and passed by handle to the
// router; there are no ambient globals.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"weatherbot/internal/config"
	"weatherbot/internal/delivery"
	"weatherbot/internal/history"
	"weatherbot/internal/interpret"
	"weatherbot/internal/llm"
	"weatherbot/internal/router"
	"weatherbot/internal/subscribe"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/transport/telegram"
	"weatherbot/internal/weather"
	"weatherbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter  *telegram.Adapter
	store    *subscribe.Store
	sched    *subscribe.Scheduler
	delivery *delivery.Adapter
	hist     history.Store
	router   *router.Router

	updates chan kit.Update
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(cfg.Logging)
	mgr = config.NewManager(cfgPath, log.With(logx.String("comp", "config")))
	if _, err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	loc := cfg.Location()

	store, err := subscribe.OpenStore(cfg.Ledger.Path, loc, log.With(logx.String("comp", "store")))
	if err != nil {
		// A corrupt ledger halts initialization; silently resetting user
		// subscriptions is worse than refusing to start.
		return nil, err
	}

	hist, err := history.Open(history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		BusyTimeout: cfg.History.BusyTimeout.D(),
	}, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    cfg.Telegram.PollTimeout.D(),
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	provider := weather.NewAmap(cfg.Weather.AmapKey, cfg.Weather.Timeout.D(), log.With(logx.String("comp", "amap")))
	llmClient := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout.D(),
	}, log.With(logx.String("comp", "llm")))

	deliv := delivery.New(provider, llmClient, adapter, hist, delivery.Options{
		SendMode:      cfg.Delivery.SendMode,
		Enhance:       cfg.Delivery.Enhance,
		EnhancePrompt: cfg.Delivery.EnhancePrompt,
	}, log.With(logx.String("comp", "delivery")))

	sched := subscribe.NewScheduler(store, deliv, loc, log.With(logx.String("comp", "scheduler")))

	interp := interpret.NewLLM(llmClient, loc, log.With(logx.String("comp", "interpret")))

	rt := router.New(adapter, router.Services{
		Store:     store,
		Scheduler: sched,
		Interp:    interp,
		Delivery:  deliv,
		History:   hist,
	}, loc, cfg.Weather.DefaultCity, log.With(logx.String("comp", "router")))

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		adapter:  adapter,
		store:    store,
		sched:    sched,
		delivery: deliv,
		hist:     hist,
		router:   rt,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.updates = make(chan kit.Update, 64)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(ctx, a.updates)
	}()

	if err := a.sched.Start(); err != nil {
		return err
	}
	a.sched.Recover()

	// Hot-reload log level / delivery knobs on config edits.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(ctx, func(cfg *config.Config) {
			a.logSvc.Apply(cfg.Logging)
			a.delivery.Apply(delivery.Options{
				SendMode:      cfg.Delivery.SendMode,
				Enhance:       cfg.Delivery.Enhance,
				EnhancePrompt: cfg.Delivery.EnhancePrompt,
			})
		})
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Stop the scheduling loop before anything else so no trigger fires
	// against components being torn down. The store needs no final flush:
	// every mutation persisted synchronously.
	a.sched.Shutdown(ctx)
	_ = a.adapter.Stop(ctx)
	a.wg.Wait()

	if a.hist != nil {
		_ = a.hist.Close()
	}
	a.log.Info("stopped")
	return a.logSvc.Close()
}

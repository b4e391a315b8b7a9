package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/alerting"
	"arbwatch/internal/checkpoint"
	"arbwatch/internal/clock"
	"arbwatch/internal/config"
	"arbwatch/internal/costs"
	"arbwatch/internal/market"
	"arbwatch/internal/monitor"
	"arbwatch/internal/recorder"
	"arbwatch/internal/scheduler"
	"arbwatch/internal/storage"
	"arbwatch/internal/window"
)

// Exit codes defined by the CLI contract.
const (
	ExitOK          = 0
	ExitConfig      = 1
	ExitIO          = 2
	ExitInterrupted = 130
)

// ExitError carries a process exit code alongside the underlying error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a command to the process exit code.
// Anything unclassified is treated as a configuration/usage problem.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitConfig
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	LogDir string
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger, logDir string) *App {
	if logDir == "" {
		logDir = "data"
	}
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), LogDir: logDir}
}

func (a *App) newFetchers() (market.Fetcher, market.Fetcher) {
	kalshi := market.NewKalshi(market.KalshiOptions{
		BaseURL:   a.Config.Venues.KalshiBaseURL,
		APIKey:    a.Config.Venues.KalshiAPIKey,
		UserAgent: a.Config.Venues.UserAgent,
	}, a.Logger)

	poly := market.NewPolymarket(market.PolymarketOptions{
		BaseURL:   a.Config.Venues.PolymarketBaseURL,
		UserAgent: a.Config.Venues.UserAgent,
	}, a.Logger)

	return kalshi, poly
}

func (a *App) newNotifier() alerting.Notifier {
	notifier, err := alerting.FromConfig(a.Config.Alerting, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("alerting disabled: invalid configuration")
		return nil
	}
	if notifier == nil {
		a.Logger.Warn().Msg("⚠️ 未配置告警通道")
	}
	return notifier
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database.DSN, a.Config.Database.MaxOpenConns, a.Config.Database.MaxIdleConns, a.Config.Database.ConnMaxLifetime)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := recorder.Open(a.LogDir, a.Logger)
	if err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}
	defer rec.Close()

	store, closeStore, err := a.openStore(sigCtx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("database mirror disabled: connection failed")
	}
	if closeStore != nil {
		defer closeStore()
	}

	clk := clock.Real{}
	tracker := window.NewTracker()
	notifier := a.newNotifier()

	ckptInterval := a.Config.Checkpoint.Interval
	if ckptInterval <= 0 {
		ckptInterval = checkpoint.DefaultInterval
	}
	ckptPath := filepath.Join(a.LogDir, checkpoint.StateFile)

	sched := scheduler.New(scheduler.Options{
		BaseInterval: a.Config.PollingInterval(),
		OnRateLimitAlert: func() {
			if notifier == nil {
				return
			}
			alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := notifier.Alert(alertCtx, "repeated 429s from venue APIs; polling interval escalated"); err != nil {
				a.Logger.Error().Err(err).Msg("failed to dispatch rate-limit alert")
			}
		},
	}, clk, rec, a.Logger)

	if err := a.recover(ckptPath, ckptInterval, tracker, sched, rec); err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}

	kalshi, poly := a.newFetchers()
	mon := monitor.New(monitor.Options{
		Pairs:      a.Config.Pairs(),
		Kalshi:     kalshi,
		Polymarket: poly,
		Costs:      costs.NewModel(decimal.NewFromFloat(a.Config.CostAssumptions.GasFeePerTradeUSD)),
		Tracker:    tracker,
		Recorder:   rec,
		Store:      store,
		Notifier:   notifier,
		Clock:      clk,
	}, a.Logger)

	ckpt := checkpoint.New(ckptPath, ckptInterval, checkpoint.Sources{
		Windows:   tracker.OpenWindows,
		RateLimit: sched.RateLimit().Snapshot,
	}, a.Logger)

	runCtx := sigCtx
	var cancel context.CancelFunc
	if d := a.Config.Duration(); d > 0 {
		runCtx, cancel = context.WithTimeout(sigCtx, d)
		defer cancel()
	}

	ckptCtx, stopCkpt := context.WithCancel(runCtx)
	go ckpt.Run(ckptCtx)

	a.Logger.Info().
		Int("pairs", len(a.Config.MarketPairs)).
		Dur("interval", a.Config.PollingInterval()).
		Msg("starting arbitrage monitor")

	runErr := sched.Run(runCtx, mon.Tick)
	stopCkpt()

	if err := a.shutdown(clk, tracker, rec, ckpt); err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.DeadlineExceeded):
		a.Logger.Info().Msg("monitoring duration elapsed; shutting down")
		return nil
	case errors.Is(runErr, context.Canceled) && sigCtx.Err() != nil:
		a.Logger.Info().Msg("interrupted by signal")
		return &ExitError{Code: ExitInterrupted, Err: runErr}
	default:
		a.Logger.Error().Err(runErr).Msg("monitor terminated with error")
		return &ExitError{Code: ExitIO, Err: runErr}
	}
}

// recover applies the startup checkpoint policy: resume open windows from a
// fresh checkpoint, synthesise interrupted closes from a stale one.
func (a *App) recover(path string, grace time.Duration, tracker *window.Tracker, sched *scheduler.Scheduler, rec *recorder.Recorder) error {
	st, ok, err := checkpoint.Load(path)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("checkpoint unreadable; starting fresh")
		return nil
	}
	if !ok {
		return nil
	}

	age := time.Since(st.LastUpdated)
	if age <= grace {
		tracker.Restore(st.ActiveWindows)
		sched.RateLimit().Restore(st.RateLimit)
		a.Logger.Info().
			Int("windows", len(st.ActiveWindows)).
			Dur("age", age).
			Msg("🟢 恢复进行中窗口")
		return nil
	}

	forced := 0
	for _, w := range st.ActiveWindows {
		if w == nil || w.EndTime != nil {
			continue
		}
		w.CloseInterrupted(st.LastUpdated)
		rec.WindowForcedClose(w.PairID, w.ID, fmt.Sprintf("checkpoint stale by %s", age-grace))
		if err := rec.WriteWindow(w); err != nil {
			return err
		}
		forced++
	}
	if forced > 0 {
		a.Logger.Warn().Int("windows", forced).Msg("🟡 检测到过期状态，强制结束窗口")
	}
	return nil
}

// shutdown force-closes open windows, flushes them, and writes the final
// checkpoint.
func (a *App) shutdown(clk clock.Clock, tracker *window.Tracker, rec *recorder.Recorder, ckpt *checkpoint.Checkpointer) error {
	now := clk.Now()
	for _, w := range tracker.ForceCloseAll(now) {
		rec.WindowForcedClose(w.PairID, w.ID, "shutdown")
		if err := rec.WriteWindow(w); err != nil {
			return err
		}
	}
	if err := ckpt.Write(); err != nil {
		a.Logger.Error().Err(err).Msg("final checkpoint failed")
	}
	a.Logger.Info().Msg("monitor stopped")
	return nil
}

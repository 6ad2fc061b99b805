package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hray3182/MedLine/internal/bot"
	"github.com/hray3182/MedLine/internal/dispatch"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reminder loop and, if configured, the Telegram bot",
	Long: `Arms a timer for every active schedule, then delivers reminders until
interrupted. Without TELEGRAM_TOKEN reminders are only written to the log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timers := platform.NewLocalTimers(logger)
	defer timers.Close()

	a, err := openApp(ctx, timers)
	if err != nil {
		return err
	}
	defer a.Close()

	// Timers do not survive a restart.
	res, err := a.scheduler.Sweep(ctx, scheduler.SweepAll)
	if err != nil {
		return err
	}
	logger.Info().
		Int("registered", res.Registered).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("reminders armed")

	var notifier dispatch.Notifier = dispatch.LogNotifier{Log: logger}
	var b *bot.Bot
	if cfg.Telegram.Token != "" {
		b, err = bot.New(cfg.Telegram.Token, cfg.Telegram.ChatID, a.service, a.tracker, timers, a.loc, logger)
		if err != nil {
			return err
		}
		notifier = b
	} else {
		logger.Info().Msg("telegram not configured, reminders go to the log only")
	}

	loop := dispatch.New(timers, a.store, a.scheduler, a.tracker, notifier, dispatch.Config{
		SweepSpec:   cfg.Jobs.SweepSpec,
		PurgeSpec:   cfg.Jobs.PurgeSpec,
		RealignSpec: cfg.Jobs.RealignSpec,
		Retention:   cfg.Retention(),
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if b != nil {
		g.Go(func() error { return b.Start(gctx) })
	}
	err = g.Wait()
	logger.Info().Msg("shutting down")
	return err
}

package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"calboard/internal/clock"
	"calboard/internal/config"
	"calboard/internal/credential"
	appLog "calboard/internal/log"
	"calboard/internal/refresh"
	"calboard/internal/schedule"
	"calboard/internal/web"
)

func newServeCmd(getCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		Long: `Start the dashboard: the refresh loop, the cron jobs that check the
credential and reload events, and the HTTP API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), getCfg())
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := a.source()
	if err != nil {
		return err
	}
	creds := credential.NewManager(a.policy, a.refreshProvider(), a.writer)
	coord := refresh.New(refresh.Options{
		Clock:       clock.Real{},
		Normalizer:  a.norm,
		Source:      src,
		Credentials: creds,
		Persist:     a.writer,
		WeekStart:   cfg.WeekStartDay(),
	})
	if err := coord.Restore(ctx, a.kv); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.Run(ctx); err != nil {
			appLog.Error("refresh loop exited", err)
		}
	}()
	// The loop must be gone before the deferred Close drains the writer.
	defer wg.Wait()
	defer cancel()

	sched := schedule.New(a.loc)
	jobs := []schedule.Job{
		{Name: "credential-check", Spec: cfg.Schedule.CredentialCheck, Run: coord.CheckCredential},
		{Name: "refresh", Spec: cfg.Schedule.Refresh, Run: coord.RefreshAsync},
		{Name: "rotate-view", Spec: cfg.Schedule.Rotate, Run: coord.RotateView},
	}
	for _, j := range jobs {
		if err := sched.Add(ctx, j); err != nil {
			return err
		}
	}
	sched.Start(ctx)

	if err := coord.CheckCredential(ctx); err != nil {
		return err
	}
	if err := coord.RefreshAsync(ctx); err != nil {
		return err
	}

	for name, at := range sched.Next(time.Now()) {
		appLog.Info("schedule: next run", "job", name, "at", at)
	}

	return web.NewServer(cfg, coord).ListenAndServe(ctx)
}

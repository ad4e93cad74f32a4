package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"calboard/internal/config"
	"calboard/internal/credential"
	"calboard/internal/store"
)

func newStatusCmd(getCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential and view state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), getCfg(), time.Now(), cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, cfg *config.Config, now time.Time, out io.Writer) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	m := credential.NewManager(a.policy, nil, a.writer)
	if err := m.Restore(ctx, a.kv); err != nil {
		return err
	}
	return printStatus(ctx, out, a, m, now)
}

func printStatus(ctx context.Context, out io.Writer, a *app, m *credential.Manager, now time.Time) error {
	const layout = "2006-01-02 15:04 MST"

	fmt.Fprintln(out, "=== Credential ===")
	fmt.Fprintf(out, "State: %s\n", m.State(now))
	if cred, ok := m.Current(); ok {
		fmt.Fprintf(out, "Expires: %s (in %s)\n", cred.ExpiresAt.In(a.loc).Format(layout), cred.ExpiresAt.Sub(now).Truncate(time.Second))
	}
	if day, ok := m.LastAutoAttempt(); ok {
		fmt.Fprintf(out, "Last automatic attempt: %s\n", day)
	}
	fmt.Fprintf(out, "Next automatic attempt: %s\n", m.NextAutoAttempt(now).In(a.loc).Format(layout))

	_, hasRefresh, err := a.kv.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		return err
	}
	if hasRefresh {
		fmt.Fprintln(out, "Refresh token: stored")
	} else {
		fmt.Fprintln(out, "Refresh token: missing (run \"calboard login\")")
	}

	fmt.Fprintln(out, "\n=== View ===")
	mode, ok, err := a.kv.Get(ctx, store.KeyViewMode)
	if err != nil {
		return err
	}
	if !ok {
		mode = "month (default)"
	}
	fmt.Fprintf(out, "Mode: %s\n", mode)
	fmt.Fprintf(out, "Source: %s\n", a.cfg.Source.Type)
	fmt.Fprintf(out, "Timezone: %s, week starts %s\n", a.loc, a.cfg.WeekStart)

	fmt.Fprintln(out, "\n=== Storage ===")
	fmt.Fprintf(out, "State file: %s\n", a.cfg.StatePath)
	version, dirty, err := a.kv.SchemaVersion()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(out, "Schema version: %d (dirty)\n", version)
	} else {
		fmt.Fprintf(out, "Schema version: %d\n", version)
	}
	return nil
}

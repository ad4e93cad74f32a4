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

func newLoginCmd(getCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize calendar access with the OAuth device flow",
		Long: `Run the OAuth device authorization flow. Open the printed URL on any
device, enter the code, and the granted refresh token is stored so that
"calboard serve" can log in automatically every day.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runLogin(ctx, getCfg(), cmd.OutOrStdout())
		},
	}
}

func runLogin(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.client_id is not configured")
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	device := &credential.DeviceFlowProvider{
		Config: a.oauth,
		Prompt: func(url, code string) {
			fmt.Fprintf(out, "Open %s\nand enter the code: %s\n", url, code)
		},
	}
	m := credential.NewManager(a.policy, device, a.writer)
	if err := m.Restore(ctx, a.kv); err != nil {
		return err
	}
	if err := m.Acquire(ctx, time.Now); err != nil {
		return err
	}
	a.writer.Flush()

	cred, _ := m.Current()
	fmt.Fprintf(out, "Logged in. Access token valid until %s.\n", cred.ExpiresAt.In(a.loc).Format(time.DateTime))
	return nil
}

func newLogoutCmd(getCfg func() *config.Config) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(cmd.Context(), getCfg(), forget, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "also delete the refresh token, disabling automatic login")
	return cmd
}

func runLogout(ctx context.Context, cfg *config.Config, forget bool, out io.Writer) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	m := credential.NewManager(a.policy, nil, a.writer)
	if err := m.Restore(ctx, a.kv); err != nil {
		return err
	}
	m.Logout()
	if forget {
		a.writer.Delete(store.KeyRefreshToken)
	}
	a.writer.Flush()

	fmt.Fprintln(out, "Logged out.")
	if forget {
		fmt.Fprintln(out, "Refresh token deleted; run \"calboard login\" to re-authorize.")
	}
	return nil
}

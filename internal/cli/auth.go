package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/session"
)

func newLoginCommand(app func() *App) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			ctx := cmd.Context()
			if a.resume(ctx) == session.Authenticated {
				fmt.Fprintf(cmd.OutOrStdout(), "already signed in as %s\n", a.session.Session().User.Email)
				return nil
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return apperror.ValidationFailed("password", "password is required")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if err := a.session.Login(ctx, email, password); err != nil {
				return err
			}
			a.session.Navigate(session.LoginRoute)
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", a.session.Session().User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			if a.resume(cmd.Context()) != session.Authenticated {
				fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
				return nil
			}
			a.session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newStatusCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and whether the remote store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			ctx := cmd.Context()
			state := a.resume(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend:   %s\n", a.config.BackendURL)
			reachable := "unreachable"
			if a.retry.CheckConnectivity(ctx, a.remote) {
				reachable = "reachable"
			}
			fmt.Fprintf(out, "store:     %s\n", reachable)
			fmt.Fprintf(out, "session:   %s\n", state)
			if sess := a.session.Session(); sess != nil {
				fmt.Fprintf(out, "user:      %s\n", sess.User.Email)
				fmt.Fprintf(out, "expires:   %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

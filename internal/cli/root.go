package cli

import (
	"github.com/spf13/cobra"

	"github.com/sakif/captured-thinkings/internal/config"
	"github.com/sakif/captured-thinkings/internal/logging"
)

// NewRootCommand builds the poetry command tree. Configuration is read
// from the environment (and .env) when a subcommand runs.
func NewRootCommand() *cobra.Command {
	var (
		app      *App
		logLevel string
	)

	root := &cobra.Command{
		Use:           "poetry",
		Short:         "Read and manage Captured Thinkings poems",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			app, err = NewApp(cfg, logger)
			return err
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	get := func() *App { return app }
	root.AddCommand(
		newLoginCommand(get),
		newLogoutCommand(get),
		newStatusCommand(get),
		newListCommand(get),
		newShowCommand(get),
		newLikeCommand(get),
		newCommentCommand(get),
		newUncommentCommand(get),
		newWatchCommand(get),
		newAdminCommand(get),
	)
	return root
}

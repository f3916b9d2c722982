package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/poems"
)

func languageFlag(cmd *cobra.Command, value *string) {
	cmd.Flags().StringVar(value, "language", "", "filter by language (english, kannada, all)")
}

func applyLanguage(store *poems.Store, value string) error {
	lang, ok := model.ParseLanguage(value)
	if !ok {
		return apperror.ValidationFailed("language", fmt.Sprintf("unknown language %q", value))
	}
	return store.SetLanguage(lang)
}

func newListCommand(app func() *App) *cobra.Command {
	var (
		language string
		featured bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published poems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			ctx := cmd.Context()
			a.resume(ctx)
			if err := applyLanguage(a.store, language); err != nil {
				return err
			}
			if err := a.store.Refresh(ctx, true); err != nil {
				return err
			}
			snap := a.store.Snapshot()
			list := snap.Visible()
			if featured {
				list = snap.Featured()
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return printPoems(cmd.OutOrStdout(), list)
		},
	}
	languageFlag(cmd, &language)
	cmd.Flags().BoolVar(&featured, "featured", false, "only featured poems")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newShowCommand(app func() *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <poem-id>",
		Short: "Read a poem with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			a.resume(ctx)
			a.session.Navigate("/poem/" + args[0])
			if err := a.store.Refresh(ctx, true); err != nil {
				return err
			}
			p, ok := a.store.Snapshot().Find(args[0])
			if !ok {
				return apperror.NotFound("poem", args[0])
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			printPoem(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newLikeCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "like <poem-id>",
		Short: "Like a poem, or unlike it if already liked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			a.resume(ctx)
			if err := a.store.Refresh(ctx, true); err != nil {
				return err
			}
			if err := a.store.ToggleLike(ctx, args[0]); err != nil {
				return err
			}
			p, _ := a.store.Snapshot().Find(args[0])
			verb := "unliked"
			if p.HasLiked {
				verb = "liked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q (%d likes)\n", verb, p.Title, p.LikeCount)
			return nil
		},
	}
}

func newCommentCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <poem-id> <text>...",
		Short: "Comment on a poem",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			a.resume(ctx)
			if err := a.store.AddComment(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			p, _ := a.store.Snapshot().Find(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "commented on %q (%d comments)\n", p.Title, len(p.Comments))
			return nil
		},
	}
}

func newUncommentCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "uncomment <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			a.resume(ctx)
			if err := a.store.DeleteComment(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "comment deleted")
			return nil
		},
	}
}

func newWatchCommand(app func() *App) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the poem list on screen, updating as readers like and comment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			ctx := cmd.Context()

			a.resume(ctx)
			a.session.Start(ctx)
			defer a.session.Stop()
			if err := applyLanguage(a.store, language); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cancel := a.store.Observe(func(s poems.Snapshot) {
				if s.Loading {
					return
				}
				if s.Err != nil {
					fmt.Fprintf(out, "error: %v\n", s.Err)
					return
				}
				fmt.Fprintf(out, "\n%s\n", s.FetchedAt.Local().Format("15:04:05"))
				_ = printPoems(out, s.Visible())
			})
			defer cancel()

			if err := a.store.Refresh(ctx, true); err != nil {
				return err
			}
			if err := a.store.Start(ctx); err != nil {
				return err
			}
			defer a.store.Stop()

			<-ctx.Done()
			return nil
		},
	}
	languageFlag(cmd, &language)
	return cmd
}

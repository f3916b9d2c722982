package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/session"
)

// newAdminCommand groups the content management commands. Every one of
// them enters the admin area first, so an anonymous viewer is turned away
// before anything is read or written.
func newAdminCommand(app func() *App) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage poems (requires sign-in)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if root := cmd.Root(); root.PersistentPreRunE != nil {
				if err := root.PersistentPreRunE(cmd, args); err != nil {
					return err
				}
			}
			return app().enter(cmd.Context(), session.AdminRoute)
		},
	}
	admin.AddCommand(
		newAdminListCommand(app),
		newAddCommand(app),
		newEditCommand(app),
		newDeleteCommand(app),
		newFeatureCommand(app),
		newVisibilityCommand(app),
		newUploadCommand(app),
	)
	return admin
}

func newAdminListCommand(app func() *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every poem, drafts included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			if err := a.store.Refresh(cmd.Context(), false); err != nil {
				return err
			}
			poems := a.store.Snapshot().Poems
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), poems)
			}
			return printPoems(cmd.OutOrStdout(), poems)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// poemFlags binds the editable fields of a poem.
type poemFlags struct {
	title, subtitle, content, contentFile, cover, language string
	listed                                                 bool
}

func (f *poemFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "poem title")
	cmd.Flags().StringVar(&f.subtitle, "subtitle", "", "optional subtitle")
	cmd.Flags().StringVar(&f.content, "content", "", "poem text")
	cmd.Flags().StringVar(&f.contentFile, "content-file", "", "read the poem text from a file")
	cmd.Flags().StringVar(&f.cover, "cover", "", "cover image URL")
	cmd.Flags().StringVar(&f.language, "language", string(model.English), "english or kannada")
	cmd.Flags().BoolVar(&f.listed, "listed", false, "publish immediately")
}

func (f *poemFlags) input() (model.PoemInput, error) {
	content := f.content
	if f.contentFile != "" {
		b, err := os.ReadFile(f.contentFile)
		if err != nil {
			return model.PoemInput{}, fmt.Errorf("cli: reading content file: %w", err)
		}
		content = string(b)
	}
	return model.PoemInput{
		Title:      f.title,
		Subtitle:   f.subtitle,
		Content:    content,
		CoverImage: f.cover,
		Language:   model.Language(f.language),
		IsListed:   f.listed,
	}, nil
}

func newAddCommand(app func() *App) *cobra.Command {
	var f poemFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a poem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := f.input()
			if err != nil {
				return err
			}
			a := app()
			if err := a.store.AddPoem(cmd.Context(), in); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %q\n", in.Title)
			return printPoems(cmd.OutOrStdout(), a.store.Snapshot().Poems)
		},
	}
	f.bind(cmd)
	return cmd
}

// newEditCommand overwrites every editable field, like the edit form does;
// omitted flags fall back to the poem's current values.
func newEditCommand(app func() *App) *cobra.Command {
	var f poemFlags
	cmd := &cobra.Command{
		Use:   "edit <poem-id>",
		Short: "Edit a poem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.store.Refresh(ctx, false); err != nil {
				return err
			}
			cur, ok := a.store.Snapshot().Find(args[0])
			if !ok {
				return apperror.NotFound("poem", args[0])
			}
			flags := cmd.Flags()
			if !flags.Changed("title") {
				f.title = cur.Title
			}
			if !flags.Changed("subtitle") {
				f.subtitle = cur.Subtitle
			}
			if !flags.Changed("content") && f.contentFile == "" {
				f.content = cur.Content
			}
			if !flags.Changed("cover") {
				f.cover = cur.CoverImage
			}
			if !flags.Changed("language") {
				f.language = string(cur.Language)
			}
			if !flags.Changed("listed") {
				f.listed = cur.IsListed
			}
			in, err := f.input()
			if err != nil {
				return err
			}
			if err := a.store.UpdatePoem(ctx, args[0], in); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %q\n", in.Title)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newDeleteCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <poem-id>",
		Short: "Delete a poem with its likes and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app().store.DeletePoem(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "poem deleted")
			return nil
		},
	}
}

func newFeatureCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "feature <poem-id>",
		Short: "Feature or unfeature a poem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.store.Refresh(ctx, false); err != nil {
				return err
			}
			if err := a.store.ToggleFeatured(ctx, args[0]); err != nil {
				return err
			}
			p, _ := a.store.Snapshot().Find(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%q featured: %t (%d of %d)\n",
				p.Title, p.IsFeatured, a.store.Snapshot().FeaturedCount(), model.MaxFeatured)
			return nil
		},
	}
}

func newVisibilityCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "visibility <poem-id>",
		Short: "Publish or unpublish a poem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.store.Refresh(ctx, false); err != nil {
				return err
			}
			if err := a.store.ToggleVisibility(ctx, args[0]); err != nil {
				return err
			}
			p, _ := a.store.Snapshot().Find(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%q listed: %t\n", p.Title, p.IsListed)
			return nil
		},
	}
}

func newUploadCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image-file>",
		Short: "Upload a cover image and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("cli: opening cover: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("cli: reading cover: %w", err)
			}

			url, err := app().store.UploadCover(cmd.Context(), filepath.Base(args[0]), f, info.Size(), "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

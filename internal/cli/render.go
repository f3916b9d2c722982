package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sakif/captured-thinkings/internal/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPoems(w io.Writer, poems []model.Poem) error {
	if len(poems) == 0 {
		_, err := fmt.Fprintln(w, "no poems")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tLANGUAGE\tFLAGS\tLIKES\tCOMMENTS")
	for _, p := range poems {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			p.ID, p.Title, p.Language, flags(p), p.LikeCount, len(p.Comments))
	}
	return tw.Flush()
}

func flags(p model.Poem) string {
	var f []string
	if !p.IsListed {
		f = append(f, "draft")
	}
	if p.IsFeatured {
		f = append(f, "featured")
	}
	if p.HasLiked {
		f = append(f, "liked")
	}
	if len(f) == 0 {
		return "-"
	}
	return strings.Join(f, ",")
}

func printPoem(w io.Writer, p model.Poem) {
	fmt.Fprintln(w, p.Title)
	if p.Subtitle != "" {
		fmt.Fprintln(w, p.Subtitle)
	}
	fmt.Fprintf(w, "%s · %s · %d likes\n\n", p.Language, p.CreatedAt.Local().Format("2 Jan 2006"), p.LikeCount)
	fmt.Fprintln(w, p.Content)
	if len(p.Comments) == 0 {
		return
	}
	fmt.Fprintf(w, "\nComments (%d)\n", len(p.Comments))
	for _, c := range p.Comments {
		fmt.Fprintf(w, "  [%s] %s  %s\n", c.ID, c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Content)
	}
}

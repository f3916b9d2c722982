package poems

import (
	"sort"
	"time"

	"github.com/sakif/captured-thinkings/internal/model"
)

// Snapshot is an immutable view of the store. Its slices are never
// modified after the snapshot is published; treat them as read-only.
type Snapshot struct {
	// Poems is the last fetched collection, newest first.
	Poems      []model.Poem
	ListedOnly bool
	// Language is the active filter; "" means all languages.
	Language  model.Language
	Loading   bool
	Err       error
	FetchedAt time.Time
}

// Visible is Poems narrowed to the active language.
func (s Snapshot) Visible() []model.Poem {
	if s.Language == "" {
		return s.Poems
	}
	out := make([]model.Poem, 0, len(s.Poems))
	for _, p := range s.Poems {
		if p.Language == s.Language {
			out = append(out, p)
		}
	}
	return out
}

// Featured returns the listed, featured poems.
func (s Snapshot) Featured() []model.Poem {
	var out []model.Poem
	for _, p := range s.Poems {
		if p.IsFeatured && p.IsListed {
			out = append(out, p)
		}
	}
	return out
}

// FeaturedCount counts featured poems regardless of visibility.
func (s Snapshot) FeaturedCount() int {
	n := 0
	for _, p := range s.Poems {
		if p.IsFeatured {
			n++
		}
	}
	return n
}

func (s Snapshot) Find(id string) (model.Poem, bool) {
	for _, p := range s.Poems {
		if p.ID == id {
			return p, true
		}
	}
	return model.Poem{}, false
}

// derive builds the viewer-specific poems from joined records.
func derive(records []model.PoemRecord, viewerID string) []model.Poem {
	out := make([]model.Poem, 0, len(records))
	for _, r := range records {
		p := model.Poem{
			ID:         r.ID,
			Title:      r.Title,
			Content:    r.Content,
			CoverImage: r.CoverImage,
			Language:   r.Language,
			IsListed:   r.IsListed,
			IsFeatured: r.IsFeatured,
			UserID:     r.UserID,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
			LikeCount:  len(r.Likes),
			Comments:   append([]model.Comment{}, r.Comments...),
		}
		if r.Subtitle != nil {
			p.Subtitle = *r.Subtitle
		}
		if viewerID != "" {
			for _, l := range r.Likes {
				if l.UserID == viewerID {
					p.HasLiked = true
					break
				}
			}
		}
		sort.SliceStable(p.Comments, func(i, j int) bool {
			return p.Comments[i].CreatedAt.Before(p.Comments[j].CreatedAt)
		})
		out = append(out, p)
	}
	return out
}

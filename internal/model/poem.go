package model

import (
	"strings"
	"time"
)

// Language is the language a poem is written in.
type Language string

const (
	English Language = "english"
	Kannada Language = "kannada"
)

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	return l == English || l == Kannada
}

// ParseLanguage accepts "english"/"kannada" in any case.
// The empty string and "all" mean "no filter" and return ok=true with "".
func ParseLanguage(s string) (Language, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "all":
		return "", true
	case string(English), string(Kannada):
		return Language(s), true
	}
	return "", false
}

const (
	// MaxFeatured caps how many poems may carry IsFeatured at once.
	MaxFeatured = 5

	// DefaultCoverImage is used when a poem is saved without a cover.
	DefaultCoverImage = "https://via.placeholder.com/600x400?text=Nature+Poem+Cover"
)

// Poem is the client-side view of a poem: the stored row plus fields derived
// for the current viewer (LikeCount, HasLiked, Comments).
//
// The derived fields are recomputed on every refresh; they are never written
// back to the remote store.
type Poem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Subtitle   string    `json:"subtitle,omitempty"`
	Content    string    `json:"content"`
	CoverImage string    `json:"coverImage"`
	Language   Language  `json:"language"`
	IsListed   bool      `json:"isListed"`
	IsFeatured bool      `json:"isFeatured"`
	UserID     string    `json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	LikeCount int       `json:"likeCount"`
	HasLiked  bool      `json:"hasLiked"`
	Comments  []Comment `json:"comments"`
}

// PoemRow is a row of the poems relation as stored by the remote store.
// The `db:"..."` tags document the column each field maps to.
type PoemRow struct {
	ID         string    `json:"id"          db:"id"`
	Title      string    `json:"title"       db:"title"`
	Subtitle   *string   `json:"subtitle"    db:"subtitle"`
	Content    string    `json:"content"     db:"content"`
	CoverImage string    `json:"cover_image" db:"cover_image"`
	Language   Language  `json:"language"    db:"language"`
	IsListed   bool      `json:"is_listed"   db:"is_listed"`
	IsFeatured bool      `json:"is_featured" db:"is_featured"`
	UserID     string    `json:"user_id"     db:"user_id"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"  db:"updated_at"`
}

// PoemRecord is a poem row joined with its like and comment rows.
// It is what the remote store returns for a collection read.
type PoemRecord struct {
	PoemRow
	Likes    []Like    `json:"poem_likes"`
	Comments []Comment `json:"poem_comments"`
}

// PoemInput is the payload for creating or fully updating a poem.
// Struct tags drive validation (see internal/validation).
type PoemInput struct {
	Title      string   `json:"title"       validate:"required,max=200"`
	Subtitle   string   `json:"subtitle"    validate:"max=300"`
	Content    string   `json:"content"     validate:"required,max=50000"`
	CoverImage string   `json:"cover_image" validate:"omitempty,http_url"`
	Language   Language `json:"language"    validate:"required,oneof=english kannada"`
	IsListed   bool     `json:"is_listed"`
}

// Normalize trims text fields and fills in the default cover image.
func (in PoemInput) Normalize() PoemInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Subtitle = strings.TrimSpace(in.Subtitle)
	in.CoverImage = strings.TrimSpace(in.CoverImage)
	in.Language = Language(strings.ToLower(strings.TrimSpace(string(in.Language))))
	if strings.TrimSpace(in.Content) == "" {
		in.Content = ""
	}
	if in.CoverImage == "" {
		in.CoverImage = DefaultCoverImage
	}
	return in
}

// Patch turns a full input into a patch that overwrites every editable field.
// IsFeatured is left untouched: featuring has its own operation.
func (in PoemInput) Patch() PoemPatch {
	var subtitle *string
	if in.Subtitle != "" {
		subtitle = &in.Subtitle
	}
	return PoemPatch{
		Title:       &in.Title,
		Subtitle:    subtitle,
		SubtitleSet: true,
		Content:     &in.Content,
		CoverImage:  &in.CoverImage,
		Language:    &in.Language,
		IsListed:    &in.IsListed,
	}
}

// PoemPatch is a partial update of a poem row. Nil fields are left unchanged.
//
// Subtitle is nullable in storage, so a nil Subtitle is ambiguous; SubtitleSet
// distinguishes "clear the subtitle" from "leave it alone".
type PoemPatch struct {
	Title       *string   `json:"title,omitempty"`
	Subtitle    *string   `json:"subtitle,omitempty"`
	SubtitleSet bool      `json:"subtitle_set,omitempty"`
	Content     *string   `json:"content,omitempty"`
	CoverImage  *string   `json:"cover_image,omitempty"`
	Language    *Language `json:"language,omitempty"`
	IsListed    *bool     `json:"is_listed,omitempty"`
	IsFeatured  *bool     `json:"is_featured,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p PoemPatch) Empty() bool {
	return p.Title == nil && p.Subtitle == nil && !p.SubtitleSet && p.Content == nil &&
		p.CoverImage == nil && p.Language == nil && p.IsListed == nil && p.IsFeatured == nil
}

// Apply copies the non-nil fields of p onto row.
func (p PoemPatch) Apply(row *PoemRow) {
	if p.Title != nil {
		row.Title = *p.Title
	}
	if p.Subtitle != nil || p.SubtitleSet {
		row.Subtitle = p.Subtitle
	}
	if p.Content != nil {
		row.Content = *p.Content
	}
	if p.CoverImage != nil {
		row.CoverImage = *p.CoverImage
	}
	if p.Language != nil {
		row.Language = *p.Language
	}
	if p.IsListed != nil {
		row.IsListed = *p.IsListed
	}
	if p.IsFeatured != nil {
		row.IsFeatured = *p.IsFeatured
	}
}

// Bool and String return pointers to their argument, for building patches.
func Bool(b bool) *bool       { return &b }
func String(s string) *string { return &s }

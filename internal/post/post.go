// internal/post/post.go
//
// Articles and their lifecycle.
//   - Create stamps the author from the acting identity and derives the slug
//     and description.
//   - Updates are partial. A new title means a new slug; new content means a
//     new description unless one is supplied alongside it.
//   - Update and delete re-check ownership inside the write transaction.

package post

import (
	"errors"
	"strings"
	"time"

	"github.com/schoolpaper/newsroom/internal/validation"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

const (
	MaxTags           = 10
	MaxTagLength      = 50
	MaxDescriptionLen = 160
)

var (
	ErrNotFound = errors.New("post not found")
	// ErrSlugTaken means a concurrent writer took the slug first.
	ErrSlugTaken = errors.New("slug already taken")
)

// Post is a stored article. AuthorDeleted is computed on read: the post has
// an AuthorID but no such user exists any more.
type Post struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	Content       string    `json:"content"`
	CoverImage    string    `json:"coverImage,omitempty"`
	Description   string    `json:"description"`
	Date          time.Time `json:"date"`
	Author        string    `json:"author,omitempty"`
	AuthorID      string    `json:"authorId,omitempty"`
	AuthorGrade   string    `json:"authorGrade,omitempty"`
	AuthorClass   int       `json:"authorClass,omitempty"`
	AuthorDeleted bool      `json:"authorDeleted"`
	Tags          []string  `json:"tags"`
	Category      string    `json:"category"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsPublished reports whether public pages may show p.
func (p *Post) IsPublished() bool { return p.Status == StatusPublished }

// Author is the acting identity stamped onto new posts. An empty ID leaves
// the post without an owner (legacy admin).
type Author struct {
	ID    string
	Name  string
	Grade string
	Class int
}

// Input creates a post. Only Title and Content are required.
type Input struct {
	Title       string     `json:"title" validate:"notblank,max=200"`
	Content     string     `json:"content" validate:"notblank"`
	CoverImage  string     `json:"coverImage" validate:"max=2048"`
	Description string     `json:"description" validate:"max=160"`
	Date        *time.Time `json:"date"`
	Author      string     `json:"author" validate:"max=100"`
	AuthorID    string     `json:"authorId"`
	AuthorGrade string     `json:"authorGrade"`
	AuthorClass int        `json:"authorClass" validate:"omitempty,min=1,max=4"`
	Tags        []string   `json:"tags" validate:"max=10,dive,max=50"`
	Category    string     `json:"category" validate:"max=50"`
	Status      Status     `json:"status" validate:"omitempty,oneof=draft published"`
}

// Patch is a partial update; nil fields keep their stored value.
type Patch struct {
	Title       *string    `json:"title" validate:"omitempty,notblank,max=200"`
	Content     *string    `json:"content" validate:"omitempty,notblank"`
	CoverImage  *string    `json:"coverImage" validate:"omitempty,max=2048"`
	Description *string    `json:"description" validate:"omitempty,max=160"`
	Date        *time.Time `json:"date"`
	Author      *string    `json:"author" validate:"omitempty,max=100"`
	AuthorGrade *string    `json:"authorGrade"`
	AuthorClass *int       `json:"authorClass" validate:"omitempty,min=0,max=4"`
	Tags        *[]string  `json:"tags" validate:"omitempty,max=10,dive,max=50"`
	Category    *string    `json:"category" validate:"omitempty,max=50"`
	Status      *Status    `json:"status" validate:"omitempty,oneof=draft published"`
}

func init() {
	validation.SetMessage("title", "notblank", "Title and content are required")
	validation.SetMessage("content", "notblank", "Title and content are required")
	validation.SetMessage("tags", "max", "A post may have at most 10 tags")
	validation.SetMessage("description", "max", "Description must be at most 160 characters")
}

// Validate normalizes tags and checks field rules.
func (in *Input) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Tags = NormalizeTags(in.Tags)
	if err := validation.Struct(in); err != nil {
		return tagLengthMessage(err)
	}
	return nil
}

// Validate normalizes tags and checks field rules.
func (p *Patch) Validate() error {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return validation.New("title", "notblank", "Title cannot be empty")
		}
		p.Title = &t
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return validation.New("content", "notblank", "Content cannot be empty")
	}
	if p.Tags != nil {
		tags := NormalizeTags(*p.Tags)
		p.Tags = &tags
	}
	if err := validation.Struct(p); err != nil {
		return tagLengthMessage(err)
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.CoverImage == nil && p.Description == nil &&
		p.Date == nil && p.Author == nil && p.AuthorGrade == nil && p.AuthorClass == nil &&
		p.Tags == nil && p.Category == nil && p.Status == nil
}

// NormalizeTags trims every tag and drops empty ones, keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// dive errors come back as tags[3]; give them one readable message.
func tagLengthMessage(err error) error {
	var ve *validation.Error
	if errors.As(err, &ve) && strings.HasPrefix(ve.Fields[0].Field, "tags[") {
		return validation.New("tags", "max", "Each tag must be at most 50 characters")
	}
	return err
}

// CanEdit reports whether actorID may change a post owned by authorID.
func CanEdit(actorID, authorID string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	return actorID != "" && authorID == actorID
}

// CanDelete follows the same ownership rule as CanEdit.
func CanDelete(actorID, authorID string, isAdmin bool) bool {
	return CanEdit(actorID, authorID, isAdmin)
}

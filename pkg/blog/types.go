package blog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPostNotFound   = errors.New("post not found")
	ErrAuthorNotFound = errors.New("author not found")
	ErrAuthorInUse    = errors.New("author is referenced by posts")
	ErrInvalidPost    = errors.New("invalid post")
	ErrInvalidAuthor  = errors.New("invalid author")
)

// Status is the publication state of a post
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// SEO is the search metadata block of a post
type SEO struct {
	MetaTitle       string   `json:"meta_title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	OGImage         string   `json:"og_image,omitempty"`
	CanonicalURL    string   `json:"canonical_url,omitempty"`
}

// SocialLinks are the public profiles of an author
type SocialLinks struct {
	LinkedIn string `json:"linkedin,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
}

// Author writes posts
type Author struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Bio         string       `json:"bio"`
	Email       string       `json:"email"`
	Headshot    string       `json:"headshot,omitempty"`
	Position    string       `json:"position,omitempty"`
	SocialLinks *SocialLinks `json:"social_links,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Post is a blog post as stored
type Post struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Excerpt       string     `json:"excerpt"`
	Content       string     `json:"content"`
	AuthorID      string     `json:"author_id"`
	FeaturedImage string     `json:"featured_image,omitempty"`
	Images        []string   `json:"images,omitempty"`
	VideoURL      string     `json:"video_url,omitempty"`
	Status        Status     `json:"status"`
	Category      string     `json:"category,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	SEO           SEO        `json:"seo"`
	ReadingTime   int        `json:"reading_time"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// sortTime is the publish time, falling back to creation
func (p Post) sortTime() time.Time {
	if p.PublishedAt != nil {
		return *p.PublishedAt
	}
	return p.CreatedAt
}

// PostView is a post with its author attached. Author is nil when the
// referenced author no longer exists.
type PostView struct {
	Post
	Author *Author `json:"author,omitempty"`
}

// CreatePostInput holds the editable fields of a new post
type CreatePostInput struct {
	Title         string   `json:"title"`
	Excerpt       string   `json:"excerpt"`
	Content       string   `json:"content"`
	AuthorID      string   `json:"author_id"`
	FeaturedImage string   `json:"featured_image,omitempty"`
	Images        []string `json:"images,omitempty"`
	VideoURL      string   `json:"video_url,omitempty"`
	Status        Status   `json:"status,omitempty"`
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	SEO           SEO      `json:"seo"`
}

// UpdatePostInput is a partial update; nil fields are left unchanged
type UpdatePostInput struct {
	Title         *string   `json:"title,omitempty"`
	Excerpt       *string   `json:"excerpt,omitempty"`
	Content       *string   `json:"content,omitempty"`
	AuthorID      *string   `json:"author_id,omitempty"`
	FeaturedImage *string   `json:"featured_image,omitempty"`
	Images        *[]string `json:"images,omitempty"`
	VideoURL      *string   `json:"video_url,omitempty"`
	Status        *Status   `json:"status,omitempty"`
	Category      *string   `json:"category,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	SEO           *SEO      `json:"seo,omitempty"`
}

// AuthorInput holds the editable fields of an author
type AuthorInput struct {
	Name        string       `json:"name"`
	Bio         string       `json:"bio"`
	Email       string       `json:"email"`
	Headshot    string       `json:"headshot,omitempty"`
	Position    string       `json:"position,omitempty"`
	SocialLinks *SocialLinks `json:"social_links,omitempty"`
}

// UpdateAuthorInput is a partial author update
type UpdateAuthorInput struct {
	Name        *string      `json:"name,omitempty"`
	Bio         *string      `json:"bio,omitempty"`
	Email       *string      `json:"email,omitempty"`
	Headshot    *string      `json:"headshot,omitempty"`
	Position    *string      `json:"position,omitempty"`
	SocialLinks *SocialLinks `json:"social_links,omitempty"`
}

// DeletePolicy decides what happens to posts when their author is deleted
type DeletePolicy string

const (
	// DeleteRestrict refuses to delete an author that still has posts
	DeleteRestrict DeletePolicy = "restrict"
	// DeleteOrphan deletes the author and leaves posts pointing at it
	DeleteOrphan DeletePolicy = "orphan"
	// DeleteCascade deletes the author together with its posts
	DeleteCascade DeletePolicy = "cascade"
)

// ParseDeletePolicy maps a config value to a DeletePolicy
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch p := DeletePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DeleteRestrict, DeleteOrphan, DeleteCascade:
		return p, nil
	case "":
		return DeleteRestrict, nil
	}
	return "", fmt.Errorf("unknown author delete policy %q", s)
}

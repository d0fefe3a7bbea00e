package blog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/sanitize"
	"github.com/mustardtree/portal/pkg/storage"
	"github.com/mustardtree/portal/pkg/webhooks"
)

// Service manages posts and authors. Both collections are seeded with one
// author and one published post on first access.
type Service struct {
	posts   *storage.Collection[Post]
	authors *storage.Collection[Author]
	policy  DeletePolicy
	events  webhooks.Publisher
	now     func() time.Time
}

// NewService stores posts under storage.KeyPosts and authors under
// storage.KeyAuthors
func NewService(kv storage.KV, policy DeletePolicy, opts ...storage.CollectionOption) *Service {
	if policy == "" {
		policy = DeleteRestrict
	}
	s := &Service{
		policy: policy,
		now:    time.Now,
	}
	s.posts = storage.NewCollection[Post](kv, storage.KeyPosts, func() []Post {
		return defaultPosts(s.now())
	}, opts...)
	s.authors = storage.NewCollection[Author](kv, storage.KeyAuthors, func() []Author {
		return defaultAuthors(s.now())
	}, opts...)
	return s
}

// SetPublisher routes post events to p
func (s *Service) SetPublisher(p webhooks.Publisher) {
	s.events = p
}

func (s *Service) published(ctx context.Context, p *Post) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, webhooks.EventPostPublished, map[string]interface{}{
		"post_id": p.ID,
		"title":   p.Title,
		"slug":    p.Slug,
	})
}

// DeletePolicy returns the configured author delete policy
func (s *Service) DeletePolicy() DeletePolicy {
	return s.policy
}

func validatePost(title string, status Status) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidPost)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPost, status)
	}
	return nil
}

// CreatePost sanitizes input, derives slug and reading time and stores the
// post. Status defaults to draft.
func (s *Service) CreatePost(ctx context.Context, in CreatePostInput) (*Post, error) {
	title := sanitize.Text(in.Title)
	status := in.Status
	if status == "" {
		status = StatusDraft
	}
	if err := validatePost(title, status); err != nil {
		return nil, err
	}
	if _, err := s.GetAuthor(ctx, in.AuthorID); err != nil {
		return nil, err
	}

	now := s.now()
	content := sanitize.Text(in.Content)
	post := Post{
		ID:            uuid.New().String(),
		Title:         title,
		Slug:          GenerateSlug(title),
		Excerpt:       sanitize.Text(in.Excerpt),
		Content:       content,
		AuthorID:      in.AuthorID,
		FeaturedImage: in.FeaturedImage,
		Images:        in.Images,
		VideoURL:      in.VideoURL,
		Status:        status,
		Category:      sanitize.Text(in.Category),
		Tags:          in.Tags,
		SEO:           in.SEO,
		ReadingTime:   ReadingTime(content),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if status == StatusPublished {
		post.PublishedAt = &now
	}

	_, err := s.posts.Update(ctx, func(items []Post) ([]Post, error) {
		return append(items, post), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store post: %w", err)
	}

	observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"post_id": post.ID,
		"slug":    post.Slug,
		"status":  post.Status,
	}).Info("post created")
	if post.Status == StatusPublished {
		s.published(ctx, &post)
	}
	return &post, nil
}

// UpdatePost merges the non-nil fields of in. A new title re-derives the
// slug, new content re-derives the reading time, and the first transition
// to published stamps published_at.
func (s *Service) UpdatePost(ctx context.Context, id string, in UpdatePostInput) (*Post, error) {
	if in.AuthorID != nil {
		if _, err := s.GetAuthor(ctx, *in.AuthorID); err != nil {
			return nil, err
		}
	}

	var (
		updated      Post
		firstPublish bool
	)
	_, err := s.posts.Update(ctx, func(items []Post) ([]Post, error) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			p := items[i]
			if err := applyPostUpdate(&p, in); err != nil {
				return nil, err
			}
			now := s.now()
			firstPublish = p.Status == StatusPublished && p.PublishedAt == nil
			if firstPublish {
				p.PublishedAt = &now
			}
			p.UpdatedAt = now
			items[i] = p
			updated = p
			return items, nil
		}
		return nil, ErrPostNotFound
	})
	if err != nil {
		return nil, err
	}
	if firstPublish {
		s.published(ctx, &updated)
	}
	return &updated, nil
}

func applyPostUpdate(p *Post, in UpdatePostInput) error {
	if in.Title != nil {
		p.Title = sanitize.Text(*in.Title)
		p.Slug = GenerateSlug(p.Title)
	}
	if in.Excerpt != nil {
		p.Excerpt = sanitize.Text(*in.Excerpt)
	}
	if in.Content != nil {
		p.Content = sanitize.Text(*in.Content)
		p.ReadingTime = ReadingTime(p.Content)
	}
	if in.AuthorID != nil {
		p.AuthorID = *in.AuthorID
	}
	if in.FeaturedImage != nil {
		p.FeaturedImage = *in.FeaturedImage
	}
	if in.Images != nil {
		p.Images = *in.Images
	}
	if in.VideoURL != nil {
		p.VideoURL = *in.VideoURL
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
	if in.Category != nil {
		p.Category = sanitize.Text(*in.Category)
	}
	if in.Tags != nil {
		p.Tags = *in.Tags
	}
	if in.SEO != nil {
		p.SEO = *in.SEO
	}
	return validatePost(p.Title, p.Status)
}

// DeletePost removes a post. It reports false when no post has id.
func (s *Service) DeletePost(ctx context.Context, id string) (bool, error) {
	deleted := false
	_, err := s.posts.Update(ctx, func(items []Post) ([]Post, error) {
		for i, p := range items {
			if p.ID == id {
				deleted = true
				return append(items[:i], items[i+1:]...), nil
			}
		}
		deleted = false
		return nil, storage.ErrSkipWrite
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ListPosts returns every post with its author, in storage order
func (s *Service) ListPosts(ctx context.Context) ([]PostView, error) {
	posts, err := s.posts.Load(ctx)
	if err != nil {
		return nil, err
	}
	authors, err := s.authorIndex(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, attach(p, authors))
	}
	return views, nil
}

// GetPost returns one post by id
func (s *Service) GetPost(ctx context.Context, id string) (*PostView, error) {
	return s.findPost(ctx, func(p Post) bool { return p.ID == id })
}

// GetPostBySlug returns the post with slug
func (s *Service) GetPostBySlug(ctx context.Context, slug string) (*PostView, error) {
	return s.findPost(ctx, func(p Post) bool { return p.Slug == slug })
}

func (s *Service) findPost(ctx context.Context, match func(Post) bool) (*PostView, error) {
	views, err := s.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		if match(v.Post) {
			return &v, nil
		}
	}
	return nil, ErrPostNotFound
}

// GetPublishedPosts returns published posts, newest first by publish time
// (creation time when never stamped)
func (s *Service) GetPublishedPosts(ctx context.Context) ([]PostView, error) {
	views, err := s.ListPosts(ctx)
	if err != nil {
		return nil, err
	}

	published := make([]PostView, 0, len(views))
	for _, v := range views {
		if v.Status == StatusPublished {
			published = append(published, v)
		}
	}
	sort.SliceStable(published, func(i, j int) bool {
		return published[i].sortTime().After(published[j].sortTime())
	})
	return published, nil
}

func attach(p Post, authors map[string]Author) PostView {
	v := PostView{Post: p}
	if a, ok := authors[p.AuthorID]; ok {
		v.Author = &a
	}
	return v
}

func (s *Service) authorIndex(ctx context.Context) (map[string]Author, error) {
	authors, err := s.authors.Load(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]Author, len(authors))
	for _, a := range authors {
		index[a.ID] = a
	}
	return index, nil
}

// ListAuthors returns every author
func (s *Service) ListAuthors(ctx context.Context) ([]Author, error) {
	return s.authors.Load(ctx)
}

// GetAuthor returns one author by id
func (s *Service) GetAuthor(ctx context.Context, id string) (*Author, error) {
	authors, err := s.authors.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range authors {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrAuthorNotFound
}

func validateAuthor(a Author) error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAuthor)
	}
	if a.Email != "" && !sanitize.ValidEmail(a.Email) {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidAuthor, a.Email)
	}
	return nil
}

// CreateAuthor stores a new author
func (s *Service) CreateAuthor(ctx context.Context, in AuthorInput) (*Author, error) {
	now := s.now()
	author := Author{
		ID:          uuid.New().String(),
		Name:        sanitize.Text(in.Name),
		Bio:         sanitize.Text(in.Bio),
		Email:       sanitize.Text(in.Email),
		Headshot:    in.Headshot,
		Position:    sanitize.Text(in.Position),
		SocialLinks: in.SocialLinks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateAuthor(author); err != nil {
		return nil, err
	}

	_, err := s.authors.Update(ctx, func(items []Author) ([]Author, error) {
		return append(items, author), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store author: %w", err)
	}
	return &author, nil
}

// UpdateAuthor merges the non-nil fields of in
func (s *Service) UpdateAuthor(ctx context.Context, id string, in UpdateAuthorInput) (*Author, error) {
	var updated Author
	_, err := s.authors.Update(ctx, func(items []Author) ([]Author, error) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			a := items[i]
			if in.Name != nil {
				a.Name = sanitize.Text(*in.Name)
			}
			if in.Bio != nil {
				a.Bio = sanitize.Text(*in.Bio)
			}
			if in.Email != nil {
				a.Email = sanitize.Text(*in.Email)
			}
			if in.Headshot != nil {
				a.Headshot = *in.Headshot
			}
			if in.Position != nil {
				a.Position = sanitize.Text(*in.Position)
			}
			if in.SocialLinks != nil {
				a.SocialLinks = in.SocialLinks
			}
			if err := validateAuthor(a); err != nil {
				return nil, err
			}
			a.UpdatedAt = s.now()
			items[i] = a
			updated = a
			return items, nil
		}
		return nil, ErrAuthorNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteAuthor removes an author according to the delete policy and returns
// the number of posts removed with it (cascade only).
func (s *Service) DeleteAuthor(ctx context.Context, id string) (int, error) {
	if _, err := s.GetAuthor(ctx, id); err != nil {
		return 0, err
	}

	if s.policy == DeleteRestrict {
		posts, err := s.posts.Load(ctx)
		if err != nil {
			return 0, err
		}
		for _, p := range posts {
			if p.AuthorID == id {
				return 0, fmt.Errorf("%w: post %s", ErrAuthorInUse, p.ID)
			}
		}
	}

	_, err := s.authors.Update(ctx, func(items []Author) ([]Author, error) {
		for i, a := range items {
			if a.ID == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrAuthorNotFound
	})
	if err != nil {
		return 0, err
	}

	logger := observability.GetLogger(ctx).WithField("author_id", id).WithField("policy", s.policy)
	if s.policy != DeleteCascade {
		logger.Info("author deleted")
		return 0, nil
	}

	removed := 0
	_, err = s.posts.Update(ctx, func(items []Post) ([]Post, error) {
		removed = 0
		kept := items[:0]
		for _, p := range items {
			if p.AuthorID == id {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		if removed == 0 {
			return nil, storage.ErrSkipWrite
		}
		return kept, nil
	})
	if err != nil {
		return 0, fmt.Errorf("author deleted but removing posts failed: %w", err)
	}
	logger.WithField("posts_removed", removed).Info("author deleted")
	return removed, nil
}

// IsNotFound reports whether err is one of the blog not-found errors
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPostNotFound) || errors.Is(err, ErrAuthorNotFound)
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mustardtree/portal/pkg/blog"
	"github.com/mustardtree/portal/pkg/httputil"
	"github.com/mustardtree/portal/pkg/middleware"
	"github.com/mustardtree/portal/pkg/rbac"
)

// ContentHandlers serves blog posts and authors
type ContentHandlers struct {
	gate *middleware.Gate
	blog *blog.Service
}

// NewContentHandlers creates the blog handlers
func NewContentHandlers(gate *middleware.Gate, service *blog.Service) *ContentHandlers {
	return &ContentHandlers{gate: gate, blog: service}
}

// RegisterRoutes registers public and admin content routes
func (h *ContentHandlers) RegisterRoutes(router *mux.Router) {
	// Public
	router.Handle("/api/posts", guard(h.gate, rbac.PostRead, h.listPublished)).Methods("GET")
	router.Handle("/api/posts/{slug}", guard(h.gate, rbac.PostRead, h.getPublished)).Methods("GET")
	router.Handle("/api/authors", guard(h.gate, rbac.AuthorRead, h.listAuthors)).Methods("GET")

	// Admin
	router.Handle("/api/admin/posts", guard(h.gate, rbac.PostUpdate, h.listPosts)).Methods("GET")
	router.Handle("/api/admin/posts", guard(h.gate, rbac.PostCreate, h.createPost)).Methods("POST")
	router.Handle("/api/admin/posts/{id}", guard(h.gate, rbac.PostUpdate, h.getPost)).Methods("GET")
	router.Handle("/api/admin/posts/{id}", guard(h.gate, rbac.PostUpdate, h.updatePost)).Methods("PUT")
	router.Handle("/api/admin/posts/{id}", guard(h.gate, rbac.PostDelete, h.deletePost)).Methods("DELETE")

	router.Handle("/api/admin/authors", guard(h.gate, rbac.AuthorCreate, h.createAuthor)).Methods("POST")
	router.Handle("/api/admin/authors/{id}", guard(h.gate, rbac.AuthorUpdate, h.updateAuthor)).Methods("PUT")
	router.Handle("/api/admin/authors/{id}", guard(h.gate, rbac.AuthorDelete, h.deleteAuthor)).Methods("DELETE")
}

// postDetail is a post with its rendered body
type postDetail struct {
	blog.PostView
	HTML string `json:"html"`
}

// listPublished handles GET /api/posts
func (h *ContentHandlers) listPublished(w http.ResponseWriter, r *http.Request) {
	posts, err := h.blog.GetPublishedPosts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, posts)
}

// getPublished handles GET /api/posts/{slug}. Drafts are only visible to
// editors.
func (h *ContentHandlers) getPublished(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	post, err := h.blog.GetPostBySlug(r.Context(), slug)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if post.Status != blog.StatusPublished && !rbac.Can(principal(r).Role, rbac.PostUpdate) {
		writeServiceError(w, r, blog.ErrPostNotFound)
		return
	}

	httputil.WriteSuccess(w, postDetail{PostView: *post, HTML: blog.RenderPost(post.Post).String()})
}

// listPosts handles GET /api/admin/posts
func (h *ContentHandlers) listPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.blog.ListPosts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, posts)
}

// getPost handles GET /api/admin/posts/{id}
func (h *ContentHandlers) getPost(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	post, err := h.blog.GetPost(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, post)
}

// createPost handles POST /api/admin/posts
func (h *ContentHandlers) createPost(w http.ResponseWriter, r *http.Request) {
	var in blog.CreatePostInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	post, err := h.blog.CreatePost(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, post)
}

// updatePost handles PUT /api/admin/posts/{id}
func (h *ContentHandlers) updatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var in blog.UpdatePostInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	post, err := h.blog.UpdatePost(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, post)
}

// deletePost handles DELETE /api/admin/posts/{id}
func (h *ContentHandlers) deletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.blog.DeletePost(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !deleted {
		writeServiceError(w, r, blog.ErrPostNotFound)
		return
	}
	httputil.WriteNoContent(w)
}

// listAuthors handles GET /api/authors
func (h *ContentHandlers) listAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.blog.ListAuthors(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, authors)
}

// createAuthor handles POST /api/admin/authors
func (h *ContentHandlers) createAuthor(w http.ResponseWriter, r *http.Request) {
	var in blog.AuthorInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	author, err := h.blog.CreateAuthor(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, author)
}

// updateAuthor handles PUT /api/admin/authors/{id}
func (h *ContentHandlers) updateAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var in blog.UpdateAuthorInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	author, err := h.blog.UpdateAuthor(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, author)
}

// deleteAuthor handles DELETE /api/admin/authors/{id}
func (h *ContentHandlers) deleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	removed, err := h.blog.DeleteAuthor(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"success":       true,
		"policy":        h.blog.DeletePolicy(),
		"posts_deleted": removed,
	})
}

package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postResponse struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
	HTML   string `json:"html"`
	Author *struct {
		Name string `json:"name"`
	} `json:"author"`
}

func TestContent_PublicPosts(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, "GET", "/api/posts", "", "")
	requireStatus(t, rec, http.StatusOK)
	var posts []postResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	require.Len(t, posts, 1)
	assert.Equal(t, "understanding-modern-corporate-governance", posts[0].Slug)
	require.NotNil(t, posts[0].Author)
	assert.Equal(t, "MustardTree Team", posts[0].Author.Name)

	rec = s.doJSON(t, "GET", "/api/posts/understanding-modern-corporate-governance", "", "")
	requireStatus(t, rec, http.StatusOK)
	var detail postResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Contains(t, detail.HTML, "<h1")

	rec = s.doJSON(t, "GET", "/api/posts/no-such-post", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContent_DraftLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, "POST", "/api/admin/posts", "staff",
		`{"title":"Quarterly Outlook: 2025","content":"Hello **world**","author_id":"1"}`)
	requireStatus(t, rec, http.StatusCreated)
	var created postResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "quarterly-outlook-2025", created.Slug)
	assert.Equal(t, "draft", created.Status)

	rec = s.doJSON(t, "GET", "/api/posts/quarterly-outlook-2025", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "drafts are hidden from the public")

	rec = s.doJSON(t, "GET", "/api/posts/quarterly-outlook-2025", "staff", "")
	requireStatus(t, rec, http.StatusOK)
	var preview postResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.Contains(t, preview.HTML, "<strong>world</strong>")

	rec = s.doJSON(t, "PUT", "/api/admin/posts/"+created.ID, "staff", `{"status":"published"}`)
	requireStatus(t, rec, http.StatusOK)

	rec = s.doJSON(t, "GET", "/api/posts/quarterly-outlook-2025", "", "")
	requireStatus(t, rec, http.StatusOK)

	rec = s.doJSON(t, "DELETE", "/api/admin/posts/"+created.ID, "staff", "")
	requireStatus(t, rec, http.StatusNoContent)
	rec = s.doJSON(t, "DELETE", "/api/admin/posts/"+created.ID, "staff", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContent_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing title", `{"title":"","content":"x","author_id":"1"}`, http.StatusBadRequest},
		{"unknown author", `{"title":"T","content":"x","author_id":"nope"}`, http.StatusNotFound},
		{"bad status", `{"title":"T","content":"x","author_id":"1","status":"live"}`, http.StatusBadRequest},
		{"malformed json", `{"title":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.doJSON(t, "POST", "/api/admin/posts", "staff", tt.body)
			assert.Equal(t, tt.want, rec.Code, "body: %s", rec.Body.String())
		})
	}
}

func TestContent_Authors(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, "DELETE", "/api/admin/authors/1", "staff", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "restrict policy keeps authors with posts")

	rec = s.doJSON(t, "POST", "/api/admin/authors", "staff", `{"name":"Dana Reyes","email":"dana@mustardtree.com"}`)
	requireStatus(t, rec, http.StatusCreated)
	var author struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &author))

	rec = s.doJSON(t, "PUT", "/api/admin/authors/"+author.ID, "staff", `{"position":"Partner"}`)
	requireStatus(t, rec, http.StatusOK)

	rec = s.doJSON(t, "DELETE", "/api/admin/authors/"+author.ID, "staff", "")
	requireStatus(t, rec, http.StatusOK)

	rec = s.doJSON(t, "POST", "/api/admin/authors", "acme", `{"name":"X"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

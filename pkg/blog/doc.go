// Package blog stores posts and authors and renders post bodies.
//
// Posts carry a slug derived from the title and a reading time derived from
// the content; both are recomputed when the source field changes. Titles,
// excerpts and markdown bodies go through sanitize.Text before they are
// stored. RenderMarkdown applies the sanitize.HTML allowlist to the rendered
// body, not to the markdown source.
//
// Deleting an author follows the configured DeletePolicy:
//
//	restrict  refuse while posts reference the author (ErrAuthorInUse)
//	orphan    delete the author, posts keep the dangling author_id
//	cascade   delete the author and every post it wrote
package blog

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Post model
// and its comment/media children.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Authorization and transition legality
// live in services.PostService.
//
// Error semantics:
//   - When a post is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// PostFilter narrows post listings. Zero-valued fields are ignored.
type PostFilter struct {
	ArtistID  string
	Status    domain.Status
	Platform  domain.Platform
	FromDate  *time.Time // scheduled_at >= FromDate
	UntilDate *time.Time // scheduled_at < UntilDate
}

func applyPostFilter(q *gorm.DB, f PostFilter) *gorm.DB {
	if f.ArtistID != "" {
		q = q.Where("artist_id = ?", f.ArtistID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Platform != "" {
		q = q.Where("platform = ?", f.Platform)
	}
	if f.FromDate != nil {
		q = q.Where("scheduled_at >= ?", *f.FromDate)
	}
	if f.UntilDate != nil {
		q = q.Where("scheduled_at < ?", *f.UntilDate)
	}
	return q
}

// CreatePost inserts a new Post row with a UUID primary key. The caller has
// already validated the fields; creation always lands in status draft unless
// p.Status is set explicitly.
func CreatePost(ctx context.Context, db *gorm.DB, p *domain.Post) (*domain.Post, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.StatusDraft
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPost fetches a single post by ID, or ErrNotFound if missing.
func GetPost(ctx context.Context, db *gorm.DB, id string) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPosts returns the number of posts matching the filter.
func CountPosts(ctx context.Context, db *gorm.DB, f PostFilter) (int64, error) {
	var n int64
	q := applyPostFilter(db.WithContext(ctx).Model(&domain.Post{}), f)
	err := q.Count(&n).Error
	return n, err
}

// ListPostsPage returns a paginated slice of posts matching the filter,
// ordered by scheduled time ascending with ID as tiebreaker.
func ListPostsPage(ctx context.Context, db *gorm.DB, f PostFilter, offset, limit int) ([]domain.Post, error) {
	var posts []domain.Post
	q := applyPostFilter(db.WithContext(ctx), f).
		Order("scheduled_at ASC, id ASC").
		Offset(offset).Limit(limit)
	err := q.Find(&posts).Error
	return posts, err
}

// UpdatePostFields applies a partial update to a post's content columns.
// Returns ErrNotFound if the post does not exist.
func UpdatePostFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Post{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePostStatus performs a compare-and-set status transition: the row is
// updated only if its current status still equals from. It returns the number
// of rows affected; 0 means another writer moved the post first and the
// caller must re-read to decide between idempotent success and conflict.
//
// fields carries the side-effect columns of the transition (published_at,
// rejection_reason) and is merged with the status change in one UPDATE.
func UpdatePostStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.Status, fields map[string]any) (int64, error) {
	set := map[string]any{"status": to}
	for k, v := range fields {
		set[k] = v
	}
	res := db.WithContext(ctx).Model(&domain.Post{}).
		Where("id = ? AND status = ?", id, from).
		Updates(set)
	return res.RowsAffected, res.Error
}

// DeletePost removes a post row. Comments and media rows cascade via FK.
// Returns ErrNotFound if the post does not exist.
func DeletePost(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Post{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingReview returns how many of the artist's posts are awaiting
// the artist's decision.
func CountPendingReview(ctx context.Context, db *gorm.DB, artistID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Post{}).
		Where("artist_id = ? AND status = ?", artistID, domain.StatusInReview).
		Count(&n).Error
	return n, err
}

// CreateComment inserts a comment on a post.
func CreateComment(ctx context.Context, db *gorm.DB, postID, userID, content string, system bool) (*domain.PostComment, error) {
	c := &domain.PostComment{
		ID:       uuid.NewString(),
		PostID:   postID,
		UserID:   userID,
		Content:  content,
		IsSystem: system,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns all comments on a post, oldest first.
func ListComments(ctx context.Context, db *gorm.DB, postID string) ([]domain.PostComment, error) {
	var out []domain.PostComment
	err := db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CreateMedia attaches an uploaded file reference to a post.
func CreateMedia(ctx context.Context, db *gorm.DB, m *domain.PostMedia) (*domain.PostMedia, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMedia returns a post's media references in sort order.
func ListMedia(ctx context.Context, db *gorm.DB, postID string) ([]domain.PostMedia, error) {
	var out []domain.PostMedia
	err := db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("sort_order ASC, created_at ASC").
		Find(&out).Error
	return out, err
}

// DeleteMedia removes one media reference. The stored object itself is not
// touched; storage cleanup is a separate concern.
func DeleteMedia(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.PostMedia{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

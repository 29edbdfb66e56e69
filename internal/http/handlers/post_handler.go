// Post HTTP handlers.
//
// This file exposes REST endpoints for the content workflow:
//   - POST   /posts                  (schedule, staff)
//   - GET    /posts                  (list, paginated, ETag support)
//   - GET    /posts/{id}             (fetch one)
//   - PATCH  /posts/{id}             (content edit, staff)
//   - POST   /posts/{id}/transition  (workflow step)
//   - DELETE /posts/{id}             (remove, staff)
//   - GET    /posts/pending-count    (review badge)
//   - GET    /posts/stats            (status breakdown)
//   - POST   /posts/{id}/comments    (review remark)
//   - GET    /posts/{id}/comments    (review thread)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Authorization decisions live in
// the service layer; handlers only carry the actor across.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/http/middleware"
	"github.com/sessantasette/hub-backend/internal/repo"
	"github.com/sessantasette/hub-backend/internal/services"
	"github.com/sessantasette/hub-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PostService defines the content workflow operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type PostService interface {
	Create(ctx context.Context, actor services.Actor, in services.PostInput) (*domain.Post, error)
	Get(ctx context.Context, actor services.Actor, id string) (*domain.Post, error)
	ListPage(ctx context.Context, actor services.Actor, f repo.PostFilter, page, pageSize int) ([]domain.Post, int64, error)
	Update(ctx context.Context, actor services.Actor, id string, in services.UpdateInput) (*domain.Post, error)
	Transition(ctx context.Context, actor services.Actor, id string, target domain.Status, reason string) (*domain.Post, error)
	Delete(ctx context.Context, actor services.Actor, id string) error
	PendingReviewCount(ctx context.Context, actor services.Actor, artistID string) (int64, error)
	AddComment(ctx context.Context, actor services.Actor, postID, content string) (*domain.PostComment, error)
	ListComments(ctx context.Context, actor services.Actor, postID string) ([]domain.PostComment, error)
}

// PostHandlers groups the content workflow endpoints.
type PostHandlers struct {
	svc PostService
}

// NewPostHandlers binds the workflow endpoints to a service.
func NewPostHandlers(svc PostService) *PostHandlers {
	return &PostHandlers{svc: svc}
}

// actor converts the authenticated identity into a service-layer actor.
func actor(c *gin.Context) services.Actor {
	id, _ := middleware.IdentityFrom(c)
	return services.Actor{
		UserID:   id.UserID,
		Role:     domain.Role(id.Role),
		ArtistID: id.ArtistID,
	}
}

//
// DTOs
//

// CreatePostRequest is the JSON payload for scheduling a post.
type CreatePostRequest struct {
	Title       string  `json:"title" binding:"required" example:"Reel teaser singolo"`
	Caption     *string `json:"caption,omitempty"`
	Hashtags    *string `json:"hashtags,omitempty"`
	Platform    string  `json:"platform" binding:"required" example:"instagram_reel"`
	ArtistID    string  `json:"artist_id" binding:"required" format:"uuid"`
	ScheduledAt string  `json:"scheduled_at" binding:"required" example:"2026-05-01T18:00:00Z"`
}

// UpdatePostRequest is a partial content edit; absent fields are untouched.
type UpdatePostRequest struct {
	Title       *string `json:"title,omitempty"`
	Caption     *string `json:"caption,omitempty"`
	Hashtags    *string `json:"hashtags,omitempty"`
	Platform    *string `json:"platform,omitempty"`
	ScheduledAt *string `json:"scheduled_at,omitempty" example:"2026-05-02T12:00:00Z"`
}

// TransitionRequest names the target status for a workflow step. Reason is
// required when the target is "rejected" and forbidden to exceed 500 runes.
type TransitionRequest struct {
	Status string `json:"status" binding:"required" example:"in_review"`
	Reason string `json:"reason,omitempty" example:"La caption non rispetta il tono del brand"`
}

// CommentRequest is the JSON payload for a review remark.
type CommentRequest struct {
	Content string `json:"content" binding:"required,min=1"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPostsResponse wraps a page of posts and pagination information.
type ListPostsResponse struct {
	Posts      []domain.Post `json:"posts"`
	Pagination Pagination    `json:"pagination"`
}

// PendingCountResponse is the review badge payload.
type PendingCountResponse struct {
	ArtistID string `json:"artist_id"`
	Pending  int64  `json:"pending"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// postFilterFromQuery builds the repository filter from list query params.
// Unknown status or platform values are reported as a validation error by the
// caller via the returned ok flag.
func postFilterFromQuery(c *gin.Context) (repo.PostFilter, bool) {
	f := repo.PostFilter{ArtistID: c.Query("artist_id")}
	if s := c.Query("status"); s != "" {
		st := domain.Status(s)
		if !st.Valid() {
			return f, false
		}
		f.Status = st
	}
	if p := c.Query("platform"); p != "" {
		pl := domain.Platform(p)
		if !pl.Valid() {
			return f, false
		}
		f.Platform = pl
	}
	if from := c.Query("from"); from != "" {
		t, err := parseRFC3339(from)
		if err != nil {
			return f, false
		}
		f.FromDate = &t
	}
	if until := c.Query("until"); until != "" {
		t, err := parseRFC3339(until)
		if err != nil {
			return f, false
		}
		f.UntilDate = &t
	}
	return f, true
}

//
// Handlers
//

// CreatePost godoc
// @ID          createPost
// @Summary     Schedule a post
// @Description Creates a draft post for an artist. Staff only.
// @Tags        Posts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreatePostRequest  true  "Post payload"
//
// @Success     201  {object}  domain.Post
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Router      /posts [post]
func (h *PostHandlers) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sched, err := parseRFC3339(req.ScheduledAt)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "scheduled_at must be RFC 3339")
		return
	}
	p, err := h.svc.Create(c.Request.Context(), actor(c), services.PostInput{
		Title:       req.Title,
		Caption:     req.Caption,
		Hashtags:    req.Hashtags,
		Platform:    domain.Platform(req.Platform),
		ArtistID:    req.ArtistID,
		ScheduledAt: sched,
	})
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// GetPost godoc
// @ID          getPost
// @Summary     Fetch one post
// @Description Returns a post. Artists only see their own; others read as 404.
// @Tags        Posts
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Post ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Post
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /posts/{id} [get]
func (h *PostHandlers) GetPost(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ListPosts godoc
// @ID          listPosts
// @Summary     List posts (paginated)
// @Description Returns a page of posts ordered by schedule date. Artists are pinned to their own roster entry. Supports weak ETag via If-None-Match.
// @Tags        Posts
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       artist_id      query   string  false "Filter by artist (staff)"
// @Param       status         query   string  false "Filter by workflow status"
// @Param       platform       query   string  false "Filter by platform"
// @Param       from           query   string  false "scheduled_at >= (RFC 3339)"
// @Param       until          query   string  false "scheduled_at < (RFC 3339)"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPostsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /posts [get]
func (h *PostHandlers) ListPosts(c *gin.Context) {
	ctx := c.Request.Context()
	act := actor(c)
	page, pageSize := clampPagination(c)

	f, valid := postFilterFromQuery(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid filter parameter")
		return
	}
	if !act.Role.IsStaff() {
		f.ArtistID = act.ArtistID
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.svc.(*services.PostService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.PostsStats(ctx, db, f)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"posts:%s:%s:%d:%d"`, f.ArtistID, f.Status, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.svc.ListPage(ctx, act, f, page, pageSize)
	if err != nil {
		failServiceErr(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListPostsResponse{
		Posts: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// UpdatePost godoc
// @ID          updatePost
// @Summary     Edit post content
// @Description Applies a partial content edit. Staff only; draft and rejected posts only.
// @Tags        Posts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Post ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdatePostRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Post
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Content frozen under review"
// @Router      /posts/{id} [patch]
func (h *PostHandlers) UpdatePost(c *gin.Context) {
	var req UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	in := services.UpdateInput{
		Title:    req.Title,
		Caption:  req.Caption,
		Hashtags: req.Hashtags,
	}
	if req.Platform != nil {
		pl := domain.Platform(*req.Platform)
		in.Platform = &pl
	}
	if req.ScheduledAt != nil {
		t, err := parseRFC3339(*req.ScheduledAt)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "scheduled_at must be RFC 3339")
			return
		}
		in.ScheduledAt = &t
	}
	p, err := h.svc.Update(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// TransitionPost godoc
// @ID          transitionPost
// @Summary     Advance the workflow
// @Description Moves a post to the named target status. Legal steps: draft→in_review (staff), in_review→approved/rejected (owning artist), approved→published (staff), rejected→in_review (staff resubmission). Repeating the same step is a no-op success.
// @Tags        Posts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Post ID (UUID)"  format(uuid)
// @Param       body  body  handlers.TransitionRequest  true  "Target status"
//
// @Success     200  {object}  domain.Post
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Wrong actor for this step"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Lost a concurrent transition"
// @Failure     422  {object}  handlers.ErrorResponse  "Illegal step"
// @Router      /posts/{id}/transition [post]
func (h *PostHandlers) TransitionPost(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	target := domain.Status(req.Status)
	p, err := h.svc.Transition(c.Request.Context(), actor(c), c.Param("id"), target, req.Reason)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, services.ErrForbidden):
		outcome = "forbidden"
	case errors.Is(err, services.ErrInvalidTransition):
		outcome = "invalid"
	case errors.Is(err, services.ErrTransitionConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	middleware.PostTransitions.WithLabelValues(string(target), outcome).Inc()

	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeletePost godoc
// @ID          deletePost
// @Summary     Delete a post
// @Description Removes a post in any state. Staff only.
// @Tags        Posts
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Post ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /posts/{id} [delete]
func (h *PostHandlers) DeletePost(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		failServiceErr(c, err)
		return
	}
	noContent(c)
}

// PendingReview godoc
// @ID          pendingReview
// @Summary     Count posts awaiting the artist's decision
// @Description Returns the in_review count for an artist. Artists are pinned to themselves; staff pass artist_id.
// @Tags        Posts
// @Produce     json
// @Security    BearerAuth
//
// @Param       artist_id  query  string  false  "Artist ID (staff)"  format(uuid)
//
// @Success     200  {object}  handlers.PendingCountResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown artist"
// @Router      /posts/pending-count [get]
func (h *PostHandlers) PendingReview(c *gin.Context) {
	act := actor(c)
	artistID := c.Query("artist_id")
	n, err := h.svc.PendingReviewCount(c.Request.Context(), act, artistID)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	if !act.Role.IsStaff() {
		artistID = act.ArtistID
	}
	ok(c, http.StatusOK, PendingCountResponse{ArtistID: artistID, Pending: n})
}

// PostStats godoc
// @ID          postStats
// @Summary     Status breakdown
// @Description Returns post counts grouped by workflow status, optionally scoped to one artist. Artists are pinned to themselves.
// @Tags        Posts
// @Produce     json
// @Security    BearerAuth
//
// @Param       artist_id  query  string  false  "Artist ID (staff)"  format(uuid)
//
// @Success     200  {object}  map[string]int64
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /posts/stats [get]
func (h *PostHandlers) PostStats(c *gin.Context) {
	act := actor(c)
	artistID := c.Query("artist_id")
	if !act.Role.IsStaff() {
		artistID = act.ArtistID
	}

	svc, isConcrete := h.svc.(*services.PostService)
	if !isConcrete {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "stats unavailable")
		return
	}
	breakdown, err := repo.StatusBreakdown(c.Request.Context(), svc.DB, artistID)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, breakdown)
}

// AddComment godoc
// @ID          addPostComment
// @Summary     Leave a review remark
// @Description Appends a comment to a post's review thread.
// @Tags        Posts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Post ID (UUID)"  format(uuid)
// @Param       body  body  handlers.CommentRequest  true  "Comment payload"
//
// @Success     201  {object}  domain.PostComment
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /posts/{id}/comments [post]
func (h *PostHandlers) AddComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	cm, err := h.svc.AddComment(c.Request.Context(), actor(c), c.Param("id"), req.Content)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusCreated, cm)
}

// ListComments godoc
// @ID          listPostComments
// @Summary     Read the review thread
// @Description Returns a post's comments oldest first, system remarks included.
// @Tags        Posts
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Post ID (UUID)"  format(uuid)
//
// @Success     200  {array}   domain.PostComment
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /posts/{id}/comments [get]
func (h *PostHandlers) ListComments(c *gin.Context) {
	out, err := h.svc.ListComments(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

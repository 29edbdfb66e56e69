// Package services – PostService
//
// This file implements PostService, the application-level component that owns
// the post approval workflow. It validates input, enforces who may move a
// post between lifecycle states, and performs the status change itself as a
// compare-and-set update so concurrent decisions cannot both win.
//
// Authorization lives here, not in handlers: handlers resolve the Actor from
// the request context and the service decides. The transition table in
// internal/domain is the single source of truth for legality.
//
// Observability: the write paths are OpenTelemetry-instrumented; spans carry
// post/actor identifiers and the attempted transition.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Actor is the authenticated principal performing an operation. ArtistID is
// the linked roster entry for artist accounts and empty for staff.
type Actor struct {
	UserID   string
	Role     domain.Role
	ArtistID string
}

// canActAs reports whether the actor satisfies the transition table's
// requirement for a post.
func (a Actor) canActAs(req domain.TransitionActor, p *domain.Post) bool {
	switch req {
	case domain.ActorStaff:
		return a.Role.IsStaff()
	case domain.ActorOwner:
		return a.Role == domain.RoleArtist && a.ArtistID != "" && a.ArtistID == p.ArtistID
	}
	return false
}

// PostRepo defines the repository contract required by PostService.
type PostRepo interface {
	CreatePost(ctx context.Context, db *gorm.DB, p *domain.Post) (*domain.Post, error)
	GetPost(ctx context.Context, db *gorm.DB, id string) (*domain.Post, error)
	CountPosts(ctx context.Context, db *gorm.DB, f repo.PostFilter) (int64, error)
	ListPostsPage(ctx context.Context, db *gorm.DB, f repo.PostFilter, offset, limit int) ([]domain.Post, error)
	UpdatePostFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
	UpdatePostStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.Status, fields map[string]any) (int64, error)
	DeletePost(ctx context.Context, db *gorm.DB, id string) error
	CountPendingReview(ctx context.Context, db *gorm.DB, artistID string) (int64, error)
	CreateComment(ctx context.Context, db *gorm.DB, postID, userID, content string, system bool) (*domain.PostComment, error)
	ListComments(ctx context.Context, db *gorm.DB, postID string) ([]domain.PostComment, error)
}

// PostService coordinates the post lifecycle: creation, listing, content
// edits, workflow transitions, and review comments.
type PostService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the post repository used by this service.
	Repo PostRepo

	// Now supplies the current time; overridable in tests.
	Now func() time.Time
}

// NewPostService constructs a PostService with the real clock.
func NewPostService(db *gorm.DB, r PostRepo) *PostService {
	return &PostService{DB: db, Repo: r, Now: time.Now}
}

// PostInput carries the editable content fields of a post.
type PostInput struct {
	Title       string
	Caption     *string
	Hashtags    *string
	Platform    domain.Platform
	ArtistID    string
	ScheduledAt time.Time
}

func (in *PostInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrValidation
	}
	if !in.Platform.Valid() {
		return ErrValidation
	}
	if in.ArtistID == "" || in.ScheduledAt.IsZero() {
		return ErrValidation
	}
	return nil
}

// Create schedules a new post in draft. Staff only.
func (s *PostService) Create(ctx context.Context, actor Actor, in PostInput) (*domain.Post, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := &domain.Post{
		Title:       strings.TrimSpace(in.Title),
		Caption:     in.Caption,
		Hashtags:    in.Hashtags,
		Platform:    in.Platform,
		Status:      domain.StatusDraft,
		ArtistID:    in.ArtistID,
		CreatedBy:   actor.UserID,
		ScheduledAt: in.ScheduledAt.UTC(),
	}
	return s.Repo.CreatePost(ctx, s.DB, p)
}

// Get returns one post. Artists can only see their own posts; staff see all.
func (s *PostService) Get(ctx context.Context, actor Actor, id string) (*domain.Post, error) {
	p, err := s.Repo.GetPost(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	if !actor.Role.IsStaff() && actor.ArtistID != p.ArtistID {
		// Hide other artists' content entirely.
		return nil, ErrPostNotFound
	}
	return p, nil
}

// ListPage returns a page of posts matching the filter. Artist accounts are
// always pinned to their own roster entry regardless of the requested filter.
func (s *PostService) ListPage(ctx context.Context, actor Actor, f repo.PostFilter, page, pageSize int) ([]domain.Post, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if !actor.Role.IsStaff() {
		f.ArtistID = actor.ArtistID
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountPosts(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.Repo.ListPostsPage(ctx, s.DB, f, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateInput carries a partial content edit. Nil fields are untouched.
type UpdateInput struct {
	Title       *string
	Caption     *string
	Hashtags    *string
	Platform    *domain.Platform
	ScheduledAt *time.Time
}

// Update applies staff edits to a post's content fields. Only draft and
// rejected posts are editable; content under or past review is frozen.
func (s *PostService) Update(ctx context.Context, actor Actor, id string, in UpdateInput) (*domain.Post, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	p, err := s.Repo.GetPost(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	if p.Status != domain.StatusDraft && p.Status != domain.StatusRejected {
		return nil, ErrInvalidTransition
	}

	fields := map[string]any{}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, ErrValidation
		}
		fields["title"] = strings.TrimSpace(*in.Title)
	}
	if in.Caption != nil {
		fields["caption"] = *in.Caption
	}
	if in.Hashtags != nil {
		fields["hashtags"] = *in.Hashtags
	}
	if in.Platform != nil {
		if !in.Platform.Valid() {
			return nil, ErrValidation
		}
		fields["platform"] = *in.Platform
	}
	if in.ScheduledAt != nil {
		if in.ScheduledAt.IsZero() {
			return nil, ErrValidation
		}
		fields["scheduled_at"] = in.ScheduledAt.UTC()
	}
	if len(fields) == 0 {
		return p, nil
	}
	if err := s.Repo.UpdatePostFields(ctx, s.DB, id, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return s.Repo.GetPost(ctx, s.DB, id)
}

// Transition moves a post between lifecycle states on behalf of the actor.
//
// Check order matters: a wrong actor attempting a legal pair must see
// Forbidden, never "invalid transition". Repeats of the exact transition a
// post already completed succeed idempotently without a write.
func (s *PostService) Transition(ctx context.Context, actor Actor, id string, target domain.Status, reason string) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Transition",
		trace.WithAttributes(
			attribute.String("post.id", id),
			attribute.String("post.target_status", string(target)),
			attribute.String("actor.id", actor.UserID),
		),
	)
	defer span.End()

	if !target.Valid() {
		return nil, ErrInvalidTransition
	}

	p, err := s.Repo.GetPost(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	required, legal := domain.LookupTransition(p.Status, target)
	if legal {
		if !actor.canActAs(required, p) {
			return nil, ErrForbidden
		}
	} else {
		if done, err := s.idempotentRepeat(actor, p, target); done || err != nil {
			return p, err
		}
		return nil, ErrInvalidTransition
	}

	fields, err := s.transitionEffects(p, target, reason)
	if err != nil {
		return nil, err
	}

	n, err := s.Repo.UpdatePostStatus(ctx, s.DB, id, p.Status, target, fields)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost a race: another writer moved the post first. Re-read and
		// decide between idempotent success and conflict.
		cur, gerr := s.Repo.GetPost(ctx, s.DB, id)
		if gerr != nil {
			if errors.Is(gerr, repo.ErrNotFound) {
				return nil, ErrPostNotFound
			}
			return nil, gerr
		}
		if done, ierr := s.idempotentRepeat(actor, cur, target); done && ierr == nil {
			return cur, nil
		}
		return nil, ErrTransitionConflict
	}

	// Record the rejection reason in the comment thread for the review
	// history. Best effort; the transition itself already committed.
	if target == domain.StatusRejected {
		_, _ = s.Repo.CreateComment(ctx, s.DB, id, actor.UserID, "Rejected: "+strings.TrimSpace(reason), true)
	}

	return s.Repo.GetPost(ctx, s.DB, id)
}

// idempotentRepeat reports whether the post is already in target and the
// actor is authorized for some legal transition into target, i.e. the caller
// is replaying a transition that already happened.
func (s *PostService) idempotentRepeat(actor Actor, p *domain.Post, target domain.Status) (bool, error) {
	if p.Status != target {
		return false, nil
	}
	for _, req := range domain.TransitionsInto(target) {
		if actor.canActAs(req, p) {
			return true, nil
		}
	}
	return false, nil
}

// transitionEffects returns the side-effect columns for a legal transition,
// validating rejection reasons.
func (s *PostService) transitionEffects(p *domain.Post, target domain.Status, reason string) (map[string]any, error) {
	switch target {
	case domain.StatusRejected:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return nil, ErrReasonRequired
		}
		if utf8.RuneCountInString(reason) > domain.MaxRejectionReasonRunes {
			return nil, ErrReasonTooLong
		}
		return map[string]any{"rejection_reason": reason}, nil
	case domain.StatusInReview:
		if p.Status == domain.StatusRejected {
			// Resubmission clears the stale reason.
			return map[string]any{"rejection_reason": nil}, nil
		}
		return nil, nil
	case domain.StatusPublished:
		// published_at is stamped exactly once.
		if p.PublishedAt != nil {
			return nil, nil
		}
		return map[string]any{"published_at": s.Now().UTC()}, nil
	default:
		return nil, nil
	}
}

// Delete removes a post in any state. Staff only.
func (s *PostService) Delete(ctx context.Context, actor Actor, id string) error {
	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	err := s.Repo.DeletePost(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPostNotFound
	}
	return err
}

// PendingReviewCount returns how many posts await the artist's decision.
// Artists query their own queue; staff may query any artist.
func (s *PostService) PendingReviewCount(ctx context.Context, actor Actor, artistID string) (int64, error) {
	if !actor.Role.IsStaff() {
		artistID = actor.ArtistID
	}
	if artistID == "" {
		return 0, ErrArtistNotFound
	}
	return s.Repo.CountPendingReview(ctx, s.DB, artistID)
}

// AddComment appends a remark to a post's review thread. The author must be
// able to see the post.
func (s *PostService) AddComment(ctx context.Context, actor Actor, postID, content string) (*domain.PostComment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrValidation
	}
	if _, err := s.Get(ctx, actor, postID); err != nil {
		return nil, err
	}
	return s.Repo.CreateComment(ctx, s.DB, postID, actor.UserID, content, false)
}

// ListComments returns a post's review thread, oldest first.
func (s *PostService) ListComments(ctx context.Context, actor Actor, postID string) ([]domain.PostComment, error) {
	if _, err := s.Get(ctx, actor, postID); err != nil {
		return nil, err
	}
	return s.Repo.ListComments(ctx, s.DB, postID)
}

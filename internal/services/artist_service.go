// Package services – ArtistService
//
// Roster management: the assignable artist list shown when scheduling
// content, staff edits of roster entries, and deactivation. The label
// pseudo-artist and inactive entries never appear in assignable rosters.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/repo"
)

// ArtistRepo defines the repository contract required by ArtistService.
type ArtistRepo interface {
	CreateArtist(ctx context.Context, db *gorm.DB, a *domain.Artist) (*domain.Artist, error)
	GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error)
	GetArtistByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Artist, error)
	ListArtists(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Artist, error)
	UpdateArtistFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
}

// ArtistService provides roster operations.
type ArtistService struct {
	DB   *gorm.DB
	Repo ArtistRepo
}

// NewArtistService constructs an ArtistService.
func NewArtistService(db *gorm.DB, r ArtistRepo) *ArtistService {
	return &ArtistService{DB: db, Repo: r}
}

// List returns the roster. Staff may request the full roster including
// inactive and label entries; everyone else gets the assignable subset.
func (s *ArtistService) List(ctx context.Context, actor Actor, includeAll bool) ([]domain.Artist, error) {
	activeOnly := !(includeAll && actor.Role.IsStaff())
	return s.Repo.ListArtists(ctx, s.DB, activeOnly)
}

// Get returns one roster entry.
func (s *ArtistService) Get(ctx context.Context, id string) (*domain.Artist, error) {
	a, err := s.Repo.GetArtist(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrArtistNotFound
	}
	return a, err
}

// ResolveForUser returns the roster entry linked to a user account, or
// ErrArtistNotFound for unlinked users.
func (s *ArtistService) ResolveForUser(ctx context.Context, userID string) (*domain.Artist, error) {
	a, err := s.Repo.GetArtistByUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrArtistNotFound
	}
	return a, err
}

// Create adds a roster entry. Staff only.
func (s *ArtistService) Create(ctx context.Context, actor Actor, a *domain.Artist) (*domain.Artist, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, ErrValidation
	}
	if a.Color == "" {
		a.Color = "#6366F1"
	}
	a.IsActive = true
	return s.Repo.CreateArtist(ctx, s.DB, a)
}

// Update applies staff edits to a roster entry. Nil map entries are not
// supported; callers pass only the columns they mean to change.
func (s *ArtistService) Update(ctx context.Context, actor Actor, id string, fields map[string]any) (*domain.Artist, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	if name, ok := fields["name"].(string); ok && strings.TrimSpace(name) == "" {
		return nil, ErrValidation
	}
	if err := s.Repo.UpdateArtistFields(ctx, s.DB, id, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrArtistNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Deactivate hides a roster entry from assignable lists without deleting
// its history. Staff only.
func (s *ArtistService) Deactivate(ctx context.Context, actor Actor, id string) error {
	_, err := s.Update(ctx, actor, id, map[string]any{"is_active": false})
	return err
}

// Package services – GuidelineService
//
// The artist toolkit: guideline sections and their items, plus keyword
// search over the item corpus. The in-memory index is immutable; writes
// rebuild it from the database and swap it in atomically.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/repo"
	"github.com/sessantasette/hub-backend/internal/search"
)

// GuidelineRepo defines the repository contract required by GuidelineService.
type GuidelineRepo interface {
	CreateSection(ctx context.Context, db *gorm.DB, s *domain.GuidelineSection) (*domain.GuidelineSection, error)
	ListSections(ctx context.Context, db *gorm.DB) ([]domain.GuidelineSection, error)
	GetSectionBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.GuidelineSection, error)
	CreateItem(ctx context.Context, db *gorm.DB, it *domain.GuidelineItem) (*domain.GuidelineItem, error)
	ListSectionItems(ctx context.Context, db *gorm.DB, sectionID string, at time.Time) ([]domain.GuidelineItem, error)
	ListAllItems(ctx context.Context, db *gorm.DB) ([]domain.GuidelineItem, error)
	DeleteItem(ctx context.Context, db *gorm.DB, id string) error
}

// GuidelineService provides the toolkit operations.
type GuidelineService struct {
	DB   *gorm.DB
	Repo GuidelineRepo

	// Now supplies the current time; overridable in tests.
	Now func() time.Time

	mu    sync.RWMutex
	index search.Index
}

// NewGuidelineService constructs a GuidelineService and builds the initial
// search index. Index build failures are not fatal: search degrades to
// empty results until the next successful rebuild.
func NewGuidelineService(db *gorm.DB, r GuidelineRepo) *GuidelineService {
	s := &GuidelineService{DB: db, Repo: r, Now: time.Now}
	_ = s.RebuildIndex(context.Background())
	return s
}

// RebuildIndex reloads every guideline item and swaps in a fresh index.
func (s *GuidelineService) RebuildIndex(ctx context.Context) error {
	items, err := s.Repo.ListAllItems(ctx, s.DB)
	if err != nil {
		return err
	}
	docs := make([]search.Document, 0, len(items))
	for _, it := range items {
		docs = append(docs, search.Document{ID: it.ID, Title: it.Title, Content: it.Content})
	}
	idx := search.NewIndex(docs)

	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	return nil
}

// Search ranks guideline items against the query.
func (s *GuidelineService) Search(query string, k int) []search.Result {
	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.TopK(query, k)
}

var slugRE = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from a section title.
func Slugify(title string) string {
	slug := slugRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
	return strings.Trim(slug, "-")
}

// CreateSection adds a toolkit section. Staff only.
func (s *GuidelineService) CreateSection(ctx context.Context, actor Actor, sec *domain.GuidelineSection) (*domain.GuidelineSection, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	sec.Title = strings.TrimSpace(sec.Title)
	if sec.Title == "" {
		return nil, ErrValidation
	}
	if sec.Slug == "" {
		sec.Slug = Slugify(sec.Title)
	}
	sec.CreatedBy = actor.UserID
	out, err := s.Repo.CreateSection(ctx, s.DB, sec)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrSlugTaken
	}
	return out, err
}

// ListSections returns all toolkit sections in display order.
func (s *GuidelineService) ListSections(ctx context.Context) ([]domain.GuidelineSection, error) {
	return s.Repo.ListSections(ctx, s.DB)
}

// SectionItems returns a section's currently applicable items: permanent
// ones always, campaign ones only inside their validity window.
func (s *GuidelineService) SectionItems(ctx context.Context, slug string) (*domain.GuidelineSection, []domain.GuidelineItem, error) {
	sec, err := s.Repo.GetSectionBySlug(ctx, s.DB, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrSectionNotFound
		}
		return nil, nil, err
	}
	items, err := s.Repo.ListSectionItems(ctx, s.DB, sec.ID, s.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return sec, items, nil
}

// CreateItem adds a guideline item and rebuilds the search index.
// Staff only.
func (s *GuidelineService) CreateItem(ctx context.Context, actor Actor, it *domain.GuidelineItem) (*domain.GuidelineItem, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	it.Title = strings.TrimSpace(it.Title)
	if it.Title == "" || strings.TrimSpace(it.Content) == "" || it.SectionID == "" {
		return nil, ErrValidation
	}
	switch it.ItemType {
	case "":
		it.ItemType = "permanent"
	case "permanent", "campaign":
	default:
		return nil, ErrValidation
	}
	if it.Priority < 0 || it.Priority > 2 {
		return nil, ErrValidation
	}
	it.CreatedBy = actor.UserID
	out, err := s.Repo.CreateItem(ctx, s.DB, it)
	if err != nil {
		return nil, err
	}
	_ = s.RebuildIndex(ctx)
	return out, nil
}

// DeleteItem removes a guideline item and rebuilds the search index.
// Staff only.
func (s *GuidelineService) DeleteItem(ctx context.Context, actor Actor, id string) error {
	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	if err := s.Repo.DeleteItem(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSectionNotFound
		}
		return err
	}
	return s.RebuildIndex(ctx)
}

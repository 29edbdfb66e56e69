// Package repo – repository functions for the artist toolkit: guideline
// sections and the items they group.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
)

// CreateSection inserts a new guideline section.
func CreateSection(ctx context.Context, db *gorm.DB, s *domain.GuidelineSection) (*domain.GuidelineSection, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// ListSections returns all sections in sort order.
func ListSections(ctx context.Context, db *gorm.DB) ([]domain.GuidelineSection, error) {
	var out []domain.GuidelineSection
	err := db.WithContext(ctx).Order("sort_order ASC, title ASC").Find(&out).Error
	return out, err
}

// GetSectionBySlug fetches a section by its slug, or ErrNotFound.
func GetSectionBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.GuidelineSection, error) {
	var s domain.GuidelineSection
	err := db.WithContext(ctx).Where("slug = ?", slug).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateItem inserts a new guideline item.
func CreateItem(ctx context.Context, db *gorm.DB, it *domain.GuidelineItem) (*domain.GuidelineItem, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(it).Error; err != nil {
		return nil, err
	}
	return it, nil
}

// ListSectionItems returns a section's items, highest priority first. When
// at is non-zero, campaign items outside their validity window are excluded;
// permanent items always apply.
func ListSectionItems(ctx context.Context, db *gorm.DB, sectionID string, at time.Time) ([]domain.GuidelineItem, error) {
	q := db.WithContext(ctx).Where("section_id = ?", sectionID)
	if !at.IsZero() {
		q = q.Where(
			"item_type = 'permanent' OR ((valid_from IS NULL OR valid_from <= ?) AND (valid_until IS NULL OR valid_until >= ?))",
			at, at,
		)
	}
	var out []domain.GuidelineItem
	err := q.Order("priority DESC, created_at ASC").Find(&out).Error
	return out, err
}

// ListAllItems returns every guideline item; used to (re)build the keyword
// search index at startup and after writes.
func ListAllItems(ctx context.Context, db *gorm.DB) ([]domain.GuidelineItem, error) {
	var out []domain.GuidelineItem
	err := db.WithContext(ctx).Find(&out).Error
	return out, err
}

// DeleteItem removes a guideline item. Returns ErrNotFound if missing.
func DeleteItem(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.GuidelineItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

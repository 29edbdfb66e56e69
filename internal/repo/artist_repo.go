// Package repo – repository functions for User and Artist rows.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
)

// CreateUser inserts a new user account.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) (*domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by ID, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by email, or ErrNotFound.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateArtist inserts a new roster entry.
func CreateArtist(ctx context.Context, db *gorm.DB, a *domain.Artist) (*domain.Artist, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetArtist fetches an artist by ID, or ErrNotFound.
func GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error) {
	var a domain.Artist
	err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetArtistByUser fetches the roster entry linked to a user account,
// or ErrNotFound when the user has no roster link.
func GetArtistByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Artist, error) {
	var a domain.Artist
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListArtists returns roster entries ordered by name. When activeOnly is
// set, inactive and label pseudo-entries are excluded (the assignable
// roster shown when scheduling content).
func ListArtists(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Artist, error) {
	q := db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		q = q.Where("is_active = ? AND is_label = ?", true, false)
	}
	var out []domain.Artist
	err := q.Find(&out).Error
	return out, err
}

// UpdateArtistFields applies a partial update to a roster entry.
// Returns ErrNotFound if the artist does not exist.
func UpdateArtistFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Artist{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Package repo – small aggregate/statistics queries used primarily for
// conditional responses (ETag generation) in the HTTP layer and for the
// admin usage dashboard. Each function is context-aware and safe to call
// from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
)

// PostsStats returns aggregate metadata for posts matching the filter: the
// total number of rows and the maximum UpdatedAt timestamp among those rows.
// When no posts match, the returned count is 0 and maxUpdatedAt is nil.
func PostsStats(ctx context.Context, db *gorm.DB, f PostFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := applyPostFilter(db.WithContext(ctx).Model(&domain.Post{}), f)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// StatusBreakdown counts an artist's posts per lifecycle state. A missing
// key means zero posts in that state.
func StatusBreakdown(ctx context.Context, db *gorm.DB, artistID string) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		N      int64
	}
	q := db.WithContext(ctx).Model(&domain.Post{}).
		Select("status, COUNT(*) AS n").
		Group("status")
	if artistID != "" {
		q = q.Where("artist_id = ?", artistID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// UsageStats aggregates an artist's AI consumption over the window
// [since, until): total exchanges and distinct active days. Dates are the
// char(10) UTC day keys.
func UsageStats(ctx context.Context, db *gorm.DB, artistID, since, until string) (messages int64, activeDays int64, err error) {
	q := db.WithContext(ctx).Model(&domain.DailyUsage{}).
		Where("artist_id = ? AND usage_date >= ? AND usage_date < ?", artistID, since, until)

	var row struct {
		Messages int64
		Days     int64
	}
	if err = q.Select("COALESCE(SUM(messages_used),0) AS messages, COUNT(*) AS days").Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return row.Messages, row.Days, nil
}

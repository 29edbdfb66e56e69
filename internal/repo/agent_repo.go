// Package repo – repository functions for the AI assistant: agent
// configuration, day-scoped chat sessions, messages, and the daily usage
// counter.
//
// Concurrency notes:
//   - IncrementDailyUsage is an atomic SQL upsert; concurrent callers for the
//     same (artist, date) serialize on the unique index, and the optional
//     limit guard makes the charge conditional in the same statement.
//   - CreateSessionForDate relies on the (artist_id, context_date) unique
//     index; the loser of a same-day race gets ErrDuplicate and should
//     re-read the winner's row.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sessantasette/hub-backend/internal/domain"
)

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// GetAgentConfig fetches the assistant configuration for an artist,
// or ErrNotFound when the artist was never configured.
func GetAgentConfig(ctx context.Context, db *gorm.DB, artistID string) (*domain.AgentConfig, error) {
	var c domain.AgentConfig
	err := db.WithContext(ctx).Where("artist_id = ?", artistID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertAgentConfig inserts or fully replaces the assistant configuration
// for cfg.ArtistID, keyed on the artist's unique index.
func UpsertAgentConfig(ctx context.Context, db *gorm.DB, cfg *domain.AgentConfig) (*domain.AgentConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "artist_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_enabled", "model", "temperature", "max_tokens",
			"daily_message_limit",
			"prompt_identity", "prompt_activity", "prompt_ontology",
			"prompt_marketing", "prompt_boundaries", "prompt_extra",
			"configured_by", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return nil, err
	}
	// Re-read so the caller sees the stored row (ID differs on update).
	return GetAgentConfig(ctx, db, cfg.ArtistID)
}

// GetSessionForDate returns the artist's session for one UTC calendar day,
// or ErrNotFound when no exchange happened that day yet.
func GetSessionForDate(ctx context.Context, db *gorm.DB, artistID, contextDate string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	err := db.WithContext(ctx).
		Where("artist_id = ? AND context_date = ?", artistID, contextDate).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSessionForDate inserts a fresh day session. On a same-day race the
// loser gets ErrDuplicate and should call GetSessionForDate.
func CreateSessionForDate(ctx context.Context, db *gorm.DB, artistID, userID, contextDate, title string) (*domain.ChatSession, error) {
	s := &domain.ChatSession{
		ID:          uuid.NewString(),
		ArtistID:    artistID,
		UserID:      userID,
		ContextDate: contextDate,
		Title:       title,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// ListSessions returns an artist's sessions, newest day first.
func ListSessions(ctx context.Context, db *gorm.DB, artistID string, offset, limit int) ([]domain.ChatSession, error) {
	var out []domain.ChatSession
	err := db.WithContext(ctx).
		Where("artist_id = ?", artistID).
		Order("context_date DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// GetChatSession fetches one session by id, or ErrNotFound.
func GetChatSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessionMessages returns up to limit of the session's most recent
// messages in chronological order. This is the context window handed to the
// completion provider: the query walks backwards from the end of the session
// and the result is reversed so oldest comes first.
func ListSessionMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetChatMessage fetches one message by id, or ErrNotFound. Used to serve
// idempotent replays of the send endpoint.
func GetChatMessage(ctx context.Context, db *gorm.DB, id string) (*domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateChatMessage appends one immutable message to a session.
func CreateChatMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) (*domain.ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// BumpSession advances a session's denormalized counters after an exchange:
// messages added, tokens consumed, and the last-activity timestamp.
func BumpSession(ctx context.Context, db *gorm.DB, sessionID string, msgDelta, tokenDelta int, at time.Time) error {
	res := db.WithContext(ctx).Model(&domain.ChatSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"message_count":   gorm.Expr("message_count + ?", msgDelta),
			"total_tokens":    gorm.Expr("total_tokens + ?", tokenDelta),
			"last_message_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDailyUsage atomically adds one to the artist's counter for the
// given day, creating the row on first use. When limit > 0 the increment is
// conditional: a counter already at the limit is left untouched and the
// function reports charged=false. Safe under concurrency: the upsert
// serializes on the (artist_id, usage_date) unique index, so of N racing
// callers exactly limit-used can charge.
func IncrementDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string, limit int) (charged bool, err error) {
	now := time.Now().UTC()
	q := `INSERT INTO ai_daily_usage (id, artist_id, usage_date, messages_used, created_at, updated_at)
	      VALUES (?, ?, ?, 1, ?, ?)
	      ON CONFLICT(artist_id, usage_date)
	      DO UPDATE SET messages_used = messages_used + 1, updated_at = ?`
	args := []any{uuid.NewString(), artistID, usageDate, now, now, now}
	if limit > 0 {
		q += ` WHERE ai_daily_usage.messages_used < ?`
		args = append(args, limit)
	}
	res := db.WithContext(ctx).Exec(q, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetDailyUsage returns the number of exchanges the artist consumed on the
// given day. A missing row means zero, not an error.
func GetDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string) (int, error) {
	var u domain.DailyUsage
	err := db.WithContext(ctx).
		Where("artist_id = ? AND usage_date = ?", artistID, usageDate).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return u.MessagesUsed, nil
}

// Package services – AssistantService
//
// This file implements AssistantService, the component behind the per-artist
// AI assistant. It enforces the daily message quota, scopes conversations to
// one session per artist per UTC calendar day, assembles the system prompt
// from the configured fragments, delegates generation to the completion
// provider, and persists each successful exchange atomically.
//
// Ordering: validation and the quota check happen before the provider call;
// a provider failure persists nothing and charges nothing. The usage counter
// is a conditional atomic SQL upsert inside the success transaction, so
// racing sends cannot push the day's count past the limit and no successful
// exchange goes unrecorded.
//
// Observability: SendMessage is OpenTelemetry-instrumented; spans carry the
// artist id and generation metadata.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/providers"
	"github.com/sessantasette/hub-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AgentRepo defines the repository contract required by AssistantService.
type AgentRepo interface {
	GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error)
	GetAgentConfig(ctx context.Context, db *gorm.DB, artistID string) (*domain.AgentConfig, error)
	UpsertAgentConfig(ctx context.Context, db *gorm.DB, cfg *domain.AgentConfig) (*domain.AgentConfig, error)
	GetSessionForDate(ctx context.Context, db *gorm.DB, artistID, contextDate string) (*domain.ChatSession, error)
	CreateSessionForDate(ctx context.Context, db *gorm.DB, artistID, userID, contextDate, title string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, db *gorm.DB, artistID string, offset, limit int) ([]domain.ChatSession, error)
	GetChatSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error)
	ListSessionMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.ChatMessage, error)
	CreateChatMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) (*domain.ChatMessage, error)
	BumpSession(ctx context.Context, db *gorm.DB, sessionID string, msgDelta, tokenDelta int, at time.Time) error
	IncrementDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string, limit int) (bool, error)
	GetDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string) (int, error)
	UsageStats(ctx context.Context, db *gorm.DB, artistID, since, until string) (int64, int64, error)
}

// AssistantService owns the AI chat flow: quota, sessions, prompt assembly,
// generation, and persistence.
type AssistantService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the assistant repository used by this service.
	Repo AgentRepo
	// Completer generates assistant replies.
	Completer providers.Completer

	// MaxMessageRunes caps a single user message.
	MaxMessageRunes int
	// ContextWindow bounds how many session messages are replayed per call.
	ContextWindow int
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration

	// Now supplies the current time; overridable in tests to simulate the
	// UTC-midnight session/quota rollover.
	Now func() time.Time

	// TitleLocale drives session auto-title casing.
	TitleLocale language.Tag
	// TitleMaxLen caps auto-generated session titles by rune length.
	TitleMaxLen int
}

// NewAssistantService constructs an AssistantService with default guards.
func NewAssistantService(db *gorm.DB, r AgentRepo, c providers.Completer) *AssistantService {
	return &AssistantService{
		DB:              db,
		Repo:            r,
		Completer:       c,
		MaxMessageRunes: 2000,
		ContextWindow:   40,
		CallTimeout:     30 * time.Second,
		Now:             time.Now,
		TitleLocale:     language.Italian,
		TitleMaxLen:     60,
	}
}

// UsageSnapshot reports where the artist stands against the daily quota.
type UsageSnapshot struct {
	DailyLimit int    `json:"daily_limit"`
	UsedToday  int    `json:"used_today"`
	Remaining  int    `json:"remaining"`
	IsEnabled  bool   `json:"is_enabled"`
	ResetsAt   string `json:"resets_at"` // next UTC midnight, RFC 3339
}

// ChatReply is the result of one successful exchange.
type ChatReply struct {
	Message        string        `json:"message"`
	SessionID      string        `json:"session_id"`
	MessageID      string        `json:"message_id"`
	Usage          UsageSnapshot `json:"usage"`
	TokensUsed     int           `json:"tokens"`
	ModelUsed      string        `json:"model"`
	ResponseTimeMS int64         `json:"response_time_ms"`
}

// nextUTCMidnight returns the next quota reset boundary after t.
func nextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// SendMessage runs one assistant exchange for the artist. See the package
// comment for ordering and failure semantics.
func (s *AssistantService) SendMessage(ctx context.Context, artistID, userID, raw string) (*ChatReply, error) {
	tr := otel.Tracer("services/AssistantService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(attribute.String("artist.id", artistID)),
	)
	defer span.End()

	// 1. Validate the message before touching any state.
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(msg) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	// 2. The assistant must be configured and switched on.
	cfg, err := s.Repo.GetAgentConfig(ctx, s.DB, artistID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAgentDisabled
		}
		return nil, err
	}
	if !cfg.IsEnabled {
		return nil, ErrAgentDisabled
	}

	// 3. Daily quota.
	now := s.Now().UTC()
	today := domain.UsageDateOf(now)
	used, err := s.Repo.GetDailyUsage(ctx, s.DB, artistID, today)
	if err != nil {
		return nil, err
	}
	if used >= cfg.DailyMessageLimit {
		return nil, &QuotaError{DailyLimit: cfg.DailyMessageLimit, UsedToday: used}
	}

	// 4. Resolve or create today's session.
	session, err := s.Repo.GetSessionForDate(ctx, s.DB, artistID, today)
	if errors.Is(err, repo.ErrNotFound) {
		session, err = s.Repo.CreateSessionForDate(ctx, s.DB, artistID, userID, today, s.autoTitle(msg))
		if errors.Is(err, repo.ErrDuplicate) {
			session, err = s.Repo.GetSessionForDate(ctx, s.DB, artistID, today)
		}
	}
	if err != nil {
		return nil, err
	}

	// 5. Build the conversation for the provider.
	history, err := s.Repo.ListSessionMessages(ctx, s.DB, session.ID, s.ContextWindow)
	if err != nil {
		return nil, err
	}
	artistName := artistID
	if a, aerr := s.Repo.GetArtist(ctx, s.DB, artistID); aerr == nil {
		artistName = a.Name
	}
	turns := make([]providers.ChatTurn, 0, len(history)+2)
	turns = append(turns, providers.ChatTurn{Role: "system", Content: BuildSystemPrompt(cfg, artistName)})
	for _, h := range history {
		turns = append(turns, providers.ChatTurn{Role: h.Role, Content: h.Content})
	}
	turns = append(turns, providers.ChatTurn{Role: domain.ChatRoleUser, Content: msg})

	// 6. Generate under a bounded timeout. Failures charge nothing.
	callCtx := ctx
	if s.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.Completer.Complete(callCtx, providers.CompletionRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Turns:       turns,
	})
	if err != nil {
		span.RecordError(err)
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	elapsedMS := time.Since(start).Milliseconds()

	// 7. Persist the exchange and charge the quota atomically.
	var assistantMsg *domain.ChatMessage
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.Repo.CreateChatMessage(ctx, tx, &domain.ChatMessage{
			SessionID: session.ID,
			Role:      domain.ChatRoleUser,
			Content:   msg,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		m, err := s.Repo.CreateChatMessage(ctx, tx, &domain.ChatMessage{
			SessionID:      session.ID,
			Role:           domain.ChatRoleAssistant,
			Content:        res.Content,
			TokensUsed:     &res.TotalTokens,
			ModelUsed:      &cfg.Model,
			ResponseTimeMS: &elapsedMS,
			CreatedAt:      now.Add(time.Millisecond),
		})
		if err != nil {
			return err
		}
		assistantMsg = m
		if err := s.Repo.BumpSession(ctx, tx, session.ID, 2, res.TotalTokens, now); err != nil {
			return err
		}
		// The conditional charge is the real quota gate: the pre-check in
		// step 3 only short-circuits the common case. Racing requests that
		// slip past it roll back here, so at most DailyMessageLimit
		// exchanges are ever recorded per day.
		charged, err := s.Repo.IncrementDailyUsage(ctx, tx, artistID, today, cfg.DailyMessageLimit)
		if err != nil {
			return err
		}
		if !charged {
			return &QuotaError{DailyLimit: cfg.DailyMessageLimit, UsedToday: cfg.DailyMessageLimit}
		}
		return nil
	})
	if err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			return nil, qe
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("ai.tokens", res.TotalTokens),
		attribute.String("ai.model", cfg.Model),
	)

	// 8. Snapshot reflects this exchange.
	usedNow := used + 1
	return &ChatReply{
		Message:   res.Content,
		SessionID: session.ID,
		MessageID: assistantMsg.ID,
		Usage: UsageSnapshot{
			DailyLimit: cfg.DailyMessageLimit,
			UsedToday:  usedNow,
			Remaining:  maxInt(cfg.DailyMessageLimit-usedNow, 0),
			IsEnabled:  true,
			ResetsAt:   nextUTCMidnight(now).Format(time.RFC3339),
		},
		TokensUsed:     res.TotalTokens,
		ModelUsed:      cfg.Model,
		ResponseTimeMS: elapsedMS,
	}, nil
}

// RemainingMessages returns the artist's quota standing without side
// effects. A missing or disabled agent reports is_enabled=false instead of
// failing.
func (s *AssistantService) RemainingMessages(ctx context.Context, artistID string) (*UsageSnapshot, error) {
	now := s.Now().UTC()
	snap := &UsageSnapshot{ResetsAt: nextUTCMidnight(now).Format(time.RFC3339)}

	cfg, err := s.Repo.GetAgentConfig(ctx, s.DB, artistID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return snap, nil
		}
		return nil, err
	}
	used, err := s.Repo.GetDailyUsage(ctx, s.DB, artistID, domain.UsageDateOf(now))
	if err != nil {
		return nil, err
	}
	snap.IsEnabled = cfg.IsEnabled
	snap.DailyLimit = cfg.DailyMessageLimit
	snap.UsedToday = used
	snap.Remaining = maxInt(cfg.DailyMessageLimit-used, 0)
	return snap, nil
}

// fallbackPersona is used when no prompt fragments are configured. The
// product speaks Italian to its artists, so the default does too.
const fallbackPersona = `Sei l'assistente AI personale di %s, un artista dell'etichetta 67 Entertainment.

Il tuo ruolo:
- Fornire consulenza strategica sui social media
- Aiutare con idee per contenuti, caption, hashtags
- Consigliare sulle best practice per Instagram, TikTok, YouTube
- Supportare la pianificazione editoriale
- Rispondere in italiano, in modo amichevole e professionale

Regole:
- Rispondi sempre in italiano
- Sii conciso ma utile
- Personalizza i consigli per l'artista
- Non inventare dati o statistiche
- Se non sai qualcosa, dillo onestamente`

// BuildSystemPrompt joins the configured non-empty prompt fragments in their
// fixed order, separated by blank lines. When none are set it falls back to
// the default persona for the named artist.
func BuildSystemPrompt(cfg *domain.AgentConfig, artistName string) string {
	if !cfg.HasCustomPrompt() {
		return strings.ReplaceAll(fallbackPersona, "%s", artistName)
	}
	var parts []string
	for _, f := range cfg.PromptFragments() {
		if t := strings.TrimSpace(f); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// autoTitle derives a session title from the first prompt: first few words,
// title-cased, clipped.
func (s *AssistantService) autoTitle(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > 6 {
		words = words[:6]
	}
	title := cases.Title(s.TitleLocale).String(strings.Join(words, " "))
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		r := []rune(title)
		title = string(r[:s.TitleMaxLen])
	}
	return title
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ---- admin views ----

// SessionStats is the per-artist usage roll-up for the admin dashboard.
type SessionStats struct {
	Today int64 `json:"messages_today"`
	Week  int64 `json:"messages_week"`
	Month int64 `json:"messages_month"`
	Days  int64 `json:"active_days_month"`
}

// ListSessions returns an artist's day sessions, newest first.
func (s *AssistantService) ListSessions(ctx context.Context, artistID string, page, pageSize int) ([]domain.ChatSession, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return s.Repo.ListSessions(ctx, s.DB, artistID, (page-1)*pageSize, pageSize)
}

// SessionMessages returns a session's messages, oldest first. Staff can read
// any session; an artist can only read their own, and a foreign session reads
// as not found so its existence is not leaked.
func (s *AssistantService) SessionMessages(ctx context.Context, actor Actor, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	session, err := s.Repo.GetChatSession(ctx, s.DB, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !actor.Role.IsStaff() && session.ArtistID != actor.ArtistID {
		return nil, ErrSessionNotFound
	}
	return s.Repo.ListSessionMessages(ctx, s.DB, sessionID, limit)
}

// Stats aggregates an artist's consumption for today, the trailing week,
// and the trailing month.
func (s *AssistantService) Stats(ctx context.Context, artistID string) (*SessionStats, error) {
	now := s.Now().UTC()
	today := domain.UsageDateOf(now)
	tomorrow := domain.UsageDateOf(now.Add(24 * time.Hour))
	weekAgo := domain.UsageDateOf(now.Add(-6 * 24 * time.Hour))
	monthAgo := domain.UsageDateOf(now.Add(-29 * 24 * time.Hour))

	var st SessionStats
	var err error
	if st.Today, _, err = s.Repo.UsageStats(ctx, s.DB, artistID, today, tomorrow); err != nil {
		return nil, err
	}
	if st.Week, _, err = s.Repo.UsageStats(ctx, s.DB, artistID, weekAgo, tomorrow); err != nil {
		return nil, err
	}
	if st.Month, st.Days, err = s.Repo.UsageStats(ctx, s.DB, artistID, monthAgo, tomorrow); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetConfig returns an artist's assistant configuration, or ErrAgentDisabled
// when none exists. Staff can read any artist's config; an artist only
// their own.
func (s *AssistantService) GetConfig(ctx context.Context, actor Actor, artistID string) (*domain.AgentConfig, error) {
	if !actor.Role.IsStaff() && actor.ArtistID != artistID {
		return nil, ErrForbidden
	}
	cfg, err := s.Repo.GetAgentConfig(ctx, s.DB, artistID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAgentDisabled
	}
	return cfg, err
}

// UpdateConfig inserts or replaces an artist's assistant configuration.
// Zero-valued generation settings fall back to defaults.
func (s *AssistantService) UpdateConfig(ctx context.Context, actor Actor, cfg *domain.AgentConfig) (*domain.AgentConfig, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	if _, err := s.Repo.GetArtist(ctx, s.DB, cfg.ArtistID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrArtistNotFound
		}
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.DailyMessageLimit == 0 {
		cfg.DailyMessageLimit = 20
	}
	cfg.ConfiguredBy = &actor.UserID
	return s.Repo.UpsertAgentConfig(ctx, s.DB, cfg)
}

package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/providers"
	"github.com/sessantasette/hub-backend/internal/repo"
)

// agentRepoShim delegates the AgentRepo contract to the repo free functions.
type agentRepoShim struct{}

func (agentRepoShim) GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error) {
	return repo.GetArtist(ctx, db, id)
}
func (agentRepoShim) GetAgentConfig(ctx context.Context, db *gorm.DB, artistID string) (*domain.AgentConfig, error) {
	return repo.GetAgentConfig(ctx, db, artistID)
}
func (agentRepoShim) UpsertAgentConfig(ctx context.Context, db *gorm.DB, cfg *domain.AgentConfig) (*domain.AgentConfig, error) {
	return repo.UpsertAgentConfig(ctx, db, cfg)
}
func (agentRepoShim) GetSessionForDate(ctx context.Context, db *gorm.DB, artistID, contextDate string) (*domain.ChatSession, error) {
	return repo.GetSessionForDate(ctx, db, artistID, contextDate)
}
func (agentRepoShim) CreateSessionForDate(ctx context.Context, db *gorm.DB, artistID, userID, contextDate, title string) (*domain.ChatSession, error) {
	return repo.CreateSessionForDate(ctx, db, artistID, userID, contextDate, title)
}
func (agentRepoShim) ListSessions(ctx context.Context, db *gorm.DB, artistID string, offset, limit int) ([]domain.ChatSession, error) {
	return repo.ListSessions(ctx, db, artistID, offset, limit)
}
func (agentRepoShim) GetChatSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	return repo.GetChatSession(ctx, db, id)
}
func (agentRepoShim) ListSessionMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.ChatMessage, error) {
	return repo.ListSessionMessages(ctx, db, sessionID, limit)
}
func (agentRepoShim) CreateChatMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) (*domain.ChatMessage, error) {
	return repo.CreateChatMessage(ctx, db, m)
}
func (agentRepoShim) BumpSession(ctx context.Context, db *gorm.DB, sessionID string, msgDelta, tokenDelta int, at time.Time) error {
	return repo.BumpSession(ctx, db, sessionID, msgDelta, tokenDelta, at)
}
func (agentRepoShim) IncrementDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string, limit int) (bool, error) {
	return repo.IncrementDailyUsage(ctx, db, artistID, usageDate, limit)
}
func (agentRepoShim) GetDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string) (int, error) {
	return repo.GetDailyUsage(ctx, db, artistID, usageDate)
}
func (agentRepoShim) UsageStats(ctx context.Context, db *gorm.DB, artistID, since, until string) (int64, int64, error) {
	return repo.UsageStats(ctx, db, artistID, since, until)
}

// fakeCompleter returns a canned reply and records every request.
type fakeCompleter struct {
	mu    sync.Mutex
	reqs  []providers.CompletionRequest
	reply string
	fail  error
	calls int32
}

func (f *fakeCompleter) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResult, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fail != nil {
		return providers.CompletionResult{}, f.fail
	}
	return providers.CompletionResult{Content: f.reply, TotalTokens: 42}, nil
}

// newAssistant uses a file-backed database: the quota race test runs real
// concurrent transactions, which shared-cache in-memory SQLite cannot serve.
func newAssistant(t *testing.T) (*AssistantService, *fakeCompleter, *gorm.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "assistant_test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.Artist{}, &domain.AgentConfig{},
		&domain.ChatSession{}, &domain.ChatMessage{}, &domain.DailyUsage{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	fc := &fakeCompleter{reply: "Ottima idea, proviamo con un reel."}
	s := NewAssistantService(db, agentRepoShim{}, fc)
	s.Now = func() time.Time { return time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC) }
	return s, fc, db
}

func seedAgent(t *testing.T, db *gorm.DB, artistID string, enabled bool, limit int) {
	t.Helper()
	if err := db.Create(&domain.Artist{ID: artistID, Name: "Nova"}).Error; err != nil {
		t.Fatalf("seed artist: %v", err)
	}
	if err := db.Create(&domain.AgentConfig{
		ID:                artistID + "-cfg",
		ArtistID:          artistID,
		IsEnabled:         enabled,
		Model:             "deepseek-chat",
		Temperature:       0.7,
		MaxTokens:         1000,
		DailyMessageLimit: limit,
	}).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ---------- SendMessage ----------

func TestAssistant_SendMessage_Validation(t *testing.T) {
	s, fc, _ := newAssistant(t)
	ctx := context.Background()

	if _, err := s.SendMessage(ctx, "a1", "u1", "   "); err != ErrEmptyMessage {
		t.Fatalf("empty err = %v, want ErrEmptyMessage", err)
	}
	s.MaxMessageRunes = 5
	if _, err := s.SendMessage(ctx, "a1", "u1", "sei parole di troppo qui"); err != ErrMessageTooLong {
		t.Fatalf("long err = %v, want ErrMessageTooLong", err)
	}
	if fc.calls != 0 {
		t.Fatalf("provider called %d times on validation failure", fc.calls)
	}
}

func TestAssistant_SendMessage_AgentMissingOrDisabled(t *testing.T) {
	s, fc, db := newAssistant(t)
	ctx := context.Background()

	// Never configured.
	if _, err := s.SendMessage(ctx, "ghost", "u1", "ciao"); err != ErrAgentDisabled {
		t.Fatalf("missing config err = %v, want ErrAgentDisabled", err)
	}
	// Configured but switched off.
	seedAgent(t, db, "a1", false, 20)
	if _, err := s.SendMessage(ctx, "a1", "u1", "ciao"); err != ErrAgentDisabled {
		t.Fatalf("disabled err = %v, want ErrAgentDisabled", err)
	}

	// No side effects at all.
	if fc.calls != 0 {
		t.Fatalf("provider called %d times", fc.calls)
	}
	if n := countRows(t, db, &domain.ChatSession{}); n != 0 {
		t.Fatalf("%d sessions created", n)
	}
	if n := countRows(t, db, &domain.DailyUsage{}); n != 0 {
		t.Fatalf("%d usage rows created", n)
	}
}

func TestAssistant_SendMessage_Success(t *testing.T) {
	s, fc, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 20)

	reply, err := s.SendMessage(ctx, "a1", "u1", "Che caption uso per il nuovo singolo?")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.Message != fc.reply {
		t.Fatalf("reply = %q", reply.Message)
	}
	if reply.Usage.DailyLimit != 20 || reply.Usage.UsedToday != 1 || reply.Usage.Remaining != 19 {
		t.Fatalf("usage snapshot: %+v", reply.Usage)
	}
	if !reply.Usage.IsEnabled || reply.Usage.ResetsAt != "2026-04-11T00:00:00Z" {
		t.Fatalf("snapshot meta: %+v", reply.Usage)
	}
	if reply.TokensUsed != 42 || reply.ModelUsed != "deepseek-chat" {
		t.Fatalf("meta: %+v", reply)
	}

	// Both turns persisted; counters bumped; auto-title set.
	sess, err := repo.GetSessionForDate(ctx, db, "a1", "2026-04-10")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.MessageCount != 2 || sess.TotalTokens != 42 || sess.LastMessageAt == nil {
		t.Fatalf("session counters: %+v", sess)
	}
	if sess.Title == "" {
		t.Fatal("session has no auto-title")
	}
	msgs, err := repo.ListSessionMessages(ctx, db, sess.ID, 10)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("messages: %d err=%v", len(msgs), err)
	}
	if msgs[0].Role != domain.ChatRoleUser || msgs[1].Role != domain.ChatRoleAssistant {
		t.Fatalf("roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].TokensUsed == nil || *msgs[1].TokensUsed != 42 || msgs[1].ModelUsed == nil {
		t.Fatalf("assistant meta: %+v", msgs[1])
	}

	// A second exchange reuses the day session.
	if _, err := s.SendMessage(ctx, "a1", "u1", "E gli hashtag?"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if n := countRows(t, db, &domain.ChatSession{}); n != 1 {
		t.Fatalf("%d sessions, want 1", n)
	}
	used, _ := repo.GetDailyUsage(ctx, db, "a1", "2026-04-10")
	if used != 2 {
		t.Fatalf("used = %d, want 2", used)
	}
}

func TestAssistant_SendMessage_QuotaExhausted(t *testing.T) {
	s, fc, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 2)

	for i := 0; i < 2; i++ {
		if _, err := s.SendMessage(ctx, "a1", "u1", "msg"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	_, err := s.SendMessage(ctx, "a1", "u1", "una di troppo")
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want *QuotaError", err)
	}
	if qe.DailyLimit != 2 || qe.UsedToday != 2 || qe.Remaining() != 0 {
		t.Fatalf("quota snapshot: %+v", qe)
	}
	// The over-quota attempt never reached the provider.
	if fc.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", fc.calls)
	}
}

func TestAssistant_SendMessage_ProviderFailureChargesNothing(t *testing.T) {
	s, fc, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 20)
	fc.fail = errors.New("upstream 503")

	_, err := s.SendMessage(ctx, "a1", "u1", "ciao")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}

	// No messages, no charge. The day session may exist; it holds nothing.
	if n := countRows(t, db, &domain.ChatMessage{}); n != 0 {
		t.Fatalf("%d messages persisted", n)
	}
	used, _ := repo.GetDailyUsage(ctx, db, "a1", "2026-04-10")
	if used != 0 {
		t.Fatalf("used = %d, want 0", used)
	}

	// The next attempt succeeds normally.
	fc.fail = nil
	if _, err := s.SendMessage(ctx, "a1", "u1", "riproviamo"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestAssistant_SendMessage_QuotaRace(t *testing.T) {
	s, _, db := newAssistant(t)
	seedAgent(t, db, "a1", true, 3)

	const attempts = 8 // limit + 5
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SendMessage(context.Background(), "a1", "u1", "gara di quota")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, quota := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			var qe *QuotaError
			if !errors.As(err, &qe) {
				t.Fatalf("unexpected error: %v", err)
			}
			quota++
		}
	}
	if ok != 3 || quota != attempts-3 {
		t.Fatalf("ok=%d quota=%d, want 3 and %d", ok, quota, attempts-3)
	}
	used, err := repo.GetDailyUsage(context.Background(), db, "a1", "2026-04-10")
	if err != nil || used != 3 {
		t.Fatalf("used = %d err=%v, want 3", used, err)
	}
	// Exactly the successful exchanges were recorded.
	if n := countRows(t, db, &domain.ChatMessage{}); n != 6 {
		t.Fatalf("%d messages, want 6", n)
	}
}

func TestAssistant_SendMessage_DailyRollover(t *testing.T) {
	s, _, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 1)

	if _, err := s.SendMessage(ctx, "a1", "u1", "giorno uno"); err != nil {
		t.Fatalf("day one: %v", err)
	}
	if _, err := s.SendMessage(ctx, "a1", "u1", "di nuovo"); err == nil {
		t.Fatal("expected quota error on day one")
	}

	// Midnight passes.
	s.Now = func() time.Time { return time.Date(2026, 4, 11, 0, 0, 1, 0, time.UTC) }
	reply, err := s.SendMessage(ctx, "a1", "u1", "giorno due")
	if err != nil {
		t.Fatalf("day two: %v", err)
	}
	if reply.Usage.UsedToday != 1 {
		t.Fatalf("day two usage: %+v", reply.Usage)
	}
	// Fresh session for the new day.
	if n := countRows(t, db, &domain.ChatSession{}); n != 2 {
		t.Fatalf("%d sessions, want 2", n)
	}
	s1, _ := repo.GetSessionForDate(ctx, db, "a1", "2026-04-10")
	s2, _ := repo.GetSessionForDate(ctx, db, "a1", "2026-04-11")
	if s1 == nil || s2 == nil || s1.ID == s2.ID {
		t.Fatal("sessions not day-scoped")
	}
}

func TestAssistant_SendMessage_ContextWindow(t *testing.T) {
	s, fc, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 50)
	s.ContextWindow = 4

	for i, m := range []string{"uno", "due", "tre", "quattro"} {
		if _, err := s.SendMessage(ctx, "a1", "u1", m); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// The last request carries: system + last 4 history turns + new message.
	fc.mu.Lock()
	last := fc.reqs[len(fc.reqs)-1]
	fc.mu.Unlock()
	if len(last.Turns) != 6 {
		t.Fatalf("turns = %d, want 6", len(last.Turns))
	}
	if last.Turns[0].Role != "system" {
		t.Fatalf("first turn role = %s", last.Turns[0].Role)
	}
	if got := last.Turns[len(last.Turns)-1].Content; got != "quattro" {
		t.Fatalf("final turn = %q", got)
	}
	if last.Model != "deepseek-chat" || last.MaxTokens != 1000 {
		t.Fatalf("generation settings: %+v", last)
	}
}

// ---------- prompt assembly ----------

func TestBuildSystemPrompt_FragmentsInOrder(t *testing.T) {
	cfg := &domain.AgentConfig{
		PromptIdentity:  "Identità.",
		PromptOntology:  "Ontologia.",
		PromptExtra:     "Extra.",
		PromptActivity:  "",
		PromptMarketing: "   ",
	}
	got := BuildSystemPrompt(cfg, "Nova")
	want := "Identità.\n\nOntologia.\n\nExtra."
	if got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
}

func TestBuildSystemPrompt_FallbackPersona(t *testing.T) {
	got := BuildSystemPrompt(&domain.AgentConfig{}, "Nova")
	if !strings.Contains(got, "Nova") || !strings.Contains(got, "67 Entertainment") {
		t.Fatalf("fallback missing artist/label: %q", got)
	}
	if !strings.Contains(got, "Rispondi sempre in italiano") {
		t.Fatalf("fallback rules missing: %q", got)
	}
}

// ---------- RemainingMessages / admin ----------

func TestAssistant_RemainingMessages(t *testing.T) {
	s, _, db := newAssistant(t)
	ctx := context.Background()

	// Unknown artist: disabled snapshot, not an error.
	snap, err := s.RemainingMessages(ctx, "ghost")
	if err != nil || snap.IsEnabled || snap.DailyLimit != 0 {
		t.Fatalf("ghost snapshot: %+v err=%v", snap, err)
	}

	seedAgent(t, db, "a1", true, 20)
	if _, err := s.SendMessage(ctx, "a1", "u1", "ciao"); err != nil {
		t.Fatalf("send: %v", err)
	}
	snap, err = s.RemainingMessages(ctx, "a1")
	if err != nil {
		t.Fatalf("RemainingMessages: %v", err)
	}
	if !snap.IsEnabled || snap.UsedToday != 1 || snap.Remaining != 19 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestAssistant_UpdateConfig_AdminOnlyWithDefaults(t *testing.T) {
	s, _, db := newAssistant(t)
	ctx := context.Background()
	if err := db.Create(&domain.Artist{ID: "a1", Name: "Nova"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	manager := Actor{UserID: "m1", Role: domain.RoleManager}
	if _, err := s.UpdateConfig(ctx, manager, &domain.AgentConfig{ArtistID: "a1"}); err != ErrForbidden {
		t.Fatalf("manager err = %v, want ErrForbidden", err)
	}

	adminActor := Actor{UserID: "adm", Role: domain.RoleAdmin}
	if _, err := s.UpdateConfig(ctx, adminActor, &domain.AgentConfig{ArtistID: "missing"}); err != ErrArtistNotFound {
		t.Fatalf("unknown artist err = %v, want ErrArtistNotFound", err)
	}

	cfg, err := s.UpdateConfig(ctx, adminActor, &domain.AgentConfig{ArtistID: "a1", IsEnabled: true})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if cfg.Model != "deepseek-chat" || cfg.Temperature != 0.7 || cfg.MaxTokens != 1000 || cfg.DailyMessageLimit != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.ConfiguredBy == nil || *cfg.ConfiguredBy != "adm" {
		t.Fatalf("configured_by: %v", cfg.ConfiguredBy)
	}
}

func TestAssistant_SessionMessages_OwnerScoped(t *testing.T) {
	s, _, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 20)
	if _, err := s.SendMessage(ctx, "a1", "u1", "ciao"); err != nil {
		t.Fatalf("send: %v", err)
	}
	sess, err := repo.GetSessionForDate(ctx, db, "a1", "2026-04-10")
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	owner := Actor{UserID: "u1", Role: domain.RoleArtist, ArtistID: "a1"}
	msgs, err := s.SessionMessages(ctx, owner, sess.ID, 10)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("owner read: %d err=%v", len(msgs), err)
	}

	// Another artist sees the session as missing.
	other := Actor{UserID: "u2", Role: domain.RoleArtist, ArtistID: "a2"}
	if _, err := s.SessionMessages(ctx, other, sess.ID, 10); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign read err = %v, want ErrSessionNotFound", err)
	}

	// Staff read any session.
	if _, err := s.SessionMessages(ctx, Actor{UserID: "m1", Role: domain.RoleManager}, sess.ID, 10); err != nil {
		t.Fatalf("staff read: %v", err)
	}

	if _, err := s.SessionMessages(ctx, owner, "ghost", 10); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown session err = %v, want ErrSessionNotFound", err)
	}
}

func TestAssistant_GetConfig_OwnerScoped(t *testing.T) {
	s, _, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 20)

	owner := Actor{UserID: "u1", Role: domain.RoleArtist, ArtistID: "a1"}
	if cfg, err := s.GetConfig(ctx, owner, "a1"); err != nil || cfg.ArtistID != "a1" {
		t.Fatalf("owner read: cfg=%+v err=%v", cfg, err)
	}

	other := Actor{UserID: "u2", Role: domain.RoleArtist, ArtistID: "a2"}
	if _, err := s.GetConfig(ctx, other, "a1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign read err = %v, want ErrForbidden", err)
	}

	if _, err := s.GetConfig(ctx, Actor{UserID: "m1", Role: domain.RoleManager}, "a1"); err != nil {
		t.Fatalf("staff read: %v", err)
	}
}

func TestAssistant_Stats(t *testing.T) {
	s, _, db := newAssistant(t)
	ctx := context.Background()
	seedAgent(t, db, "a1", true, 100)

	// Two today (2026-04-10), plus older manual rows.
	for i := 0; i < 2; i++ {
		if _, err := s.SendMessage(ctx, "a1", "u1", "oggi"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for _, day := range []string{"2026-04-07", "2026-03-20"} {
		if _, err := repo.IncrementDailyUsage(ctx, db, "a1", day, 0); err != nil {
			t.Fatalf("seed usage %s: %v", day, err)
		}
	}

	st, err := s.Stats(ctx, "a1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Today != 2 || st.Week != 3 || st.Month != 4 || st.Days != 3 {
		t.Fatalf("stats: %+v", st)
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/http/middleware"
	"github.com/sessantasette/hub-backend/internal/providers"
	"github.com/sessantasette/hub-backend/internal/repo"
	"github.com/sessantasette/hub-backend/internal/services"
)

// ---------- assistant fixtures ----------

// Minimal shim implementing services.AgentRepo using repo free functions.
type testAgentRepo struct{}

func (testAgentRepo) GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error) {
	return repo.GetArtist(ctx, db, id)
}
func (testAgentRepo) GetAgentConfig(ctx context.Context, db *gorm.DB, artistID string) (*domain.AgentConfig, error) {
	return repo.GetAgentConfig(ctx, db, artistID)
}
func (testAgentRepo) UpsertAgentConfig(ctx context.Context, db *gorm.DB, cfg *domain.AgentConfig) (*domain.AgentConfig, error) {
	return repo.UpsertAgentConfig(ctx, db, cfg)
}
func (testAgentRepo) GetSessionForDate(ctx context.Context, db *gorm.DB, artistID, contextDate string) (*domain.ChatSession, error) {
	return repo.GetSessionForDate(ctx, db, artistID, contextDate)
}
func (testAgentRepo) CreateSessionForDate(ctx context.Context, db *gorm.DB, artistID, userID, contextDate, title string) (*domain.ChatSession, error) {
	return repo.CreateSessionForDate(ctx, db, artistID, userID, contextDate, title)
}
func (testAgentRepo) ListSessions(ctx context.Context, db *gorm.DB, artistID string, offset, limit int) ([]domain.ChatSession, error) {
	return repo.ListSessions(ctx, db, artistID, offset, limit)
}
func (testAgentRepo) GetChatSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	return repo.GetChatSession(ctx, db, id)
}
func (testAgentRepo) ListSessionMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.ChatMessage, error) {
	return repo.ListSessionMessages(ctx, db, sessionID, limit)
}
func (testAgentRepo) CreateChatMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) (*domain.ChatMessage, error) {
	return repo.CreateChatMessage(ctx, db, m)
}
func (testAgentRepo) BumpSession(ctx context.Context, db *gorm.DB, sessionID string, msgDelta, tokenDelta int, at time.Time) error {
	return repo.BumpSession(ctx, db, sessionID, msgDelta, tokenDelta, at)
}
func (testAgentRepo) IncrementDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string, limit int) (bool, error) {
	return repo.IncrementDailyUsage(ctx, db, artistID, usageDate, limit)
}
func (testAgentRepo) GetDailyUsage(ctx context.Context, db *gorm.DB, artistID, usageDate string) (int, error) {
	return repo.GetDailyUsage(ctx, db, artistID, usageDate)
}
func (testAgentRepo) UsageStats(ctx context.Context, db *gorm.DB, artistID, since, until string) (int64, int64, error) {
	return repo.UsageStats(ctx, db, artistID, since, until)
}

type cannedCompleter struct {
	reply string
	fail  error
}

func (f cannedCompleter) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResult, error) {
	if f.fail != nil {
		return providers.CompletionResult{}, f.fail
	}
	return providers.CompletionResult{Content: f.reply, TotalTokens: 42}, nil
}

func newAssistantFixture(t *testing.T, completer providers.Completer) (*services.AssistantService, *gorm.DB) {
	t.Helper()
	db := newHandlerDB(t,
		&domain.Artist{}, &domain.AgentConfig{},
		&domain.ChatSession{}, &domain.ChatMessage{},
		&domain.DailyUsage{}, &domain.Idempotency{},
	)
	if err := db.Create(&domain.Artist{ID: "artist-nova", Name: "Nova"}).Error; err != nil {
		t.Fatalf("seed artist: %v", err)
	}
	if err := db.Create(&domain.AgentConfig{
		ID:                "cfg-nova",
		ArtistID:          "artist-nova",
		IsEnabled:         true,
		Model:             "deepseek-chat",
		Temperature:       0.7,
		MaxTokens:         1000,
		DailyMessageLimit: 2,
	}).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return services.NewAssistantService(db, testAgentRepo{}, completer), db
}

func newChatRouter(id middleware.Identity, h *ChatHandlers, db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asIdentity(id))

	lookup := func(ctx context.Context, userID, artistID, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, artistID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	r.POST("/ai/chat", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, lookup), h.SendChatMessage)
	r.GET("/ai/usage", h.GetUsage)
	r.GET("/ai/sessions", h.ListChatSessions)
	r.GET("/ai/sessions/:id/messages", h.GetSessionMessages)
	r.GET("/ai/stats", h.GetChatStats)
	r.GET("/ai/config/:artist_id", h.GetAgentConfig)
	r.PUT("/ai/config", h.UpdateAgentConfig)
	return r
}

func sendChat(r *gin.Engine, msg, idemKey string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(SendChatRequest{Message: msg})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ai/chat", bytes.NewReader(body))
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	r.ServeHTTP(w, req)
	return w
}

// ---------- SendChatMessage ----------

func TestSendChatMessage_SuccessChargesQuota(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "Parti con un teaser di 15 secondi."})
	h := NewChatHandlers(svc, time.Hour)
	r := newChatRouter(novaIdentity, h, db)

	w := sendChat(r, "Come lancio il singolo?", "")
	if w.Code != http.StatusOK {
		t.Fatalf("send -> %d body=%s", w.Code, w.Body.String())
	}
	var reply services.ChatReply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("json: %v", err)
	}
	if reply.Message == "" || reply.SessionID == "" || reply.MessageID == "" {
		t.Fatalf("incomplete reply: %+v", reply)
	}
	if reply.Usage.UsedToday != 1 || reply.Usage.Remaining != 1 {
		t.Fatalf("unexpected usage: %+v", reply.Usage)
	}
}

func TestSendChatMessage_QuotaExhausted(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
	h := NewChatHandlers(svc, time.Hour)
	r := newChatRouter(novaIdentity, h, db)

	for i := 0; i < 2; i++ {
		if w := sendChat(r, "msg", ""); w.Code != http.StatusOK {
			t.Fatalf("send %d -> %d body=%s", i, w.Code, w.Body.String())
		}
	}
	w := sendChat(r, "one too many", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over quota -> %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	var out QuotaExceededResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Code != "quota_exhausted" || out.Usage.Remaining != 0 || out.Usage.UsedToday != 2 {
		t.Fatalf("unexpected quota body: %+v", out)
	}
}

func TestSendChatMessage_IdempotentReplay(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "Prova con un duetto TikTok."})
	h := NewChatHandlers(svc, time.Hour)
	r := newChatRouter(novaIdentity, h, db)

	first := sendChat(r, "Idee per il lancio?", "retry-abc123")
	if first.Code != http.StatusOK {
		t.Fatalf("first send -> %d body=%s", first.Code, first.Body.String())
	}
	var orig services.ChatReply
	if err := json.Unmarshal(first.Body.Bytes(), &orig); err != nil {
		t.Fatalf("json: %v", err)
	}

	second := sendChat(r, "Idee per il lancio?", "retry-abc123")
	if second.Code != http.StatusOK {
		t.Fatalf("replay -> %d body=%s", second.Code, second.Body.String())
	}
	var replay services.ChatReply
	if err := json.Unmarshal(second.Body.Bytes(), &replay); err != nil {
		t.Fatalf("json: %v", err)
	}
	if replay.MessageID != orig.MessageID || replay.Message != orig.Message {
		t.Fatalf("replay differs: %+v vs %+v", replay, orig)
	}
	// The replay must not charge a second unit.
	if replay.Usage.UsedToday != 1 {
		t.Fatalf("replay charged quota: %+v", replay.Usage)
	}
}

func TestSendChatMessage_StaffIdempotentReplay(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "Un contest con i fan."})
	h := NewChatHandlers(svc, time.Hour)
	r := newChatRouter(staffIdentity, h, db)

	// Staff name the artist in the body; the replay lookup must use that
	// same scope, not the (empty) artist on the staff identity.
	send := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(SendChatRequest{Message: "Idee?", ArtistID: "artist-nova"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ai/chat", bytes.NewReader(body))
		req.Header.Set("Idempotency-Key", "staff-retry-1")
		r.ServeHTTP(w, req)
		return w
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("first send -> %d body=%s", first.Code, first.Body.String())
	}
	var orig services.ChatReply
	if err := json.Unmarshal(first.Body.Bytes(), &orig); err != nil {
		t.Fatalf("json: %v", err)
	}

	second := send()
	if second.Code != http.StatusOK {
		t.Fatalf("retry -> %d body=%s", second.Code, second.Body.String())
	}
	var replay services.ChatReply
	if err := json.Unmarshal(second.Body.Bytes(), &replay); err != nil {
		t.Fatalf("json: %v", err)
	}
	if replay.MessageID != orig.MessageID {
		t.Fatalf("retry produced a new exchange: %q vs %q", replay.MessageID, orig.MessageID)
	}
	if replay.Usage.UsedToday != 1 {
		t.Fatalf("retry charged quota again: %+v", replay.Usage)
	}
}

func TestSendChatMessage_Errors(t *testing.T) {
	// Disabled assistant -> 403 agent_disabled
	{
		svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
		db.Model(&domain.AgentConfig{}).Where("artist_id = ?", "artist-nova").Update("is_enabled", false)
		h := NewChatHandlers(svc, time.Hour)
		r := newChatRouter(novaIdentity, h, db)

		w := sendChat(r, "ciao", "")
		if w.Code != http.StatusForbidden {
			t.Fatalf("disabled -> %d body=%s", w.Code, w.Body.String())
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		if er.Code != ErrCodeAgentDisabled {
			t.Fatalf("code = %q", er.Code)
		}
	}

	// Provider failure -> 502 retryable
	{
		svc, db := newAssistantFixture(t, cannedCompleter{fail: errors.New("upstream down")})
		h := NewChatHandlers(svc, time.Hour)
		r := newChatRouter(novaIdentity, h, db)

		w := sendChat(r, "ciao", "")
		if w.Code != http.StatusBadGateway {
			t.Fatalf("provider error -> %d body=%s", w.Code, w.Body.String())
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		if !er.Retryable || er.Code != ErrCodeServiceUnavailable {
			t.Fatalf("unexpected envelope: %+v", er)
		}
	}

	// Oversized message -> 400
	{
		svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
		h := NewChatHandlers(svc, time.Hour)
		r := newChatRouter(novaIdentity, h, db)

		w := sendChat(r, strings.Repeat("a", 5000), "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("oversized -> %d body=%s", w.Code, w.Body.String())
		}
	}

	// Staff without artist_id -> 400
	{
		svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
		h := NewChatHandlers(svc, time.Hour)
		r := newChatRouter(staffIdentity, h, db)

		w := sendChat(r, "ciao", "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("staff no artist -> %d body=%s", w.Code, w.Body.String())
		}
	}
}

// ---------- Usage / sessions / stats ----------

func TestGetUsage(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
	h := NewChatHandlers(svc, time.Hour)
	r := newChatRouter(novaIdentity, h, db)

	if w := sendChat(r, "msg", ""); w.Code != http.StatusOK {
		t.Fatalf("send -> %d", w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/usage", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("usage -> %d body=%s", w.Code, w.Body.String())
	}
	var snap services.UsageSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("json: %v", err)
	}
	if snap.DailyLimit != 2 || snap.UsedToday != 1 || snap.Remaining != 1 || !snap.IsEnabled {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ResetsAt == "" {
		t.Fatalf("missing resets_at")
	}
}

func TestSessionsAndStats(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
	h := NewChatHandlers(svc, time.Hour)
	r := newChatRouter(novaIdentity, h, db)

	if w := sendChat(r, "msg", ""); w.Code != http.StatusOK {
		t.Fatalf("send -> %d", w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("sessions -> %d body=%s", w.Code, w.Body.String())
	}
	var sessions []domain.ChatSession
	if err := json.Unmarshal(w.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(sessions) != 1 || sessions[0].MessageCount != 2 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/sessions/"+sessions[0].ID+"/messages", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("messages -> %d", w.Code)
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != domain.ChatRoleUser || msgs[1].Role != domain.ChatRoleAssistant {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("stats -> %d body=%s", w.Code, w.Body.String())
	}
	var st services.SessionStats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if st.Today != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestGetSessionMessages_ForeignSessionReadsAsNotFound(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
	h := NewChatHandlers(svc, time.Hour)

	novaR := newChatRouter(novaIdentity, h, db)
	if w := sendChat(novaR, "msg", ""); w.Code != http.StatusOK {
		t.Fatalf("send -> %d", w.Code)
	}
	w := httptest.NewRecorder()
	novaR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/sessions", nil))
	var sessions []domain.ChatSession
	if err := json.Unmarshal(w.Body.Bytes(), &sessions); err != nil || len(sessions) != 1 {
		t.Fatalf("sessions: err=%v body=%s", err, w.Body.String())
	}
	path := "/ai/sessions/" + sessions[0].ID + "/messages"

	// Another artist gets 404, not the transcript.
	mareaR := newChatRouter(mareaIdentity, h, db)
	w = httptest.NewRecorder()
	mareaR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign transcript -> %d body=%s", w.Code, w.Body.String())
	}

	// The owner still reads it.
	w = httptest.NewRecorder()
	novaR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("own transcript -> %d body=%s", w.Code, w.Body.String())
	}

	// So does staff.
	staffR := newChatRouter(staffIdentity, h, db)
	w = httptest.NewRecorder()
	staffR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("staff transcript -> %d body=%s", w.Code, w.Body.String())
	}

	// Unknown session id -> 404 too.
	w = httptest.NewRecorder()
	novaR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/sessions/ghost/messages", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session -> %d", w.Code)
	}
}

// ---------- Config ----------

func TestAgentConfigEndpoints(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
	h := NewChatHandlers(svc, time.Hour)

	// Read existing config
	r := newChatRouter(adminIdentity, h, db)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/config/artist-nova", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get config -> %d body=%s", w.Code, w.Body.String())
	}

	// Manager (non-admin) cannot write
	mgrR := newChatRouter(staffIdentity, h, db)
	body := `{"artist_id":"artist-nova","is_enabled":true,"daily_message_limit":5}`
	w = httptest.NewRecorder()
	mgrR.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/ai/config", bytes.NewBufferString(body)))
	if w.Code != http.StatusForbidden {
		t.Fatalf("manager write -> %d", w.Code)
	}

	// Admin upsert with defaults filled in
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/ai/config", bytes.NewBufferString(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("admin write -> %d body=%s", w.Code, w.Body.String())
	}
	var cfg domain.AgentConfig
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.DailyMessageLimit != 5 || cfg.Model != "deepseek-chat" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	// Unknown artist -> 404
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/ai/config",
		bytes.NewBufferString(`{"artist_id":"ghost","is_enabled":true}`)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown artist -> %d", w.Code)
	}
}

func TestGetAgentConfig_ArtistScoped(t *testing.T) {
	svc, db := newAssistantFixture(t, cannedCompleter{reply: "ok"})
	h := NewChatHandlers(svc, time.Hour)

	// An artist reads their own config.
	novaR := newChatRouter(novaIdentity, h, db)
	w := httptest.NewRecorder()
	novaR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/config/artist-nova", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("own config -> %d body=%s", w.Code, w.Body.String())
	}

	// Not another artist's.
	mareaR := newChatRouter(mareaIdentity, h, db)
	w = httptest.NewRecorder()
	mareaR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/config/artist-nova", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign config -> %d body=%s", w.Code, w.Body.String())
	}

	// Staff read any.
	staffR := newChatRouter(staffIdentity, h, db)
	w = httptest.NewRecorder()
	staffR.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ai/config/artist-nova", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("staff config -> %d body=%s", w.Code, w.Body.String())
	}
}

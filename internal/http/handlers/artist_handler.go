// Roster HTTP handlers.
//
// Endpoints for managing the label's artist roster and for resolving the
// caller's own roster entry.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/http/middleware"
	"github.com/sessantasette/hub-backend/internal/services"
)

// ArtistService defines the roster operations consumed by HTTP handlers.
type ArtistService interface {
	List(ctx context.Context, actor services.Actor, includeAll bool) ([]domain.Artist, error)
	Get(ctx context.Context, id string) (*domain.Artist, error)
	ResolveForUser(ctx context.Context, userID string) (*domain.Artist, error)
	Create(ctx context.Context, actor services.Actor, a *domain.Artist) (*domain.Artist, error)
	Update(ctx context.Context, actor services.Actor, id string, fields map[string]any) (*domain.Artist, error)
	Deactivate(ctx context.Context, actor services.Actor, id string) error
}

// ArtistHandlers groups the roster endpoints.
type ArtistHandlers struct {
	svc ArtistService
}

// NewArtistHandlers binds the roster endpoints to a service.
func NewArtistHandlers(svc ArtistService) *ArtistHandlers {
	return &ArtistHandlers{svc: svc}
}

//
// DTOs
//

// CreateArtistRequest is the JSON payload for adding a roster entry.
type CreateArtistRequest struct {
	Name         string  `json:"name" binding:"required" example:"Nova Kade"`
	UserID       *string `json:"user_id,omitempty" format:"uuid"`
	Bio          *string `json:"bio,omitempty"`
	Color        string  `json:"color,omitempty" example:"#6366F1"`
	InstagramURL *string `json:"instagram_url,omitempty"`
	SpotifyURL   *string `json:"spotify_url,omitempty"`
	YouTubeURL   *string `json:"youtube_url,omitempty"`
	TikTokURL    *string `json:"tiktok_url,omitempty"`
	WebsiteURL   *string `json:"website_url,omitempty"`
	IsLabel      bool    `json:"is_label"`
}

// UpdateArtistRequest is a partial roster edit; absent fields are untouched.
type UpdateArtistRequest struct {
	Name         *string `json:"name,omitempty"`
	UserID       *string `json:"user_id,omitempty" format:"uuid"`
	Bio          *string `json:"bio,omitempty"`
	Color        *string `json:"color,omitempty"`
	InstagramURL *string `json:"instagram_url,omitempty"`
	SpotifyURL   *string `json:"spotify_url,omitempty"`
	YouTubeURL   *string `json:"youtube_url,omitempty"`
	TikTokURL    *string `json:"tiktok_url,omitempty"`
	WebsiteURL   *string `json:"website_url,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// columns maps the set fields onto their database columns for a partial
// update. Returns an empty map when nothing was provided.
func (r *UpdateArtistRequest) columns() map[string]any {
	fields := map[string]any{}
	put := func(col string, v any) { fields[col] = v }
	if r.Name != nil {
		put("name", *r.Name)
	}
	if r.UserID != nil {
		put("user_id", r.UserID)
	}
	if r.Bio != nil {
		put("bio", r.Bio)
	}
	if r.Color != nil {
		put("color", *r.Color)
	}
	if r.InstagramURL != nil {
		put("instagram_url", r.InstagramURL)
	}
	if r.SpotifyURL != nil {
		put("spotify_url", r.SpotifyURL)
	}
	if r.YouTubeURL != nil {
		put("youtube_url", r.YouTubeURL)
	}
	if r.TikTokURL != nil {
		put("tiktok_url", r.TikTokURL)
	}
	if r.WebsiteURL != nil {
		put("website_url", r.WebsiteURL)
	}
	if r.IsActive != nil {
		put("is_active", *r.IsActive)
	}
	return fields
}

//
// Handlers
//

// ListArtists godoc
// @ID          listArtists
// @Summary     List the roster
// @Description Returns assignable artists. Staff may pass include_all=true to include inactive and label entries.
// @Tags        Artists
// @Produce     json
// @Security    BearerAuth
//
// @Param       include_all  query  bool  false  "Include inactive and label entries (staff)"
//
// @Success     200  {array}  domain.Artist
// @Router      /artists [get]
func (h *ArtistHandlers) ListArtists(c *gin.Context) {
	includeAll := strings.EqualFold(c.Query("include_all"), "true")
	out, err := h.svc.List(c.Request.Context(), actor(c), includeAll)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// GetArtist godoc
// @ID          getArtist
// @Summary     Fetch one roster entry
// @Tags        Artists
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Artist ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Artist
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /artists/{id} [get]
func (h *ArtistHandlers) GetArtist(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// GetMe godoc
// @ID          getMyArtist
// @Summary     Resolve the caller's roster entry
// @Description Returns the roster entry linked to the authenticated user account.
// @Tags        Artists
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  domain.Artist
// @Failure     404  {object}  handlers.ErrorResponse  "No linked entry"
// @Router      /artists/me [get]
func (h *ArtistHandlers) GetMe(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	a, err := h.svc.ResolveForUser(c.Request.Context(), id.UserID)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// CreateArtist godoc
// @ID          createArtist
// @Summary     Add a roster entry
// @Description Creates an artist. Staff only.
// @Tags        Artists
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateArtistRequest  true  "Artist payload"
//
// @Success     201  {object}  domain.Artist
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Router      /artists [post]
func (h *ArtistHandlers) CreateArtist(c *gin.Context) {
	var req CreateArtistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	a := &domain.Artist{
		Name:         req.Name,
		UserID:       req.UserID,
		Bio:          req.Bio,
		InstagramURL: req.InstagramURL,
		SpotifyURL:   req.SpotifyURL,
		YouTubeURL:   req.YouTubeURL,
		TikTokURL:    req.TikTokURL,
		WebsiteURL:   req.WebsiteURL,
		IsLabel:      req.IsLabel,
		IsActive:     true,
	}
	if req.Color != "" {
		a.Color = req.Color
	}
	created, err := h.svc.Create(c.Request.Context(), actor(c), a)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusCreated, created)
}

// UpdateArtist godoc
// @ID          updateArtist
// @Summary     Edit a roster entry
// @Description Applies a partial edit. Staff only.
// @Tags        Artists
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Artist ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateArtistRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Artist
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /artists/{id} [patch]
func (h *ArtistHandlers) UpdateArtist(c *gin.Context) {
	var req UpdateArtistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	fields := req.columns()
	if len(fields) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no fields to update")
		return
	}
	a, err := h.svc.Update(c.Request.Context(), actor(c), c.Param("id"), fields)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeactivateArtist godoc
// @ID          deactivateArtist
// @Summary     Deactivate a roster entry
// @Description Hides the artist from assignable lists without deleting history. Staff only.
// @Tags        Artists
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Artist ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /artists/{id} [delete]
func (h *ArtistHandlers) DeactivateArtist(c *gin.Context) {
	if err := h.svc.Deactivate(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		failServiceErr(c, err)
		return
	}
	noContent(c)
}

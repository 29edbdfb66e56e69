// Toolkit HTTP handlers.
//
// Endpoints for the marketing toolkit: guideline sections and their items,
// plus a lightweight keyword search over all item content.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/search"
	"github.com/sessantasette/hub-backend/internal/services"
	"github.com/sessantasette/hub-backend/internal/utils"
)

// GuidelineService defines the toolkit operations consumed by HTTP handlers.
type GuidelineService interface {
	ListSections(ctx context.Context) ([]domain.GuidelineSection, error)
	SectionItems(ctx context.Context, slug string) (*domain.GuidelineSection, []domain.GuidelineItem, error)
	CreateSection(ctx context.Context, actor services.Actor, sec *domain.GuidelineSection) (*domain.GuidelineSection, error)
	CreateItem(ctx context.Context, actor services.Actor, it *domain.GuidelineItem) (*domain.GuidelineItem, error)
	DeleteItem(ctx context.Context, actor services.Actor, id string) error
	Search(query string, k int) []search.Result
}

// ToolkitHandlers groups the marketing toolkit endpoints.
type ToolkitHandlers struct {
	svc GuidelineService
}

// NewToolkitHandlers binds the toolkit endpoints to a service.
func NewToolkitHandlers(svc GuidelineService) *ToolkitHandlers {
	return &ToolkitHandlers{svc: svc}
}

//
// DTOs
//

// CreateSectionRequest is the JSON payload for a toolkit section.
type CreateSectionRequest struct {
	Title       string  `json:"title" binding:"required" example:"Linee guida Instagram"`
	Slug        string  `json:"slug,omitempty" example:"linee-guida-instagram"`
	Description *string `json:"description,omitempty"`
	Icon        string  `json:"icon,omitempty" example:"instagram"`
	SortOrder   int     `json:"sort_order,omitempty"`
}

// CreateItemRequest is the JSON payload for a guideline item. Campaign items
// carry a validity window; permanent items apply always.
type CreateItemRequest struct {
	SectionID  string  `json:"section_id" binding:"required" format:"uuid"`
	Title      string  `json:"title" binding:"required"`
	Content    string  `json:"content" binding:"required"`
	ItemType   string  `json:"item_type,omitempty" example:"permanent" enums:"permanent,campaign"`
	Priority   int     `json:"priority,omitempty" minimum:"0" maximum:"2"`
	ValidFrom  *string `json:"valid_from,omitempty" example:"2026-06-01T00:00:00Z"`
	ValidUntil *string `json:"valid_until,omitempty" example:"2026-06-30T00:00:00Z"`
}

// SectionItemsResponse pairs a section with its currently applicable items.
type SectionItemsResponse struct {
	Section *domain.GuidelineSection `json:"section"`
	Items   []domain.GuidelineItem   `json:"items"`
}

//
// Handlers
//

// ListSections godoc
// @ID          listToolkitSections
// @Summary     List toolkit sections
// @Description Returns all guideline sections in display order.
// @Tags        Toolkit
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {array}  domain.GuidelineSection
// @Router      /toolkit/sections [get]
func (h *ToolkitHandlers) ListSections(c *gin.Context) {
	out, err := h.svc.ListSections(c.Request.Context())
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// CreateSection godoc
// @ID          createToolkitSection
// @Summary     Add a toolkit section
// @Description Creates a guideline section. Staff only. Slug is derived from the title when omitted.
// @Tags        Toolkit
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateSectionRequest  true  "Section payload"
//
// @Success     201  {object}  domain.GuidelineSection
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     409  {object}  handlers.ErrorResponse  "Slug already in use"
// @Router      /toolkit/sections [post]
func (h *ToolkitHandlers) CreateSection(c *gin.Context) {
	var req CreateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sec := &domain.GuidelineSection{
		Title:       req.Title,
		Slug:        req.Slug,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	}
	if req.Icon != "" {
		sec.Icon = req.Icon
	}
	created, err := h.svc.CreateSection(c.Request.Context(), actor(c), sec)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusCreated, created)
}

// GetSectionItems godoc
// @ID          getToolkitSectionItems
// @Summary     Read a section's guidelines
// @Description Returns the section and its currently applicable items: permanent ones always, campaign ones only inside their validity window.
// @Tags        Toolkit
// @Produce     json
// @Security    BearerAuth
//
// @Param       slug  path  string  true  "Section slug"
//
// @Success     200  {object}  handlers.SectionItemsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown section"
// @Router      /toolkit/sections/{slug} [get]
func (h *ToolkitHandlers) GetSectionItems(c *gin.Context) {
	sec, items, err := h.svc.SectionItems(c.Request.Context(), c.Param("slug"))
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusOK, SectionItemsResponse{Section: sec, Items: items})
}

// CreateItem godoc
// @ID          createToolkitItem
// @Summary     Add a guideline item
// @Description Creates an item inside a section. Staff only. The search index is rebuilt on success.
// @Tags        Toolkit
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateItemRequest  true  "Item payload"
//
// @Success     201  {object}  domain.GuidelineItem
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown section"
// @Router      /toolkit/items [post]
func (h *ToolkitHandlers) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	it := &domain.GuidelineItem{
		SectionID: req.SectionID,
		Title:     req.Title,
		Content:   req.Content,
		ItemType:  req.ItemType,
		Priority:  req.Priority,
	}
	if req.ValidFrom != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidFrom)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "valid_from must be RFC 3339")
			return
		}
		it.ValidFrom = &t
	}
	if req.ValidUntil != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidUntil)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "valid_until must be RFC 3339")
			return
		}
		it.ValidUntil = &t
	}
	created, err := h.svc.CreateItem(c.Request.Context(), actor(c), it)
	if err != nil {
		failServiceErr(c, err)
		return
	}
	ok(c, http.StatusCreated, created)
}

// DeleteItem godoc
// @ID          deleteToolkitItem
// @Summary     Remove a guideline item
// @Description Deletes an item and rebuilds the search index. Staff only.
// @Tags        Toolkit
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Item ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Staff only"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown item"
// @Router      /toolkit/items/{id} [delete]
func (h *ToolkitHandlers) DeleteItem(c *gin.Context) {
	if err := h.svc.DeleteItem(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		failServiceErr(c, err)
		return
	}
	noContent(c)
}

// SearchToolkit godoc
// @ID          searchToolkit
// @Summary     Search the toolkit
// @Description Ranks guideline items against a keyword query using the in-memory TF-IDF index.
// @Tags        Toolkit
// @Produce     json
// @Security    BearerAuth
//
// @Param       q  query  string  true   "Query text"
// @Param       k  query  int     false  "Max results"  default(10)
//
// @Success     200  {array}   search.Result
// @Failure     400  {object}  handlers.ErrorResponse  "Missing query"
// @Router      /toolkit/search [get]
func (h *ToolkitHandlers) SearchToolkit(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	k := utils.ClampInt(utils.AtoiDefault(c.Query("k"), 10), 1, 50)
	results := h.svc.Search(q, k)
	if results == nil {
		results = []search.Result{}
	}
	ok(c, http.StatusOK, results)
}

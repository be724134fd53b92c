package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/0m3kk/library/audit"
	"github.com/0m3kk/library/catalog"
	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/party"
	"github.com/0m3kk/library/reservation"
)

// Handler exposes the services over HTTP. Handlers only translate; every
// rule lives in the services.
type Handler struct {
	reservations *reservation.Service
	books        *catalog.BookService
	categories   *catalog.CategoryService
	parties      *party.Service
	audit        *audit.Log
}

// NewHandler creates the HTTP handlers over the services.
func NewHandler(
	reservations *reservation.Service,
	books *catalog.BookService,
	categories *catalog.CategoryService,
	parties *party.Service,
	auditLog *audit.Log,
) *Handler {
	return &Handler{
		reservations: reservations,
		books:        books,
		categories:   categories,
		parties:      parties,
		audit:        auditLog,
	}
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(errs.Conflict("invalid %s %q", name, c.Param(name)))
		return uuid.Nil, false
	}
	return id, true
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errs.Conflict("invalid request body: %v", err))
		return false
	}
	return true
}

func respond(c *gin.Context, status int, body any, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}

// Reservations

func (h *Handler) borrow(c *gin.Context) {
	var req reservation.BorrowRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.reservations.Borrow(c.Request.Context(), req)
	respond(c, http.StatusCreated, res, err)
}

func (h *Handler) returnBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.Return(c.Request.Context(), id)
	respond(c, http.StatusOK, res, err)
}

func (h *Handler) getReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.Get(c.Request.Context(), id)
	respond(c, http.StatusOK, res, err)
}

func (h *Handler) listReservations(c *gin.Context) {
	if c.Query("active") == "true" {
		items, err := h.reservations.ListActive(c.Request.Context())
		respond(c, http.StatusOK, items, err)
		return
	}
	items, err := h.reservations.List(c.Request.Context())
	respond(c, http.StatusOK, items, err)
}

func (h *Handler) listCustomerReservations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := h.reservations.ListByCustomer(c.Request.Context(), id)
	respond(c, http.StatusOK, items, err)
}

// Books

func (h *Handler) listBooks(c *gin.Context) {
	if title := strings.TrimSpace(c.Query("title")); title != "" {
		items, err := h.books.SearchByTitle(c.Request.Context(), title)
		respond(c, http.StatusOK, items, err)
		return
	}
	items, err := h.books.List(c.Request.Context())
	respond(c, http.StatusOK, items, err)
}

func (h *Handler) getBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.books.Get(c.Request.Context(), id)
	respond(c, http.StatusOK, b, err)
}

func (h *Handler) createBook(c *gin.Context) {
	var in catalog.BookInput
	if !bind(c, &in) {
		return
	}
	b, err := h.books.Create(c.Request.Context(), in)
	respond(c, http.StatusCreated, b, err)
}

func (h *Handler) updateBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in catalog.BookInput
	if !bind(c, &in) {
		return
	}
	b, err := h.books.Update(c.Request.Context(), id, in)
	respond(c, http.StatusOK, b, err)
}

func (h *Handler) deleteBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	respond(c, http.StatusNoContent, nil, h.books.Delete(c.Request.Context(), id))
}

// Categories

type categoryRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) listCategories(c *gin.Context) {
	items, err := h.categories.List(c.Request.Context())
	respond(c, http.StatusOK, items, err)
}

func (h *Handler) getCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cat, err := h.categories.Get(c.Request.Context(), id)
	respond(c, http.StatusOK, cat, err)
}

func (h *Handler) createCategory(c *gin.Context) {
	var req categoryRequest
	if !bind(c, &req) {
		return
	}
	cat, err := h.categories.Create(c.Request.Context(), req.Name)
	respond(c, http.StatusCreated, cat, err)
}

func (h *Handler) updateCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req categoryRequest
	if !bind(c, &req) {
		return
	}
	cat, err := h.categories.Update(c.Request.Context(), id, req.Name)
	respond(c, http.StatusOK, cat, err)
}

func (h *Handler) deleteCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	respond(c, http.StatusNoContent, nil, h.categories.Delete(c.Request.Context(), id))
}

// Parties

func (h *Handler) listParties(c *gin.Context) {
	items, err := h.parties.List(c.Request.Context())
	respond(c, http.StatusOK, items, err)
}

func (h *Handler) getParty(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.parties.Get(c.Request.Context(), id)
	respond(c, http.StatusOK, p, err)
}

func (h *Handler) createParty(c *gin.Context) {
	var in party.Input
	if !bind(c, &in) {
		return
	}
	p, err := h.parties.Create(c.Request.Context(), in)
	respond(c, http.StatusCreated, p, err)
}

func (h *Handler) updateParty(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in party.Input
	if !bind(c, &in) {
		return
	}
	p, err := h.parties.Update(c.Request.Context(), id, in)
	respond(c, http.StatusOK, p, err)
}

func (h *Handler) deleteParty(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	respond(c, http.StatusNoContent, nil, h.parties.Delete(c.Request.Context(), id))
}

func (h *Handler) assignRole(c *gin.Context) {
	partyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(c, "roleId")
	if !ok {
		return
	}
	respond(c, http.StatusNoContent, nil, h.parties.AssignRole(c.Request.Context(), partyID, roleID))
}

func (h *Handler) removeRole(c *gin.Context) {
	partyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(c, "roleId")
	if !ok {
		return
	}
	respond(c, http.StatusNoContent, nil, h.parties.RemoveRole(c.Request.Context(), partyID, roleID))
}

func (h *Handler) listRoles(c *gin.Context) {
	items, err := h.parties.ListRoles(c.Request.Context())
	respond(c, http.StatusOK, items, err)
}

// Audit

type auditPageResponse struct {
	*audit.Page
	TotalPages int `json:"total_pages"`
}

func (h *Handler) listAuditEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(audit.DefaultPageSize)))

	p, err := h.audit.List(c.Request.Context(), page, size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, auditPageResponse{Page: p, TotalPages: p.TotalPages()})
}

// listEntityAuditEvents serves the history of any entity; the party and book
// routes reuse it with their own path parameter.
func (h *Handler) listEntityAuditEvents(c *gin.Context) {
	entityID := c.Param("entityId")
	if entityID == "" {
		entityID = c.Param("id")
	}
	items, err := h.audit.ListByEntity(c.Request.Context(), entityID)
	respond(c, http.StatusOK, items, err)
}

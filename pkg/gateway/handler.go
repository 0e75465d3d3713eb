package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"peerreads/pkg/actionlock"
	"peerreads/pkg/apperrors"
	"peerreads/pkg/catalog"
	"peerreads/pkg/lending"
	"peerreads/pkg/models"
	"peerreads/pkg/session"
)

// LendingService is the part of lending.Service the gateway exposes.
type LendingService interface {
	Login(ctx context.Context, usernameOrEmail, password string) (models.User, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (models.User, error)
	Token(ctx context.Context) (string, error)
	Views(ctx context.Context, filter catalog.Filter) (models.User, catalog.Views, error)
	Stats(ctx context.Context) (models.Stats, error)
	AddBook(ctx context.Context, draft models.BookDraft) (models.Book, error)
	EditBook(ctx context.Context, id int64, draft models.BookDraft) (models.Book, error)
	Delete(ctx context.Context, id int64) error
	RequestBorrow(ctx context.Context, id int64, returnDate models.Date) (models.Book, error)
	Approve(ctx context.Context, id int64, returnDate models.Date) (models.Book, error)
	Decline(ctx context.Context, id int64) (models.Book, error)
	Return(ctx context.Context, id int64) (models.Book, error)
	ExtendLoan(ctx context.Context, id int64, returnDate models.Date) (models.Book, error)
	DefaultReturnDate() models.Date
	InFlight() []actionlock.Held
}

var _ LendingService = (*lending.Service)(nil)

type Handler struct {
	svc LendingService
}

func NewHandler(svc LendingService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/session", h.login)
	rg.DELETE("/session", h.logout)
	rg.GET("/session", h.currentSession)

	rg.GET("/views", h.allViews)
	rg.GET("/views/:name", h.oneView)
	rg.GET("/dashboard", h.dashboard)

	rg.POST("/books", h.addBook)
	rg.PUT("/books/:id", h.editBook)
	rg.DELETE("/books/:id", h.deleteBook)
	rg.POST("/books/:id/request", h.requestBook)
	rg.POST("/books/:id/approve", h.approveBook)
	rg.POST("/books/:id/decline", h.declineBook)
	rg.POST("/books/:id/return", h.returnBook)
	rg.POST("/books/:id/extend", h.extendLoan)
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "UP",
		"inFlight": h.svc.InFlight(),
	})
}

func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	logger := zerolog.Ctx(c.Request.Context())
	if status >= 500 {
		logger.Error().Err(err).Msg("request failed")
	} else {
		logger.Debug().Err(err).Msg("request rejected")
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"message": "validation error",
		"errors": map[string]string{
			"field": "request",
			"error": err.Error(),
		},
	})
}

func (h *Handler) login(c *gin.Context) {
	var request struct {
		UsernameOrEmail string `json:"usernameOrEmail" binding:"required"`
		Password        string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.svc.Login(c.Request.Context(), request.UsernameOrEmail, request.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentSession(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := h.svc.CurrentUser(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	response := gin.H{"user": user}
	if token, err := h.svc.Token(ctx); err == nil {
		if info, err := session.InspectToken(token); err == nil && !info.ExpiresAt.IsZero() {
			response["expiresAt"] = info.ExpiresAt
		}
	}
	c.JSON(http.StatusOK, response)
}

func parseFilter(c *gin.Context) (catalog.Filter, error) {
	genre, err := models.ParseGenre(c.Query("genre"))
	if err != nil {
		return catalog.Filter{}, apperrors.NewValidationError("genre", err.Error())
	}
	query, searching := c.GetQuery("q")
	return catalog.Filter{Genre: genre, Searching: searching, Query: query}, nil
}

func (h *Handler) allViews(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	user, views, err := h.svc.Views(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "views": views})
}

func (h *Handler) oneView(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	name := c.Param("name")
	_, views, err := h.svc.Views(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	books, ok := views.View(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown view " + strconv.Quote(name), "code": "UNKNOWN_VIEW"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": name, "books": books})
}

func (h *Handler) dashboard(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) addBook(c *gin.Context) {
	var draft models.BookDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		bindError(c, err)
		return
	}
	book, err := h.svc.AddBook(c.Request.Context(), draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *Handler) editBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	var draft models.BookDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		bindError(c, err)
		return
	}
	book, err := h.svc.EditBook(c.Request.Context(), id, draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) deleteBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type returnDateBody struct {
	ReturnDate models.Date `json:"returnDate"`
}

// returnDate reads an optional body. Without a date it uses fallback, or
// rejects the call when there is none.
func returnDate(c *gin.Context, fallback func() models.Date) (models.Date, bool) {
	var body returnDateBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			bindError(c, err)
			return models.Date{}, false
		}
	}
	if !body.ReturnDate.IsZero() {
		return body.ReturnDate, true
	}
	if fallback == nil {
		respondError(c, apperrors.NewValidationError("returnDate", "is required"))
		return models.Date{}, false
	}
	return fallback(), true
}

func (h *Handler) requestBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	date, ok := returnDate(c, nil)
	if !ok {
		return
	}
	h.respondBook(c)(h.svc.RequestBorrow(c.Request.Context(), id, date))
}

func (h *Handler) approveBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	date, ok := returnDate(c, h.svc.DefaultReturnDate)
	if !ok {
		return
	}
	h.respondBook(c)(h.svc.Approve(c.Request.Context(), id, date))
}

func (h *Handler) declineBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	h.respondBook(c)(h.svc.Decline(c.Request.Context(), id))
}

func (h *Handler) returnBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	h.respondBook(c)(h.svc.Return(c.Request.Context(), id))
}

func (h *Handler) extendLoan(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	var body returnDateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	h.respondBook(c)(h.svc.ExtendLoan(c.Request.Context(), id, body.ReturnDate))
}

func (h *Handler) respondBook(c *gin.Context) func(models.Book, error) {
	return func(book models.Book, err error) {
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, book)
	}
}

func bookID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id", "code": "VALIDATION_ERROR"})
		return 0, false
	}
	return id, true
}

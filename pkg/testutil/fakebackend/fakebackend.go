// Package fakebackend serves the lending REST contract from memory so client
// code can be tested end to end without the real backend.
package fakebackend

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"peerreads/pkg/apperrors"
	"peerreads/pkg/lifecycle"
	"peerreads/pkg/models"
)

var signingKey = []byte("fakebackend-signing-key")

type account struct {
	user     models.User
	password string
}

// RecordedRequest is what the backend saw of one incoming call.
type RecordedRequest struct {
	Method        string
	Path          string
	RequestID     string
	Authorization string
}

type Backend struct {
	engine *lifecycle.Engine

	mu         sync.Mutex
	accounts   map[int64]*account
	tokens     map[string]int64
	books      map[int64]models.Book
	nextUserID int64
	nextBookID int64
	failures   int
	failStatus int
	requests   []RecordedRequest
}

func New(engine *lifecycle.Engine) *Backend {
	if engine == nil {
		engine = lifecycle.NewEngine()
	}
	return &Backend{
		engine:     engine,
		accounts:   make(map[int64]*account),
		tokens:     make(map[string]int64),
		books:      make(map[int64]models.Book),
		nextUserID: 1,
		nextBookID: 1,
	}
}

// Start serves the backend under /api until the test ends.
func (b *Backend) Start(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(b.Router())
	t.Cleanup(srv.Close)
	return srv
}

// AddUser registers u with password and returns it with its assigned id.
func (b *Backend) AddUser(u models.User, password string) models.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.ID == 0 {
		u.ID = b.nextUserID
	}
	if u.ID >= b.nextUserID {
		b.nextUserID = u.ID + 1
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	b.accounts[u.ID] = &account{user: u, password: password}
	return u
}

func (b *Backend) AddBook(book models.Book) models.Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	if book.ID == 0 {
		book.ID = b.nextBookID
	}
	if book.ID >= b.nextBookID {
		b.nextBookID = book.ID + 1
	}
	if book.Status == "" {
		book.Status = models.StatusAvailable
	}
	if acc, ok := b.accounts[book.OwnerID]; ok && book.OwnerName == "" {
		book.OwnerName = acc.user.DisplayName()
	}
	b.books[book.ID] = book
	return book
}

func (b *Backend) Book(id int64) (models.Book, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[id]
	return book, ok
}

// TokenFor issues a session token for an existing user.
func (b *Backend) TokenFor(userID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueToken(b.accounts[userID].user)
}

// FailNext makes the next n calls answer with status.
func (b *Backend) FailNext(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
	b.failStatus = status
}

func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *Backend) Router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), b.record, b.injectFailures)

	api := r.Group("/api")
	api.POST("/auth/login", b.login)
	api.POST("/auth/register", b.register)

	authed := api.Group("", b.authenticate)
	authed.GET("/users/me", b.me)
	authed.PUT("/users/me", b.updateProfile)
	authed.GET("/books", b.listBooks)
	authed.GET("/books/mine", b.myBooks)
	authed.POST("/books", b.createBook)
	authed.PUT("/books/:id", b.editBook)
	authed.DELETE("/books/:id", b.deleteBook)
	authed.POST("/books/:id/request", b.requestBook)
	authed.POST("/books/:id/approve", b.approveBook)
	authed.POST("/books/:id/decline", b.declineBook)
	authed.POST("/books/:id/return", b.returnBook)
	authed.PUT("/books/:id/return-date", b.extendLoan)
	authed.GET("/dashboard/stats", b.stats)
	authed.POST("/admin/promote", b.promote)
	return r
}

func (b *Backend) record(c *gin.Context) {
	b.mu.Lock()
	b.requests = append(b.requests, RecordedRequest{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		RequestID:     c.GetHeader("X-Request-ID"),
		Authorization: c.GetHeader("Authorization"),
	})
	b.mu.Unlock()
	c.Next()
}

func (b *Backend) injectFailures(c *gin.Context) {
	b.mu.Lock()
	fail := b.failures > 0
	status := b.failStatus
	if fail {
		b.failures--
	}
	b.mu.Unlock()
	if fail {
		c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
		return
	}
	c.Next()
}

func (b *Backend) authenticate(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	b.mu.Lock()
	id, ok := b.tokens[token]
	b.mu.Unlock()
	if token == "" || !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.Set("userID", id)
	c.Next()
}

func (b *Backend) actor(c *gin.Context) models.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[c.GetInt64("userID")].user
}

// issueToken expects b.mu to be held.
func (b *Backend) issueToken(u models.User) string {
	claims := jwt.RegisteredClaims{
		Subject:   u.Email,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	b.tokens[token] = u.ID
	return token
}

func (b *Backend) login(c *gin.Context) {
	var request struct {
		UsernameOrEmail string `json:"usernameOrEmail" binding:"required"`
		Password        string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acc := range b.accounts {
		if (strings.EqualFold(acc.user.Email, request.UsernameOrEmail) || acc.user.Username == request.UsernameOrEmail) &&
			acc.password == request.Password {
			c.JSON(http.StatusOK, models.Session{Token: b.issueToken(acc.user), User: acc.user})
			return
		}
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
}

func (b *Backend) register(c *gin.Context) {
	var request struct {
		FullName string `json:"fullName" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acc := range b.accounts {
		if strings.EqualFold(acc.user.Email, request.Email) {
			c.JSON(http.StatusConflict, gin.H{"message": "Email already registered"})
			return
		}
	}
	u := models.User{
		ID:         b.nextUserID,
		Email:      strings.ToLower(request.Email),
		Username:   strings.Split(request.Email, "@")[0],
		FullName:   request.FullName,
		Role:       models.RoleUser,
		JoinedDate: b.engine.Today(),
	}
	b.nextUserID++
	b.accounts[u.ID] = &account{user: u, password: request.Password}
	c.JSON(http.StatusCreated, models.Session{Token: b.issueToken(u), User: u})
}

func (b *Backend) me(c *gin.Context) {
	c.JSON(http.StatusOK, b.actor(c))
}

func (b *Backend) updateProfile(c *gin.Context) {
	var update models.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(update.FullName) == "" || strings.TrimSpace(update.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fullName and email are required"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.accounts[c.GetInt64("userID")]
	acc.user.FullName = update.FullName
	acc.user.Email = strings.ToLower(update.Email)
	acc.user.Location = update.Location
	acc.user.Bio = update.Bio
	acc.user.ProfilePictureURL = update.ProfilePictureURL
	c.JSON(http.StatusOK, acc.user)
}

func (b *Backend) listBooks(c *gin.Context) {
	var status models.Status
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = parsed
	}
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))

	c.JSON(http.StatusOK, b.selectBooks(func(book models.Book) bool {
		if status != "" && book.Status != status {
			return false
		}
		return q == "" ||
			strings.Contains(strings.ToLower(book.Title), q) ||
			strings.Contains(strings.ToLower(book.Author), q)
	}))
}

func (b *Backend) myBooks(c *gin.Context) {
	actor := b.actor(c)
	c.JSON(http.StatusOK, b.selectBooks(func(book models.Book) bool {
		return book.OwnedBy(actor)
	}))
}

func (b *Backend) selectBooks(keep func(models.Book) bool) []models.Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Book, 0, len(b.books))
	for _, book := range b.books {
		if keep(book) {
			out = append(out, book)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) createBook(c *gin.Context) {
	var draft models.BookDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	clean, err := lifecycle.ValidateDraft(draft)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := b.actor(c)
	book := b.AddBook(models.Book{
		Title:     clean.Title,
		Author:    clean.Author,
		ISBN:      clean.ISBN,
		Genre:     clean.Genre,
		ImageURL:  clean.ImageURL,
		OwnerID:   actor.ID,
		OwnerName: actor.DisplayName(),
		Status:    models.StatusAvailable,
		DateAdded: b.engine.Today(),
	})
	c.JSON(http.StatusCreated, book)
}

func (b *Backend) editBook(c *gin.Context) {
	var draft models.BookDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.transition(c, func(book models.Book, actor models.User) (models.Book, error) {
		return b.engine.Edit(book, actor, draft)
	})
}

func (b *Backend) deleteBook(c *gin.Context) {
	book, ok := b.lookup(c)
	if !ok {
		return
	}
	if err := b.engine.Delete(book, b.actor(c)); err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	b.mu.Lock()
	delete(b.books, book.ID)
	b.mu.Unlock()
	c.Status(http.StatusNoContent)
}

type returnDateBody struct {
	ReturnDate models.Date `json:"returnDate"`
}

func (b *Backend) requestBook(c *gin.Context) {
	var request struct {
		BorrowerName  string      `json:"borrowerName"`
		BorrowerEmail string      `json:"borrowerEmail"`
		ReturnDate    models.Date `json:"returnDate"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.transition(c, func(book models.Book, actor models.User) (models.Book, error) {
		return b.engine.Request(book, actor, request.ReturnDate)
	})
}

func (b *Backend) approveBook(c *gin.Context) {
	var request returnDateBody
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.transition(c, func(book models.Book, actor models.User) (models.Book, error) {
		return b.engine.Approve(book, actor, request.ReturnDate)
	})
}

func (b *Backend) declineBook(c *gin.Context) {
	b.transition(c, b.engine.Decline)
}

func (b *Backend) returnBook(c *gin.Context) {
	b.transition(c, b.engine.Return)
}

func (b *Backend) extendLoan(c *gin.Context) {
	var request returnDateBody
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.transition(c, func(book models.Book, actor models.User) (models.Book, error) {
		return b.engine.ExtendLoan(book, actor, request.ReturnDate)
	})
}

func (b *Backend) transition(c *gin.Context, apply func(models.Book, models.User) (models.Book, error)) {
	book, ok := b.lookup(c)
	if !ok {
		return
	}
	next, err := apply(book, b.actor(c))
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	b.mu.Lock()
	b.books[next.ID] = next
	b.mu.Unlock()
	c.JSON(http.StatusOK, next)
}

func (b *Backend) lookup(c *gin.Context) (models.Book, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return models.Book{}, false
	}
	book, ok := b.Book(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return models.Book{}, false
	}
	return book, true
}

func (b *Backend) stats(c *gin.Context) {
	actor := b.actor(c)
	var stats models.Stats
	for _, book := range b.selectBooks(func(models.Book) bool { return true }) {
		switch {
		case book.OwnedBy(actor) && book.Status == models.StatusOnLoan:
			stats.BooksLent++
		case book.OwnedBy(actor) && book.Status == models.StatusPending:
			stats.PendingRequests++
		case book.Status == models.StatusOnLoan && book.BorrowedBy(actor):
			stats.BooksBorrowed++
		case !book.OwnedBy(actor) && book.Status == models.StatusAvailable:
			stats.AvailableBooks++
		}
	}
	c.JSON(http.StatusOK, stats)
}

func (b *Backend) promote(c *gin.Context) {
	if !b.actor(c).IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only administrators can promote users"})
		return
	}
	var request struct {
		EmailOrUsername string `json:"emailOrUsername" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acc := range b.accounts {
		if strings.EqualFold(acc.user.Email, request.EmailOrUsername) || acc.user.Username == request.EmailOrUsername {
			acc.user.Role = models.RoleAdmin
			c.JSON(http.StatusOK, acc.user)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
}

package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"peerreads/pkg/models"
)

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type RegisterRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type BorrowRequest struct {
	BorrowerName  string      `json:"borrowerName"`
	BorrowerEmail string      `json:"borrowerEmail"`
	ReturnDate    models.Date `json:"returnDate"`
}

type returnDateRequest struct {
	ReturnDate models.Date `json:"returnDate"`
}

type promoteRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
}

// BookQuery narrows GET /books on the server side. Zero values are omitted.
type BookQuery struct {
	Status models.Status
	Query  string
}

func (q BookQuery) values() url.Values {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	return v
}

func bookPath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("/books/%d", id)
	}
	return fmt.Sprintf("/books/%d/%s", id, action)
}

func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (models.Session, error) {
	var session models.Session
	err := c.call(ctx, http.MethodPost, "/auth/login", "/auth/login", nil,
		LoginRequest{UsernameOrEmail: usernameOrEmail, Password: password}, &session)
	return session, err
}

func (c *Client) Register(ctx context.Context, request RegisterRequest) (models.Session, error) {
	var session models.Session
	err := c.call(ctx, http.MethodPost, "/auth/register", "/auth/register", nil, request, &session)
	return session, err
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.call(ctx, http.MethodGet, "/users/me", "/users/me", nil, nil, &user)
	return user, err
}

func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error) {
	var user models.User
	err := c.call(ctx, http.MethodPut, "/users/me", "/users/me", nil, update, &user)
	return user, err
}

func (c *Client) Books(ctx context.Context, query BookQuery) ([]models.Book, error) {
	var books []models.Book
	err := c.call(ctx, http.MethodGet, "/books", "/books", query.values(), nil, &books)
	return books, err
}

func (c *Client) MyBooks(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	err := c.call(ctx, http.MethodGet, "/books/mine", "/books/mine", nil, nil, &books)
	return books, err
}

func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := c.call(ctx, http.MethodGet, "/dashboard/stats", "/dashboard/stats", nil, nil, &stats)
	return stats, err
}

func (c *Client) CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPost, "/books", "/books", nil, draft, &book)
	return book, err
}

func (c *Client) UpdateBook(ctx context.Context, id int64, draft models.BookDraft) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPut, "/books/:id", bookPath(id, ""), nil, draft, &book)
	return book, err
}

func (c *Client) DeleteBook(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, "/books/:id", bookPath(id, ""), nil, nil, nil)
}

func (c *Client) RequestBorrow(ctx context.Context, id int64, request BorrowRequest) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPost, "/books/:id/request", bookPath(id, "request"), nil, request, &book)
	return book, err
}

func (c *Client) Approve(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPost, "/books/:id/approve", bookPath(id, "approve"), nil,
		returnDateRequest{ReturnDate: returnDate}, &book)
	return book, err
}

func (c *Client) Decline(ctx context.Context, id int64) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPost, "/books/:id/decline", bookPath(id, "decline"), nil, nil, &book)
	return book, err
}

// Return marks a lent book as given back.
func (c *Client) Return(ctx context.Context, id int64) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPost, "/books/:id/return", bookPath(id, "return"), nil, nil, &book)
	return book, err
}

func (c *Client) UpdateReturnDate(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	var book models.Book
	err := c.call(ctx, http.MethodPut, "/books/:id/return-date", bookPath(id, "return-date"), nil,
		returnDateRequest{ReturnDate: returnDate}, &book)
	return book, err
}

func (c *Client) PromoteToAdmin(ctx context.Context, emailOrUsername string) (models.User, error) {
	var user models.User
	err := c.call(ctx, http.MethodPost, "/admin/promote", "/admin/promote", nil,
		promoteRequest{EmailOrUsername: emailOrUsername}, &user)
	return user, err
}

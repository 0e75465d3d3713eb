package lending

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"peerreads/pkg/apiclient"
	"peerreads/pkg/apperrors"
	"peerreads/pkg/catalog"
	"peerreads/pkg/lifecycle"
	"peerreads/pkg/models"
	"peerreads/pkg/session"
	"peerreads/pkg/testutil/fakebackend"
)

var now = time.Date(2025, time.November, 15, 12, 0, 0, 0, time.UTC)

func newEngine() *lifecycle.Engine {
	return lifecycle.NewEngine(lifecycle.WithClock(func() time.Time { return now }), lifecycle.WithLocation(time.UTC))
}

type world struct {
	backend *fakebackend.Backend
	url     string
	owner   models.User
	reader  models.User
	admin   models.User
	dune    models.Book
	carrie  models.Book
}

func newWorld(t *testing.T) *world {
	t.Helper()
	backend := fakebackend.New(newEngine())
	w := &world{backend: backend}
	w.owner = backend.AddUser(models.User{Email: "owner@example.com", Username: "owner", FullName: "Olive Owner"}, "secret")
	w.reader = backend.AddUser(models.User{Email: "reader@example.com", Username: "reader", FullName: "Rita Reader"}, "secret")
	w.admin = backend.AddUser(models.User{Email: "admin@example.com", Username: "admin", Role: models.RoleAdmin}, "secret")
	w.dune = backend.AddBook(models.Book{Title: "Dune", Author: "Frank Herbert", Genre: models.GenreFantasy, OwnerID: w.owner.ID})
	w.carrie = backend.AddBook(models.Book{Title: "Carrie", Author: "Stephen King", Genre: models.GenreHorror, OwnerID: w.owner.ID})
	w.url = backend.Start(t).URL + "/api"
	return w
}

// service returns a logged-out service with its own session store.
func (w *world) service() *Service {
	store := session.NewStore(session.NewMemoryKV(), zerolog.Nop())
	client := apiclient.New(w.url, 5*time.Second, apiclient.WithTokenSource(TokenSource(store)))
	return NewService(client, store, newEngine(), zerolog.Nop())
}

func (w *world) loggedIn(t *testing.T, login string) *Service {
	t.Helper()
	svc := w.service()
	_, err := svc.Login(context.Background(), login, "secret")
	require.NoError(t, err)
	return svc
}

func (w *world) countCalls(method, path string) int {
	n := 0
	for _, r := range w.backend.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func date(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestLoginAndLogout(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	svc := w.service()

	_, err := svc.CurrentUser(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	user, err := svc.Login(ctx, "reader@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, w.reader.ID, user.ID)

	current, err := svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rita Reader", current.FullName)

	token, err := svc.Token(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	require.NoError(t, svc.Logout(ctx))
	_, err = svc.CurrentUser(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	_, err = svc.Login(ctx, "reader@example.com", "nope")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestRegisterStartsSession(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	svc := w.service()

	user, err := svc.Register(ctx, apiclient.RegisterRequest{FullName: "Nina New", Email: "nina@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "nina@example.com", user.Email)

	current, err := svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, current.ID)
}

func TestViewsFollowRoles(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, readerViews, err := w.loggedIn(t, "reader").Views(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Len(t, readerViews.Available, 2)
	assert.Empty(t, readerViews.Mine)

	_, ownerViews, err := w.loggedIn(t, "owner").Views(ctx, catalog.Filter{Genre: models.GenreHorror})
	require.NoError(t, err)
	assert.Empty(t, ownerViews.All, "own books are hidden from the catalog")
	require.Len(t, ownerViews.Mine, 1)
	assert.Equal(t, "Carrie", ownerViews.Mine[0].Title)

	_, adminViews, err := w.loggedIn(t, "admin").Views(ctx, catalog.Filter{Searching: true, Query: "dune"})
	require.NoError(t, err)
	require.Len(t, adminViews.All, 1)
	assert.Equal(t, w.dune.ID, adminViews.All[0].ID)
}

func TestRequestApproveExtendReturn(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	reader := w.loggedIn(t, "reader")
	owner := w.loggedIn(t, "owner")

	book, err := reader.RequestBorrow(ctx, w.dune.ID, date(t, "2025-12-01"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, book.Status)
	assert.Equal(t, "reader@example.com", book.BorrowerEmail)

	_, views, err := reader.Views(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, views.Requested, 1)

	_, views, err = owner.Views(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, views.Pending, 1)

	book, err = owner.Approve(ctx, w.dune.ID, date(t, "2025-12-10"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnLoan, book.Status)
	assert.Equal(t, "2025-12-10", book.DateReturn.String())

	book, err = reader.ExtendLoan(ctx, w.dune.ID, date(t, "2025-12-24"))
	require.NoError(t, err)
	assert.Equal(t, "2025-12-24", book.DateReturn.String())

	_, views, err = reader.Views(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, views.Borrowed, 1)

	stats, err := owner.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.BooksLent)

	book, err = owner.Return(ctx, w.dune.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, book.Status)
	assert.NoError(t, book.CheckInvariants())
}

func TestDeclineRevertsInPlace(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	reader := w.loggedIn(t, "reader")
	owner := w.loggedIn(t, "owner")

	_, err := reader.RequestBorrow(ctx, w.dune.ID, date(t, "2025-12-01"))
	require.NoError(t, err)

	book, err := owner.Decline(ctx, w.dune.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, book.Status)
	assert.Empty(t, book.BorrowerEmail)

	stored, ok := w.backend.Book(w.dune.ID)
	require.True(t, ok, "declined listing stays in the catalog")
	assert.Equal(t, models.StatusAvailable, stored.Status)
}

func TestRejectedActionsNeverReachBackend(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	reader := w.loggedIn(t, "reader")
	owner := w.loggedIn(t, "owner")
	admin := w.loggedIn(t, "admin")

	_, err := admin.RequestBorrow(ctx, w.dune.ID, date(t, "2025-12-01"))
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)

	_, err = owner.RequestBorrow(ctx, w.dune.ID, date(t, "2025-12-01"))
	var violation *apperrors.LifecycleViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, apperrors.RuleOwnBook, violation.Rule)

	_, err = reader.RequestBorrow(ctx, w.dune.ID, date(t, "2025-11-01"))
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = reader.Approve(ctx, w.dune.ID, date(t, "2025-12-01"))
	assert.ErrorAs(t, err, &authz)

	assert.Zero(t, w.countCalls(http.MethodPost, "/api/books/1/request"))
	assert.Zero(t, w.countCalls(http.MethodPost, "/api/books/1/approve"))
}

func TestDeleteGuards(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	reader := w.loggedIn(t, "reader")
	owner := w.loggedIn(t, "owner")

	_, err := reader.RequestBorrow(ctx, w.carrie.ID, date(t, "2025-12-01"))
	require.NoError(t, err)
	_, err = owner.Approve(ctx, w.carrie.ID, date(t, "2025-12-01"))
	require.NoError(t, err)

	err = owner.Delete(ctx, w.carrie.ID)
	var violation *apperrors.LifecycleViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, apperrors.RuleOnLoanNotDeletable, violation.Rule)
	assert.Zero(t, w.countCalls(http.MethodDelete, "/api/books/2"))

	require.NoError(t, owner.Delete(ctx, w.dune.ID))
	_, ok := w.backend.Book(w.dune.ID)
	assert.False(t, ok)
}

func TestUnknownBook(t *testing.T) {
	w := newWorld(t)
	_, err := w.loggedIn(t, "reader").RequestBorrow(context.Background(), 404, date(t, "2025-12-01"))
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestActionInProgress(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	owner := w.loggedIn(t, "owner")

	release, err := owner.locks.Acquire(w.dune.ID, "approve")
	require.NoError(t, err)
	held := owner.InFlight()
	require.Len(t, held, 1)
	assert.Equal(t, w.dune.ID, held[0].BookID)

	err = owner.Delete(ctx, w.dune.ID)
	assert.ErrorIs(t, err, apperrors.ErrActionInProgress)

	release()
	assert.Empty(t, owner.InFlight())
	assert.NoError(t, owner.Delete(ctx, w.dune.ID))
	assert.Empty(t, owner.InFlight(), "finished actions release their lock")
}

func TestAddAndEditBook(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	reader := w.loggedIn(t, "reader")

	_, err := reader.AddBook(ctx, models.BookDraft{Title: "  ", Author: "Anon"})
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "title", validation.Field)

	book, err := reader.AddBook(ctx, models.BookDraft{Title: "Akira", Author: "Katsuhiro Otomo", Genre: "anime"})
	require.NoError(t, err)
	assert.Equal(t, models.GenreAnime, book.Genre)

	edited, err := reader.EditBook(ctx, book.ID, models.BookDraft{Title: "Akira Vol. 1", Author: "Katsuhiro Otomo", Genre: models.GenreAnime})
	require.NoError(t, err)
	assert.Equal(t, "Akira Vol. 1", edited.Title)

	_, err = w.loggedIn(t, "owner").EditBook(ctx, book.ID, models.BookDraft{Title: "Mine now", Author: "x"})
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestProfileUpdateRefreshesSession(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	reader := w.loggedIn(t, "reader")

	_, err := reader.UpdateProfile(ctx, models.ProfileUpdate{FullName: "Rita Reads", Email: "rita@example.com", Bio: "sci-fi"})
	require.NoError(t, err)

	current, err := reader.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rita Reads", current.FullName)
	assert.Equal(t, "rita@example.com", current.Email)

	_, err = reader.UpdateProfile(ctx, models.ProfileUpdate{FullName: "Rita", Email: "not-an-email"})
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestPromoteToAdmin(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.loggedIn(t, "reader").PromoteToAdmin(ctx, "owner")
	var authz *apperrors.AuthorizationError
	assert.ErrorAs(t, err, &authz)
	assert.Zero(t, w.countCalls(http.MethodPost, "/api/admin/promote"))

	user, err := w.loggedIn(t, "admin").PromoteToAdmin(ctx, "owner")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())
}

func TestDefaultReturnDate(t *testing.T) {
	svc := NewService(nil, session.NewStore(session.NewMemoryKV(), zerolog.Nop()), newEngine(), zerolog.Nop())
	assert.Equal(t, "2025-12-15", svc.DefaultReturnDate().String())
	assert.Equal(t, "2025-11-15", svc.Today().String())
}

func TestTokenSourceWhenLoggedOut(t *testing.T) {
	store := session.NewStore(session.NewMemoryKV(), zerolog.Nop())
	token, err := TokenSource(store)(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Login(ctx context.Context, usernameOrEmail, password string) (models.Session, error) {
	args := m.Called(ctx, usernameOrEmail, password)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *mockAPI) Register(ctx context.Context, request apiclient.RegisterRequest) (models.Session, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *mockAPI) Me(ctx context.Context) (models.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockAPI) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error) {
	args := m.Called(ctx, update)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockAPI) Books(ctx context.Context, query apiclient.BookQuery) ([]models.Book, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]models.Book), args.Error(1)
}

func (m *mockAPI) MyBooks(ctx context.Context) ([]models.Book, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Book), args.Error(1)
}

func (m *mockAPI) Stats(ctx context.Context) (models.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Stats), args.Error(1)
}

func (m *mockAPI) CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	args := m.Called(ctx, draft)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) UpdateBook(ctx context.Context, id int64, draft models.BookDraft) (models.Book, error) {
	args := m.Called(ctx, id, draft)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) DeleteBook(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAPI) RequestBorrow(ctx context.Context, id int64, request apiclient.BorrowRequest) (models.Book, error) {
	args := m.Called(ctx, id, request)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) Approve(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	args := m.Called(ctx, id, returnDate)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) Decline(ctx context.Context, id int64) (models.Book, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) Return(ctx context.Context, id int64) (models.Book, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) UpdateReturnDate(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	args := m.Called(ctx, id, returnDate)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *mockAPI) PromoteToAdmin(ctx context.Context, emailOrUsername string) (models.User, error) {
	args := m.Called(ctx, emailOrUsername)
	return args.Get(0).(models.User), args.Error(1)
}

func TestLoginValidationSkipsBackend(t *testing.T) {
	api := new(mockAPI)
	svc := NewService(api, session.NewStore(session.NewMemoryKV(), zerolog.Nop()), newEngine(), zerolog.Nop())

	_, err := svc.Login(context.Background(), " ", "pw")
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "usernameOrEmail", validation.Field)

	_, err = svc.Register(context.Background(), apiclient.RegisterRequest{FullName: "X", Email: "no-at-sign", Password: "pw"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "email", validation.Field)

	api.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
	api.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestMissingSnapshotIsRefetched(t *testing.T) {
	api := new(mockAPI)
	kv := session.NewMemoryKV()
	require.NoError(t, kv.SetMany(context.Background(), map[string]string{session.TokenKey: "tok"}))
	svc := NewService(api, session.NewStore(kv, zerolog.Nop()), newEngine(), zerolog.Nop())

	rita := models.User{ID: 7, Email: "reader@example.com", FullName: "Rita Reader", Role: models.RoleUser}
	api.On("Me", mock.Anything).Return(rita, nil).Once()

	user, err := svc.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rita, user)

	user, err = svc.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rita.ID, user.ID)
	api.AssertExpectations(t)
}

func TestBackendFailureIsReported(t *testing.T) {
	api := new(mockAPI)
	store := session.NewStore(session.NewMemoryKV(), zerolog.Nop())
	rita := models.User{ID: 7, Email: "reader@example.com", Role: models.RoleUser}
	require.NoError(t, store.Set(context.Background(), models.Session{Token: "tok", User: rita}))
	svc := NewService(api, store, newEngine(), zerolog.Nop())

	down := &apperrors.NetworkError{Method: http.MethodGet, Path: "/books", StatusCode: http.StatusBadGateway}
	api.On("Books", mock.Anything, apiclient.BookQuery{}).Return([]models.Book(nil), down)

	_, _, err := svc.Views(context.Background(), catalog.Filter{})
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	var network *apperrors.NetworkError
	assert.True(t, errors.As(err, &network))
}

// Package lending is the single entry point presentation code uses. It reads
// the session, fetches books from the backend, derives the catalog views and
// runs every user action through the action lock and the lifecycle engine
// before the backend sees it. Nothing is cached between calls.
package lending

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"peerreads/pkg/actionlock"
	"peerreads/pkg/apiclient"
	"peerreads/pkg/apperrors"
	"peerreads/pkg/catalog"
	"peerreads/pkg/lifecycle"
	"peerreads/pkg/models"
	"peerreads/pkg/session"
)

// API is the backend surface the service depends on. *apiclient.Client implements it.
type API interface {
	Login(ctx context.Context, usernameOrEmail, password string) (models.Session, error)
	Register(ctx context.Context, request apiclient.RegisterRequest) (models.Session, error)
	Me(ctx context.Context) (models.User, error)
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error)
	Books(ctx context.Context, query apiclient.BookQuery) ([]models.Book, error)
	MyBooks(ctx context.Context) ([]models.Book, error)
	Stats(ctx context.Context) (models.Stats, error)
	CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error)
	UpdateBook(ctx context.Context, id int64, draft models.BookDraft) (models.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	RequestBorrow(ctx context.Context, id int64, request apiclient.BorrowRequest) (models.Book, error)
	Approve(ctx context.Context, id int64, returnDate models.Date) (models.Book, error)
	Decline(ctx context.Context, id int64) (models.Book, error)
	Return(ctx context.Context, id int64) (models.Book, error)
	UpdateReturnDate(ctx context.Context, id int64, returnDate models.Date) (models.Book, error)
	PromoteToAdmin(ctx context.Context, emailOrUsername string) (models.User, error)
}

var _ API = (*apiclient.Client)(nil)

type Service struct {
	api    API
	store  session.Store
	engine *lifecycle.Engine
	locks  *actionlock.Registry
	log    zerolog.Logger
}

func NewService(api API, store session.Store, engine *lifecycle.Engine, log zerolog.Logger) *Service {
	return &Service{
		api:    api,
		store:  store,
		engine: engine,
		locks:  actionlock.NewRegistry(),
		log:    log,
	}
}

// TokenSource feeds the stored session token to the API client.
func TokenSource(store session.Store) apiclient.TokenFunc {
	return func(ctx context.Context) (string, error) {
		s, ok, err := store.Get(ctx)
		if err != nil || !ok {
			return "", err
		}
		return s.Token, nil
	}
}

// Snapshot is the user plus the merged list of every book they can see or manage.
type Snapshot struct {
	User  models.User
	Books []models.Book
}

func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (models.User, error) {
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" {
		return models.User{}, apperrors.NewValidationError("usernameOrEmail", "is required")
	}
	if password == "" {
		return models.User{}, apperrors.NewValidationError("password", "is required")
	}

	sess, err := s.api.Login(ctx, usernameOrEmail, password)
	if err != nil {
		return models.User{}, fmt.Errorf("login: %w", err)
	}
	if err := s.store.Set(ctx, sess); err != nil {
		return models.User{}, err
	}
	s.log.Info().Int64("user_id", sess.User.ID).Msg("logged in")
	return sess.User, nil
}

func (s *Service) Register(ctx context.Context, request apiclient.RegisterRequest) (models.User, error) {
	request.FullName = strings.TrimSpace(request.FullName)
	request.Email = strings.TrimSpace(request.Email)
	switch {
	case request.FullName == "":
		return models.User{}, apperrors.NewValidationError("fullName", "is required")
	case request.Email == "" || !strings.Contains(request.Email, "@"):
		return models.User{}, apperrors.NewValidationError("email", "must be a valid email address")
	case request.Password == "":
		return models.User{}, apperrors.NewValidationError("password", "is required")
	}

	sess, err := s.api.Register(ctx, request)
	if err != nil {
		return models.User{}, fmt.Errorf("register: %w", err)
	}
	if err := s.store.Set(ctx, sess); err != nil {
		return models.User{}, err
	}
	s.log.Info().Int64("user_id", sess.User.ID).Msg("registered")
	return sess.User, nil
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("logged out")
	return nil
}

// CurrentUser returns the session's user snapshot, refetching it when missing.
func (s *Service) CurrentUser(ctx context.Context) (models.User, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return models.User{}, err
	}
	if sess.User.ID == 0 {
		return s.RefreshProfile(ctx)
	}
	return sess.User, nil
}

// Token returns the stored bearer token.
func (s *Service) Token(ctx context.Context) (string, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return "", err
	}
	return sess.Token, nil
}

// RefreshProfile fetches the user from the backend and updates the session snapshot.
func (s *Service) RefreshProfile(ctx context.Context) (models.User, error) {
	if _, err := s.session(ctx); err != nil {
		return models.User{}, err
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("fetch profile: %w", err)
	}
	if err := s.store.SetUser(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error) {
	if _, err := s.session(ctx); err != nil {
		return models.User{}, err
	}
	update.FullName = strings.TrimSpace(update.FullName)
	update.Email = strings.TrimSpace(update.Email)
	if update.FullName == "" {
		return models.User{}, apperrors.NewValidationError("fullName", "is required")
	}
	if update.Email == "" || !strings.Contains(update.Email, "@") {
		return models.User{}, apperrors.NewValidationError("email", "must be a valid email address")
	}

	user, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return models.User{}, fmt.Errorf("update profile: %w", err)
	}
	if err := s.store.SetUser(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Snapshot fetches the catalog and the user's own listings.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	books, err := s.api.Books(ctx, apiclient.BookQuery{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch catalog: %w", err)
	}
	mine, err := s.api.MyBooks(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch own books: %w", err)
	}
	return Snapshot{User: user, Books: catalog.Merge(books, mine)}, nil
}

func (s *Service) Views(ctx context.Context, filter catalog.Filter) (models.User, catalog.Views, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return models.User{}, catalog.Views{}, err
	}
	return snap.User, catalog.Build(snap.Books, snap.User, filter), nil
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	if _, err := s.session(ctx); err != nil {
		return models.Stats{}, err
	}
	stats, err := s.api.Stats(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("fetch stats: %w", err)
	}
	return stats, nil
}

// DefaultReturnDate is the date offered when the user is asked for one.
func (s *Service) DefaultReturnDate() models.Date {
	return s.engine.SuggestedReturnDate()
}

// InFlight lists the book actions still waiting for the backend.
func (s *Service) InFlight() []actionlock.Held {
	return s.locks.GetAll()
}

func (s *Service) Today() models.Date {
	return s.engine.Today()
}

func (s *Service) PromoteToAdmin(ctx context.Context, emailOrUsername string) (models.User, error) {
	actor, err := s.CurrentUser(ctx)
	if err != nil {
		return models.User{}, err
	}
	if !actor.IsAdmin() {
		return models.User{}, &apperrors.AuthorizationError{Action: "promote", Reason: "only administrators can promote users"}
	}
	emailOrUsername = strings.TrimSpace(emailOrUsername)
	if emailOrUsername == "" {
		return models.User{}, apperrors.NewValidationError("emailOrUsername", "is required")
	}
	user, err := s.api.PromoteToAdmin(ctx, emailOrUsername)
	if err != nil {
		return models.User{}, fmt.Errorf("promote %s: %w", emailOrUsername, err)
	}
	s.log.Info().Int64("user_id", user.ID).Msg("promoted to admin")
	return user, nil
}

func (s *Service) session(ctx context.Context) (models.Session, error) {
	sess, ok, err := s.store.Get(ctx)
	if err != nil {
		return models.Session{}, err
	}
	if !ok {
		return models.Session{}, apperrors.ErrNotAuthenticated
	}
	return sess, nil
}

// Package session persists the logged-in user's token and profile snapshot.
//
// A session is two entries, TokenKey and UserKey, always written and cleared
// together. The user counts as logged in whenever the token entry exists.
package session

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"peerreads/pkg/apperrors"
	"peerreads/pkg/models"
)

const (
	TokenKey = "peerReads:token"
	UserKey  = "peerReads:user"
)

// Store is the session persistence used by the lending service.
type Store interface {
	// Get returns the stored session and whether one exists.
	Get(ctx context.Context) (models.Session, bool, error)
	Set(ctx context.Context, s models.Session) error
	// SetUser replaces the profile snapshot of the current session.
	SetUser(ctx context.Context, u models.User) error
	Clear(ctx context.Context) error
	LoggedIn(ctx context.Context) (bool, error)
}

// KV is the storage primitive behind a Store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// SetMany writes all entries atomically.
	SetMany(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

type KVStore struct {
	kv  KV
	log zerolog.Logger
}

var _ Store = (*KVStore)(nil)

func NewStore(kv KV, log zerolog.Logger) *KVStore {
	return &KVStore{kv: kv, log: log}
}

func (s *KVStore) Get(ctx context.Context) (models.Session, bool, error) {
	token, ok, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("read session token: %w", err)
	}
	if !ok {
		return models.Session{}, false, nil
	}

	session := models.Session{Token: token}
	raw, ok, err := s.kv.Get(ctx, UserKey)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("read session user: %w", err)
	}
	if ok {
		if err := jsoniter.ConfigFastest.UnmarshalFromString(raw, &session.User); err != nil {
			// an unreadable snapshot is refetched from the backend
			s.log.Warn().Err(err).Msg("discarding corrupt session user snapshot")
			session.User = models.User{}
		}
	}
	return session, true, nil
}

func (s *KVStore) Set(ctx context.Context, session models.Session) error {
	if strings.TrimSpace(session.Token) == "" {
		return apperrors.NewValidationError("token", "is required")
	}
	user, err := jsoniter.ConfigFastest.MarshalToString(session.User)
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}
	if err := s.kv.SetMany(ctx, map[string]string{TokenKey: session.Token, UserKey: user}); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *KVStore) SetUser(ctx context.Context, u models.User) error {
	loggedIn, err := s.LoggedIn(ctx)
	if err != nil {
		return err
	}
	if !loggedIn {
		return apperrors.ErrNotAuthenticated
	}
	user, err := jsoniter.ConfigFastest.MarshalToString(u)
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}
	if err := s.kv.SetMany(ctx, map[string]string{UserKey: user}); err != nil {
		return fmt.Errorf("write session user: %w", err)
	}
	return nil
}

func (s *KVStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TokenKey, UserKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *KVStore) LoggedIn(ctx context.Context) (bool, error) {
	_, ok, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		return false, fmt.Errorf("read session token: %w", err)
	}
	return ok, nil
}

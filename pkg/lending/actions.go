package lending

import (
	"context"
	"fmt"

	"peerreads/pkg/actionlock"
	"peerreads/pkg/apiclient"
	"peerreads/pkg/apperrors"
	"peerreads/pkg/catalog"
	"peerreads/pkg/lifecycle"
	"peerreads/pkg/models"
)

// RequestBorrow asks the owner of book id to lend it until returnDate.
func (s *Service) RequestBorrow(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	return s.mutate(ctx, id, actionlock.ActionRequest, func(book models.Book, actor models.User) (models.Book, error) {
		next, err := s.engine.Request(book, actor, returnDate)
		if err != nil {
			return models.Book{}, err
		}
		return s.api.RequestBorrow(ctx, id, apiclient.BorrowRequest{
			BorrowerName:  next.BorrowerName,
			BorrowerEmail: next.BorrowerEmail,
			ReturnDate:    returnDate,
		})
	})
}

func (s *Service) Approve(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	return s.mutate(ctx, id, actionlock.ActionApprove, func(book models.Book, actor models.User) (models.Book, error) {
		if _, err := s.engine.Approve(book, actor, returnDate); err != nil {
			return models.Book{}, err
		}
		return s.api.Approve(ctx, id, returnDate)
	})
}

func (s *Service) Decline(ctx context.Context, id int64) (models.Book, error) {
	return s.mutate(ctx, id, actionlock.ActionDecline, func(book models.Book, actor models.User) (models.Book, error) {
		if _, err := s.engine.Decline(book, actor); err != nil {
			return models.Book{}, err
		}
		return s.api.Decline(ctx, id)
	})
}

// Return marks a lent book as back with its owner.
func (s *Service) Return(ctx context.Context, id int64) (models.Book, error) {
	return s.mutate(ctx, id, actionlock.ActionReturn, func(book models.Book, actor models.User) (models.Book, error) {
		if _, err := s.engine.Return(book, actor); err != nil {
			return models.Book{}, err
		}
		return s.api.Return(ctx, id)
	})
}

func (s *Service) ExtendLoan(ctx context.Context, id int64, returnDate models.Date) (models.Book, error) {
	return s.mutate(ctx, id, actionlock.ActionExtend, func(book models.Book, actor models.User) (models.Book, error) {
		if _, err := s.engine.ExtendLoan(book, actor, returnDate); err != nil {
			return models.Book{}, err
		}
		return s.api.UpdateReturnDate(ctx, id, returnDate)
	})
}

func (s *Service) EditBook(ctx context.Context, id int64, draft models.BookDraft) (models.Book, error) {
	return s.mutate(ctx, id, actionlock.ActionEdit, func(book models.Book, actor models.User) (models.Book, error) {
		next, err := s.engine.Edit(book, actor, draft)
		if err != nil {
			return models.Book{}, err
		}
		return s.api.UpdateBook(ctx, id, models.BookDraft{
			Title:    next.Title,
			Author:   next.Author,
			ISBN:     next.ISBN,
			Genre:    next.Genre,
			ImageURL: next.ImageURL,
		})
	})
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	_, err := s.mutate(ctx, id, actionlock.ActionDelete, func(book models.Book, actor models.User) (models.Book, error) {
		if err := s.engine.Delete(book, actor); err != nil {
			return models.Book{}, err
		}
		return book, s.api.DeleteBook(ctx, id)
	})
	return err
}

// AddBook lists a new book owned by the current user.
func (s *Service) AddBook(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	if _, err := s.session(ctx); err != nil {
		return models.Book{}, err
	}
	clean, err := lifecycle.ValidateDraft(draft)
	if err != nil {
		return models.Book{}, err
	}
	book, err := s.api.CreateBook(ctx, clean)
	if err != nil {
		return models.Book{}, fmt.Errorf("add book: %w", err)
	}
	s.log.Info().Int64("book_id", book.ID).Msg("book added")
	return book, nil
}

// mutate runs one action on book id: it takes the per-book lock, fetches the
// current state of the book and hands it to apply.
func (s *Service) mutate(ctx context.Context, id int64, action actionlock.Action,
	apply func(book models.Book, actor models.User) (models.Book, error)) (models.Book, error) {

	release, err := s.locks.Acquire(id, action)
	if err != nil {
		return models.Book{}, err
	}
	defer release()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return models.Book{}, err
	}
	book, ok := catalog.Find(snap.Books, id)
	if !ok {
		return models.Book{}, fmt.Errorf("book %d: %w", id, apperrors.ErrBookNotFound)
	}

	next, err := apply(book, snap.User)
	if err != nil {
		s.log.Warn().Err(err).Int64("book_id", id).Str("action", string(action)).Msg("action rejected")
		return models.Book{}, fmt.Errorf("%s: %w", action, err)
	}
	s.log.Info().Int64("book_id", id).Str("action", string(action)).Str("status", string(next.Status)).Msg("action completed")
	return next, nil
}

// Package lifecycle decides the legal borrow/lend transitions of a single book.
//
// Every operation is a pure function of the current book, the acting user and the
// engine's notion of today. Operations return a new Book value and never touch the
// input, so a rejected transition leaves the caller's copy exactly as it was.
package lifecycle

import (
	"strings"
	"time"

	"peerreads/pkg/apperrors"
	"peerreads/pkg/models"
)

// DefaultLoanDays is how far ahead a suggested return date lies.
const DefaultLoanDays = 30

type Engine struct {
	now func() time.Time
	loc *time.Location
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone in which "today" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Today() models.Date {
	return models.DateOf(e.now().In(e.loc))
}

// SuggestedReturnDate is the date pre-filled in request and approve prompts.
func (e *Engine) SuggestedReturnDate() models.Date {
	return e.Today().AddDays(DefaultLoanDays)
}

// Request decides whether actor may ask to borrow book.
//
//	GIVEN: an AVAILABLE book owned by someone else
//	WHEN:  a regular user requests it with a return date of today or later
//	THEN:  the book becomes PENDING with the requester recorded as borrower
//	ERROR: admin actor, own book, book not AVAILABLE, missing or past return date
func (e *Engine) Request(book models.Book, actor models.User, returnDate models.Date) (models.Book, error) {
	if actor.IsAdmin() {
		return book, apperrors.NewRoleViolation(apperrors.RuleAdminCannotBorrow, book.ID,
			"request", "administrators cannot request to borrow books")
	}
	if book.OwnedBy(actor) {
		return book, apperrors.NewRoleViolation(apperrors.RuleOwnBook, book.ID,
			"request", "you already own this book")
	}
	if book.Status != models.StatusAvailable {
		return book, apperrors.NewLifecycleViolation(apperrors.RuleNotAvailable, book.ID,
			"book is not available")
	}
	if err := e.checkReturnDate(returnDate); err != nil {
		return book, err
	}
	email := strings.ToLower(strings.TrimSpace(actor.Email))
	if email == "" {
		return book, apperrors.NewValidationError("borrowerEmail", "your profile has no email address")
	}

	next := book
	next.Status = models.StatusPending
	next.BorrowerName = actor.DisplayName()
	next.BorrowerEmail = email
	next.DateRequested = e.Today()
	next.RequestedReturnDate = returnDate
	return next, nil
}

// Approve turns a pending request into a loan.
//
//	GIVEN: a PENDING book
//	WHEN:  its owner or an admin approves with a return date of today or later
//	THEN:  the book is ON_LOAN from today until the approver's return date
//	ERROR: actor neither owner nor admin, book not PENDING, missing or past return date
func (e *Engine) Approve(book models.Book, actor models.User, returnDate models.Date) (models.Book, error) {
	if err := requireManager(book, actor, "approve"); err != nil {
		return book, err
	}
	if book.Status != models.StatusPending {
		return book, apperrors.NewLifecycleViolation(apperrors.RuleNotPending, book.ID,
			"only pending requests can be approved")
	}
	if err := e.checkReturnDate(returnDate); err != nil {
		return book, err
	}

	next := book
	next.Status = models.StatusOnLoan
	next.DateBorrowed = e.Today()
	next.DateReturn = returnDate
	next.RequestedReturnDate = models.Date{}
	return next, nil
}

// Decline reverts a pending request in place; the listing stays in the catalog.
//
//	GIVEN: a PENDING book
//	WHEN:  its owner or an admin declines
//	THEN:  the book is AVAILABLE again with every borrower field cleared
//	ERROR: actor neither owner nor admin, book not PENDING
func (e *Engine) Decline(book models.Book, actor models.User) (models.Book, error) {
	if err := requireManager(book, actor, "decline"); err != nil {
		return book, err
	}
	if book.Status != models.StatusPending {
		return book, apperrors.NewLifecycleViolation(apperrors.RuleNotPending, book.ID,
			"only pending requests can be declined")
	}
	return released(book), nil
}

// Return marks a lent book as back with its owner.
//
//	GIVEN: a book ON_LOAN
//	WHEN:  its owner or an admin marks it returned
//	THEN:  the book is AVAILABLE again with borrower and loan fields cleared
//	ERROR: actor neither owner nor admin, book not ON_LOAN
func (e *Engine) Return(book models.Book, actor models.User) (models.Book, error) {
	if err := requireManager(book, actor, "return"); err != nil {
		return book, err
	}
	if book.Status != models.StatusOnLoan {
		return book, apperrors.NewLifecycleViolation(apperrors.RuleNotOnLoan, book.ID,
			"book is not currently on loan")
	}
	return released(book), nil
}

// ExtendLoan lets the current borrower move the return date.
func (e *Engine) ExtendLoan(book models.Book, actor models.User, returnDate models.Date) (models.Book, error) {
	if book.Status != models.StatusOnLoan {
		return book, apperrors.NewLifecycleViolation(apperrors.RuleNotOnLoan, book.ID,
			"book is not currently on loan")
	}
	if !book.BorrowedBy(actor) {
		return book, apperrors.NewRoleViolation(apperrors.RuleNotBorrower, book.ID,
			"extend", "only the borrower can update the return date")
	}
	if err := e.checkReturnDate(returnDate); err != nil {
		return book, err
	}

	next := book
	next.DateReturn = returnDate
	return next, nil
}

// Delete checks that book may be removed from the catalog. The guard holds even
// when the caller skipped every UI affordance.
func (e *Engine) Delete(book models.Book, actor models.User) error {
	if err := requireManager(book, actor, "delete"); err != nil {
		return err
	}
	switch book.Status {
	case models.StatusOnLoan:
		return apperrors.NewLifecycleViolation(apperrors.RuleOnLoanNotDeletable, book.ID,
			"cannot delete book that is currently on loan, it must be returned first")
	case models.StatusPending:
		return apperrors.NewLifecycleViolation(apperrors.RulePendingNotDeletable, book.ID,
			"cannot delete book with a pending request, approve or decline it first")
	}
	return nil
}

// Edit applies draft to the mutable fields of book.
func (e *Engine) Edit(book models.Book, actor models.User, draft models.BookDraft) (models.Book, error) {
	if err := requireManager(book, actor, "edit"); err != nil {
		return book, err
	}
	clean, err := ValidateDraft(draft)
	if err != nil {
		return book, err
	}

	next := book
	next.Title = clean.Title
	next.Author = clean.Author
	next.ISBN = clean.ISBN
	next.Genre = clean.Genre
	next.ImageURL = clean.ImageURL
	return next, nil
}

// ValidateDraft trims the draft and checks required fields and the genre.
func ValidateDraft(draft models.BookDraft) (models.BookDraft, error) {
	clean := models.BookDraft{
		Title:    strings.TrimSpace(draft.Title),
		Author:   strings.TrimSpace(draft.Author),
		ISBN:     strings.TrimSpace(draft.ISBN),
		ImageURL: strings.TrimSpace(draft.ImageURL),
	}
	if clean.Title == "" {
		return draft, apperrors.NewValidationError("title", "is required")
	}
	if clean.Author == "" {
		return draft, apperrors.NewValidationError("author", "is required")
	}
	genre, err := models.ParseGenre(string(draft.Genre))
	if err != nil {
		return draft, apperrors.NewValidationError("genre", err.Error())
	}
	clean.Genre = genre
	return clean, nil
}

// CanManage reports whether actor may approve, decline, return, edit or delete book.
func CanManage(book models.Book, actor models.User) bool {
	return actor.IsAdmin() || book.OwnedBy(actor)
}

func requireManager(book models.Book, actor models.User, action string) error {
	if CanManage(book, actor) {
		return nil
	}
	return apperrors.NewRoleViolation(apperrors.RuleNotManager, book.ID,
		action, "you do not manage this book")
}

func (e *Engine) checkReturnDate(d models.Date) error {
	if d.IsZero() {
		return apperrors.NewValidationError("returnDate", "is required")
	}
	if d.Before(e.Today()) {
		return apperrors.NewValidationError("returnDate", "cannot be in the past")
	}
	return nil
}

func released(book models.Book) models.Book {
	next := book
	next.Status = models.StatusAvailable
	next.BorrowerName = ""
	next.BorrowerEmail = ""
	next.DateRequested = models.Date{}
	next.DateBorrowed = models.Date{}
	next.DateReturn = models.Date{}
	next.RequestedReturnDate = models.Date{}
	return next
}

package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusPending   Status = "PENDING"
	StatusOnLoan    Status = "ON_LOAN"
)

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusAvailable:
		return StatusAvailable, nil
	case StatusPending:
		return StatusPending, nil
	case StatusOnLoan:
		return StatusOnLoan, nil
	}
	return "", fmt.Errorf("unknown book status %q", s)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("book status: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("user role: %w", err)
	}
	if Role(strings.ToUpper(strings.TrimSpace(raw))) == RoleAdmin {
		*r = RoleAdmin
	} else {
		*r = RoleUser
	}
	return nil
}

type Genre string

const (
	GenreAnime   Genre = "ANIME"
	GenreRomance Genre = "ROMANCE"
	GenreAction  Genre = "ACTION"
	GenreHorror  Genre = "HORROR"
	GenreFantasy Genre = "FANTASY"
)

var Genres = []Genre{GenreAnime, GenreRomance, GenreAction, GenreHorror, GenreFantasy}

// ParseGenre returns the empty genre for blank input.
func ParseGenre(s string) (Genre, error) {
	normalized := Genre(strings.ToUpper(strings.TrimSpace(s)))
	if normalized == "" {
		return "", nil
	}
	for _, g := range Genres {
		if g == normalized {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown genre %q", s)
}

func (g *Genre) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = ""
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("book genre: %w", err)
	}
	parsed, err := ParseGenre(raw)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

type Book struct {
	ID                  int64  `json:"id"`
	Title               string `json:"title"`
	Author              string `json:"author"`
	ISBN                string `json:"isbn,omitempty"`
	Genre               Genre  `json:"genre,omitempty"`
	ImageURL            string `json:"imageUrl,omitempty"`
	OwnerID             int64  `json:"ownerId"`
	OwnerName           string `json:"ownerName,omitempty"`
	Status              Status `json:"status"`
	BorrowerName        string `json:"borrowerName,omitempty"`
	BorrowerEmail       string `json:"borrowerEmail,omitempty"`
	DateAdded           Date   `json:"dateAdded"`
	DateRequested       Date   `json:"dateRequested"`
	DateBorrowed        Date   `json:"dateBorrowed"`
	DateReturn          Date   `json:"dateReturn"`
	RequestedReturnDate Date   `json:"requestedReturnDate"`
}

func (b Book) OwnedBy(u User) bool {
	return b.OwnerID == u.ID
}

func (b Book) BorrowedBy(u User) bool {
	return b.BorrowerEmail != "" && strings.EqualFold(b.BorrowerEmail, u.Email)
}

// CheckInvariants reports the first field that disagrees with the book status.
func (b Book) CheckInvariants() error {
	hasRequest := b.BorrowerName != "" && b.BorrowerEmail != "" && !b.DateRequested.IsZero()
	noRequest := b.BorrowerName == "" && b.BorrowerEmail == "" && b.DateRequested.IsZero()
	hasLoan := !b.DateBorrowed.IsZero() && !b.DateReturn.IsZero()
	noLoan := b.DateBorrowed.IsZero() && b.DateReturn.IsZero()

	switch b.Status {
	case StatusAvailable:
		if !noRequest {
			return fmt.Errorf("book %d: available book carries borrower data", b.ID)
		}
		if !noLoan {
			return fmt.Errorf("book %d: available book carries loan dates", b.ID)
		}
		if !b.RequestedReturnDate.IsZero() {
			return fmt.Errorf("book %d: available book carries a requested return date", b.ID)
		}
	case StatusPending:
		if !hasRequest {
			return fmt.Errorf("book %d: pending book is missing borrower data", b.ID)
		}
		if !noLoan {
			return fmt.Errorf("book %d: pending book carries loan dates", b.ID)
		}
	case StatusOnLoan:
		if !hasRequest {
			return fmt.Errorf("book %d: book on loan is missing borrower data", b.ID)
		}
		if !hasLoan {
			return fmt.Errorf("book %d: book on loan is missing loan dates", b.ID)
		}
		if !b.RequestedReturnDate.IsZero() {
			return fmt.Errorf("book %d: book on loan still carries a requested return date", b.ID)
		}
	default:
		return fmt.Errorf("book %d: unknown status %q", b.ID, b.Status)
	}
	return nil
}

// BookDraft holds the mutable fields sent on create and edit.
type BookDraft struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn,omitempty"`
	Genre    Genre  `json:"genre,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type User struct {
	ID                int64  `json:"id"`
	Email             string `json:"email"`
	Username          string `json:"username"`
	FullName          string `json:"fullName"`
	Role              Role   `json:"role"`
	Location          string `json:"location,omitempty"`
	Bio               string `json:"bio,omitempty"`
	ProfilePictureURL string `json:"profilePictureUrl,omitempty"`
	JoinedDate        Date   `json:"joinedDate"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DisplayName is what gets recorded as borrowerName on a request.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return u.Username
}

type ProfileUpdate struct {
	FullName          string `json:"fullName"`
	Email             string `json:"email"`
	Location          string `json:"location,omitempty"`
	Bio               string `json:"bio,omitempty"`
	ProfilePictureURL string `json:"profilePictureUrl,omitempty"`
}

type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Stats struct {
	BooksLent       int64 `json:"booksLent"`
	BooksBorrowed   int64 `json:"booksBorrowed"`
	PendingRequests int64 `json:"pendingRequests"`
	AvailableBooks  int64 `json:"availableBooks"`
}

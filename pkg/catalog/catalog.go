// Package catalog derives the display lists of the lending client from one base
// collection of books. Every function is pure: inputs are never modified and each
// list result is sorted by title, case-insensitively, keeping input order for ties.
package catalog

import (
	"slices"
	"strings"

	"peerreads/pkg/models"
)

type Filter struct {
	Genre     models.Genre
	Searching bool
	Query     string
}

type Views struct {
	All       []models.Book `json:"all"`
	Available []models.Book `json:"available"`
	Mine      []models.Book `json:"mine"`
	Pending   []models.Book `json:"pending"`
	Lent      []models.Book `json:"lent"`
	Borrowed  []models.Book `json:"borrowed"`
	Requested []models.Book `json:"requested"`
}

// ViewNames lists the names accepted by View.
var ViewNames = []string{"all", "available", "mine", "pending", "lent", "borrowed", "requested"}

// VisibleCatalog drops the user's own listings unless the user is an admin.
func VisibleCatalog(books []models.Book, user models.User) []models.Book {
	return sorted(where(books, func(b models.Book) bool {
		return user.IsAdmin() || !b.OwnedBy(user)
	}))
}

func AvailableCatalog(books []models.Book, user models.User) []models.Book {
	return where(VisibleCatalog(books, user), func(b models.Book) bool {
		return b.Status == models.StatusAvailable
	})
}

func OwnedBy(books []models.Book, user models.User) []models.Book {
	return sorted(where(books, func(b models.Book) bool {
		return b.OwnedBy(user)
	}))
}

func PendingForOwner(books []models.Book, user models.User) []models.Book {
	return sorted(where(books, func(b models.Book) bool {
		return b.Status == models.StatusPending && (user.IsAdmin() || b.OwnedBy(user))
	}))
}

func LentByOwner(books []models.Book, user models.User) []models.Book {
	return sorted(where(books, func(b models.Book) bool {
		return b.Status == models.StatusOnLoan && (user.IsAdmin() || b.OwnedBy(user))
	}))
}

func BorrowedByUser(books []models.Book, user models.User) []models.Book {
	return sorted(where(books, func(b models.Book) bool {
		return b.Status == models.StatusOnLoan && b.BorrowedBy(user)
	}))
}

// RequestedByUser lists the user's outstanding borrow requests.
func RequestedByUser(books []models.Book, user models.User) []models.Book {
	return sorted(where(books, func(b models.Book) bool {
		return b.Status == models.StatusPending && b.BorrowedBy(user)
	}))
}

// ByGenre keeps books of genre. An empty genre filters nothing.
func ByGenre(books []models.Book, genre models.Genre) []models.Book {
	if strings.TrimSpace(string(genre)) == "" {
		return sorted(books)
	}
	return sorted(where(books, func(b models.Book) bool {
		return strings.EqualFold(string(b.Genre), strings.TrimSpace(string(genre)))
	}))
}

// Search matches query against title or author. A blank query matches nothing.
func Search(books []models.Book, query string) []models.Book {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []models.Book{}
	}
	return sorted(where(books, func(b models.Book) bool {
		return strings.Contains(strings.ToLower(b.Title), needle) ||
			strings.Contains(strings.ToLower(b.Author), needle)
	}))
}

// Apply narrows books by f. The empty-query short-circuit is checked first.
func Apply(books []models.Book, f Filter) []models.Book {
	if f.Searching && strings.TrimSpace(f.Query) == "" {
		return []models.Book{}
	}
	out := ByGenre(books, f.Genre)
	if f.Searching {
		out = Search(out, f.Query)
	}
	return out
}

// Build derives every view for user and narrows each one by f.
func Build(books []models.Book, user models.User, f Filter) Views {
	return Views{
		All:       Apply(VisibleCatalog(books, user), f),
		Available: Apply(AvailableCatalog(books, user), f),
		Mine:      Apply(OwnedBy(books, user), f),
		Pending:   Apply(PendingForOwner(books, user), f),
		Lent:      Apply(LentByOwner(books, user), f),
		Borrowed:  Apply(BorrowedByUser(books, user), f),
		Requested: Apply(RequestedByUser(books, user), f),
	}
}

// View returns the named view, or false for an unknown name.
func (v Views) View(name string) ([]models.Book, bool) {
	switch strings.ToLower(name) {
	case "all":
		return v.All, true
	case "available":
		return v.Available, true
	case "mine":
		return v.Mine, true
	case "pending":
		return v.Pending, true
	case "lent":
		return v.Lent, true
	case "borrowed":
		return v.Borrowed, true
	case "requested":
		return v.Requested, true
	}
	return nil, false
}

// Merge unions lists by book id; the first occurrence of an id wins.
func Merge(lists ...[]models.Book) []models.Book {
	seen := make(map[int64]bool)
	var out []models.Book
	for _, list := range lists {
		for _, b := range list {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			out = append(out, b)
		}
	}
	return out
}

// Find looks a book up by id.
func Find(books []models.Book, id int64) (models.Book, bool) {
	i := slices.IndexFunc(books, func(b models.Book) bool { return b.ID == id })
	if i < 0 {
		return models.Book{}, false
	}
	return books[i], true
}

func where(books []models.Book, keep func(models.Book) bool) []models.Book {
	out := make([]models.Book, 0, len(books))
	for _, b := range books {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func sorted(books []models.Book) []models.Book {
	out := slices.Clone(books)
	if out == nil {
		out = []models.Book{}
	}
	slices.SortStableFunc(out, func(a, b models.Book) int {
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	})
	return out
}

package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerreads/pkg/models"
)

var (
	alice = models.User{ID: 5, Email: "alice@example.com", Role: models.RoleUser}
	bob   = models.User{ID: 7, Email: "Bob@Example.com", Role: models.RoleUser}
	admin = models.User{ID: 1, Email: "admin@example.com", Role: models.RoleAdmin}
)

func day() models.Date {
	return models.Date{Year: 2025, Month: time.November, Day: 1}
}

func fixture() []models.Book {
	return []models.Book{
		{ID: 1, Title: "dune messiah", Author: "Frank Herbert", Genre: models.GenreFantasy, OwnerID: alice.ID, Status: models.StatusAvailable},
		{ID: 2, Title: "Carrie", Author: "Stephen King", Genre: models.GenreHorror, OwnerID: bob.ID, Status: models.StatusOnLoan,
			BorrowerName: "Alice", BorrowerEmail: "alice@example.com", DateRequested: day(), DateBorrowed: day(), DateReturn: day()},
		{ID: 3, Title: "Dune", Author: "Frank Herbert", Genre: models.GenreFantasy, OwnerID: bob.ID, Status: models.StatusAvailable},
		{ID: 4, Title: "Akira", Author: "Katsuhiro Otomo", Genre: models.GenreAnime, OwnerID: alice.ID, Status: models.StatusPending,
			BorrowerName: "Bob", BorrowerEmail: "bob@example.com", DateRequested: day()},
		{ID: 5, Title: "It", Author: "Stephen King", Genre: models.GenreHorror, OwnerID: alice.ID, Status: models.StatusOnLoan,
			BorrowerName: "Bob", BorrowerEmail: "BOB@example.com", DateRequested: day(), DateBorrowed: day(), DateReturn: day()},
		{ID: 6, Title: "Emma", Author: "Jane Austen", OwnerID: admin.ID, Status: models.StatusPending,
			BorrowerName: "Alice", BorrowerEmail: "alice@example.com", DateRequested: day()},
	}
}

func ids(books []models.Book) []int64 {
	out := make([]int64, 0, len(books))
	for _, b := range books {
		out = append(out, b.ID)
	}
	return out
}

func TestVisibleCatalogHidesOwnBooks(t *testing.T) {
	books := fixture()

	visible := VisibleCatalog(books, alice)
	for _, b := range visible {
		assert.NotEqual(t, alice.ID, b.OwnerID)
	}
	assert.Equal(t, []int64{2, 3, 6}, ids(visible))

	assert.Equal(t, []int64{4, 2, 3, 1, 6, 5}, ids(VisibleCatalog(books, admin)), "admins see everything, sorted by title")
}

func TestAvailableCatalog(t *testing.T) {
	books := fixture()
	assert.Equal(t, []int64{3}, ids(AvailableCatalog(books, alice)))
	assert.Equal(t, []int64{3, 1}, ids(AvailableCatalog(books, admin)))
}

func TestOwnerViews(t *testing.T) {
	books := fixture()

	assert.Equal(t, []int64{4, 1, 5}, ids(OwnedBy(books, alice)))
	assert.Equal(t, []int64{4}, ids(PendingForOwner(books, alice)))
	assert.Equal(t, []int64{4, 6}, ids(PendingForOwner(books, admin)))
	assert.Equal(t, []int64{5}, ids(LentByOwner(books, alice)))
	assert.Equal(t, []int64{2, 5}, ids(LentByOwner(books, admin)))
	assert.Empty(t, PendingForOwner(books, bob))
}

func TestBorrowerViewsCompareEmailCaseInsensitively(t *testing.T) {
	books := fixture()

	assert.Equal(t, []int64{5}, ids(BorrowedByUser(books, bob)))
	assert.Equal(t, []int64{2}, ids(BorrowedByUser(books, alice)))
	assert.Equal(t, []int64{4}, ids(RequestedByUser(books, bob)))
	assert.Equal(t, []int64{6}, ids(RequestedByUser(books, alice)))
}

func TestByGenre(t *testing.T) {
	books := fixture()

	assert.Equal(t, []int64{2, 5}, ids(ByGenre(books, "horror")))
	assert.Equal(t, []int64{4, 2, 3, 1, 6, 5}, ids(ByGenre(books, "")), "unset genre is a no-op")
	assert.Empty(t, ByGenre(books, models.GenreRomance))
}

func TestSearch(t *testing.T) {
	books := fixture()

	found := Search(books, "dune")
	require.Len(t, found, 2)
	assert.Equal(t, "Dune", found[0].Title)
	assert.Equal(t, "dune messiah", found[1].Title)

	assert.Equal(t, []int64{2, 5}, ids(Search(books, "KING")), "author matches too")

	empty := Search(books, "")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
	assert.Empty(t, Search(books, "   "))
}

func TestSortIsStableForEqualTitles(t *testing.T) {
	books := []models.Book{
		{ID: 10, Title: "Dune"},
		{ID: 11, Title: "Akira"},
		{ID: 12, Title: "DUNE"},
		{ID: 13, Title: "dune"},
	}
	assert.Equal(t, []int64{11, 10, 12, 13}, ids(ByGenre(books, "")))
}

func TestFunctionsDoNotMutateInput(t *testing.T) {
	books := fixture()
	before := ids(books)

	_ = VisibleCatalog(books, admin)
	_ = Search(books, "e")
	_ = Build(books, alice, Filter{Genre: models.GenreHorror})

	assert.Equal(t, before, ids(books))
}

func TestComposition(t *testing.T) {
	books := fixture()

	a := ByGenre(AvailableCatalog(books, admin), "FANTASY")
	b := AvailableCatalog(ByGenre(books, "fantasy"), admin)
	assert.Equal(t, ids(a), ids(b))

	searchedThenGenre := ByGenre(Search(books, "king"), models.GenreHorror)
	genreThenSearched := Search(ByGenre(books, models.GenreHorror), "king")
	assert.Equal(t, ids(searchedThenGenre), ids(genreThenSearched))

	assert.Empty(t, Apply(books, Filter{Genre: models.GenreHorror, Searching: true, Query: " "}))
	assert.Equal(t, []int64{2, 5}, ids(Apply(books, Filter{Genre: models.GenreHorror})))
	assert.Equal(t, []int64{3, 1}, ids(Apply(books, Filter{Genre: models.GenreFantasy, Searching: true, Query: "dune"})))
}

func TestBuildAndView(t *testing.T) {
	views := Build(fixture(), bob, Filter{})

	assert.Equal(t, []int64{4, 1, 6, 5}, ids(views.All))
	assert.Equal(t, []int64{1}, ids(views.Available))
	assert.Equal(t, []int64{2, 3}, ids(views.Mine))
	assert.Empty(t, views.Pending)
	assert.Equal(t, []int64{2}, ids(views.Lent))
	assert.Equal(t, []int64{5}, ids(views.Borrowed))
	assert.Equal(t, []int64{4}, ids(views.Requested))

	for _, name := range ViewNames {
		_, ok := views.View(name)
		assert.True(t, ok, name)
	}
	_, ok := views.View("archived")
	assert.False(t, ok)
}

func TestMergeAndFind(t *testing.T) {
	catalog := []models.Book{{ID: 1, Title: "A"}, {ID: 2, Title: "B"}}
	mine := []models.Book{{ID: 2, Title: "B (mine)"}, {ID: 3, Title: "C"}}

	merged := Merge(catalog, mine)
	assert.Equal(t, []int64{1, 2, 3}, ids(merged))
	assert.Equal(t, "B", merged[1].Title)

	b, ok := Find(merged, 3)
	assert.True(t, ok)
	assert.Equal(t, "C", b.Title)

	_, ok = Find(merged, 42)
	assert.False(t, ok)
}

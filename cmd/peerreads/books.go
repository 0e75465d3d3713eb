package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"peerreads/pkg/apperrors"
	"peerreads/pkg/catalog"
	"peerreads/pkg/models"
)

func parseBookID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id", fmt.Sprintf("%q is not a book id", s))
	}
	return id, nil
}

// returnDateFlag parses --return-date, falling back to fallback when the flag is absent.
func returnDateFlag(cmd *cobra.Command, value string, fallback func() models.Date) (models.Date, error) {
	if !cmd.Flags().Changed("return-date") {
		if fallback == nil {
			return models.Date{}, apperrors.NewValidationError("returnDate", "is required")
		}
		return fallback(), nil
	}
	date, err := models.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return models.Date{}, apperrors.NewValidationError("returnDate", err.Error())
	}
	return date, nil
}

func newBooksCmd() *cobra.Command {
	var view, genre, search string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List books in one of the catalog views",
		Long: "List books in one of the catalog views: " + strings.Join(catalog.ViewNames, ", ") + ".\n" +
			"An empty --search matches nothing; leave the flag out to list everything.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := models.ParseGenre(genre)
			if err != nil {
				return apperrors.NewValidationError("genre", err.Error())
			}
			filter := catalog.Filter{Genre: g, Searching: cmd.Flags().Changed("search"), Query: search}

			_, views, err := appFrom(cmd).svc.Views(cmd.Context(), filter)
			if err != nil {
				return err
			}
			books, ok := views.View(view)
			if !ok {
				return apperrors.NewValidationError("view", fmt.Sprintf("unknown view %q, use one of %s", view, strings.Join(catalog.ViewNames, ", ")))
			}
			return printBooks(cmd.OutOrStdout(), books)
		},
	}
	f := cmd.Flags()
	f.StringVar(&view, "view", "available", "catalog view")
	f.StringVar(&genre, "genre", "", "only books of this genre")
	f.StringVar(&search, "search", "", "match title or author")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := appFrom(cmd).svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
}

func draftFlags(cmd *cobra.Command, draft *models.BookDraft, genre *string) {
	f := cmd.Flags()
	f.StringVar(&draft.Title, "title", "", "title")
	f.StringVar(&draft.Author, "author", "", "author")
	f.StringVar(&draft.ISBN, "isbn", "", "ISBN")
	f.StringVar(genre, "genre", "", "genre")
	f.StringVar(&draft.ImageURL, "image-url", "", "cover image URL")
}

func newAddCmd() *cobra.Command {
	var draft models.BookDraft
	var genre string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "List a book you own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := models.ParseGenre(genre)
			if err != nil {
				return apperrors.NewValidationError("genre", err.Error())
			}
			draft.Genre = g
			book, err := appFrom(cmd).svc.AddBook(cmd.Context(), draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added #%d %s\n", book.ID, book.Title)
			return nil
		},
	}
	draftFlags(cmd, &draft, &genre)
	return cmd
}

func newEditCmd() *cobra.Command {
	var draft models.BookDraft
	var genre string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the details of a book you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			svc := appFrom(cmd).svc
			snap, err := svc.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			current, ok := catalog.Find(snap.Books, id)
			if !ok {
				return fmt.Errorf("book %d: %w", id, apperrors.ErrBookNotFound)
			}
			merged, err := mergeDraft(current, draft, genre, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			book, err := svc.EditBook(cmd.Context(), id, merged)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated #%d %s\n", book.ID, book.Title)
			return nil
		},
	}
	draftFlags(cmd, &draft, &genre)
	return cmd
}

// mergeDraft keeps the stored details for every flag that was not given.
func mergeDraft(current models.Book, draft models.BookDraft, genre string, changed func(string) bool) (models.BookDraft, error) {
	merged := models.BookDraft{
		Title:    current.Title,
		Author:   current.Author,
		ISBN:     current.ISBN,
		Genre:    current.Genre,
		ImageURL: current.ImageURL,
	}
	if changed("title") {
		merged.Title = draft.Title
	}
	if changed("author") {
		merged.Author = draft.Author
	}
	if changed("isbn") {
		merged.ISBN = draft.ISBN
	}
	if changed("image-url") {
		merged.ImageURL = draft.ImageURL
	}
	if changed("genre") {
		g, err := models.ParseGenre(genre)
		if err != nil {
			return models.BookDraft{}, apperrors.NewValidationError("genre", err.Error())
		}
		merged.Genre = g
	}
	return merged, nil
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an available book you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			if err := appFrom(cmd).svc.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%d\n", id)
			return nil
		},
	}
}

// bookAction builds the commands that move one book through its lifecycle.
type bookAction struct {
	use, short string

	// dated actions take --return-date, which is required unless suggested.
	dated     bool
	suggested bool
	run       func(cmd *cobra.Command, id int64, date models.Date) (models.Book, error)
}

func (b bookAction) command() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   b.use + " <id>",
		Short: b.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			var returnDate models.Date
			if b.dated {
				var fallback func() models.Date
				if b.suggested {
					fallback = appFrom(cmd).svc.DefaultReturnDate
				}
				if returnDate, err = returnDateFlag(cmd, date, fallback); err != nil {
					return err
				}
			}
			book, err := b.run(cmd, id, returnDate)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeBook(book))
			return nil
		},
	}
	if b.dated {
		cmd.Flags().StringVar(&date, "return-date", "", "return date as YYYY-MM-DD")
	}
	return cmd
}

func newRequestCmd() *cobra.Command {
	return bookAction{
		use: "request", short: "Ask to borrow a book",
		dated: true, suggested: true,
		run: func(cmd *cobra.Command, id int64, date models.Date) (models.Book, error) {
			return appFrom(cmd).svc.RequestBorrow(cmd.Context(), id, date)
		},
	}.command()
}

func newApproveCmd() *cobra.Command {
	return bookAction{
		use: "approve", short: "Lend a requested book",
		dated: true, suggested: true,
		run: func(cmd *cobra.Command, id int64, date models.Date) (models.Book, error) {
			return appFrom(cmd).svc.Approve(cmd.Context(), id, date)
		},
	}.command()
}

func newDeclineCmd() *cobra.Command {
	return bookAction{
		use: "decline", short: "Turn down a borrow request",
		run: func(cmd *cobra.Command, id int64, _ models.Date) (models.Book, error) {
			return appFrom(cmd).svc.Decline(cmd.Context(), id)
		},
	}.command()
}

func newReturnCmd() *cobra.Command {
	return bookAction{
		use: "return", short: "Mark a lent book as returned",
		run: func(cmd *cobra.Command, id int64, _ models.Date) (models.Book, error) {
			return appFrom(cmd).svc.Return(cmd.Context(), id)
		},
	}.command()
}

func newExtendCmd() *cobra.Command {
	return bookAction{
		use: "extend", short: "Move the return date of a book you borrowed",
		dated: true,
		run: func(cmd *cobra.Command, id int64, date models.Date) (models.Book, error) {
			return appFrom(cmd).svc.ExtendLoan(cmd.Context(), id, date)
		},
	}.command()
}

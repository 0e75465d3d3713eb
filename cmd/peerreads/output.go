package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"peerreads/pkg/models"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printBooks(w io.Writer, books []models.Book) error {
	if len(books) == 0 {
		_, err := fmt.Fprintln(w, "No books.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tGENRE\tSTATUS\tDETAILS")
	for _, b := range books {
		genre := string(b.Genre)
		if genre == "" {
			genre = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, genre, b.Status, bookDetails(b))
	}
	return tw.Flush()
}

// bookDetails summarises who holds the book and until when.
func bookDetails(b models.Book) string {
	switch b.Status {
	case models.StatusPending:
		until := b.RequestedReturnDate
		if until.IsZero() {
			// some backends keep the proposed date in dateReturn
			until = b.DateReturn
		}
		if until.IsZero() {
			return "requested by " + b.BorrowerName
		}
		return fmt.Sprintf("requested by %s until %s", b.BorrowerName, until)
	case models.StatusOnLoan:
		return fmt.Sprintf("lent to %s, due %s", b.BorrowerName, b.DateReturn)
	default:
		if b.OwnerName != "" {
			return "owner " + b.OwnerName
		}
		return ""
	}
}

func describeBook(b models.Book) string {
	line := fmt.Sprintf("#%d %s is %s", b.ID, b.Title, b.Status)
	if details := bookDetails(b); details != "" && b.Status != models.StatusAvailable {
		line += " (" + details + ")"
	}
	return line
}

func printStats(w io.Writer, s models.Stats) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Books lent\t%d\n", s.BooksLent)
	fmt.Fprintf(tw, "Books borrowed\t%d\n", s.BooksBorrowed)
	fmt.Fprintf(tw, "Pending requests\t%d\n", s.PendingRequests)
	fmt.Fprintf(tw, "Available books\t%d\n", s.AvailableBooks)
	return tw.Flush()
}

func printProfile(w io.Writer, u models.User) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Name\t%s\n", u.DisplayName())
	fmt.Fprintf(tw, "Username\t%s\n", u.Username)
	fmt.Fprintf(tw, "Email\t%s\n", u.Email)
	fmt.Fprintf(tw, "Role\t%s\n", u.Role)
	for _, field := range []struct{ label, value string }{
		{"Location", u.Location},
		{"Bio", u.Bio},
		{"Picture", u.ProfilePictureURL},
		{"Joined", u.JoinedDate.String()},
	} {
		if field.value != "" {
			fmt.Fprintf(tw, "%s\t%s\n", field.label, field.value)
		}
	}
	_ = tw.Flush()
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"peerreads/pkg/apiclient"
	"peerreads/pkg/models"
	"peerreads/pkg/session"
)

// readPassword prompts without echo on a terminal and reads a plain line otherwise.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username-or-email>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, "Password: ")
			if err != nil {
				return err
			}
			user, err := appFrom(cmd).svc.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", user.DisplayName())
			return nil
		},
	}
}

func newRegisterCmd() *cobra.Command {
	var request apiclient.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, "Choose a password: ")
			if err != nil {
				return err
			}
			request.Password = password
			user, err := appFrom(cmd).svc.Register(cmd.Context(), request)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", user.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVar(&request.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&request.Email, "email", "", "email address")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).svc.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := appFrom(cmd).svc
			user, err := svc.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s> (%s)\n", user.DisplayName(), user.Email, user.Role)

			token, err := svc.Token(cmd.Context())
			if err != nil {
				return err
			}
			if info, err := session.InspectToken(token); err == nil && !info.ExpiresAt.IsZero() {
				state := "expires"
				if info.Expired(time.Now()) {
					state = "expired"
				}
				fmt.Fprintf(out, "Session %s %s\n", state, info.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newProfileCmd() *cobra.Command {
	var update models.ProfileUpdate
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the profile, or change it when flags are given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := appFrom(cmd).svc
			user, err := svc.RefreshProfile(cmd.Context())
			if err != nil {
				return err
			}
			if anyChanged(cmd, profileFlags...) {
				user, err = svc.UpdateProfile(cmd.Context(), mergeProfile(user, update, cmd.Flags().Changed))
				if err != nil {
					return err
				}
			}
			printProfile(cmd.OutOrStdout(), user)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&update.FullName, "name", "", "full name")
	f.StringVar(&update.Email, "email", "", "email address")
	f.StringVar(&update.Location, "location", "", "where you are")
	f.StringVar(&update.Bio, "bio", "", "a few words about you")
	f.StringVar(&update.ProfilePictureURL, "picture", "", "profile picture URL")
	return cmd
}

var profileFlags = []string{"name", "email", "location", "bio", "picture"}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, name := range names {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// mergeProfile starts from the current profile and overrides the flags that were set.
func mergeProfile(current models.User, update models.ProfileUpdate, changed func(string) bool) models.ProfileUpdate {
	merged := models.ProfileUpdate{
		FullName:          current.FullName,
		Email:             current.Email,
		Location:          current.Location,
		Bio:               current.Bio,
		ProfilePictureURL: current.ProfilePictureURL,
	}
	if changed("name") {
		merged.FullName = update.FullName
	}
	if changed("email") {
		merged.Email = update.Email
	}
	if changed("location") {
		merged.Location = update.Location
	}
	if changed("bio") {
		merged.Bio = update.Bio
	}
	if changed("picture") {
		merged.ProfilePictureURL = update.ProfilePictureURL
	}
	return merged
}

func newPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <email-or-username>",
		Short: "Grant administrator rights (administrators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := appFrom(cmd).svc.PromoteToAdmin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.DisplayName(), user.Role)
			return nil
		},
	}
}

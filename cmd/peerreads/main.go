package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"peerreads/pkg/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run executes one command line and releases whatever the command opened.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var a *app
	root := newRootCmd(&a, stderr)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer func() {
		if a != nil {
			a.close()
		}
	}()
	return root.Execute()
}

func newRootCmd(holder **app, logOut io.Writer) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "peerreads",
		Short:         "Lend and borrow books with the people around you",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			flags.apply(cfg)
			if cmd.Name() == "serve" {
				if os.Getenv("LOG_LEVEL") == "" && flags.logLevel == "" {
					cfg.Log.Level = "info"
				}
				if os.Getenv("LOG_FORMAT") == "" {
					cfg.Log.Format = "json"
				}
			}
			a, err := newApp(cmd.Context(), cfg, logOut)
			if err != nil {
				return err
			}
			*holder = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.apiURL, "api-url", "", "backend base URL (overrides PEERREADS_API_URL)")
	pf.StringVar(&flags.sessionDriver, "session-driver", "", "session storage: sqlite, postgres, redis or memory")
	pf.StringVar(&flags.sessionPath, "session-path", "", "sqlite file holding the session")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newLoginCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newProfileCmd(),
		newPromoteCmd(),
		newBooksCmd(),
		newStatsCmd(),
		newAddCmd(),
		newEditCmd(),
		newDeleteCmd(),
		newRequestCmd(),
		newApproveCmd(),
		newDeclineCmd(),
		newReturnCmd(),
		newExtendCmd(),
		newServeCmd(),
	)
	return root
}

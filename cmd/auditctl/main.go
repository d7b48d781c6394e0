// Command auditctl inspects the audit desk store from the shell.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"auditdesk.io/internal/app"
	"auditdesk.io/internal/config"
	"auditdesk.io/internal/repo"
)

var Version = "dev"

// openRepos is replaced in tests.
var openRepos = func(ctx context.Context) (*repo.Repositories, func() error, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return nil, nil, err
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return repo.New(store), store.Close, nil
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect users, requests, audit logs and emails",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "Output as JSON")

	root.AddCommand(usersCmd())
	root.AddCommand(requestsCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(emailsCmd())
	return root
}

// withRepos opens the configured store for the duration of fn.
func withRepos(cmd *cobra.Command, fn func(ctx context.Context, r *repo.Repositories) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	r, closeFn, err := openRepos(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, r)
}

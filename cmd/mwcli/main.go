// Command mwcli is a small command-line front end for the client library:
// read pages, search, tail recent changes, and run guarded batch
// replacements.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"

	mwclient "github.com/Kenny2github/mw-api-client"
	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
)

// config is read from the environment; flags override individual fields.
type config struct {
	APIURL    string        `env:"MWCLI_API_URL"`
	UserAgent string        `env:"MWCLI_USER_AGENT" env-default:"mwcli/1.0"`
	Username  string        `env:"MWCLI_USERNAME"`
	Password  string        `env:"MWCLI_PASSWORD"`
	Timeout   time.Duration `env:"MWCLI_TIMEOUT" env-default:"30s"`
	Verbose   bool          `env:"MWCLI_VERBOSE" env-default:"false"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mwcli:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:           "mwcli",
		Short:         "Talk to a MediaWiki API from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flagURL := cfg.APIURL
			if err := cleanenv.ReadEnv(cfg); err != nil {
				return err
			}
			if flagURL != "" {
				cfg.APIURL = flagURL
			}
			if cfg.APIURL == "" {
				return errors.New("no API URL: set --api-url or MWCLI_API_URL")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfg.APIURL, "api-url", "", "api.php endpoint")
	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "log requests")

	root.AddCommand(
		newReadCmd(cfg),
		newSearchCmd(cfg),
		newRecentCmd(cfg),
		newReplaceCmd(cfg),
	)
	return root
}

// connect builds a session from cfg and logs in when credentials are set.
func connect(ctx context.Context, cfg *config) (*mwclient.Wiki, error) {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	wiki, err := mwclient.New(&mwclient.Config{
		APIURL:     cfg.APIURL,
		UserAgent:  cfg.UserAgent,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Username != "" {
		if _, err := wiki.Login(ctx, cfg.Username, cfg.Password); err != nil {
			return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
		}
	}
	return wiki, nil
}

func newReadCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "read <title>",
		Short: "Print a page's wikitext",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wiki, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			content, err := wiki.Page(args[0]).Read(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
}

func newSearchCmd(cfg *config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Run a fulltext search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wiki, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			it := wiki.Search(args[0], &mwclient.ListOptions{Detail: mwclient.DetailNever})
			results, err := it.Collect(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, p := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d words\n", p.Title, p.WordCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func newRecentCmd(cfg *config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recent changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wiki, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			it := wiki.RecentChanges("title|user|comment|timestamp", nil)
			changes, err := it.Collect(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, rc := range changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					rc.Timestamp, rc.Title, rc.User, rc.Comment)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "maximum entries")
	return cmd
}

func newReplaceCmd(cfg *config) *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "replace <title> <old> <new>",
		Short: "Replace text on a page, retrying around edit conflicts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wiki, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return replaceWithRetry(cmd.Context(), wiki, args[0], args[1], args[2], summary)
		},
	}
	cmd.Flags().StringVarP(&summary, "summary", "m", "", "edit summary")
	return cmd
}

// replaceWithRetry re-reads and retries when the guarded edit loses a race,
// backing off between attempts. Other errors abort immediately.
func replaceWithRetry(ctx context.Context, wiki *mwclient.Wiki, title, old, new, summary string) error {
	page := wiki.Page(title)
	op := func() error {
		_, err := page.Replace(ctx, old, new, summary, nil)
		var conflict *pkgerrs.EditConflictError
		if errors.As(err, &conflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(op, policy)
}

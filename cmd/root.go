package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonifyv1/posebridge/internal/logger"
	"github.com/sonifyv1/posebridge/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// dbURL is the connection string for the optional session store
	dbURL string
	// logLevel is the minimum level written by the module logger
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

// errReported marks an error that was already shown to the operator
type errReported struct{ error }

func (e errReported) Unwrap() error { return e.error }

var rootCmd = &cobra.Command{
	Use:     "posebridge",
	Short:   "Stream camera landmark detections to SonifyV1 over UDP",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.Init(level, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// After the first signal restore default handling so a second one terminates
	go func() {
		<-ctx.Done()
		stop()
	}()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown errReported
		if !errors.As(err, &shown) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for session history (default: POSTGRES_* environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error, silent")
}

// resolveDBURL returns the configured connection string, building one from the
// environment if no flag was provided. It returns "" when neither is set.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return ""
}

// openStore connects to the session store. When required is false and no
// database is configured it returns a nil store and no error.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	url := resolveDBURL()
	if url == "" {
		if !required {
			return nil, nil
		}
		// Fallback to local default
		url = "postgres://localhost:5432/posebridge"
	}

	db, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

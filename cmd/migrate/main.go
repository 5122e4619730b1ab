package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "KS_POSTGRES_DSN"
)

type options struct {
	direction string
	steps     int
	dsn       string
}

// parseOptions разбирает флаги; DSN берётся из окружения, если флаг не задан.
func parseOptions(args []string, lookup func(string) (string, bool)) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must be >= 0")
	}
	if opts.direction == "down" && opts.steps == 0 {
		opts.steps = 1
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		if value, ok := lookup(envPostgresDSN); ok {
			opts.dsn = strings.TrimSpace(value)
		}
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	printState(out, opts.direction, state)
	return nil
}

func printState(out io.Writer, direction string, state postgres.MigrationState) {
	label := "migration status"
	if direction != "status" {
		label = "migrate " + direction + " ok"
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", label, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		_, _ = fmt.Fprintf(out, "  pending: %s\n", name)
	}
	for _, name := range state.Drifted {
		_, _ = fmt.Fprintf(out, "  modified after apply: %s\n", name)
	}
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

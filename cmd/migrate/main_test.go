package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/storage/postgres"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestParseOptions(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{direction: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-dsn=postgres://flag", "-direction=STATUS"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "status", dsn: "postgres://flag"},
		},
		{
			name: "down defaults to one step",
			args: []string{"-direction=down", "-dsn=postgres://flag"},
			want: options{direction: "down", steps: 1, dsn: "postgres://flag"},
		},
		{
			name:    "missing dsn",
			args:    []string{"-direction=status"},
			wantErr: "is required",
		},
		{
			name:    "unsupported direction",
			args:    []string{"-direction=sideways", "-dsn=postgres://flag"},
			wantErr: "unsupported direction",
		},
		{
			name:    "negative steps",
			args:    []string{"-steps=-1", "-dsn=postgres://flag"},
			wantErr: "steps must be >= 0",
		},
		{
			name:    "unknown flag",
			args:    []string{"-force"},
			wantErr: "flag provided but not defined",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOptions(tc.args, lookupFrom(tc.env))
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected options: %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPrintState(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, "down", postgres.MigrationState{Version: 3, Applied: 3, Pending: []string{"0004_link_validations"}})

	out := buf.String()
	if !strings.HasPrefix(out, "migrate down ok: version=3 applied=3 pending=1\n") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "pending: 0004_link_validations") {
		t.Fatalf("pending migration is not listed: %q", out)
	}

	buf.Reset()
	printState(&buf, "status", postgres.MigrationState{Version: 4, Applied: 4})
	if buf.String() != "migration status: version=4 applied=4 pending=0\n" {
		t.Fatalf("unexpected status output: %q", buf.String())
	}

	buf.Reset()
	printState(&buf, "status", postgres.MigrationState{Version: 5, Applied: 5, Drifted: []string{"0002_outbox"}})
	if !strings.Contains(buf.String(), "modified after apply: 0002_outbox") {
		t.Fatalf("drifted migration is not listed: %q", buf.String())
	}
}

func TestRunAgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("KS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, direction := range []string{"status", "up", "down", "up"} {
		opts := options{direction: direction, dsn: dsn}
		if direction == "down" {
			opts.steps = 1
		}
		var buf bytes.Buffer
		if err := run(ctx, opts, &buf); err != nil {
			t.Skipf("postgres is not available for migrate test: %v", err)
		}
		if !strings.Contains(buf.String(), "version=") {
			t.Fatalf("unexpected output for %s: %q", direction, buf.String())
		}
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

// Command ledgerctl runs head-office maintenance against the ledger: branch
// merges and manual job triggers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/app"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/masterdata/branches"
	"github.com/odyssey-erp/resto-ledger/internal/platform/db"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

const usage = `usage:
  ledgerctl merge-branch -from <id|global> -to <id|global> [-actor <user id>] [-archive]
  ledgerctl jobs trigger <gl:integrity|idempotency:cleanup>
  ledgerctl jobs stats`

// Reassigner moves journal entries between branches.
type Reassigner interface {
	ReassignBranch(ctx context.Context, scope branchscope.Scope, actorID int64, from, to *int64) (int64, error)
}

// Archiver deactivates a branch after its entries were moved away.
type Archiver interface {
	Archive(ctx context.Context, scope branchscope.Scope, id int64) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	switch args[0] {
	case "merge-branch":
		opts, err := parseMergeFlags(args[1:], stderr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		return withServices(ctx, stderr, func(cfg *app.Config, r Reassigner, a Archiver) int {
			return mergeBranch(ctx, r, a, opts, stdout, stderr)
		})
	case "jobs":
		return runJobs(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
}

type mergeOptions struct {
	from    *int64
	to      *int64
	actor   int64
	archive bool
}

func parseMergeFlags(args []string, stderr io.Writer) (mergeOptions, error) {
	fs := flag.NewFlagSet("merge-branch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.String("from", "", "source branch id or global")
	to := fs.String("to", "", "target branch id or global")
	actor := fs.Int64("actor", 0, "user id recorded in the audit log")
	archive := fs.Bool("archive", false, "archive the source branch after the merge")
	if err := fs.Parse(args); err != nil {
		return mergeOptions{}, err
	}
	var opts mergeOptions
	var err error
	if opts.from, err = parseBranchTarget(*from); err != nil {
		return mergeOptions{}, fmt.Errorf("-from: %w", err)
	}
	if opts.to, err = parseBranchTarget(*to); err != nil {
		return mergeOptions{}, fmt.Errorf("-to: %w", err)
	}
	if *archive && opts.from == nil {
		return mergeOptions{}, errors.New("-archive needs a source branch id")
	}
	opts.actor = *actor
	opts.archive = *archive
	return opts, nil
}

// parseBranchTarget reads a branch id; "global" selects rows without a branch.
func parseBranchTarget(raw string) (*int64, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "":
		return nil, errors.New("branch required")
	case "global":
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid branch %q", raw)
	}
	return &id, nil
}

func mergeBranch(ctx context.Context, r Reassigner, a Archiver, opts mergeOptions, stdout, stderr io.Writer) int {
	scope := branchscope.HeadOffice()
	moved, err := r.ReassignBranch(ctx, scope, opts.actor, opts.from, opts.to)
	if err != nil {
		fmt.Fprintf(stderr, "merge failed (%s): %v\n", shared.Kind(err), err)
		return 1
	}
	fmt.Fprintf(stdout, "moved %d journal entries from %s to %s\n", moved, label(opts.from), label(opts.to))
	if opts.archive && opts.from != nil {
		if err := a.Archive(ctx, scope, *opts.from); err != nil {
			fmt.Fprintf(stderr, "archive failed (%s): %v\n", shared.Kind(err), err)
			return 1
		}
		fmt.Fprintf(stdout, "archived branch %d\n", *opts.from)
	}
	return 0
}

func label(id *int64) string {
	if id == nil {
		return "global"
	}
	return strconv.FormatInt(*id, 10)
}

func withServices(ctx context.Context, stderr io.Writer, fn func(*app.Config, Reassigner, Archiver) int) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	runner := db.NewRunner(pool, cfg.DBTxMaxAttempts)
	ledger := accounting.NewService(accounting.NewRepository(runner), shared.NewAuditLogger(pool), nil, logger)
	registry := branches.NewService(branches.NewRepository(pool))
	return fn(cfg, ledger, registry)
}

func runJobs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if args[0] == "trigger" && len(args) != 2 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if args[0] != "trigger" && args[0] != "stats" {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	cli := NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = cli.Close() }()

	if args[0] == "trigger" {
		info, err := cli.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(stderr, "trigger %s: %v\n", args[1], err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	}
	stats, err := cli.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "inspect queue: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return 0
}

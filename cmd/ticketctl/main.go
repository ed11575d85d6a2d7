// ticketctl is the operator tool for the ticketing store: it pre-generates
// identifiers, prints pool and check-in statistics, looks tickets up and
// cross-checks the store for inconsistencies.
//
// It reads the same configuration as the server (environment plus an
// optional .env file) and works against the configured store directly.
//
// Exit status: 0 on success, 1 on errors, 2 on usage errors, 3 when a
// ticket is not valid (verify) or the store is inconsistent (reconcile).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/config"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/logging"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/service"
	"github.com/spf13/pflag"
)

const (
	exitOK = iota
	exitError
	exitUsage
	exitNegative
)

// exitCodeError carries a specific exit status.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }
func (e *exitCodeError) ExitCode() int { return e.code }

func usageErrorf(format string, args ...any) error {
	return &exitCodeError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

type action func(ctx context.Context, svc *service.RegistrationService, out io.Writer, args []string) error

type command struct {
	usage   string
	summary string
	nargs   int
	// setup registers the command's flags and returns its action.
	setup func(fs *pflag.FlagSet) action
}

var commands = map[string]command{
	"generate": {
		usage:   "generate [--count N]",
		summary: "pre-generate unassigned identifiers",
		setup: func(fs *pflag.FlagSet) action {
			count := fs.IntP("count", "n", 100, "number of identifiers to create")
			return func(ctx context.Context, svc *service.RegistrationService, out io.Writer, _ []string) error {
				if *count <= 0 {
					return usageErrorf("--count must be positive")
				}
				n, err := svc.Pregenerate(ctx, *count)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "generated %d identifiers\n", n)
				return err
			}
		},
	},
	"stats": {
		usage:   "stats",
		summary: "print capacity, pool usage and check-in counts",
		setup: func(fs *pflag.FlagSet) action {
			return func(ctx context.Context, svc *service.RegistrationService, out io.Writer, _ []string) error {
				stats, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, stats)
			}
		},
	},
	"list": {
		usage:   "list [--assigned | --available] [--limit N]",
		summary: "list identifiers in sequence order",
		setup: func(fs *pflag.FlagSet) action {
			assigned := fs.Bool("assigned", false, "only assigned identifiers")
			available := fs.Bool("available", false, "only unassigned identifiers")
			limit := fs.Int("limit", 0, "maximum number of rows (0 = all)")
			return func(ctx context.Context, svc *service.RegistrationService, out io.Writer, _ []string) error {
				var f repository.IdentifierFilter
				switch {
				case *assigned && *available:
					return usageErrorf("--assigned and --available are mutually exclusive")
				case *assigned:
					f.Assigned = assigned
				case *available:
					no := false
					f.Assigned = &no
				}
				if *limit < 0 {
					return usageErrorf("--limit must not be negative")
				}
				f.Limit = *limit

				ids, err := svc.Identifiers(ctx, f)
				if err != nil {
					return err
				}
				return printIdentifiers(out, ids)
			}
		},
	},
	"verify": {
		usage:   "verify CODE",
		summary: "look a ticket up without checking it in",
		nargs:   1,
		setup: func(fs *pflag.FlagSet) action {
			return func(ctx context.Context, svc *service.RegistrationService, out io.Writer, args []string) error {
				res, err := svc.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(out, res); err != nil {
					return err
				}
				if res.Status != model.StatusValid {
					return &exitCodeError{code: exitNegative, err: fmt.Errorf("ticket is %s", res.Status)}
				}
				return nil
			}
		},
	},
	"reconcile": {
		usage:   "reconcile",
		summary: "cross-check the ledger, identifiers and registrations",
		setup: func(fs *pflag.FlagSet) action {
			return func(ctx context.Context, svc *service.RegistrationService, out io.Writer, _ []string) error {
				report, err := svc.Reconcile(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(out, report); err != nil {
					return err
				}
				if !report.Consistent {
					return &exitCodeError{code: exitNegative, err: errors.New("store is inconsistent")}
				}
				return nil
			}
		},
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := pflag.NewFlagSet("ticketctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(stderr)
	envFile := global.String("env-file", ".env", "dotenv file to load (missing files are ignored)")
	global.Usage = func() { printUsage(stderr, global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if global.NArg() == 0 {
		printUsage(stderr, global)
		return exitUsage
	}

	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "ticketctl: unknown command %q\n\n", name)
		printUsage(stderr, global)
		return exitUsage
	}

	err := execute(ctx, name, cmd, *envFile, global.Args()[1:], stdout, stderr)
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	fmt.Fprintf(stderr, "ticketctl %s: %v\n", name, err)
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return exitError
}

func execute(ctx context.Context, name string, cmd command, envFile string, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ticketctl "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	act := cmd.setup(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return &exitCodeError{code: exitUsage, err: err}
	}
	if fs.NArg() != cmd.nargs {
		return usageErrorf("usage: ticketctl %s", cmd.usage)
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}

	store, err := config.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	svc, err := service.FromConfig(store, cfg, log)
	if err != nil {
		return err
	}
	if _, err := svc.Bootstrap(ctx, cfg.Capacity, 0); err != nil {
		return err
	}
	return act(ctx, svc, stdout, fs.Args())
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIdentifiers(out io.Writer, ids []model.Identifier) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tIDENTIFIER\tASSIGNED\tRECORD")
	for _, id := range ids {
		record := id.BoundRecordID
		if record == "" {
			record = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", id.Seq, id.Value, id.Assigned, record)
	}
	return tw.Flush()
}

func printUsage(w io.Writer, global *pflag.FlagSet) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Usage: ticketctl [--env-file FILE] COMMAND [ARGS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", commands[name].usage, commands[name].summary)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, global.FlagUsages())
}

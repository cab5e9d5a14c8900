// Command cataloguegen-admin runs maintenance tasks against the catalogue job store.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/bootstrap"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
)

var errAborted = errors.New("aborted by user")

// app is the state shared by every subcommand.
type app struct {
	ctx    context.Context
	logger *slog.Logger
	cfg    config.AppConfig
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) error
}

// commands is kept in name order so usage output is stable.
var commands = []command{
	{"clear-status-cache", "Delete cached job status snapshots from Redis", runClearStatusCache},
	{"db-reset", "Drop the database schema and run migrations", runDBReset},
	{"list-jobs", "List an owner's generation jobs, newest first", runListJobs},
	{"migrate", "Run database migrations", runMigrations},
	{"queue-stats", "Show the number of generation jobs per status", runQueueStats},
	{"reap", "Run one reaper pass: lease recovery, retention and queue gauges", runReap},
	{"recover-expired", "Requeue or fail processing jobs whose lease has lapsed", runRecoverExpired},
	{"show-job", "Show a job with its catalogue items and cached status", runShowJob},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code) //nolint:forbidigo // exit status is the CLI contract with shell scripts
}

// run dispatches one subcommand and returns the process exit code: 2 for usage
// errors, 1 for failures.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, cfgErr := bootstrap.LoadConfig()
	logger := bootstrap.InitLogger(&cfg)

	if len(args) == 0 {
		_ = printUsage(stderr)
		return 2
	}
	cmd, ok := lookup(args[0])
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		_ = printUsage(stderr)
		return 2
	}
	if cfgErr != nil {
		logger.ErrorContext(ctx, "load config", "error", cfgErr)
		return 1
	}

	a := &app{
		ctx:    ctx,
		logger: logger,
		cfg:    cfg,
		in:     bufio.NewReader(stdin),
		out:    stdout,
		errOut: stderr,
	}
	if err := cmd.run(a, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		logger.ErrorContext(ctx, "command failed", "command", cmd.name, "error", err)
		return 1
	}
	return 0
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Usage: cataloguegen-admin <command> [flags]\n\nAvailable commands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-24s %s\n", c.name, c.summary)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (a *app) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(a.out, format, args...)
	return err
}

// withTimeout derives a command deadline from the signal-aware root context.
func (a *app) withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.ctx, d)
}

func runMigrations(a *app, args []string) error {
	timeout, err := parseTimeoutFlag("migrate", args, a.errOut)
	if err != nil {
		return err
	}

	st, err := a.openStores(needDB)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	ctx, cancel := a.withTimeout(timeout)
	defer cancel()

	a.logger.Info("running database migrations")
	if err := bootstrap.RunMigrations(ctx, st.db, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("migrations completed successfully")
	return nil
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	AllowRemote bool
}

func parseTimeoutFlag(name string, args []string, out io.Writer) (time.Duration, error) {
	fs := newFlagSet(name, out)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "Maximum duration for the command")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *timeout <= 0 {
		return 0, errors.New("--timeout must be greater than zero")
	}
	return *timeout, nil
}

func parseDBResetFlags(args []string, out io.Writer) (dbResetOptions, error) {
	fs := newFlagSet("db-reset", out)
	opts := dbResetOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration for the reset")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt (ignored for remote hosts)")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit database hosts that do not look local")
	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}
	if opts.Timeout <= 0 {
		return dbResetOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runDBReset(a *app, args []string) error {
	opts, err := parseDBResetFlags(args, a.errOut)
	if err != nil {
		return err
	}

	pg := a.cfg.Postgres
	c := confirmation{
		action:  "reset database schema",
		target:  fmt.Sprintf("database %q on %s:%d", pg.Name, pg.Host, pg.Port),
		warning: "WARNING: this will drop and recreate the public schema for the configured database.",
		yes:     opts.Yes,
	}
	if isLikelyRemoteHost(pg.Host) {
		if !opts.AllowRemote {
			return fmt.Errorf("refusing to reset potentially remote database host %q; pass --allow-remote if this is intentional", pg.Host)
		}
		c.remoteHost = pg.Host
	}
	if err := a.confirm(c); err != nil {
		return err
	}

	st, err := a.openStores(needDB)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	ctx, cancel := a.withTimeout(opts.Timeout)
	defer cancel()

	a.logger.Info("dropping public schema", "database", pg.Name)
	for _, stmt := range resetStatements(pg.User) {
		a.logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		if _, err := st.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	a.logger.Info("re-running database migrations")
	if err := bootstrap.RunMigrations(ctx, st.db, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database reset completed successfully")
	return nil
}

func resetStatements(user string) []string {
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user = strings.TrimSpace(user); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}
	return statements
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// isLikelyRemoteHost treats loopback addresses, localhost and *.local names as local.
func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch {
	case h == "", h == "localhost", strings.HasSuffix(h, ".local"):
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// confirmation describes a destructive action awaiting operator approval.
type confirmation struct {
	action  string
	target  string
	warning string
	yes     bool
	// remoteHost, when set, must be typed back verbatim. --yes does not skip it.
	remoteHost string
}

func (a *app) confirm(c confirmation) error {
	if c.remoteHost != "" {
		_, _ = fmt.Fprintf(a.errOut,
			"\nWARNING: database host %q does not look like a local address.\nThis operation will %s.\nType %q to continue or press enter to abort: ",
			c.remoteHost, c.action, c.remoteHost)
		if answer, err := a.readLine(); err != nil || answer != c.remoteHost {
			_, _ = fmt.Fprintln(a.errOut, "\nRemote safeguard check failed; aborting.")
			return errAborted
		}
		return nil
	}
	if c.yes {
		return nil
	}

	if c.warning != "" {
		if err := a.printf("%s\n", c.warning); err != nil {
			return err
		}
	}
	if c.target != "" {
		if err := a.printf("About to %s for %s.\n", c.action, c.target); err != nil {
			return err
		}
	}
	if err := a.printf("Continue? [y/N]: "); err != nil {
		return err
	}
	answer, err := a.readLine()
	if err != nil {
		return fmt.Errorf("%w: %w", errAborted, err)
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

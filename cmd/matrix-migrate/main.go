// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

// Matrix-migrate moves one Matrix account's room memberships and
// power levels to another account. It logs in to both accounts,
// snapshots their state, diffs the two into a migration plan, and
// applies the plan against the destination. With --leave-rooms the
// source account is removed from migrated rooms afterwards, keeping
// direct-chat flags intact on the destination. --dry-run prints the
// plan without changing anything.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/lib/secret"
	"github.com/pajowu/matrix-migrate/lib/version"
	"github.com/pajowu/matrix-migrate/messaging"
	"github.com/pajowu/matrix-migrate/migrate"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("matrix-migrate", pflag.ContinueOnError)
	var (
		configFile       = flags.String("config", "", "path to YAML config file")
		dryRun           = flags.Bool("dry-run", false, "compute and print the migration plan without applying it")
		fromUser         = flags.String("from", "", "user ID of the account to migrate from (env FROM_USER)")
		fromPasswordFile = flags.String("from-password-file", "", "path to the source account password, or - for stdin (env FROM_PASSWORD)")
		fromHomeserver   = flags.String("from-homeserver", "", "source homeserver URL; discovered from the user ID when empty")
		toUser           = flags.String("to", "", "user ID of the account to migrate to (env TO_USER)")
		toPasswordFile   = flags.String("to-password-file", "", "path to the destination account password, or - for stdin (env TO_PASSWORD)")
		toHomeserver     = flags.String("to-homeserver", "", "destination homeserver URL; discovered from the user ID when empty")
		rooms            = flags.StringArray("rooms", nil, "room to migrate, glob on room ID or name (repeatable; default all)")
		roomsExcluded    = flags.StringArray("rooms-excluded", nil, "room to skip, glob on room ID or name (repeatable)")
		leaveRooms       = flags.Bool("leave-rooms", false, "leave rooms on the source account after successful migration")
		timeoutSeconds   = flags.Int("timeout", int(migrate.DefaultCallTimeout/time.Second), "per-call timeout in seconds")
		workers          = flags.Int("workers", migrate.DefaultWorkers, "concurrent room migrations")
		logLevel         = flags.String("log-level", "info", "log level: debug, info, warn, error")
		showVersion      = flags.Bool("version", false, "print version information and exit")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("matrix-migrate %s\n", version.Info())
		return nil
	}

	var config Config
	if *configFile != "" {
		loaded, err := LoadConfig(*configFile)
		if err != nil {
			return err
		}
		config = *loaded
	}
	// Flags win over the config file, which wins over env vars.
	applyString(flags, "from", fromUser, config.From.User, "FROM_USER")
	applyString(flags, "from-password-file", fromPasswordFile, config.From.PasswordFile, "")
	applyString(flags, "from-homeserver", fromHomeserver, config.From.Homeserver, "FROM_HOMESERVER")
	applyString(flags, "to", toUser, config.To.User, "TO_USER")
	applyString(flags, "to-password-file", toPasswordFile, config.To.PasswordFile, "")
	applyString(flags, "to-homeserver", toHomeserver, config.To.Homeserver, "TO_HOMESERVER")
	applyString(flags, "log-level", logLevel, config.LogLevel, "")
	if !flags.Changed("rooms") && len(config.Rooms) > 0 {
		*rooms = config.Rooms
	}
	if !flags.Changed("rooms-excluded") && len(config.RoomsExcluded) > 0 {
		*roomsExcluded = config.RoomsExcluded
	}
	if !flags.Changed("leave-rooms") && config.LeaveRooms {
		*leaveRooms = true
	}
	if !flags.Changed("timeout") && config.TimeoutSeconds > 0 {
		*timeoutSeconds = config.TimeoutSeconds
	}
	if !flags.Changed("workers") && config.Workers > 0 {
		*workers = config.Workers
	}

	if *fromUser == "" {
		return fmt.Errorf("--from is required")
	}
	if *toUser == "" {
		return fmt.Errorf("--to is required")
	}
	source, err := ref.ParseUserID(*fromUser)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	dest, err := ref.ParseUserID(*toUser)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if source == dest {
		return fmt.Errorf("source and destination are the same account")
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sourceSession, err := login(ctx, logger, source, *fromHomeserver, *fromPasswordFile, "FROM_PASSWORD")
	if err != nil {
		return fmt.Errorf("source account %s: %w", source, err)
	}
	defer logout(logger, sourceSession)

	destSession, err := login(ctx, logger, dest, *toHomeserver, *toPasswordFile, "TO_PASSWORD")
	if err != nil {
		return fmt.Errorf("destination account %s: %w", dest, err)
	}
	defer logout(logger, destSession)

	options := migrate.Options{
		Rooms:         *rooms,
		RoomsExcluded: *roomsExcluded,
		LeaveRooms:    *leaveRooms,
		CallTimeout:   time.Duration(*timeoutSeconds) * time.Second,
		Workers:       *workers,
		Logger:        logger,
	}

	if *dryRun {
		rendered, err := migrate.DryRun(ctx, sourceSession, destSession, options)
		if err != nil {
			return err
		}
		fmt.Print(rendered.Text)
		return nil
	}

	report, err := migrate.Run(ctx, sourceSession, destSession, options)
	if err != nil {
		return err
	}
	renderReport(os.Stdout, report)

	var failed int
	for _, result := range report.Rooms {
		if result.Status == migrate.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d room(s) failed to migrate", failed)
	}
	return nil
}

// applyString fills a flag's value from the config file or an
// environment variable when the flag itself was not passed.
func applyString(flags *pflag.FlagSet, name string, value *string, configValue, envVar string) {
	if flags.Changed(name) {
		return
	}
	if configValue != "" {
		*value = configValue
		return
	}
	if envVar != "" && *value == "" {
		*value = os.Getenv(envVar)
	}
}

// newLogger builds the process logger: human-readable text when
// stderr is a terminal, JSON when piped or redirected.
func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	options := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler), nil
}

// login resolves the account's homeserver and authenticates, reading
// the password from a file, the environment, or an interactive
// prompt.
func login(ctx context.Context, logger *slog.Logger, user ref.UserID, homeserverURL, passwordFile, passwordEnv string) (*messaging.DirectSession, error) {
	if homeserverURL == "" {
		discovered, err := messaging.DiscoverHomeserver(ctx, user.Server(), http.DefaultClient)
		if err != nil {
			return nil, err
		}
		homeserverURL = discovered
		logger.Info("homeserver discovered", "user_id", user.String(), "base_url", homeserverURL)
	}

	password, err := readPassword(user, passwordFile, passwordEnv)
	if err != nil {
		return nil, err
	}
	defer password.Close()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return client.Login(ctx, user.String(), password)
}

// logout invalidates the session's token on the homeserver and
// releases it locally. Runs on a fresh context so that a cancelled
// run still logs out cleanly.
func logout(logger *slog.Logger, session *messaging.DirectSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Logout(ctx); err != nil {
		logger.Warn("logout failed", "user_id", session.UserID().String(), "error", err)
	}
	session.Close()
}

// readPassword reads the account password from the given file ("-"
// for stdin), falling back to the environment variable, falling back
// to an interactive terminal prompt.
func readPassword(user ref.UserID, passwordFile, passwordEnv string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}
	if value := os.Getenv(passwordEnv); value != "" {
		return secret.NewFromString(value)
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, fmt.Errorf("no password source: set %s, pass a password file, or run interactively", passwordEnv)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	passwordBytes, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}

// renderReport prints the per-room outcome table.
func renderReport(out io.Writer, report *migrate.Report) {
	if len(report.Rooms) == 0 {
		fmt.Fprintln(out, "Nothing to migrate: destination already matches source.")
		return
	}

	ids := make([]string, 0, len(report.Rooms))
	byID := make(map[string]migrate.RoomResult, len(report.Rooms))
	for roomID, result := range report.Rooms {
		ids = append(ids, roomID.String())
		byID[roomID.String()] = result
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tSTATUS\tDETAIL")
	for _, id := range ids {
		result := byID[id]
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, result.Status, result.Detail)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d of %d room(s) migrated.\n", report.Applied(), len(report.Rooms))
}

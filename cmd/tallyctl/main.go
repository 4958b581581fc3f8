// main.go - Admin control tool for tally
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"tally/internal"
	"tally/internal/config"
)

const defaultShutdownTimeout = 30 * time.Second

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&CreateUserCommand{},
	&ChangePasswordCommand{},
	&ProjectsCommand{},
	&RotateKeyCommand{},
	&RebuildStatsCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

var log = logrus.New()

func main() {
	cfg := config.GetConfig()
	configureLogging(log, cfg, os.Stderr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Warn("Received signal, cancelling command")
		cancel()
	}()

	cmdName, args := parseArgs(os.Args[1:])
	cmd := findCommand(cmdName)
	if cmd == nil {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewAppWithConfig(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize app")
	}

	err = cmd.Execute(ctx, app, args)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("Cleanup error")
	}

	if err != nil {
		log.WithError(err).WithField("command", cmd.Name()).Fatal("Command failed")
	}
	log.WithField("command", cmd.Name()).Info("Command completed")
}

// configureLogging sends log output to console and, when a logs directory is
// configured, to a rotating tallyctl.log file.
func configureLogging(l *logrus.Logger, cfg *config.Config, console io.Writer) {
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	dir := cfg.GetLogDirectory()
	if dir == "" {
		l.SetOutput(console)
		return
	}
	l.SetOutput(io.MultiWriter(console, &lumberjack.Logger{
		Filename:   filepath.Join(dir, "tallyctl.log"),
		MaxSize:    cfg.GetLogMaxSizeMB(),
		MaxBackups: cfg.GetLogMaxBackups(),
		MaxAge:     cfg.GetLogMaxAgeDays(),
	}))
}

func parseArgs(args []string) (string, []string) {
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: tallyctl [command] [args...]")
	fmt.Fprintln(w, "Available commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", cmd.Name(), cmd.Description())
	}
}

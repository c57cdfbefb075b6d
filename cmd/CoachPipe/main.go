package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/util"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// version is set with -ldflags "-X main.version=..."
var version = "dev"

// Options is the root command. The struct tags are interpreted by go-flags.
type Options struct {
	LogLevel string   `long:"log-level" env:"COACHPIPE_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
	Serve    ServeCmd `command:"serve" description:"Run the reference coaching backend"`
	Chat     ChatCmd  `command:"chat" description:"Check in with the coach in the terminal"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	opts := &Options{}
	parser := newParser(opts)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newParser builds the CLI parser. The logger is configured before any command runs.
func newParser(opts *Options) *flags.Parser {
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := initializeLogger(os.Stderr, opts.LogLevel); err != nil {
			return err
		}
		if chat, ok := cmd.(*ChatCmd); ok {
			chat.logLevel = opts.LogLevel
		}
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}
	return parser
}

// initializeLogger installs the default slog logger. COACHPIPE_LOG_JSON switches
// to JSON output.
func initializeLogger(w io.Writer, level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if util.EnvFlag("LOG_JSON", false) {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

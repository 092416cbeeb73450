// Package main provides the imapsn command-line client.
//
// Each invocation opens the configured account, runs one command and closes
// the session again, flushing every document it touched.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/opd-ai/imapsn"
	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/mail"
	"github.com/sirupsen/logrus"
)

// CLI configuration
type CLIConfig struct {
	configPath string
	logLevel   string
	logFile    string
	keyBits    int
	help       bool
}

// errUsage is returned for a missing or unknown command.
var errUsage = errors.New("usage error")

// parseCLIFlags parses the global flags and returns the remaining arguments.
func parseCLIFlags(args []string, output io.Writer) (*CLIConfig, []string, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet("imapsn", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.configPath, "config", "imapsn.yaml", "Account configuration file")
	fs.StringVar(&cfg.logLevel, "log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&cfg.logFile, "log-file", "", "Log file path (default: stderr)")
	fs.IntVar(&cfg.keyBits, "key-bits", crypto.DefaultKeyBits, "RSA key size for a new account")
	fs.BoolVar(&cfg.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "imapsn - a social network in your mailbox")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  imapsn [options] init <email> <display name>")
	fmt.Fprintln(w, "  imapsn [options] whoami")
	fmt.Fprintln(w, "  imapsn [options] befriend <address>")
	fmt.Fprintln(w, "  imapsn [options] post <status text>")
	fmt.Fprintln(w, "  imapsn [options] process")
	fmt.Fprintln(w, "  imapsn [options] status")
	fmt.Fprintln(w, "  imapsn [options] groups")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "The private key password is read from %s.\n", config.EnvPrivateKeyPassword)
}

// setupLogging configures logrus from the CLI flags. The returned closer
// releases the log file, if any.
func setupLogging(cfg *CLIConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.logLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.logLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.logFile == "" {
		logrus.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f, nil
}

// run executes one command line.
func run(args []string, stdout, stderr io.Writer) error {
	cli, rest, err := parseCLIFlags(args, stderr)
	if err != nil {
		return err
	}
	if cli.help || len(rest) == 0 {
		printUsage(stdout)
		if cli.help {
			return nil
		}
		return errUsage
	}

	logCloser, err := setupLogging(cli)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	command, params := rest[0], rest[1:]
	if command == "init" {
		return initAccount(cli, params, stdout)
	}

	handler, ok := commands[command]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	session, err := connect(cfg, cli)
	if err != nil {
		return err
	}
	runErr := handler(session, params, stdout)
	return errors.Join(runErr, session.Close())
}

func connect(cfg *config.Account, cli *CLIConfig) (*imapsn.Session, error) {
	options := imapsn.NewOptions()
	options.KeyBits = cli.keyBits
	return imapsn.Connect(cfg, options)
}

// main is the entry point for the imapsn client.
func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// newTable returns a tab-aligned writer for listings.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// outcomeMark decorates an outcome in the process listing.
func outcomeMark(o mail.Outcome) string {
	switch o {
	case mail.OutcomeApplied:
		return "✅"
	case mail.OutcomeIgnored:
		return "➖"
	default:
		return "⚠️"
	}
}

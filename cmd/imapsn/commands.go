package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/imapsn"
	"github.com/opd-ai/imapsn/config"
)

type commandFunc func(s *imapsn.Session, args []string, out io.Writer) error

var commands = map[string]commandFunc{
	"whoami":   whoami,
	"befriend": befriend,
	"post":     post,
	"process":  process,
	"status":   status,
	"groups":   groups,
}

// initAccount writes a new configuration file for a local account and
// creates the account's keys. The bolt store is placed next to the file, so
// accounts initialized in one directory can reach each other.
func initAccount(cli *CLIConfig, args []string, out io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: init <email> <display name>", errUsage)
	}
	if _, err := os.Stat(cli.configPath); err == nil {
		return fmt.Errorf("%w: %s already exists", config.ErrConfig, cli.configPath)
	}

	cfg := config.Default()
	cfg.EmailID = args[0]
	cfg.AccountName = args[0]
	cfg.DisplayName = strings.Join(args[1:], " ")
	cfg.Transport = config.TransportLocal
	cfg.StorePath = filepath.Join(filepath.Dir(cli.configPath), "imapsn.db")

	// The password stays out of the file; it comes from the environment.
	withSecrets := cfg
	config.ApplyEnvOverrides(&withSecrets)
	if err := withSecrets.Validate(); err != nil {
		return err
	}
	if err := cfg.Write(cli.configPath); err != nil {
		return err
	}

	session, err := connect(&withSecrets, cli)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintf(out, "Created %s (%s)\n", session.Person().ID, cli.configPath)
	fmt.Fprintf(out, "Fingerprint: %s\n", session.Fingerprint())
	return nil
}

func whoami(s *imapsn.Session, _ []string, out io.Writer) error {
	me := s.Person()
	fmt.Fprintf(out, "ID:          %s\n", me.ID)
	fmt.Fprintf(out, "Name:        %s\n", me.DisplayName)
	fmt.Fprintf(out, "Email:       %s\n", me.Email.Value)
	fmt.Fprintf(out, "Key hash:    %s\n", me.KeyHash)
	fmt.Fprintf(out, "Fingerprint: %s\n", s.Fingerprint())
	return nil
}

func befriend(s *imapsn.Session, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: befriend <address>", errUsage)
	}
	id, err := s.SendFriendRequest(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Friend request %s sent to %s\n", id, args[0])
	return nil
}

func post(s *imapsn.Session, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: post <status text>", errUsage)
	}
	act, err := s.PostStatus("", strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Posted %s to %s\n", act.ID, s.WallGroup())
	return nil
}

func process(s *imapsn.Session, _ []string, out io.Writer) error {
	report, err := s.ProcessInbox()
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		line := fmt.Sprintf("%s %-9s %s", outcomeMark(r.Outcome), r.Outcome, r.Subject)
		if r.Err != nil {
			line += " (" + r.Err.Error() + ")"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%d message(s) processed\n", len(report.Results))
	return nil
}

func status(s *imapsn.Session, _ []string, out io.Writer) error {
	tw := newTable(out)
	fmt.Fprintln(tw, "PEER\tSTATUS\tLAST SENT\tLAST RECEIVED")
	for _, r := range s.Relationships() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.PeerID, r.Status, stamp(r.LastSent), stamp(r.LastReceived))
	}
	return tw.Flush()
}

func groups(s *imapsn.Session, _ []string, out io.Writer) error {
	for _, name := range s.Groups() {
		fmt.Fprintf(out, "%s:\n", name)
		for _, m := range s.Members(name) {
			fmt.Fprintf(out, "  %s\n", m.Address())
		}
	}
	return nil
}

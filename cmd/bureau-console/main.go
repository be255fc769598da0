// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-console attaches the terminal to a console server's Unix
// socket: forwarded log lines print above the prompt and entered lines
// run as commands on the host. The client waits for the socket to
// appear and reconnects with backoff when the server goes away.
//
// Exit status is 0 when the operator leaves (Ctrl-D, or Ctrl-C while
// no server is connected) and 1 when the server and client cannot
// agree on a protocol, unless --ignore-unrecoverable-handshake keeps
// the client retrying.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/bureau-console/console"
	"github.com/bureau-foundation/bureau-console/lib/process"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/lib/version"
)

const binaryName = "bureau-console"

func main() {
	process.Exit(binaryName, run(os.Args[1:]))
}

type options struct {
	socketPath          string
	debug               bool
	ignoreUnrecoverable bool
	showVersion         bool
}

func parseOptions(args []string, usage io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.StringVarP(&opts.socketPath, "socket", "s", "console.sock", "path to the console server's Unix socket")
	flagSet.BoolVar(&opts.debug, "debug", false, "log client diagnostics")
	flagSet.BoolVar(&opts.ignoreUnrecoverable, "ignore-unrecoverable-handshake", false,
		"keep retrying after handshake failures instead of exiting")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseOptions(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		version.Print(binaryName)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// Raw mode turns Ctrl-C into a key while a line is being read, so
	// SIGINT only arrives while waiting for a server or in dumb mode.
	interrupts := make(chan struct{}, 1)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)
	go func() {
		for range signals {
			select {
			case interrupts <- struct{}{}:
			default:
			}
		}
	}()

	level := termcolor.Detect(os.Stdout)
	output := console.NewOutput(os.Stdout, level)
	defer output.Close()

	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(console.NewLogHandler(output, logLevel))
	logger.Info(binaryName + " " + version.Info())

	stdinTerminal := term.IsTerminal(int(os.Stdin.Fd()))
	config := console.Config{
		SocketPath:                   opts.socketPath,
		IgnoreUnrecoverableHandshake: opts.ignoreUnrecoverable,
		Output:                       output,
		Logger:                       logger,
		Input:                        os.Stdin,
		ExitOnInputEOF:               stdinTerminal,
		Interrupts:                   interrupts,
	}
	if stdinTerminal && term.IsTerminal(int(os.Stdout.Fd())) {
		config.NewLineReader = func(complete console.CompleteFunc) (console.LineReader, error) {
			return console.NewTerminalReader(os.Stdin, os.Stdout, complete)
		}
	}

	client, err := console.New(config)
	if err != nil {
		return err
	}
	code := client.Run(ctx)
	output.Close()
	if code != 0 {
		return &process.ExitError{Code: code}
	}
	return nil
}

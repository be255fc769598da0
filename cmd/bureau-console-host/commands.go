// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/bureau-foundation/bureau-console/lib/clock"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
	"github.com/bureau-foundation/bureau-console/server"
)

// interactivityPause is how long "interactive off" keeps commands
// disabled before they come back on their own.
const interactivityPause = 10 * time.Second

// consoleServer is the part of *server.Server the command set drives.
type consoleServer interface {
	SessionCount() int
	InteractivityAvailable() bool
	EnableInteractivity(hooks server.Hooks)
	DisableInteractivity()
}

type command struct {
	name        string
	usage       string
	description string
	subcommands []string
	run         func(ctx context.Context, host *commandHost, args []string) error
}

func commandTable() []command {
	return []command{{
		name:        "help",
		usage:       "help",
		description: "list commands",
		run: func(_ context.Context, host *commandHost, _ []string) error {
			for _, cmd := range host.commands {
				host.logger.Info(fmt.Sprintf("%-16s %s", cmd.usage, cmd.description))
			}
			return nil
		},
	},
	{
		name:        "status",
		usage:       "status",
		description: "show sessions and uptime",
		run: func(_ context.Context, host *commandHost, _ []string) error {
			host.logger.Info("status",
				"sessions", host.server.SessionCount(),
				"interactive", host.server.InteractivityAvailable(),
				"uptime", host.clock.Now().Sub(host.started).Round(time.Second).String(),
			)
			return nil
		},
	},
	{
		name:        "say",
		usage:       "say <text>",
		description: "log text at info",
		run: func(_ context.Context, host *commandHost, args []string) error {
			if len(args) == 0 {
				return errors.New("usage: say <text>")
			}
			host.logger.Info(strings.Join(args, " "))
			return nil
		},
	},
	{
		name:        "interactive",
		usage:       "interactive off",
		description: "pause commands for a while",
		subcommands: []string{"off"},
		run: func(_ context.Context, host *commandHost, args []string) error {
			if len(args) != 1 || args[0] != "off" {
				return errors.New("usage: interactive off")
			}
			host.pauseInteractivity()
			return nil
		},
	},
	{
		name:        "stop",
		usage:       "stop",
		description: "shut the host down",
		run: func(_ context.Context, host *commandHost, _ []string) error {
			host.logger.Info("stopping at operator request")
			host.stop()
			return nil
		},
	}}
}

func (host *commandHost) find(name string) (command, bool) {
	for _, cmd := range host.commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

// commandHost implements the console hooks for the demo command set.
type commandHost struct {
	server   consoleServer
	logger   *slog.Logger
	clock    clock.Clock
	commands []command
	started  time.Time
	stop     func()
	pause    time.Duration

	pauseMu    sync.Mutex
	pauseTimer <-chan time.Time
}

func newCommandHost(srv consoleServer, logger *slog.Logger, clk clock.Clock, stop func()) *commandHost {
	return &commandHost{
		server:   srv,
		logger:   logger,
		clock:    clk,
		commands: commandTable(),
		started:  clk.Now(),
		stop:     stop,
		pause:    interactivityPause,
	}
}

func (host *commandHost) hooks() server.Hooks {
	return server.Hooks{
		Completer:   server.CompleterFunc(host.complete),
		Highlighter: server.HighlighterFunc(highlight),
		Parser:      server.ParserFunc(parse),
		Executor:    server.ExecutorFunc(host.execute),
	}
}

func (host *commandHost) execute(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	cmd, ok := host.find(words[0])
	if !ok {
		return fmt.Errorf("unknown command %q (try \"help\")", words[0])
	}
	return cmd.run(ctx, host, words[1:])
}

// pauseInteractivity turns commands off and schedules them back on. A
// pause while one is already pending restarts the wait.
func (host *commandHost) pauseInteractivity() {
	host.server.DisableInteractivity()
	host.logger.Info("interactivity paused", "for", host.pause.String())

	wake := host.clock.After(host.pause)
	host.pauseMu.Lock()
	host.pauseTimer = wake
	host.pauseMu.Unlock()

	go func() {
		<-wake
		host.pauseMu.Lock()
		current := host.pauseTimer == wake
		if current {
			host.pauseTimer = nil
		}
		host.pauseMu.Unlock()
		if !current {
			return
		}
		host.server.EnableInteractivity(host.hooks())
		host.logger.Info("interactivity resumed")
	}()
}

func (host *commandHost) complete(ctx context.Context, line string, cursor int) ([]protocol.Candidate, error) {
	parsed, err := parse(ctx, line, cursor)
	if err != nil {
		return nil, err
	}
	prefix := parsed.Word[:parsed.WordCursor]

	var options []command
	switch parsed.WordIndex {
	case 0:
		options = host.commands
	case 1:
		if cmd, ok := host.find(parsed.Words[0]); ok {
			for _, sub := range cmd.subcommands {
				options = append(options, command{name: sub})
			}
		}
	}

	var candidates []protocol.Candidate
	for _, option := range options {
		if !strings.HasPrefix(option.name, prefix) {
			continue
		}
		candidate := protocol.Candidate{Value: option.name, Display: option.name}
		if option.description != "" {
			description := option.description
			candidate.Description = &description
		}
		candidates = append(candidates, candidate)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Value < candidates[j].Value })
	return candidates, nil
}

// parse splits line on spaces and reports the word containing cursor.
// A cursor in whitespace sits at the start of an empty word.
func parse(_ context.Context, line string, cursor int) (*protocol.ParseResponse, error) {
	if cursor < 0 || cursor > len(line) {
		return nil, fmt.Errorf("cursor %d outside line of length %d", cursor, len(line))
	}
	result := &protocol.ParseResponse{Line: line, Cursor: cursor, Words: []string{}, WordIndex: -1}

	start := -1
	for index := 0; index <= len(line); index++ {
		atSpace := index == len(line) || line[index] == ' ' || line[index] == '\t'
		switch {
		case !atSpace && start < 0:
			start = index
		case atSpace && start >= 0:
			if cursor >= start && cursor <= index {
				result.WordIndex = len(result.Words)
				result.Word = line[start:index]
				result.WordCursor = cursor - start
			}
			result.Words = append(result.Words, line[start:index])
			start = -1
		}
	}

	if result.WordIndex < 0 {
		result.WordIndex = len(strings.Fields(line[:cursor]))
	}
	return result, nil
}

// formatterNames maps a color level to the chroma terminal formatter
// that emits matching escape sequences.
var formatterNames = map[termcolor.ColorLevel]string{
	termcolor.Indexed8:   "terminal8",
	termcolor.Indexed16:  "terminal16",
	termcolor.Indexed256: "terminal256",
	termcolor.TrueColor:  "terminal16m",
}

// highlight renders line as shell syntax for the requesting session's
// color level. At termcolor.None the line comes back unchanged.
func highlight(ctx context.Context, line string) (string, error) {
	name, ok := formatterNames[termcolor.Current(ctx, termcolor.None)]
	if !ok {
		return line, nil
	}
	lexer := lexers.Get("bash")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, line)
	if err != nil {
		return "", fmt.Errorf("tokenising command: %w", err)
	}
	tokens := trimTrailingNewline(iterator.Tokens())

	var builder strings.Builder
	if err := formatters.Get(name).Format(&builder, styles.Get("monokai"), chroma.Literator(tokens...)); err != nil {
		return "", fmt.Errorf("formatting command: %w", err)
	}
	return builder.String(), nil
}

// trimTrailingNewline removes the newline some lexers append to their
// input so the rendering stays on one line.
func trimTrailingNewline(tokens []chroma.Token) []chroma.Token {
	for index := len(tokens) - 1; index >= 0; index-- {
		if tokens[index].Value == "" {
			continue
		}
		tokens[index].Value = strings.TrimSuffix(tokens[index].Value, "\n")
		break
	}
	return tokens
}

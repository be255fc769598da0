// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-console/client"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/lib/testutil"
	"github.com/bureau-foundation/bureau-console/protocol"
	"github.com/bureau-foundation/bureau-console/server"
)

// startHost serves a console on path and returns a function that stops
// it and waits for Serve to return. The stop also runs at cleanup.
func startHost(t *testing.T, path string) (*server.Server, func()) {
	t.Helper()
	srv, err := server.New(server.Config{SocketPath: path, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	testutil.RequireClosed(t, srv.Ready(), testTimeout, "waiting for server to listen")

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			if err := testutil.RequireReceive(t, done, testTimeout, "waiting for Serve to return"); err != nil {
				t.Errorf("Serve: %v", err)
			}
		})
	}
	t.Cleanup(stop)
	return srv, stop
}

type runningClient struct {
	client *Client
	output *Output
	buffer *testutil.LogBuffer
	done   chan struct{}
	code   int
	cancel context.CancelFunc
}

// startClient runs a Client writing plain text, debug logs included,
// to a fresh buffer.
func startClient(t *testing.T, config Config) *runningClient {
	t.Helper()
	return startClientWith(t, config, &testutil.LogBuffer{})
}

func startClientWith(t *testing.T, config Config, buffer *testutil.LogBuffer) *runningClient {
	t.Helper()
	config.Output = NewOutput(buffer, termcolor.None)
	config.Logger = slog.New(NewLogHandler(config.Output, slog.LevelDebug))
	c, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	running := &runningClient{client: c, output: config.Output, buffer: buffer, done: make(chan struct{}), cancel: cancel}
	go func() {
		running.code = c.Run(ctx)
		close(running.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-running.done:
		case <-time.After(testTimeout):
			t.Error("Run did not return after cancellation")
		}
		config.Output.Close()
	})
	return running
}

func (r *runningClient) waitFor(t *testing.T, text string) {
	t.Helper()
	testutil.Eventually(t, testTimeout, func() bool { return strings.Contains(r.buffer.String(), text) }, "output containing %q", text)
}

func (r *runningClient) waitInteractive(t *testing.T) *remoteSession {
	t.Helper()
	var session *remoteSession
	testutil.Eventually(t, testTimeout, func() bool {
		session = r.client.active.Load()
		return session != nil && session.interactive.Load()
	}, "interactive session")
	return session
}

func (r *runningClient) waitExit(t *testing.T) int {
	t.Helper()
	testutil.RequireClosed(t, r.done, testTimeout, "waiting for Run to return")
	r.output.Close()
	return r.code
}

func recordCommands(srv *server.Server) <-chan string {
	commands := make(chan string, 8)
	srv.EnableInteractivity(server.Hooks{
		Executor: server.ExecutorFunc(func(_ context.Context, command string) error {
			commands <- command
			return nil
		}),
	})
	return commands
}

func TestDumbSession(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	srv, _ := startHost(t, path)
	commands := recordCommands(srv)

	input, typing := io.Pipe()
	running := startClient(t, Config{SocketPath: path, Input: input, ExitOnInputEOF: true})
	running.waitFor(t, "Connected to server via socket: "+path)
	running.waitInteractive(t)

	io.WriteString(typing, "   \n  say hello  \n")
	if got := testutil.RequireReceive(t, commands, testTimeout, "waiting for command"); got != "say hello" {
		t.Errorf("command = %q, want %q", got, "say hello")
	}

	testutil.Eventually(t, testTimeout, func() bool {
		srv.BroadcastLog(func(level termcolor.ColorLevel) string { return "forwarded at " + level.String() })
		return strings.Contains(running.buffer.String(), "forwarded at NONE")
	}, "forwarded log line")

	typing.Close()
	if code := running.waitExit(t); code != 0 {
		t.Errorf("exit status = %d, want 0", code)
	}
	output := running.buffer.String()
	for _, want := range []string{"Disconnected from server.", "Goodbye!"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestInputDroppedWhileNotInteractive(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	srv, _ := startHost(t, path)

	input, typing := io.Pipe()
	running := startClient(t, Config{SocketPath: path, Input: input, ExitOnInputEOF: true})
	running.waitFor(t, "Connected to server via socket: ")
	io.WriteString(typing, "say early\n")
	running.waitFor(t, "ignoring input while interactivity is unavailable")

	commands := recordCommands(srv)
	running.waitInteractive(t)
	io.WriteString(typing, "say late\n")
	if got := testutil.RequireReceive(t, commands, testTimeout, "waiting for command"); got != "say late" {
		t.Errorf("first executed command = %q, want %q", got, "say late")
	}
}

func TestUnsolicitedErrorIsPrinted(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	srv, _ := startHost(t, path)
	srv.EnableInteractivity(server.Hooks{})

	input, typing := io.Pipe()
	running := startClient(t, Config{SocketPath: path, Input: input})
	running.waitInteractive(t)
	io.WriteString(typing, "say hi\n")
	running.waitFor(t, "Error: Command execution is not supported")
}

func TestUnrecoverableHandshakeExits(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	startHost(t, path)

	future := protocol.Exactly(protocol.TransportEpoch + 1)
	running := startClient(t, Config{
		SocketPath: path,
		Transport:  client.Config{TransportEpochRange: &future},
	})
	if code := running.waitExit(t); code != 1 {
		t.Errorf("exit status = %d, want 1", code)
	}
	output := running.buffer.String()
	if !strings.Contains(output, "Transport epoch mismatch: server expects epoch 17") {
		t.Errorf("output missing mismatch explanation:\n%s", output)
	}
	if strings.Contains(output, "Goodbye!") {
		t.Errorf("handshake failure said goodbye:\n%s", output)
	}
}

func TestIgnoreUnrecoverableHandshakeRetries(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	startHost(t, path)

	future := protocol.Exactly(protocol.TransportEpoch + 1)
	running := startClient(t, Config{
		SocketPath:                   path,
		IgnoreUnrecoverableHandshake: true,
		Transport:                    client.Config{TransportEpochRange: &future},
	})
	running.waitFor(t, "Retrying despite unrecoverable handshake failure")
	running.waitFor(t, "Reconnecting in 1s...")
	running.cancel()
	if code := running.waitExit(t); code != 0 {
		t.Errorf("exit status = %d, want 0", code)
	}
}

func TestInterruptWhileWaiting(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	interrupts := make(chan struct{}, 1)
	running := startClient(t, Config{SocketPath: path, Interrupts: interrupts})
	running.waitFor(t, "Waiting for socket to exist: "+path)

	interrupts <- struct{}{}
	if code := running.waitExit(t); code != 0 {
		t.Errorf("exit status = %d, want 0", code)
	}
	if !strings.Contains(running.buffer.String(), "Goodbye!") {
		t.Errorf("output missing goodbye:\n%s", running.buffer.String())
	}
}

func TestReconnectsAfterServerRestart(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	_, stopFirst := startHost(t, path)

	running := startClient(t, Config{SocketPath: path})
	running.waitFor(t, "Connected to server via socket: ")

	stopFirst()
	running.waitFor(t, "Disconnected from server.")
	running.waitFor(t, "Waiting for socket to exist: ")

	startHost(t, path)
	testutil.Eventually(t, testTimeout, func() bool {
		return strings.Count(running.buffer.String(), "Connected to server via socket: ") == 2
	}, "second connection")

	running.cancel()
	if code := running.waitExit(t); code != 0 {
		t.Errorf("exit status = %d, want 0", code)
	}
	if strings.Contains(running.buffer.String(), "Goodbye!") {
		t.Error("cancellation said goodbye")
	}
}

// scriptedReader is a LineReader fed by the test.
type scriptedReader struct {
	out        io.Writer
	input      chan scriptedInput
	interrupts chan struct{}

	mu      sync.Mutex
	reading bool
	prompts []string
	erase   []bool
	closed  bool
}

type scriptedInput struct {
	line string
	err  error
}

func newScriptedReader(out io.Writer) *scriptedReader {
	return &scriptedReader{out: out, input: make(chan scriptedInput), interrupts: make(chan struct{}, 1)}
}

func (r *scriptedReader) ReadLine(prompt string) (string, error) {
	r.mu.Lock()
	r.reading = true
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.reading = false
		r.mu.Unlock()
	}()
	select {
	case typed, ok := <-r.input:
		if !ok {
			return "", io.EOF
		}
		return typed.line, typed.err
	case <-r.interrupts:
		return "", ErrInterrupted
	}
}

func (r *scriptedReader) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reading {
		return false
	}
	select {
	case r.interrupts <- struct{}{}:
	default:
	}
	return true
}

func (r *scriptedReader) Write(data []byte) (int, error) { return r.out.Write(data) }

func (r *scriptedReader) SetEraseLineOnFinish(erase bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.erase = append(r.erase, erase)
}

func (r *scriptedReader) ReplaceLastLine(string) {}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *scriptedReader) lastRead() (prompt string, erase bool, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return "", false, 0
	}
	return r.prompts[len(r.prompts)-1], r.erase[len(r.erase)-1], len(r.prompts)
}

func startInteractiveClient(t *testing.T, path string) (*runningClient, *scriptedReader) {
	t.Helper()
	buffer := &testutil.LogBuffer{}
	readers := make(chan *scriptedReader, 1)
	running := startClientWith(t, Config{
		SocketPath: path,
		NewLineReader: func(CompleteFunc) (LineReader, error) {
			reader := newScriptedReader(buffer)
			readers <- reader
			return reader, nil
		},
	}, buffer)
	reader := testutil.RequireReceive(t, readers, testTimeout, "waiting for line reader")
	return running, reader
}

func TestInteractivePromptFollowsStatus(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	srv, _ := startHost(t, path)
	running, reader := startInteractiveClient(t, path)

	testutil.Eventually(t, testTimeout, func() bool {
		_, _, count := reader.lastRead()
		return count >= 1
	}, "first read")
	if prompt, erase, _ := reader.lastRead(); prompt != "" || !erase {
		t.Errorf("read while unavailable: prompt %q erase %v", prompt, erase)
	}

	commands := recordCommands(srv)
	testutil.Eventually(t, testTimeout, func() bool {
		prompt, erase, _ := reader.lastRead()
		return prompt == "> " && !erase
	}, "interactive prompt")
	if strings.Contains(running.buffer.String(), disconnectHintMessage) {
		t.Error("status change printed the disconnect hint")
	}

	reader.input <- scriptedInput{err: ErrInterrupted}
	running.waitFor(t, disconnectHintMessage)

	reader.input <- scriptedInput{line: " status "}
	if got := testutil.RequireReceive(t, commands, testTimeout, "waiting for command"); got != "status" {
		t.Errorf("command = %q", got)
	}

	close(reader.input)
	if code := running.waitExit(t); code != 0 {
		t.Errorf("exit status = %d, want 0", code)
	}
	reader.mu.Lock()
	closed := reader.closed
	reader.mu.Unlock()
	if !closed {
		t.Error("line reader left open")
	}
	if count := strings.Count(running.buffer.String(), disconnectHintMessage); count != 1 {
		t.Errorf("disconnect hint printed %d times", count)
	}
}

func TestRemoteCompletion(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	srv, _ := startHost(t, path)
	srv.EnableInteractivity(server.Hooks{
		Completer: server.CompleterFunc(func(_ context.Context, command string, cursor int) ([]protocol.Candidate, error) {
			var matches []protocol.Candidate
			for _, name := range []string{"say", "status", "stop"} {
				if strings.HasPrefix(name, command[:cursor]) {
					matches = append(matches, protocol.Candidate{Value: name, Display: name})
				}
			}
			return matches, nil
		}),
		Parser: server.ParserFunc(func(_ context.Context, command string, cursor int) (*protocol.ParseResponse, error) {
			return &protocol.ParseResponse{Word: command[:cursor], WordCursor: cursor, Words: []string{command}, Line: command, Cursor: cursor}, nil
		}),
	})
	running, _ := startInteractiveClient(t, path)
	session := running.waitInteractive(t)

	if line, pos, ok := session.complete("sa", 2); !ok || line != "say " || pos != 4 {
		t.Errorf("complete(sa) = %q, %d, %v", line, pos, ok)
	}
	if _, _, ok := session.complete("st", 2); ok {
		t.Error("completion with nothing in common to add changed the line")
	}
	running.waitFor(t, "status  stop")
	if _, _, ok := session.complete("x", 1); ok {
		t.Error("completion without candidates changed the line")
	}
}

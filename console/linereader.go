// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// ErrInterrupted is returned by LineReader.ReadLine when the operator
// pressed Ctrl-C or Interrupt was called.
var ErrInterrupted = errors.New("line read interrupted")

// CompleteFunc computes a tab completion for line with the cursor at
// byte offset pos. It returns the replacement line and cursor, and
// false to leave the line as it is.
type CompleteFunc func(line string, pos int) (newLine string, newPos int, ok bool)

// LineReader is an interactive line editor. Writes print above the
// line being edited.
type LineReader interface {
	io.Writer

	// ReadLine reads one line. It returns io.EOF on Ctrl-D at an empty
	// line and ErrInterrupted on Ctrl-C or Interrupt.
	ReadLine(prompt string) (string, error)

	// Interrupt aborts the active ReadLine and reports whether one was
	// active.
	Interrupt() bool

	// SetEraseLineOnFinish selects whether a submitted line is erased
	// from the screen.
	SetEraseLineOnFinish(erase bool)

	// ReplaceLastLine rewrites the line just submitted, unless other
	// output has been printed since.
	ReplaceLastLine(text string)

	// Close restores the terminal.
	Close() error
}

const keyCtrlC = 0x03

// TerminalReader is a LineReader over a raw-mode terminal.
type TerminalReader struct {
	stdin    *os.File
	stdout   io.Writer
	complete CompleteFunc
	state    *term.State
	input    *interruptibleInput

	mu            sync.Mutex
	terminal      *term.Terminal
	history       term.History
	reading       bool
	stale         bool
	eraseOnFinish bool
	writes        uint64
	submitted     uint64
	hasSubmitted  bool
}

// NewTerminalReader puts stdin in raw mode and returns a reader
// echoing to stdout. complete may be nil.
func NewTerminalReader(stdin *os.File, stdout io.Writer, complete CompleteFunc) (*TerminalReader, error) {
	input, err := newInterruptibleInput(stdin)
	if err != nil {
		return nil, err
	}
	state, err := term.MakeRaw(int(stdin.Fd()))
	if err != nil {
		input.close()
		return nil, fmt.Errorf("switching terminal to raw mode: %w", err)
	}
	r := &TerminalReader{
		stdin:    stdin,
		stdout:   stdout,
		complete: complete,
		state:    state,
		input:    input,
	}
	r.terminal = r.newTerminal("")
	r.history = r.terminal.History
	return r, nil
}

func (r *TerminalReader) newTerminal(prompt string) *term.Terminal {
	terminal := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{r.input, r.stdout}, prompt)
	if r.history != nil {
		terminal.History = r.history
	}
	if width, height, err := term.GetSize(int(r.stdin.Fd())); err == nil {
		terminal.SetSize(width, height)
	}
	if r.complete != nil {
		terminal.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
			if key != '\t' {
				return "", 0, false
			}
			return r.complete(line, pos)
		}
	}
	return terminal
}

func (r *TerminalReader) ReadLine(prompt string) (string, error) {
	r.mu.Lock()
	if r.stale {
		// The previous read stopped mid-line; start over on a clean
		// line.
		io.WriteString(r.stdout, "\r"+ansi.EraseEntireLine)
		r.terminal = r.newTerminal(prompt)
		r.stale = false
	} else {
		r.terminal.SetPrompt(prompt)
	}
	terminal := r.terminal
	r.reading = true
	r.mu.Unlock()

	line, err := terminal.ReadLine()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reading = false
	if err != nil {
		if errors.Is(err, errCtrlC) || errors.Is(err, cancelreader.ErrCanceled) {
			r.stale = true
			return "", ErrInterrupted
		}
		return "", err
	}
	r.submitted = r.writes
	r.hasSubmitted = true
	if r.eraseOnFinish {
		io.WriteString(r.stdout, ansi.CursorUp(1)+"\r"+ansi.EraseEntireLine)
		r.hasSubmitted = false
	}
	return line, nil
}

func (r *TerminalReader) Write(data []byte) (int, error) {
	r.mu.Lock()
	r.writes++
	terminal := r.terminal
	r.mu.Unlock()
	return terminal.Write(data)
}

func (r *TerminalReader) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reading {
		return false
	}
	r.input.cancel()
	return true
}

func (r *TerminalReader) SetEraseLineOnFinish(erase bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eraseOnFinish = erase
}

func (r *TerminalReader) ReplaceLastLine(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasSubmitted || r.writes != r.submitted || r.reading {
		return
	}
	io.WriteString(r.stdout, ansi.CursorUp(1)+"\r"+ansi.EraseEntireLine+text+"\r\n")
	r.hasSubmitted = false
}

func (r *TerminalReader) Close() error {
	r.input.close()
	return term.Restore(int(r.stdin.Fd()), r.state)
}

var errCtrlC = errors.New("ctrl-c")

// interruptibleInput feeds the terminal from a cancelreader, reporting
// Ctrl-C as errCtrlC since raw mode delivers it as a plain byte. A
// cancelled reader stays cancelled, so each cancellation is followed
// by a fresh one.
type interruptibleInput struct {
	file *os.File

	mu      sync.Mutex
	reader  cancelreader.CancelReader
	pending []byte
}

func newInterruptibleInput(file *os.File) (*interruptibleInput, error) {
	reader, err := cancelreader.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("opening interruptible stdin: %w", err)
	}
	return &interruptibleInput{file: file, reader: reader}, nil
}

func (in *interruptibleInput) Read(buffer []byte) (int, error) {
	in.mu.Lock()
	if len(in.pending) > 0 {
		n := copy(buffer, in.pending)
		in.pending = in.pending[n:]
		in.mu.Unlock()
		return in.scan(buffer, n)
	}
	reader := in.reader
	in.mu.Unlock()

	n, err := reader.Read(buffer)
	if errors.Is(err, cancelreader.ErrCanceled) {
		in.renew(reader)
		return 0, err
	}
	if err != nil {
		return n, err
	}
	return in.scan(buffer, n)
}

// scan stops the read at the first Ctrl-C, keeping the bytes after it
// for the next read.
func (in *interruptibleInput) scan(buffer []byte, n int) (int, error) {
	index := bytes.IndexByte(buffer[:n], keyCtrlC)
	if index < 0 {
		return n, nil
	}
	in.mu.Lock()
	in.pending = append(append([]byte(nil), buffer[index+1:n]...), in.pending...)
	in.mu.Unlock()
	if index == 0 {
		return 0, errCtrlC
	}
	// Deliver what preceded the Ctrl-C; the next read reports it.
	in.mu.Lock()
	in.pending = append([]byte{keyCtrlC}, in.pending...)
	in.mu.Unlock()
	return index, nil
}

func (in *interruptibleInput) renew(cancelled cancelreader.CancelReader) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.reader != cancelled {
		return
	}
	cancelled.Close()
	if fresh, err := cancelreader.NewReader(in.file); err == nil {
		in.reader = fresh
	}
}

func (in *interruptibleInput) cancel() {
	in.mu.Lock()
	reader := in.reader
	in.mu.Unlock()
	reader.Cancel()
}

func (in *interruptibleInput) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.reader.Close()
}

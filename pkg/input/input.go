// Package input owns the terminal: a readline-backed line editor for
// the chat prompt, an interrupt flag shared with the conversation
// controller, and a raw-mode watcher that samples stdin for ESC while
// model output is streaming. The tty is a singleton resource, so one
// Handler per process is the rule — it is the only component allowed to
// change terminal attributes, and it restores them unconditionally.
package input

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/corvid/agentkit/pkg/logger"
)

const escByte = 0x1B

// Handler is the process-wide input handler. The interrupted flag is
// the single cancellation signal in the system: ^C and (when armed) ESC
// set it, and the conversation controller and keep-alive wrappers poll
// it at chunk boundaries.
type Handler struct {
	interrupted atomic.Bool
}

func NewHandler() *Handler {
	return &Handler{}
}

// Interrupted reports whether an interrupt is pending.
func (h *Handler) Interrupted() bool { return h.interrupted.Load() }

// SetInterrupted raises the interrupt flag.
func (h *Handler) SetInterrupted() { h.interrupted.Store(true) }

// Reset clears the interrupt flag, typically at the top of each loop
// iteration after the pending interrupt has been honored.
func (h *Handler) Reset() { h.interrupted.Store(false) }

// escFilter builds the rune filter for one prompt: with escapes armed,
// a lone ESC is rewritten into readline's interrupt character so the
// Readline call aborts; otherwise it is swallowed.
func escFilter(escapeInterrupts bool) func(rune) (rune, bool) {
	return func(r rune) (rune, bool) {
		if r == escByte {
			if escapeInterrupts {
				return readline.CharInterrupt, true
			}
			return 0, false
		}
		return r, true
	}
}

// GetInput reads one user input. With multiline set, lines accumulate
// until an empty line submits. It returns ok=false when the input was
// cancelled (^C, or ESC when escapeInterrupts is set — both raise the
// interrupt flag) or on EOF (^D), which returns the empty sentinel
// without raising the flag. Readline runs on its own goroutine
// internally, so a host event loop is never blocked by the prompt.
func (h *Handler) GetInput(prompt string, multiline, escapeInterrupts bool) (string, bool) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              prompt,
		InterruptPrompt:     "^C",
		EOFPrompt:           "",
		FuncFilterInputRune: escFilter(escapeInterrupts),
	})
	if err != nil {
		return h.basicInput(prompt)
	}
	defer rl.Close()

	var lines []string
	for {
		line, err := rl.Readline()
		switch err {
		case nil:
		case readline.ErrInterrupt:
			h.SetInterrupted()
			return "", false
		case io.EOF:
			return "", false
		default:
			logger.WarnCF("input", "readline failed, falling back to basic input", map[string]interface{}{"error": err.Error()})
			return h.basicInput(prompt)
		}

		if !multiline {
			return line, true
		}
		if line == "" {
			return strings.Join(lines, "\n"), true
		}
		lines = append(lines, line)
		rl.SetPrompt("... ")
	}
}

// basicInput is the degraded path when readline can't initialize (e.g.
// stdin is not a tty): a plain buffered read with no editing or ESC
// handling.
func (h *Handler) basicInput(prompt string) (string, bool) {
	os.Stdout.WriteString(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return strings.TrimRight(line, "\r\n"), line != ""
		}
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// EscWatch is an active raw-mode session over the tty: stdin is
// sampled byte-wise for ESC while something else (the model stream)
// owns stdout. Close restores the terminal attributes unconditionally.
type EscWatch struct {
	fd       int
	oldState *term.State
	stop     chan struct{}
}

// WatchForEscape puts the terminal into raw mode and starts sampling
// stdin; an ESC byte raises the handler's interrupt flag. When stdin is
// not a terminal it returns an inert watch, so callers can defer Close
// unconditionally.
func (h *Handler) WatchForEscape() *EscWatch {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &EscWatch{fd: -1}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.WarnCF("input", "cannot enter raw mode", map[string]interface{}{"error": err.Error()})
		return &EscWatch{fd: -1}
	}

	w := &EscWatch{fd: fd, oldState: oldState, stop: make(chan struct{})}
	go w.sample(h)
	return w
}

// sample polls stdin with a short read deadline so the goroutine can
// notice Close promptly. If the platform's stdin doesn't support
// deadlines the read blocks until the next keypress, which is harmless:
// the watch still stops, just lazily.
func (w *EscWatch) sample(h *Handler) {
	buf := make([]byte, 1)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		_ = os.Stdin.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := os.Stdin.Read(buf)
		if n > 0 && buf[0] == escByte {
			h.SetInterrupted()
		}
		if err != nil && !os.IsTimeout(err) {
			return
		}
	}
}

// Close stops sampling and restores the saved terminal attributes.
// Restoration runs even when the surrounding operation failed; a tty
// left in raw mode is worse than any error it could mask.
func (w *EscWatch) Close() {
	if w.fd < 0 {
		return
	}
	close(w.stop)
	_ = os.Stdin.SetReadDeadline(time.Time{})
	if err := term.Restore(w.fd, w.oldState); err != nil {
		logger.ErrorCF("input", "failed to restore terminal attributes", map[string]interface{}{"error": err.Error()})
	}
}

// RawWriter translates "\n" to "\r\n" on the way through, so output
// written by other components stays readable while the terminal is in
// raw mode.
type RawWriter struct {
	w io.Writer
}

func NewRawWriter(w io.Writer) *RawWriter {
	return &RawWriter{w: w}
}

func (rw *RawWriter) Write(p []byte) (int, error) {
	translated := make([]byte, 0, len(p)+8)
	for i := 0; i < len(p); i++ {
		if p[i] == '\n' && (i == 0 || p[i-1] != '\r') {
			translated = append(translated, '\r')
		}
		translated = append(translated, p[i])
	}
	if _, err := rw.w.Write(translated); err != nil {
		return 0, err
	}
	return len(p), nil
}

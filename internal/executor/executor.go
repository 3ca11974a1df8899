// Package executor runs a single external command as a child process and
// relays its output and termination through callbacks. It knows nothing
// about jobs: the caller owns all bookkeeping.
package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// maxLineSize bounds a single delivered output line. Longer lines are
// delivered in chunks of maxLineSize, the captured stdout is not affected.
const maxLineSize = 1024 * 1024

// outputDrain is how long output is still read after the process exited.
// Descendants holding the pipes open don't delay the exit longer.
const outputDrain = time.Second

// Stream identifies the child's output stream a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// OutputFunc receives every output line as soon as it is read. It is called
// from two goroutines (one per stream) and must be safe for concurrent use.
type OutputFunc func(stream Stream, line string)

// ExitFunc is called exactly once after the process ended and its output
// streams were drained, or outputDrain elapsed.
type ExitFunc func(Exit)

// Command describes the process to start.
type Command struct {
	Path string
	Args []string
	// Env nil means the child inherits the environment of the current process.
	Env []string
	Dir string
	// Timeout, when non-zero, terminates the process after the given time.
	Timeout time.Duration
	// Grace is the grace period used when Timeout elapses.
	Grace time.Duration
}

// Exit describes how a process ended.
type Exit struct {
	// Code is the exit code, -1 when the process was killed by a signal.
	Code int
	// Err is the error returned by exec.Cmd.Wait, *exec.ExitError for
	// non-zero exits.
	Err error
	// Terminated is true when Terminate was called before the process ended.
	Terminated bool
	// TimedOut is true when the process was terminated because of Command.Timeout.
	TimedOut bool
	Started  time.Time
	Stopped  time.Time
	// Stdout holds the captured standard output.
	Stdout []byte
}

// Success reports a clean exit which was not caused by termination.
func (e Exit) Success() bool {
	return e.Err == nil && e.Code == 0 && !e.Terminated
}

// Executor starts processes. The zero value is ready to use.
type Executor struct{}

func New() *Executor {
	return &Executor{}
}

// Process is a handle of a started child process.
type Process struct {
	cmd        *exec.Cmd
	started    time.Time
	done       chan struct{}
	termOnce   sync.Once
	terminated atomic.Bool
	timedOut   atomic.Bool
	timer      *time.Timer
}

// Start launches the command and returns immediately. A process which can't
// be launched is reported via the returned error and onExit is never called.
// The ctx is used for logging only: the process lifetime is controlled by
// Terminate and Command.Timeout, not by ctx cancellation.
func (e *Executor) Start(ctx context.Context, proto Command, onOutput OutputFunc, onExit ExitFunc) (*Process, error) {
	if proto.Path == "" {
		return nil, errors.New("command path is empty")
	}
	if onOutput == nil {
		onOutput = func(Stream, string) {}
	}
	if onExit == nil {
		onExit = func(Exit) {}
	}

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	cmd.WaitDelay = outputDrain
	setProcessGroup(cmd)

	stdout := &lineWriter{stream: Stdout, output: onOutput, capture: &bytes.Buffer{}}
	stderr := &lineWriter{stream: Stderr, output: onOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now().UTC()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", cmd.Process.Pid)

	p := &Process{
		cmd:     cmd,
		started: started,
		done:    make(chan struct{}),
	}
	if proto.Timeout > 0 {
		p.timer = time.AfterFunc(proto.Timeout, func() {
			p.timedOut.Store(true)
			p.Terminate(proto.Grace)
		})
	}

	go p.wait(ctx, stdout, stderr, onExit)
	return p, nil
}

// PID returns the process id of the child.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed after the ExitFunc returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Terminate asks the process to stop with an interrupt and kills it when
// it is still alive after grace. It does not wait for the process, use Done
// for that. Subsequent calls are no-ops.
func (p *Process) Terminate(grace time.Duration) {
	p.termOnce.Do(func() {
		p.terminated.Store(true)
		select {
		case <-p.done:
			return
		default:
		}
		if err := interrupt(p.cmd.Process); err != nil {
			slog.Debug("interrupting process", "pid", p.PID(), "error", err)
		}
		go func() {
			t := time.NewTimer(grace)
			defer t.Stop()
			select {
			case <-p.done:
			case <-t.C:
				slog.Warn("process ignored interrupt: killing", "pid", p.PID(), "grace", grace.String())
				if err := kill(p.cmd.Process); err != nil {
					slog.Debug("killing process", "pid", p.PID(), "error", err)
				}
			}
		}()
	})
}

func (p *Process) wait(ctx context.Context, stdout, stderr *lineWriter, onExit ExitFunc) {
	defer close(p.done)

	err := p.cmd.Wait()
	if p.timer != nil {
		p.timer.Stop()
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		slog.DebugContext(ctx, "output still open after exit: pipes closed", "pid", p.PID())
		err = nil
	}
	// the copying goroutines are done once Wait returned
	stdout.flush()
	stderr.flush()

	exit := Exit{
		Code:       exitCode(p.cmd.ProcessState),
		Err:        err,
		Terminated: p.terminated.Load(),
		TimedOut:   p.timedOut.Load(),
		Started:    p.started,
		Stopped:    time.Now().UTC(),
		Stdout:     stdout.capture.Bytes(),
	}
	slog.DebugContext(ctx, "process exited", "pid", p.PID(), "code", exit.Code, "terminated", exit.Terminated)
	onExit(exit)
}

// lineWriter splits a stream into lines for the OutputFunc and optionally
// keeps the raw bytes. exec.Cmd writes to it from a single goroutine.
type lineWriter struct {
	stream  Stream
	output  OutputFunc
	capture *bytes.Buffer
	pending []byte
	chunked bool
}

func (w *lineWriter) Write(b []byte) (int, error) {
	n := len(b)
	if w.capture != nil {
		w.capture.Write(b)
	}
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			w.add(b)
			break
		}
		w.add(b[:i])
		w.line()
		b = b[i+1:]
	}
	return n, nil
}

func (w *lineWriter) add(b []byte) {
	w.pending = append(w.pending, b...)
	for len(w.pending) > maxLineSize {
		w.output(w.stream, string(w.pending[:maxLineSize]))
		w.pending = append(w.pending[:0], w.pending[maxLineSize:]...)
		w.chunked = true
	}
}

func (w *lineWriter) line() {
	if len(w.pending) > 0 || !w.chunked {
		w.output(w.stream, string(bytes.TrimSuffix(w.pending, []byte{'\r'})))
	}
	w.pending = w.pending[:0]
	w.chunked = false
}

// flush delivers an unterminated last line.
func (w *lineWriter) flush() {
	if len(w.pending) > 0 {
		w.line()
	}
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}

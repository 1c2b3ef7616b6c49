package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitmakerla/estela-entrypoint/internal/linebuf"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

var ErrLaunchInProgress = errors.New("launch in progress")

const readSize = 32 * 1024

type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateLaunchFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateLaunchFailed:
		return "launch_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes a finished child. Code is the exit code, -1 when the
// child was terminated by a signal.
type Result struct {
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Code    int
}

// DefaultWaitDelay is how long the output of an exited child is drained
// before the streams are cut off.
const DefaultWaitDelay = 5 * time.Second

// Launcher runs one child at a time and forwards its output to a sink.
type Launcher struct {
	mx        sync.Mutex
	state     State
	sink      model.Sink
	jobID     string
	waitDelay time.Duration
	result    Result
}

type LauncherOption func(*Launcher)

// WithWaitDelay bounds how long the streams are drained after the child
// exited. Descendants of the child inheriting its stdout or stderr keep
// the streams open, once the delay expires their output is not read anymore.
func WithWaitDelay(d time.Duration) LauncherOption {
	return func(l *Launcher) {
		l.waitDelay = d
	}
}

func NewLauncher(sink model.Sink, jobID string, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		sink:      sink,
		jobID:     jobID,
		waitDelay: DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run starts the child described by spec and blocks until it exited and
// both of its output streams were drained. A non-zero exit code is not an
// error. Failure to start the child is returned as ErrSpawnFailure.
func (l *Launcher) Run(ctx context.Context, spec ProcessSpec) (Result, error) {
	if len(spec.Args) == 0 {
		return Result{}, fmt.Errorf("%w: empty command", model.ErrSpawnFailure)
	}

	l.mx.Lock()
	if l.state == StateRunning {
		l.mx.Unlock()
		return Result{}, ErrLaunchInProgress
	}
	l.state = StateRunning
	l.result = Result{Args: append([]string(nil), spec.Args...)}
	l.mx.Unlock()

	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Env = spec.Environ(os.Environ())
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return Result{}, l.failed(err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdoutR, stdoutW)
		return Result{}, l.failed(err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	started := time.Now().UTC()
	err = cmd.Start()
	// the child owns its copies of the write ends
	closeFiles(stdoutW, stderrW)
	if err != nil {
		closeFiles(stdoutR, stderrR)
		return Result{}, l.failed(err)
	}
	defer closeFiles(stdoutR, stderrR)
	slog.DebugContext(ctx, "child started", "pid", cmd.Process.Pid, "args", spec.Args)

	var g errgroup.Group
	g.Go(func() error {
		return l.drain(stdoutR, model.StreamStdout)
	})
	g.Go(func() error {
		return l.drain(stderrR, model.StreamStderr)
	})
	drained := make(chan error, 1)
	go func() {
		drained <- g.Wait()
	}()

	waitErr := cmd.Wait()

	// streams reach EOF right after the exit unless a descendant holds them
	timer := time.NewTimer(l.waitDelay)
	var drainErr error
	select {
	case drainErr = <-drained:
	case <-timer.C:
		slog.WarnContext(ctx, "child output still open after exit, stop reading",
			"wait_delay", l.waitDelay)
		now := time.Now()
		_ = stdoutR.SetReadDeadline(now)
		_ = stderrR.SetReadDeadline(now)
		drainErr = <-drained
	}
	timer.Stop()
	if drainErr != nil {
		slog.WarnContext(ctx, "reading child output", "error", drainErr)
	}

	res := Result{
		Args:    append([]string(nil), spec.Args...),
		Started: started,
		Stopped: time.Now().UTC(),
		State:   cmd.ProcessState,
	}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.Code = 0
	case errors.As(waitErr, &exitErr):
		res.Code = exitErr.ExitCode()
	default:
		slog.WarnContext(ctx, "waiting for child", "error", waitErr)
		res.Code = -1
		if cmd.ProcessState != nil {
			res.Code = cmd.ProcessState.ExitCode()
		}
	}

	l.mx.Lock()
	l.state = StateCompleted
	l.result = res
	l.mx.Unlock()
	return res, nil
}

func (l *Launcher) failed(err error) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.state = StateLaunchFailed
	return fmt.Errorf("%w: %w", model.ErrSpawnFailure, err)
}

// drain reads r until EOF and sends every line. The unterminated remainder
// is sent when the stream closes.
func (l *Launcher) drain(r io.Reader, stream model.Stream) error {
	var buf linebuf.Buffer
	chunk := make([]byte, readSize)
	for {
		n, err := r.Read(chunk)
		for _, line := range buf.Feed(chunk[:n]) {
			l.sink.Send(model.LogsTopic, model.NewRecord(l.jobID, stream, line))
		}
		if err != nil {
			if line, ok := buf.Remainder(); ok {
				l.sink.Send(model.LogsTopic, model.NewRecord(l.jobID, stream, line))
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("%s: %w", stream, err)
		}
	}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (l *Launcher) State() State {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.state
}

// LastResult returns the result of the last completed run.
func (l *Launcher) LastResult() Result {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.result
}
